package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is owned by the store; the core only reads it.
type Session struct {
	ID             string          `json:"id"`
	RiskProfile    string          `json:"risk_profile"`
	InvestmentGoal string          `json:"investment_goal"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
