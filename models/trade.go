package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one simulated ledger entry. Price stays null until a market-data
// cross-reference fills it in.
type Trade struct {
	ID         string              `json:"id"`
	SessionID  string              `json:"session_id"`
	Symbol     string              `json:"symbol"`
	Action     string              `json:"action"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Price      decimal.NullDecimal `json:"price"`
	Reasoning  string              `json:"reasoning,omitempty"`
	ExecutedAt time.Time           `json:"executed_at"`
}

type TurnResult struct {
	Answer             string   `json:"answer"`
	ExecutedTrades     []Trade  `json:"executed_trades"`
	Sources            []string `json:"sources"`
	Intent             string   `json:"intent"`
	DisclaimerRequired bool     `json:"disclaimer_required"`
}
