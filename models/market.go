package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent float64         `json:"change_percent"`
	Currency      string          `json:"currency,omitempty"`
	AsOf          time.Time       `json:"as_of"`
}

type Holding struct {
	Symbol  string          `json:"symbol"`
	Shares  decimal.Decimal `json:"shares"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

// PortfolioSnapshot is the latest known portfolio state for a session.
type PortfolioSnapshot struct {
	SessionID  string          `json:"session_id"`
	Holdings   []Holding       `json:"holdings"`
	Cash       decimal.Decimal `json:"cash"`
	TotalValue decimal.Decimal `json:"total_value"`
	TakenAt    time.Time       `json:"taken_at"`
}

// SharesOf returns the number of shares held for symbol, zero when absent.
func (p *PortfolioSnapshot) SharesOf(symbol string) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	for _, h := range p.Holdings {
		if h.Symbol == symbol {
			return h.Shares
		}
	}
	return decimal.Zero
}
