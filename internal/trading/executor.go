package trading

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/sanitizer"
	"github.com/dyike/CortexAdvisor/models"
)

// LedgerStore appends one trade to a session's ledger, creating the ledger
// on first use.
type LedgerStore interface {
	AppendTrade(ctx context.Context, trade *models.Trade) error
}

type Executor struct {
	ledger LedgerStore
	logger *zap.Logger
}

func NewExecutor(ledger LedgerStore, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{ledger: ledger, logger: logger}
}

// ParseAndExecute records every valid entry of the "trades" array found in
// finalText. Malformed or absent payloads record nothing. Prices stay unset.
func (e *Executor) ParseAndExecute(ctx context.Context, finalText, sessionID string) []models.Trade {
	instructions := ParseTrades(finalText)
	if len(instructions) == 0 || e.ledger == nil {
		return nil
	}

	reasoning := Reasoning(finalText)
	executed := make([]models.Trade, 0, len(instructions))
	for _, in := range instructions {
		trade := &models.Trade{
			SessionID: sessionID,
			Symbol:    in.Symbol,
			Action:    in.Action,
			Quantity:  decimal.NewFromFloat(in.Qty),
			Reasoning: reasoning,
		}
		if err := e.ledger.AppendTrade(ctx, trade); err != nil {
			e.logger.Warn("append trade failed",
				zap.String("session_id", sessionID),
				zap.String("symbol", in.Symbol),
				zap.Error(err))
			continue
		}
		executed = append(executed, *trade)
	}
	return executed
}

// ParseTrades extracts the valid trade instructions from text.
func ParseTrades(text string) []models.TradeInstruction {
	_, span, ok := sanitizer.ExtractSpan(text)
	if !ok {
		return nil
	}
	var payload struct {
		Trades []map[string]any `json:"trades"`
	}
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return nil
	}

	var out []models.TradeInstruction
	for _, raw := range payload.Trades {
		symbol, _ := raw["symbol"].(string)
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		action, _ := raw["action"].(string)
		action = strings.ToUpper(strings.TrimSpace(action))
		switch action {
		case consts.ActionBuy, consts.ActionSell, consts.ActionHold:
		default:
			continue
		}
		qty, ok := quantity(raw["qty"])
		if !ok || qty < 0 {
			continue
		}
		out = append(out, models.TradeInstruction{Symbol: symbol, Action: action, Qty: qty})
	}
	return out
}

// Reasoning is the commentary preceding the payload, trimmed for the ledger.
func Reasoning(text string) string {
	before, _, _ := sanitizer.ExtractSpan(text)
	runes := []rune(before)
	if len(runes) > 500 {
		return string(runes[:500])
	}
	return before
}

func quantity(v any) (float64, bool) {
	switch q := v.(type) {
	case nil:
		return 0, true
	case float64:
		return q, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(q), 64)
		return f, err == nil
	}
	return 0, false
}
