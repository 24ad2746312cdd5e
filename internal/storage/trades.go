package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dyike/CortexAdvisor/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppendTrade adds trade to the session's ledger, creating the ledger first
// when the session has none. The find-then-create pair is not atomic; one
// session is expected to run one turn at a time.
func (s *Store) AppendTrade(ctx context.Context, trade *models.Trade) error {
	if trade == nil || strings.TrimSpace(trade.SessionID) == "" {
		return fmt.Errorf("trade session id is required")
	}
	ledgerID, err := s.ledgerFor(ctx, trade.SessionID)
	if err != nil {
		return err
	}

	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = s.now()
	}
	var price any
	if trade.Price.Valid {
		price = trade.Price.Decimal.String()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO trades (id, ledger_id, symbol, action, quantity, price, reasoning, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, trade.ID, ledgerID, trade.Symbol, trade.Action, trade.Quantity.String(), price, trade.Reasoning, formatTime(trade.ExecutedAt))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *Store) ledgerFor(ctx context.Context, sessionID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM trade_ledgers WHERE session_id = ?`, sessionID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find ledger: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO trade_ledgers (id, session_id, created_at) VALUES (?, ?, ?)
`, id, sessionID, formatTime(s.now())); err != nil {
		return "", fmt.Errorf("create ledger: %w", err)
	}
	return id, nil
}

// ListTrades returns the ledger in execution order.
func (s *Store) ListTrades(ctx context.Context, sessionID string) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, l.session_id, t.symbol, t.action, t.quantity, t.price, t.reasoning, t.executed_at
FROM trades t
JOIN trade_ledgers l ON l.id = t.ledger_id
WHERE l.session_id = ?
ORDER BY t.seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t          models.Trade
			qty        string
			price      sql.NullString
			executedAt string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Symbol, &t.Action, &qty, &price, &t.Reasoning, &executedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		if price.Valid {
			if d, err := decimal.NewFromString(price.String); err == nil {
				t.Price = decimal.NewNullDecimal(d)
			}
		}
		t.ExecutedAt = parseTime(executedAt)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trades rows: %w", err)
	}
	return trades, nil
}
