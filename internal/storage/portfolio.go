package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyike/CortexAdvisor/models"
	"github.com/shopspring/decimal"
)

func (s *Store) SavePortfolio(ctx context.Context, snap models.PortfolioSnapshot) error {
	holdings, err := json.Marshal(snap.Holdings)
	if err != nil {
		return fmt.Errorf("encode holdings: %w", err)
	}
	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO portfolio_snapshots (session_id, holdings_json, cash, total_value, taken_at)
VALUES (?, ?, ?, ?, ?)
`, snap.SessionID, string(holdings), snap.Cash.String(), snap.TotalValue.String(), formatTime(takenAt))
	if err != nil {
		return fmt.Errorf("insert portfolio snapshot: %w", err)
	}
	return nil
}

// LatestPortfolio returns the newest snapshot, or nil when the session has none.
func (s *Store) LatestPortfolio(ctx context.Context, sessionID string) (*models.PortfolioSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, holdings_json, cash, total_value, taken_at
FROM portfolio_snapshots
WHERE session_id = ?
ORDER BY id DESC
LIMIT 1
`, sessionID)

	var (
		snap                  models.PortfolioSnapshot
		holdings, cash, total string
		takenAt               string
	)
	if err := row.Scan(&snap.SessionID, &holdings, &cash, &total, &takenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest portfolio: %w", err)
	}
	if err := json.Unmarshal([]byte(holdings), &snap.Holdings); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	snap.Cash, _ = decimal.NewFromString(cash)
	snap.TotalValue, _ = decimal.NewFromString(total)
	snap.TakenAt = parseTime(takenAt)
	return &snap, nil
}
