package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
	"github.com/shopspring/decimal"
)

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, risk_profile, investment_goal, portfolio_value, created_at, updated_at
FROM sessions
WHERE id = ?
`, sessionID)

	var (
		rec                  models.Session
		value                string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.RiskProfile, &rec.InvestmentGoal, &value, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	rec.PortfolioValue, _ = decimal.NewFromString(value)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// GetOrCreateSession returns the session, creating it with the default
// profile when it does not exist yet.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (id, risk_profile, investment_goal, portfolio_value, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, sessionID, consts.DefaultRiskProfile, consts.DefaultInvestmentGoal,
		decimal.NewFromInt(consts.DefaultPortfolioValue).String(), now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) UpsertSession(ctx context.Context, sess models.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, risk_profile, investment_goal, portfolio_value, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    risk_profile=excluded.risk_profile,
    investment_goal=excluded.investment_goal,
    portfolio_value=excluded.portfolio_value,
    updated_at=excluded.updated_at
`, sess.ID, sess.RiskProfile, sess.InvestmentGoal, sess.PortfolioValue.String(), now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}
