package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/CortexAdvisor/models"
	"github.com/google/uuid"
)

// RecentMessages returns up to n of the newest messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]models.ChatMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, role, content, created_at
FROM chat_messages
WHERE session_id = ?
ORDER BY seq DESC
LIMIT ?
`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var (
			msg       models.ChatMessage
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages rows: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendTurn writes all messages of one turn in a single transaction so a
// turn is either fully recorded or not at all.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, msgs ...models.ChatMessage) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range msgs {
		if strings.TrimSpace(msg.Role) == "" {
			return fmt.Errorf("message role is required")
		}
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages (id, session_id, role, content, created_at)
VALUES (?, ?, ?, ?, ?)
`, id, sessionID, msg.Role, msg.Content, formatTime(createdAt)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}
