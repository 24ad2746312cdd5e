package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dyike/CortexAdvisor/models"
	"github.com/google/uuid"
)

func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("document title is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	embedding, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (id, title, content, source, category, embedding_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, doc.ID, doc.Title, doc.Content, doc.Source, doc.Category, string(embedding), formatTime(doc.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns every document in insertion order.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, content, source, category, embedding_json, created_at
FROM documents
ORDER BY seq ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			doc       models.Document
			embedding string
			createdAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Source, &doc.Category, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &doc.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", doc.ID, err)
		}
		doc.CreatedAt = parseTime(createdAt)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents rows: %w", err)
	}
	return docs, nil
}
