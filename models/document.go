package models

import "time"

// Document is a knowledge-base entry with a precomputed embedding.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ScoredDocument struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// DocumentHit is the compact form of a retrieved document handed to prompts and callers.
type DocumentHit struct {
	Title    string  `json:"title"`
	Source   string  `json:"source,omitempty"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
	Summary  string  `json:"summary"`
}
