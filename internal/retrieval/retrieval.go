package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/models"
)

// DocumentSource lists every document eligible for ranking.
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]models.Document, error)
}

// Engine ranks the knowledge base against a query by cosine similarity over a
// full scan of the document set.
type Engine struct {
	embedder embedding.Embedder
	docs     DocumentSource
	logger   *zap.Logger
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(embedder embedding.Embedder, docs DocumentSource, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		docs:     docs,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most k documents ordered by descending score. Ties keep
// the order in which the source listed them.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	if e.embedder == nil || e.docs == nil {
		return nil, fmt.Errorf("retrieval engine not configured")
	}

	vectors, err := e.embedder.EmbedStrings(ctx, []string{strings.TrimSpace(query)})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: provider returned no vectors")
	}

	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	scored := Rank(vectors[0], docs)
	if len(scored) > k {
		scored = scored[:k]
	}
	e.logger.Debug("retrieved documents",
		zap.Int("candidates", len(docs)),
		zap.Int("returned", len(scored)))
	return scored, nil
}

// Rank scores every document against query and sorts them stably by
// descending similarity.
func Rank(query []float64, docs []models.Document) []models.ScoredDocument {
	scored := make([]models.ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		scored = append(scored, models.ScoredDocument{
			Document: doc,
			Score:    Cosine(query, doc.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Cosine compares a and b over their shared leading dimensions. A zero norm on
// either side scores exactly 0.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}
