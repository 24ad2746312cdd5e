package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/internal/aggregator"
	"github.com/dyike/CortexAdvisor/internal/metrics"
	"github.com/dyike/CortexAdvisor/internal/prompt"
	"github.com/dyike/CortexAdvisor/internal/sanitizer"
	"github.com/dyike/CortexAdvisor/internal/tools"
	"github.com/dyike/CortexAdvisor/models"
)

// ErrTurnFailed wraps the only failure surfaced from a turn: history could
// not be persisted.
var ErrTurnFailed = errors.New("turn failed")

// Store is the session, portfolio and history store the engine reads and
// appends to.
type Store interface {
	GetOrCreateSession(ctx context.Context, sessionID string) (*models.Session, error)
	LatestPortfolio(ctx context.Context, sessionID string) (*models.PortfolioSnapshot, error)
	RecentMessages(ctx context.Context, sessionID string, n int) ([]models.ChatMessage, error)
	AppendTurn(ctx context.Context, sessionID string, msgs ...models.ChatMessage) error
}

type MarketSource interface {
	Quotes(ctx context.Context, symbols []string) ([]models.Quote, error)
}

type TradeExecutor interface {
	ParseAndExecute(ctx context.Context, finalText, sessionID string) []models.Trade
}

// Deps are the engine's collaborators. Model, Store and Registry are
// required; Market, Trades and Knowledge may be nil. Knowledge backs
// proactive retrieval when the registry has no knowledge tool.
type Deps struct {
	Model      model.BaseChatModel
	Store      Store
	Registry   *tools.Registry
	Market     MarketSource
	Trades     TradeExecutor
	Knowledge  tools.Retriever
	Heuristics *config.Heuristics
}

type Engine struct {
	model     model.BaseChatModel
	store     Store
	registry  *tools.Registry
	market    MarketSource
	trades    TradeExecutor
	knowledge tools.Retriever
	agg       *aggregator.Aggregator
	prompts   *prompt.Builder
	sanitizer *sanitizer.Sanitizer

	historyWindow int
	topK          int

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithHistoryWindow sets how many prior messages are loaded and rendered.
func WithHistoryWindow(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.historyWindow = n
		}
	}
}

// WithRetrievalTopK sets k for proactive retrieval; 0 disables it.
func WithRetrievalTopK(k int) Option {
	return func(e *Engine) {
		if k >= 0 {
			e.topK = k
		}
	}
}

func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Model == nil {
		return nil, errors.New("agent: chat model is required")
	}
	if deps.Store == nil {
		return nil, errors.New("agent: store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	h := deps.Heuristics
	if h == nil {
		h = config.DefaultHeuristics()
	}

	e := &Engine{
		model:         deps.Model,
		store:         deps.Store,
		registry:      deps.Registry,
		market:        deps.Market,
		trades:        deps.Trades,
		knowledge:     deps.Knowledge,
		agg:           aggregator.New(h),
		sanitizer:     sanitizer.New(h),
		historyWindow: prompt.DefaultHistoryWindow,
		topK:          3,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	builder, err := prompt.NewBuilder(e.agg, e.registry.Descriptors(), prompt.WithHistoryWindow(e.historyWindow))
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	e.prompts = builder
	return e, nil
}
