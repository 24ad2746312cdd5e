package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/internal/agent"
	"github.com/dyike/CortexAdvisor/internal/dataflows"
	"github.com/dyike/CortexAdvisor/internal/metrics"
	"github.com/dyike/CortexAdvisor/internal/retrieval"
	"github.com/dyike/CortexAdvisor/internal/storage"
	"github.com/dyike/CortexAdvisor/internal/tools"
	"github.com/dyike/CortexAdvisor/internal/trading"
)

// Engine is one fully wired generation of the advisor, rebuilt whenever the
// configuration changes.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	Agent *agent.Engine
	Store *storage.Store

	mu      sync.Mutex
	refs    int
	retired bool
	drained chan struct{}
}

var engineSeq atomic.Uint64

// acquire pins e for one caller. It fails once e has been retired.
func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return false
	}
	e.refs++
	return true
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.retired && e.refs == 0 {
		close(e.drained)
	}
}

// retire refuses new acquisitions and returns a channel closed once every
// holder has released e.
func (e *Engine) retire() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.retired {
		e.retired = true
		e.drained = make(chan struct{})
		if e.refs == 0 {
			close(e.drained)
		}
	}
	return e.drained
}

func (e *Engine) Close() error {
	if e == nil || e.Store == nil {
		return nil
	}
	return e.Store.Close()
}

// BuildDeps are the process-wide collaborators shared by every engine generation.
type BuildDeps struct {
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Heuristics func() *config.Heuristics
}

// NewEngineBuilder returns a builder wiring storage, market data, retrieval,
// tools and the agent from cfg.
func NewEngineBuilder(deps BuildDeps) EngineBuilder {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(cfg config.Config) (*Engine, error) {
		return buildEngine(context.Background(), cfg, deps, logger)
	}
}

func buildEngine(ctx context.Context, cfg config.Config, deps BuildDeps, logger *zap.Logger) (*Engine, error) {
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	var h *config.Heuristics
	if deps.Heuristics != nil {
		h = deps.Heuristics()
	}

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	chatModel, err := newChatModel(ctx, &cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	retr := retrieval.NewEngine(dataflows.NewHTTPEmbedder(&cfg), store, retrieval.WithLogger(logger.Named("retrieval")))

	toolDeps := tools.Deps{
		Sessions:   store,
		Portfolios: store,
		Trades:     store,
		Knowledge:  retr,
		DefaultK:   cfg.RetrievalTopK,
	}
	var market agent.MarketSource
	if cfg.OnlineTools {
		quotes := dataflows.NewQuoteClient(&cfg, logger.Named("quotes"))
		toolDeps.Quotes = quotes
		market = quotes
	}

	registry, err := tools.NewRegistry(ctx, tools.Builtins(toolDeps)...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	advisor, err := agent.New(agent.Deps{
		Model:      chatModel,
		Store:      store,
		Registry:   registry,
		Market:     market,
		Trades:     trading.NewExecutor(store, logger.Named("trading")),
		Knowledge:  retr,
		Heuristics: h,
	},
		agent.WithLogger(logger.Named("agent")),
		agent.WithMetrics(deps.Metrics),
		agent.WithHistoryWindow(cfg.HistoryWindow),
		agent.WithRetrievalTopK(cfg.RetrievalTopK),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Engine{
		Config:  cfg,
		BuiltAt: time.Now(),
		Version: engineSeq.Add(1),
		Agent:   advisor,
		Store:   store,
	}, nil
}

// ErrNoEngine is returned when no engine generation has been built yet.
var ErrNoEngine = errors.New("engine not ready")
