package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
)

var ErrRuntimeClosed = errors.New("runtime closed")

type EngineBuilder func(config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runtime owns the current engine generation and swaps it when the config
// file changes. A failed rebuild keeps the previous engine serving. A
// replaced engine is closed only after every turn holding it has released it.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	notify  func(string, string)
	logger  *zap.Logger
	cancel  context.CancelFunc

	mu       sync.Mutex // serialises reloads
	closed   bool
	retiring sync.WaitGroup
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr: cfgMgr,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(rt)
	}
	if rt.builder == nil {
		rt.builder = NewEngineBuilder(BuildDeps{
			Logger:     rt.logger,
			Heuristics: cfgMgr.Heuristics,
		})
	}

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(cfg config.Config) {
		if err := rt.reload(cfg); err != nil {
			rt.logger.Warn("engine reload failed, keeping previous engine", zap.Error(err))
		}
	}); err != nil {
		cancel()
		rt.closeEngine(rt.engine.Swap(nil))
		return nil, err
	}

	return rt, nil
}

// Engine returns the current generation without pinning it. Callers that
// use its store or agent should go through Acquire instead.
func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// Acquire pins the current engine until release is called. A reload that
// lands in the meantime leaves the pinned engine open.
func (r *Runtime) Acquire() (*Engine, func(), error) {
	for {
		eng := r.engine.Load()
		if eng == nil {
			return nil, nil, ErrNoEngine
		}
		if eng.acquire() {
			var once sync.Once
			return eng, func() { once.Do(eng.release) }, nil
		}
		// retired between Load and acquire, the successor is already stored
	}
}

func (r *Runtime) Config() config.Config {
	return r.cfgMgr.Get()
}

// Close stops watching the config and blocks until every acquired engine
// has been released and closed.
func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	r.closed = true
	r.retire(r.engine.Swap(nil))
	r.mu.Unlock()
	r.retiring.Wait()
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) reload(cfg config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRuntimeClosed
	}

	engine, err := r.builder(cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	r.retire(r.engine.Swap(engine))
	r.logger.Info("engine ready", zap.Uint64("version", engine.Version))
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) retire(e *Engine) {
	if e == nil {
		return
	}
	drained := e.retire()
	r.retiring.Add(1)
	go func() {
		defer r.retiring.Done()
		<-drained
		r.closeEngine(e)
	}()
}

func (r *Runtime) closeEngine(e *Engine) {
	if e == nil {
		return
	}
	if err := e.Close(); err != nil {
		r.logger.Warn("close engine", zap.Uint64("version", e.Version), zap.Error(err))
	}
}

func (r *Runtime) notifySuccess(engine *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
