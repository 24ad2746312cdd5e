package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/debug"
	"github.com/dyike/CortexAdvisor/internal/metrics"
	"github.com/dyike/CortexAdvisor/internal/storage"
	"github.com/dyike/CortexAdvisor/pkg/app"
)

// env is the process-wide state shared by every subcommand.
type env struct {
	configDir   string
	debug       bool
	metricsAddr string

	cfgMgr  *config.Manager
	runtime *app.Runtime
	logger  *zap.Logger
	metrics *metrics.Metrics

	metricsSrv *http.Server
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:   "cortexadvisor",
		Short: "CortexAdvisor - AI-Powered Portfolio Advisor",
		Long: `CortexAdvisor answers financial questions in the context of your portfolio,
live market quotes, your chat history and a personal knowledge base.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&e.configDir, "config-dir", "", "Directory holding config.json (defaults to the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&e.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&e.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(newAskCmd(e))
	rootCmd.AddCommand(newChatCmd(e))
	rootCmd.AddCommand(newKBCmd(e))
	rootCmd.AddCommand(newTradesCmd(e))
	rootCmd.AddCommand(newSessionCmd(e))
	rootCmd.AddCommand(newConfigCmd(e))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig opens the config manager without building an engine.
func (e *env) loadConfig() error {
	if e.cfgMgr != nil {
		return nil
	}
	if e.logger == nil {
		e.logger = newLogger(e.debug)
	}
	opts := []config.ManagerOption{config.WithLogger(e.logger.Named("config"))}
	if e.configDir != "" {
		opts = append(opts, config.WithConfigDir(e.configDir))
	}
	mgr, err := config.NewManager(opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfgMgr = mgr
	return nil
}

// start builds the engine runtime. Commands that talk to the model call it
// from PreRunE.
func (e *env) start(cmd *cobra.Command, _ []string) error {
	if err := e.loadConfig(); err != nil {
		return err
	}
	cfg := e.cfgMgr.Get()
	if cfg.Debug && !e.debug {
		e.debug = true
		e.logger = newLogger(true)
	}
	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	reg := prometheus.NewRegistry()
	e.metrics = metrics.New(reg)
	if e.metricsAddr != "" {
		e.serveMetrics(reg)
	}

	if err := debug.NewEinoDebugger(&cfg, e.logger).Initialize(cmd.Context()); err != nil {
		e.logger.Warn("eino debugger unavailable", zap.Error(err))
	}

	rt, err := app.NewRuntime(e.cfgMgr,
		app.WithLogger(e.logger.Named("runtime")),
		app.WithBuilder(app.NewEngineBuilder(app.BuildDeps{
			Logger:     e.logger,
			Metrics:    e.metrics,
			Heuristics: e.cfgMgr.Heuristics,
		})),
	)
	if err != nil {
		return err
	}
	e.runtime = rt
	return nil
}

func (e *env) stop(*cobra.Command, []string) {
	if e.runtime != nil {
		e.runtime.Close()
	}
	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.metricsSrv.Shutdown(ctx)
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// openStore opens the SQLite store directly for commands that never call the
// chat model.
func (e *env) openStore() (*storage.Store, config.Config, error) {
	if err := e.loadConfig(); err != nil {
		return nil, config.Config{}, err
	}
	cfg := e.cfgMgr.Get()
	cfg.ApplyEnv()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, cfg, fmt.Errorf("failed to create directories: %w", err)
	}
	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

// engine pins the current engine generation. The caller must invoke release
// once its turn is over so a reloaded-away engine can close.
func (e *env) engine() (*app.Engine, func(), error) {
	if e.runtime == nil {
		return nil, nil, app.ErrNoEngine
	}
	return e.runtime.Acquire()
}

func (e *env) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	e.metricsSrv = &http.Server{Addr: e.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	e.logger.Info("serving metrics", zap.String("addr", e.metricsAddr))
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "CortexAdvisor %s\n", consts.Version)
			fmt.Fprintln(cmd.OutOrStdout(), "AI-Powered Portfolio Advisor")
		},
	}
}
