package debug

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/devops"
	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
)

// EinoDebugger starts the eino devops server so chat model calls can be
// inspected in the visual debugger.
type EinoDebugger struct {
	config *config.Config
	logger *zap.Logger
}

func NewEinoDebugger(cfg *config.Config, logger *zap.Logger) *EinoDebugger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EinoDebugger{config: cfg, logger: logger.Named("eino_debug")}
}

func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.IsEnabled() {
		return nil
	}

	d.logger.Debug("initializing eino visual debug plugin", zap.Int("port", d.config.EinoDebugPort))
	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	d.logger.Info("eino debug server ready", zap.String("url", d.GetDebugURL()))
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.config != nil && d.config.EinoDebugEnabled
}

func (d *EinoDebugger) GetDebugURL() string {
	if !d.IsEnabled() {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.config.EinoDebugPort)
}
