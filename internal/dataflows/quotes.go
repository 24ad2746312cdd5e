package dataflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/models"
)

// QuoteProvider fetches a single latest quote.
type QuoteProvider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
}

// QuoteClient tries each provider in order until one answers.
type QuoteClient struct {
	providers []QuoteProvider
	retry     *RetryConfig
	logger    *zap.Logger
}

// NewQuoteClient wires Longport when credentials are present and Yahoo
// Finance as the fallback. With online tools disabled it has no providers.
func NewQuoteClient(cfg *config.Config, logger *zap.Logger) *QuoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	var providers []QuoteProvider
	if cfg != nil && cfg.OnlineTools {
		if cfg.HasLongport() {
			lp, err := NewLongportProvider(cfg)
			if err != nil {
				logger.Warn("longport unavailable, falling back to yahoo", zap.Error(err))
			} else {
				providers = append(providers, lp)
			}
		}
		providers = append(providers, NewYahooProvider())
	}
	return NewQuoteClientWithProviders(logger, providers...)
}

func NewQuoteClientWithProviders(logger *zap.Logger, providers ...QuoteProvider) *QuoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteClient{
		providers: providers,
		retry:     DefaultRetryConfig(),
		logger:    logger,
	}
}

// SetRetry replaces the retry policy; nil disables retries.
func (c *QuoteClient) SetRetry(rc *RetryConfig) {
	if rc == nil {
		rc = &RetryConfig{}
	}
	c.retry = rc
}

func (c *QuoteClient) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if len(c.providers) == 0 {
		return nil, errors.New("no quote provider configured")
	}

	var errs []error
	for _, p := range c.providers {
		var q *models.Quote
		err := WithRetry(ctx, c.retry, func() error {
			var err error
			q, err = p.Quote(ctx, symbol)
			return err
		})
		if err == nil && q != nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("empty quote")
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, fmt.Errorf("quote %s: %w", symbol, errors.Join(errs...))
}

// Quotes returns quotes for the symbols that resolved; failures are logged
// and skipped.
func (c *QuoteClient) Quotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	out := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := c.Quote(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Debug("quote lookup failed", zap.String("symbol", s), zap.Error(err))
			continue
		}
		out = append(out, *q)
	}
	return out, nil
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(symbol), "$")))
}

func stamp(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(ts, 0).UTC()
}
