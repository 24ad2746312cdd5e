package dataflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/models"
)

// LongportProvider derives a quote from the two most recent daily candles.
type LongportProvider struct {
	quoteCtx *quote.QuoteContext
}

func NewLongportProvider(cfg *config.Config) (*LongportProvider, error) {
	if !cfg.HasLongport() {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}
	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	return &LongportProvider{quoteCtx: quoteContext}, nil
}

func (lp *LongportProvider) Name() string { return "longport" }

func (lp *LongportProvider) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	if lp.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	sticks, err := lp.quoteCtx.Candlesticks(ctx, longportSymbol(symbol), quote.PeriodDay, 2, quote.AdjustTypeNo)
	if err != nil {
		return nil, err
	}
	if len(sticks) == 0 {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}

	last := sticks[len(sticks)-1]
	closeNow, _ := last.Close.Float64()
	q := &models.Quote{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(closeNow),
		AsOf:   stamp(last.Timestamp),
	}
	if len(sticks) > 1 {
		prev, _ := sticks[len(sticks)-2].Close.Float64()
		if prev != 0 {
			q.ChangePercent = (closeNow - prev) / prev * 100
		}
	}
	return q, nil
}

// longportSymbol adds the US market suffix when none is given.
func longportSymbol(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}
