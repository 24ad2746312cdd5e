package dataflows

import (
	"context"
	"fmt"

	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexAdvisor/models"
)

type YahooProvider struct{}

func NewYahooProvider() *YahooProvider {
	return &YahooProvider{}
}

func (y *YahooProvider) Name() string { return "yahoo" }

func (y *YahooProvider) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := quote.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if q == nil {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &models.Quote{
		Symbol:        symbol,
		Name:          q.ShortName,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		ChangePercent: q.RegularMarketChangePercent,
		Currency:      q.CurrencyID,
		AsOf:          stamp(int64(q.RegularMarketTime)),
	}, nil
}
