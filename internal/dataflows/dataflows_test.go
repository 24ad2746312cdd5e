package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/models"
)

type stubProvider struct {
	name   string
	prices map[string]string
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Quote(_ context.Context, symbol string) (*models.Quote, error) {
	s.calls++
	p, ok := s.prices[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return &models.Quote{Symbol: symbol, Price: decimal.RequireFromString(p)}, nil
}

func TestQuoteClientFallsThroughProviders(t *testing.T) {
	primary := &stubProvider{name: "primary", prices: map[string]string{"AAPL": "190"}}
	backup := &stubProvider{name: "backup", prices: map[string]string{"AAPL": "1", "MSFT": "410"}}
	client := NewQuoteClientWithProviders(nil, primary, backup)
	client.SetRetry(nil)

	q, err := client.Quote(context.Background(), " $aapl ")
	require.NoError(t, err)
	assert.Equal(t, "190", q.Price.String())

	quotes, err := client.Quotes(context.Background(), []string{"MSFT", "ZZZZ", "AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "MSFT", quotes[0].Symbol)
	assert.Equal(t, "AAPL", quotes[1].Symbol)

	_, err = client.Quote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary")
	assert.Contains(t, err.Error(), "backup")
}

func TestQuoteClientWithoutProviders(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.OnlineTools = false
	client := NewQuoteClient(cfg, nil)

	_, err := client.Quote(context.Background(), "AAPL")
	require.Error(t, err)
	quotes, err := client.Quotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, &RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}, func() error {
		attempts++
		cancel()
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestHTTPEmbedder(t *testing.T) {
	var gotAuth string
	var gotReq embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.EmbeddingBaseURL = srv.URL
	cfg.EmbeddingAPIKey = "secret"

	vectors, err := NewHTTPEmbedder(cfg).EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, cfg.EmbeddingModel, gotReq.Model)
	assert.Equal(t, []string{"a", "b"}, gotReq.Input)
}

func TestHTTPEmbedderReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.EmbeddingBaseURL = srv.URL

	_, err := NewHTTPEmbedder(cfg).EmbedStrings(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Hello world", Summarize("<p>Hello</p>\n<script>x()</script><b>world</b>", 0))
	assert.Equal(t, "plain text", Summarize("  plain \n text ", 50))
	assert.Equal(t, "abcde...", Summarize("abcdefgh", 5))
}
