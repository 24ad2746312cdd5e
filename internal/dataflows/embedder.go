package dataflows

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/go-resty/resty/v2"

	"github.com/dyike/CortexAdvisor/config"
)

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	client *resty.Client
	model  string
}

var _ embedding.Embedder = (*HTTPEmbedder)(nil)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewHTTPEmbedder(cfg *config.Config) *HTTPEmbedder {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.EmbeddingBaseURL, "/"))
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "CortexAdvisor/1.0")

	key := cfg.EmbeddingAPIKey
	if key == "" {
		key = cfg.OpenAIAPIKey
	}
	if key != "" {
		client.SetAuthToken(key)
	}

	return &HTTPEmbedder{client: client, model: cfg.EmbeddingModel}
}

func (e *HTTPEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := e.model
	if o := embedding.GetCommonOptions(&embedding.Options{Model: &model}, opts...); o.Model != nil {
		model = *o.Model
	}

	var out embeddingResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(embeddingRequest{Model: model, Input: texts}).
		SetResult(&out).
		SetError(&out).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if resp.StatusCode() != 200 {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("embeddings API error: %s", msg)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(out.Data), len(texts))
	}

	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float64, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
