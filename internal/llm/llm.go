package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexAdvisor/config"
)

// Apology replaces model output whenever the provider fails.
const Apology = "I'm sorry, I couldn't generate a response right now. Please try again in a moment."

// NewChatModel builds the configured provider's chat model.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	apiKey := cfg.LLMAPIKey()
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: no API key for provider %s", config.ErrInvalidConfig, cfg.LLMProvider)
	}

	switch cfg.LLMProvider {
	case "deepseek":
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    apiKey,
			Model:     cfg.ChatModel,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create deepseek model: %w", err)
		}
		return cm, nil
	case "openai":
		maxTokens := cfg.MaxTokens
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.BackendURL,
			APIKey:    apiKey,
			Model:     cfg.ChatModel,
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("%w: unsupported llm_provider %q", config.ErrInvalidConfig, cfg.LLMProvider)
	}
}

// Generate makes one blocking call. On failure it still returns Apology as
// the text, together with the cause for logging.
func Generate(ctx context.Context, cm model.BaseChatModel, msgs []*schema.Message) (string, error) {
	if cm == nil {
		return Apology, errors.New("chat model not configured")
	}
	resp, err := cm.Generate(ctx, msgs)
	if err != nil {
		return Apology, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Apology, errors.New("empty model response")
	}
	return resp.Content, nil
}
