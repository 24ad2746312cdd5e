package app

import (
	"context"

	"github.com/cloudwego/eino/components/model"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/internal/llm"
)

// newChatModel is swapped in tests.
var newChatModel = func(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	return llm.NewChatModel(ctx, cfg)
}
