package llm

import (
	"context"
	"errors"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/chatter-dev/chatter/internal/config"
)

// ErrMissingAPIKey is returned when no provider key is configured and none is
// present in the environment at request time.
var ErrMissingAPIKey = errors.New("provider API key not configured")

// OpenAI is the production Client backed by the OpenAI-compatible SDK.
// The API key is resolved per request so the process keeps serving when the
// key appears in the environment after startup.
type OpenAI struct {
	cfg config.LLMConfig
}

// NewClient creates a provider client for the configured endpoint.
func NewClient(cfg config.LLMConfig) *OpenAI {
	return &OpenAI{cfg: cfg}
}

func (c *OpenAI) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	key := c.cfg.APIKey
	if key == "" {
		key = os.Getenv("LLM_API_KEY")
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	sdkCfg := openai.DefaultConfig(key)
	if c.cfg.BaseURL != "" {
		sdkCfg.BaseURL = c.cfg.BaseURL
	}
	return openai.NewClientWithConfig(sdkCfg).CreateChatCompletionStream(ctx, req)
}
