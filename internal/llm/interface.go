package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Stream is the minimal surface of openai.ChatCompletionStream the relay
// consumes; it is easy to script in tests.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client creates completion streams against the model provider.
type Client interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}
