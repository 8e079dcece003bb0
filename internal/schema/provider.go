package schema

import (
	"context"
	"iter"
)

// ChatOptions configures a single LLM chat request.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewChatOptions(model string, maxTokens int, temperature float64) ChatOptions {
	return ChatOptions{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// LLMResponse is the normalised response from any LLM provider.
type LLMResponse struct {
	Content      string
	FinishReason string
	Usage        map[string]int // "input_tokens", "output_tokens"
}

// LLMProvider is the interface every chat backend must satisfy.
//
// GenerateStream returns a pull-driven sequence: the backend only advances
// when the consumer asks for the next fragment, and breaking out of the
// range loop releases the underlying stream.
type LLMProvider interface {
	Generate(ctx context.Context, prompt Messages, opts ChatOptions) (LLMResponse, error)
	GenerateStream(ctx context.Context, prompt Messages, opts ChatOptions) (iter.Seq2[string, error], error)
	DefaultModel() string
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}
