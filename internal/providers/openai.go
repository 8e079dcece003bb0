package providers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lynassistant/lyn/internal/metrics"
	"github.com/lynassistant/lyn/internal/schema"
)

// localAPIKey is sent to local backends that ignore authentication.
const localAPIKey = "ollama"

// OpenAIProvider talks to any OpenAI-compatible endpoint (OpenAI, OpenRouter,
// Groq, DeepSeek, vLLM, and Ollama through its /v1 API). It serves both chat
// and embeddings. The SDK's automatic retries are disabled.
type OpenAIProvider struct {
	client       openai.Client
	spec         *ProviderSpec
	apiBase      string
	defaultModel string
}

// NewOpenAIProvider constructs a provider from raw config values.
// The caller extracts these from config.Config to avoid an import cycle.
func NewOpenAIProvider(p Params) *OpenAIProvider {
	spec := Resolve(p.ProviderName, p.APIKey, p.APIBase, p.DefaultModel)

	base := p.APIBase
	if base == "" && spec != nil {
		base = spec.DefaultAPIBase
	}
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	base = strings.TrimRight(base, "/") + "/"

	key := p.APIKey
	if key == "" && spec != nil && spec.IsLocal {
		key = localAPIKey
	}

	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	for k, v := range p.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	if p.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(p.HTTPClient))
	}

	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		spec:         spec,
		apiBase:      base,
		defaultModel: p.DefaultModel,
	}
}

func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Model implements schema.Embedder.
func (p *OpenAIProvider) Model() string { return p.defaultModel }

func (p *OpenAIProvider) APIBase() string { return p.apiBase }

// Spec returns the resolved provider metadata (may be nil for unknown bases).
func (p *OpenAIProvider) Spec() *ProviderSpec { return p.spec }

// Generate implements schema.LLMProvider.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt schema.Messages, opts schema.ChatOptions) (schema.LLMResponse, error) {
	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, p.chatParams(prompt, opts))
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("response has no choices")
	}
	metrics.RecordBackendCall("llm", "generate", time.Since(start), err)
	if err != nil {
		return schema.LLMResponse{}, &schema.BackendError{Backend: "llm", Op: "generate", Err: err}
	}

	choice := resp.Choices[0]
	slog.Debug("llm response",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"output_tokens", resp.Usage.CompletionTokens,
	)
	return schema.LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: map[string]int{
			"input_tokens":  int(resp.Usage.PromptTokens),
			"output_tokens": int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// GenerateStream implements schema.LLMProvider. The request is sent
// immediately; fragments are read from the response only as the consumer
// pulls them, and leaving the range loop closes the stream.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, prompt schema.Messages, opts schema.ChatOptions) (iter.Seq2[string, error], error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.chatParams(prompt, opts))
	if err := stream.Err(); err != nil {
		metrics.RecordBackendCall("llm", "stream", 0, err)
		return nil, &schema.BackendError{Backend: "llm", Op: "stream", Err: err}
	}

	return func(yield func(string, error) bool) {
		start := time.Now()
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
		err := stream.Err()
		metrics.RecordBackendCall("llm", "stream", time.Since(start), err)
		if err != nil {
			yield("", &schema.BackendError{Backend: "llm", Op: "stream", Err: err})
		}
	}, nil
}

// Embed implements schema.Embedder.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.defaultModel),
	})
	if err == nil && len(resp.Data) == 0 {
		err = errors.New("response has no embeddings")
	}
	metrics.RecordBackendCall("embedding", "embed", time.Since(start), err)
	if err != nil {
		return nil, &schema.BackendError{Backend: "embedding", Op: "embed", Err: err}
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *OpenAIProvider) chatParams(prompt schema.Messages, opts schema.ChatOptions) openai.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(prompt),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature >= 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	return params
}

func toOpenAIMessages(prompt schema.Messages) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, prompt.Len())
	for _, m := range prompt.Messages {
		switch m.Role {
		case schema.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case schema.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (p *OpenAIProvider) String() string {
	name := "custom"
	if p.spec != nil {
		name = p.spec.Name
	}
	return fmt.Sprintf("%s(%s @ %s)", name, p.defaultModel, p.apiBase)
}
