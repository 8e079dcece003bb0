// Package testkit provides in-memory fakes of the LLM, embedding and memory
// backends for tests.
package testkit

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/similarity"
)

// SummaryPrefix identifies summarisation prompts sent by the summarizer.
const SummaryPrefix = "Summarize the following interaction"

// LLM is a scripted schema.LLMProvider. Conversation prompts consume Replies
// in order; summarisation prompts are answered with Summary.
type LLM struct {
	mu       sync.Mutex
	Replies  []string
	Errs     map[int]error // error to return for the n-th conversation call (0-based)
	Summary  string
	SumErr   error
	Chunks   []string
	StreamEr error
	Model    string

	prompts   []schema.Messages
	summaries []schema.Messages
	calls     int
	pulled    int
}

func NewLLM(replies ...string) *LLM {
	return &LLM{Replies: replies, Summary: "a short summary", Model: "fake-chat"}
}

func (l *LLM) Generate(ctx context.Context, prompt schema.Messages, _ schema.ChatOptions) (schema.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return schema.LLMResponse{}, &schema.BackendError{Backend: "llm", Op: "generate", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if isSummary(prompt) {
		l.summaries = append(l.summaries, prompt.Clone())
		if l.SumErr != nil {
			return schema.LLMResponse{}, &schema.BackendError{Backend: "llm", Op: "generate", Err: l.SumErr}
		}
		return schema.LLMResponse{Content: l.Summary}, nil
	}

	n := l.calls
	l.calls++
	l.prompts = append(l.prompts, prompt.Clone())
	if err := l.Errs[n]; err != nil {
		return schema.LLMResponse{}, &schema.BackendError{Backend: "llm", Op: "generate", Err: err}
	}
	if n >= len(l.Replies) {
		return schema.LLMResponse{}, &schema.BackendError{Backend: "llm", Op: "generate", Err: errors.New("no scripted reply left")}
	}
	return schema.LLMResponse{Content: l.Replies[n]}, nil
}

func (l *LLM) GenerateStream(ctx context.Context, prompt schema.Messages, _ schema.ChatOptions) (iter.Seq2[string, error], error) {
	l.mu.Lock()
	l.prompts = append(l.prompts, prompt.Clone())
	chunks := slices.Clone(l.Chunks)
	streamErr := l.StreamEr
	l.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			l.mu.Lock()
			l.pulled++
			l.mu.Unlock()
			if !yield(c, nil) {
				return
			}
		}
		if streamErr != nil {
			yield("", &schema.BackendError{Backend: "llm", Op: "stream", Err: streamErr})
		}
	}, nil
}

func (l *LLM) DefaultModel() string { return l.Model }

// Prompts returns the conversation prompts received so far.
func (l *LLM) Prompts() []schema.Messages {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.prompts)
}

// SummaryPrompts returns the summarisation prompts received so far.
func (l *LLM) SummaryPrompts() []schema.Messages {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.summaries)
}

// Pulled returns how many stream fragments were produced.
func (l *LLM) Pulled() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pulled
}

func isSummary(p schema.Messages) bool {
	return len(p.Messages) == 1 && strings.HasPrefix(p.Messages[0].Content, SummaryPrefix)
}

// Concept groups the word stems that map to one embedding dimension.
type Concept []string

// DefaultConcepts covers the built-in tool descriptions and a few unrelated topics.
var DefaultConcepts = []Concept{
	{"math", "calculat", "arithmetic", "express", "evaluat", "sum", "equation", "sqrt", "multiply"},
	{"date", "time", "clock", "utc", "hour", "today"},
	{"joke", "funny", "laugh"},
	{"weather", "rain", "forecast"},
}

// Embedder is a deterministic bag-of-concepts embedder: each dimension counts
// the words of the text that start with one of the concept's stems.
// Vectors overrides the embedding of specific texts.
type Embedder struct {
	mu       sync.Mutex
	Concepts []Concept
	Vectors  map[string][]float32
	Err      error
	ModelID  string
	calls    int
}

func NewEmbedder() *Embedder {
	return &Embedder{Concepts: DefaultConcepts, ModelID: "fake-embed"}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &schema.BackendError{Backend: "embedding", Op: "embed", Err: err}
	}
	if e.Err != nil {
		return nil, &schema.BackendError{Backend: "embedding", Op: "embed", Err: e.Err}
	}
	if v, ok := e.Vectors[text]; ok {
		return slices.Clone(v), nil
	}

	vec := make([]float32, len(e.Concepts))
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		for i, c := range e.Concepts {
			if slices.ContainsFunc(c, func(stem string) bool { return strings.HasPrefix(word, stem) }) {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func (e *Embedder) Model() string { return e.ModelID }

func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Store is an in-memory schema.MemoryStore.
type Store struct {
	mu       sync.Mutex
	Err      error
	memories []schema.Memory
	stored   chan schema.Memory
}

func NewStore() *Store {
	return &Store{stored: make(chan schema.Memory, 64)}
}

func (s *Store) Store(_ context.Context, m schema.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.memories = append(s.memories, m)
	select {
	case s.stored <- m:
	default:
	}
	return nil
}

func (s *Store) Search(_ context.Context, embedding []float32, limit int) ([]schema.ScoredMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.ScoredMemory
	for _, m := range s.memories {
		sim, err := similarity.Cosine(embedding, m.Embedding)
		if err != nil {
			continue
		}
		out = append(out, schema.ScoredMemory{Memory: m, Similarity: sim})
	}
	slices.SortStableFunc(out, func(a, b schema.ScoredMemory) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

// Memories returns a snapshot of stored memories.
func (s *Store) Memories() []schema.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.memories)
}

// Stored delivers each memory as it is stored.
func (s *Store) Stored() <-chan schema.Memory { return s.stored }
