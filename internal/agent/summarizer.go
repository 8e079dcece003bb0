package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lynassistant/lyn/internal/metrics"
	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/shared/llmutils"
)

const summaryPromptTemplate = "Summarize the following interaction concisely:\n\nUser: %s\nAssistant: %s\n\nSummary:"

// SummarizerConfig bounds background summarisation.
type SummarizerConfig struct {
	// MaxInFlight caps concurrent background summaries; extra work is dropped.
	MaxInFlight int
	// Timeout bounds one summarise-embed-store run.
	Timeout time.Duration
	Chat    schema.ChatOptions
}

func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{MaxInFlight: 4, Timeout: 2 * time.Minute, Chat: schema.ChatOptions{Temperature: -1}}
}

// Summarizer records a compressed memory of each completed turn. Schedule
// never blocks the caller; failures are logged and counted, never returned.
type Summarizer struct {
	llm      schema.LLMProvider
	embedder schema.Embedder // optional; summaries are stored without embedding when nil
	store    schema.MemoryStore
	cfg      SummarizerConfig

	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewSummarizer(llm schema.LLMProvider, embedder schema.Embedder, store schema.MemoryStore, cfg SummarizerConfig) *Summarizer {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	return &Summarizer{
		llm:      llm,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxInFlight),
	}
}

// Schedule summarises (prompt, answer) in the background. It reports false
// when the work was dropped because the summarizer is closed or saturated.
func (s *Summarizer) Schedule(prompt, answer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.Summaries.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case s.slots <- struct{}{}:
	default:
		metrics.Summaries.WithLabelValues("dropped").Inc()
		slog.Warn("summarizer saturated, dropping interaction summary")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()

		ctx := context.Background()
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		if _, err := s.Summarize(ctx, prompt, answer); err != nil {
			metrics.Summaries.WithLabelValues("error").Inc()
			slog.Error("Interaction summary failed", "err", err)
			return
		}
		metrics.Summaries.WithLabelValues("stored").Inc()
	}()
	return true
}

// Summarize asks the LLM for a summary of the interaction and stores it.
// An embedding failure is logged and the summary is stored without a vector.
func (s *Summarizer) Summarize(ctx context.Context, prompt, answer string) (schema.Memory, error) {
	msgs := schema.NewMessages(schema.NewUserMessage(fmt.Sprintf(summaryPromptTemplate, prompt, answer)))
	resp, err := s.llm.Generate(ctx, msgs, s.cfg.Chat)
	if err != nil {
		return schema.Memory{}, fmt.Errorf("summarize interaction: %w", err)
	}
	summary := strings.TrimSpace(llmutils.StripThink(resp.Content))
	if summary == "" {
		return schema.Memory{}, errors.New("summarize interaction: empty summary")
	}

	m := schema.Memory{Prompt: prompt, Answer: answer, Summary: summary, CreatedAt: time.Now().UTC()}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, summary)
		if err != nil {
			slog.Warn("summary embedding failed, storing without vector", "err", err)
		} else {
			m.Embedding = vec
		}
	}
	if err := s.store.Store(ctx, m); err != nil {
		return schema.Memory{}, fmt.Errorf("store summary: %w", err)
	}
	slog.Debug("interaction summary stored", "summary", llmutils.Truncate(summary, 120))
	return m, nil
}

// Close stops accepting work and waits for in-flight summaries or ctx.
func (s *Summarizer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
