// Package dependency wires core lyn services using go.uber.org/dig.
package dependency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/dig"

	"github.com/lynassistant/lyn/internal/agent"
	"github.com/lynassistant/lyn/internal/config"
	"github.com/lynassistant/lyn/internal/embedcache"
	"github.com/lynassistant/lyn/internal/memory"
	"github.com/lynassistant/lyn/internal/providers"
	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/tools"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	cfg        *config.Config
	llm        schema.LLMProvider
	embedder   schema.Embedder
	registry   *tools.Registry
	memory     schema.MemoryStore
	summarizer *agent.Summarizer
	engine     *agent.Engine
	closers    *closers
}

func (c *Container) Config() *config.Config        { return c.cfg }
func (c *Container) Provider() schema.LLMProvider  { return c.llm }
func (c *Container) Embedder() schema.Embedder     { return c.embedder }
func (c *Container) Registry() *tools.Registry     { return c.registry }
func (c *Container) Memory() schema.MemoryStore    { return c.memory }
func (c *Container) Engine() *agent.Engine         { return c.engine }
func (c *Container) Summarizer() *agent.Summarizer { return c.summarizer }

// Close drains background summaries, then releases the memory store and caches.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.summarizer != nil {
		errs = append(errs, c.summarizer.Close(ctx))
	}
	errs = append(errs, c.closers.close())
	return errors.Join(errs...)
}

// embeddingBackend is the uncached embedding provider, kept distinct from the
// schema.Embedder handed to consumers.
type embeddingBackend struct{ schema.Embedder }

// closers collects resources opened during wiring.
type closers struct{ list []io.Closer }

func (c *closers) close() error {
	var errs []error
	for i := len(c.list) - 1; i >= 0; i-- {
		errs = append(errs, c.list[i].Close())
	}
	c.list = nil
	return errors.Join(errs...)
}

// New builds and wires all core services from cfg. Building the tool
// registry embeds every tool description, so the embedding backend must be
// reachable.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cl := &closers{}
	d := dig.New()
	for _, ctor := range []any{
		func() context.Context { return ctx },
		func() *config.Config { return cfg },
		func() *closers { return cl },
		newChatProvider,
		newEmbeddingBackend,
		newEmbedder,
		newRegistry,
		newMemoryStore,
		newSummarizer,
		newEngine,
	} {
		if err := d.Provide(ctor); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		llm schema.LLMProvider,
		emb schema.Embedder,
		reg *tools.Registry,
		mem schema.MemoryStore,
		sum *agent.Summarizer,
		eng *agent.Engine,
	) {
		result = &Container{
			cfg:        cfg,
			llm:        llm,
			embedder:   emb,
			registry:   reg,
			memory:     mem,
			summarizer: sum,
			engine:     eng,
			closers:    cl,
		}
	})
	if err != nil {
		_ = cl.close()
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newChatProvider(cfg *config.Config) schema.LLMProvider {
	return providers.NewChat(cfg.ChatParams())
}

func newEmbeddingBackend(cfg *config.Config) embeddingBackend {
	return embeddingBackend{providers.NewEmbedder(cfg.EmbeddingParams())}
}

func newEmbedder(ctx context.Context, cfg *config.Config, backend embeddingBackend, cl *closers) (schema.Embedder, error) {
	cc := cfg.Embeddings.Cache
	switch cc.Backend {
	case "memory":
		return embedcache.New(backend.Embedder, embedcache.NewMemoryCache(), cfg.CacheTTL()), nil
	case "redis":
		rc, err := embedcache.NewRedisCache(ctx, embedcache.RedisOptions{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		cl.list = append(cl.list, rc)
		return embedcache.New(backend.Embedder, rc, cfg.CacheTTL()), nil
	}
	return backend.Embedder, nil
}

func newRegistry(ctx context.Context, emb schema.Embedder) (*tools.Registry, error) {
	reg, err := tools.NewRegistryBuilder().WithBuiltins().Build(ctx, emb)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	slog.Debug("tool registry ready", "tools", reg.Len(), "embedding_model", emb.Model())
	return reg, nil
}

func newMemoryStore(ctx context.Context, cfg *config.Config, cl *closers) (schema.MemoryStore, error) {
	mem, err := memory.Open(ctx, memory.Options{
		Backend:     cfg.Memory.Backend,
		Workspace:   cfg.WorkspacePath(),
		PostgresDSN: cfg.Memory.PostgresDSN,
		Dimensions:  cfg.Memory.Dimensions,
	})
	if err != nil {
		return nil, err
	}
	cl.list = append(cl.list, mem)
	return mem, nil
}

func chatOptions(cfg *config.Config) schema.ChatOptions {
	return schema.NewChatOptions(cfg.Agent.Model, cfg.Agent.MaxTokens, cfg.Agent.Temperature)
}

// newSummarizer returns nil when summarisation is disabled.
func newSummarizer(cfg *config.Config, llm schema.LLMProvider, emb schema.Embedder, mem schema.MemoryStore) *agent.Summarizer {
	if !cfg.Agent.Summarize || cfg.Memory.Backend == memory.BackendNone {
		return nil
	}
	sc := agent.DefaultSummarizerConfig()
	sc.Chat = chatOptions(cfg)
	if t := cfg.CallTimeout(); t > 0 {
		sc.Timeout = t
	}
	return agent.NewSummarizer(llm, emb, mem, sc)
}

func newEngine(
	cfg *config.Config,
	llm schema.LLMProvider,
	emb schema.Embedder,
	reg *tools.Registry,
	mem schema.MemoryStore,
	sum *agent.Summarizer,
) (*agent.Engine, error) {
	settings := agent.DefaultSettings()
	settings.Threshold = cfg.Agent.SimilarityThreshold
	settings.OffProtocol = agent.OffProtocolPolicy(cfg.Agent.OffProtocolCalls)
	settings.CallTimeout = cfg.CallTimeout()
	settings.Marker = cfg.Agent.ToolMarker
	settings.Chat = chatOptions(cfg)

	opts := []agent.Option{agent.WithMemory(mem)}
	if sum != nil {
		opts = append(opts, agent.WithSummarizer(sum))
	}
	return agent.NewEngine(llm, emb, reg, settings, opts...)
}
