package tools

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lynassistant/lyn/internal/schema"
)

// maxConcurrentEmbeds bounds in-flight embedding requests during Build.
const maxConcurrentEmbeds = 4

// RegistryBuilder accumulates tools during the construction phase.
// Call Build() to embed every description and produce the Registry.
type RegistryBuilder struct {
	tools []schema.Tool
}

// NewRegistryBuilder returns a fresh RegistryBuilder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{}
}

// WithTool adds a tool and returns the builder, enabling chaining.
func (b *RegistryBuilder) WithTool(tool schema.Tool) *RegistryBuilder {
	b.tools = append(b.tools, tool)
	return b
}

// WithBuiltins adds the calculator and clock tools.
func (b *RegistryBuilder) WithBuiltins() *RegistryBuilder {
	for _, t := range Builtins() {
		b.WithTool(t)
	}
	return b
}

// Build embeds every tool description with embedder and registers the tools.
// Any embedding failure or name conflict aborts the build.
func (b *RegistryBuilder) Build(ctx context.Context, embedder schema.Embedder) (*Registry, error) {
	for i, t := range b.tools {
		if t == nil {
			return nil, fmt.Errorf("build registry: tool %d is nil", i)
		}
	}
	embeddings := make([][]float32, len(b.tools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEmbeds)
	for i, t := range b.tools {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, t.Description())
			if err != nil {
				return fmt.Errorf("embed description of %q: %w", t.Name(), err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	reg := NewRegistry()
	for i, t := range b.tools {
		if err := reg.Register(t, embeddings[i]); err != nil {
			return nil, fmt.Errorf("build registry: %w", err)
		}
	}
	slog.Debug("tool registry built", "tools", reg.Len(), "embedding_model", embedder.Model())
	return reg, nil
}
