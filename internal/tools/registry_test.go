package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/testkit"
)

type stubTool struct{ name, desc string }

func (s stubTool) Name() string                { return s.name }
func (s stubTool) Description() string         { return s.desc }
func (s stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s stubTool) Execute(context.Context, map[string]any) (string, error) {
	return s.name, nil
}

func TestRegistry_RegisterConflict(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{name: "a"}, []float32{1, 0}))

	err := reg.Register(stubTool{name: "a", desc: "other"}, []float32{0, 1})
	require.ErrorIs(t, err, schema.ErrRegistrationConflict)
	var conflict *schema.RegistrationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a", conflict.Name)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RejectsDiscoveryAndInvalid(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Register(DiscoverTool{}, []float32{1}), schema.ErrRegistrationConflict)
	assert.Error(t, reg.Register(nil, []float32{1}))
	assert.Error(t, reg.Register(stubTool{name: ""}, []float32{1}))
	assert.Error(t, reg.Register(stubTool{name: "x"}, nil))
	assert.Zero(t, reg.Len())
}

func TestRegistry_GetByNameIsCaseSensitive(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{name: "calculator"}, []float32{1}))

	tool, ok := reg.GetByName("calculator")
	require.True(t, ok)
	assert.Equal(t, "calculator", tool.Name())

	_, ok = reg.GetByName("Calculator")
	assert.False(t, ok)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(stubTool{name: n, desc: n + " desc"}, []float32{1}))
	}
	var names []string
	for _, e := range reg.List() {
		names = append(names, e.Tool.Name())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestRegistry_FindByCapability(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{name: "x"}, []float32{1, 0, 0}))
	require.NoError(t, reg.Register(stubTool{name: "y"}, []float32{0.8, 0.6, 0}))
	require.NoError(t, reg.Register(stubTool{name: "z"}, []float32{0, 0, 1}))

	t.Run("greatest similarity wins", func(t *testing.T) {
		m, ok := reg.FindByCapability([]float32{0.9, 0.4, 0}, 0.5)
		require.True(t, ok)
		assert.Equal(t, "y", m.Tool.Name())
		assert.Greater(t, m.Similarity, 0.9)
	})

	t.Run("all below threshold", func(t *testing.T) {
		_, ok := reg.FindByCapability([]float32{0, 1, 0}, 0.75)
		assert.False(t, ok)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		m, ok := reg.FindByCapability([]float32{0, 0, 1}, 1.0)
		require.True(t, ok)
		assert.Equal(t, "z", m.Tool.Name())
	})

	t.Run("mismatched dimensions are skipped", func(t *testing.T) {
		_, ok := reg.FindByCapability([]float32{1, 0}, -1)
		assert.False(t, ok)
	})
}

func TestRegistry_TieBreakIsLexicographic(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"delta", "bravo", "charlie"} {
		require.NoError(t, reg.Register(stubTool{name: n}, []float32{1, 1}))
	}
	for range 20 {
		m, ok := reg.FindByCapability([]float32{2, 2}, 0.5)
		require.True(t, ok)
		assert.Equal(t, "bravo", m.Tool.Name())
	}
}

func TestRegistry_SchemasExcludingDiscovery(t *testing.T) {
	reg, err := NewRegistryBuilder().WithBuiltins().Build(context.Background(), testkit.NewEmbedder())
	require.NoError(t, err)

	schemas := reg.SchemasExcludingDiscovery()
	require.Len(t, schemas, 2)
	assert.Equal(t, "calculator", schemas[0].Name)
	assert.Equal(t, "datetime", schemas[1].Name)
	for _, s := range schemas {
		assert.NotEqual(t, DiscoverToolName, s.Name)
		assert.True(t, json.Valid(s.Parameters))
	}
}

func TestRegistry_Rank(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{name: "a"}, []float32{1, 0}))
	require.NoError(t, reg.Register(stubTool{name: "b"}, []float32{0, 1}))

	ranked := reg.Rank([]float32{0.1, 1})
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].Tool.Name())
	assert.Equal(t, "a", ranked[1].Tool.Name())
}

// ─── Builder ────────────────────────────────────────────────────────────────

func TestRegistryBuilder_EmbedsDescriptions(t *testing.T) {
	emb := testkit.NewEmbedder()
	reg, err := NewRegistryBuilder().WithBuiltins().Build(context.Background(), emb)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 2, emb.Calls())

	for _, e := range reg.List() {
		want, err := emb.Embed(context.Background(), e.Tool.Description())
		require.NoError(t, err)
		assert.Equal(t, want, e.Embedding)
	}
}

func TestRegistryBuilder_Failures(t *testing.T) {
	emb := testkit.NewEmbedder()
	emb.Err = errors.New("connection refused")
	_, err := NewRegistryBuilder().WithBuiltins().Build(context.Background(), emb)
	require.ErrorIs(t, err, schema.ErrBackend)

	_, err = NewRegistryBuilder().
		WithTool(NewCalculator()).
		WithTool(NewCalculator()).
		Build(context.Background(), testkit.NewEmbedder())
	require.ErrorIs(t, err, schema.ErrRegistrationConflict)
}

// ─── Discovery ──────────────────────────────────────────────────────────────

func TestDiscovery_EndToEnd(t *testing.T) {
	ctx := context.Background()
	emb := testkit.NewEmbedder()
	reg, err := NewRegistryBuilder().WithBuiltins().Build(ctx, emb)
	require.NoError(t, err)

	q, err := emb.Embed(ctx, "evaluate a math expression")
	require.NoError(t, err)
	m, ok := reg.FindByCapability(q, 0.75)
	require.True(t, ok)
	assert.Equal(t, "calculator", m.Tool.Name())

	q, err = emb.Embed(ctx, "what time is it in UTC")
	require.NoError(t, err)
	m, ok = reg.FindByCapability(q, 0.75)
	require.True(t, ok)
	assert.Equal(t, "datetime", m.Tool.Name())

	q, err = emb.Embed(ctx, "tell me a joke")
	require.NoError(t, err)
	_, ok = reg.FindByCapability(q, 0.75)
	assert.False(t, ok)
}

func TestDiscoverTool(t *testing.T) {
	d := DiscoverTool{}
	_, err := d.Execute(context.Background(), map[string]any{CapabilityArg: "x"})
	assert.ErrorIs(t, err, ErrDiscoveryNotExecutable)

	got, err := CapabilityDescription(map[string]any{CapabilityArg: "do math"})
	require.NoError(t, err)
	assert.Equal(t, "do math", got)

	_, err = CapabilityDescription(map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidArguments)
	_, err = CapabilityDescription(map[string]any{CapabilityArg: 3})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}
