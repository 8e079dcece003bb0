package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/similarity"
)

// Entry is a registered tool together with the embedding of its description.
type Entry struct {
	Tool      schema.Tool
	Embedding []float32
}

// Match is the result of a capability search.
type Match struct {
	Tool       schema.Tool
	Similarity float64
}

// Registry holds the named tools available to the engine.
//
// Registration happens once at start-up; after that the registry is only
// read, so lookups take no locks. Register must not be called once the
// registry is shared.
type Registry struct {
	tools map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Entry)}
}

// Register adds tool with its description embedding.
// A second tool with the same name is a *schema.RegistrationConflictError.
// The embedding must come from the same model used for capability queries.
func (r *Registry) Register(tool schema.Tool, embedding []float32) error {
	if tool == nil {
		return errors.New("register: nil tool")
	}
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return errors.New("register: tool name is empty")
	}
	if name == DiscoverToolName {
		return &schema.RegistrationConflictError{Name: name}
	}
	if _, exists := r.tools[name]; exists {
		return &schema.RegistrationConflictError{Name: name}
	}
	if len(embedding) == 0 {
		return fmt.Errorf("register %q: empty description embedding", name)
	}
	r.tools[name] = Entry{Tool: tool, Embedding: slices.Clone(embedding)}
	return nil
}

// GetByName returns the tool registered under name (case-sensitive).
func (r *Registry) GetByName(name string) (schema.Tool, bool) {
	e, ok := r.tools[name]
	return e.Tool, ok
}

// List returns every entry sorted by tool name.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Tool.Name(), b.Tool.Name()) })
	return out
}

func (r *Registry) Len() int { return len(r.tools) }

// FindByCapability returns the tool whose description embedding is most
// similar to query, considering only similarities >= threshold.
// Exact ties go to the lexicographically smallest name.
func (r *Registry) FindByCapability(query []float32, threshold float64) (Match, bool) {
	var best Match
	found := false
	for name, e := range r.tools {
		sim, err := similarity.Cosine(query, e.Embedding)
		if err != nil {
			slog.Warn("skip tool in capability search", "tool", name, "err", err)
			continue
		}
		if sim < threshold {
			continue
		}
		if !found || sim > best.Similarity || (sim == best.Similarity && name < best.Tool.Name()) {
			best = Match{Tool: e.Tool, Similarity: sim}
			found = true
		}
	}
	return best, found
}

// Rank returns every tool with its similarity to query, most similar first.
// Used for diagnostics; the engine only uses FindByCapability.
func (r *Registry) Rank(query []float32) []Match {
	out := make([]Match, 0, len(r.tools))
	for _, e := range r.List() {
		sim, err := similarity.Cosine(query, e.Embedding)
		if err != nil {
			continue
		}
		out = append(out, Match{Tool: e.Tool, Similarity: sim})
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	return out
}

// SchemasExcludingDiscovery returns the schemas of all registered tools,
// sorted by name. The discovery meta-tool is never part of the result.
func (r *Registry) SchemasExcludingDiscovery() []Schema {
	entries := r.List()
	out := make([]Schema, 0, len(entries))
	for _, e := range entries {
		if e.Tool.Name() == DiscoverToolName {
			continue
		}
		out = append(out, SchemaOf(e.Tool))
	}
	return out
}
