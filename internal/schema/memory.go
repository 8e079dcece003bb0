package schema

import (
	"context"
	"time"
)

// Memory is one summarised interaction.
type Memory struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Answer    string    `json:"answer"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScoredMemory is a Memory returned by a similarity search.
type ScoredMemory struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// MemoryStore persists interaction summaries.
// Search requires memories stored with an embedding; others are ignored.
type MemoryStore interface {
	Store(ctx context.Context, m Memory) error
	Search(ctx context.Context, embedding []float32, limit int) ([]ScoredMemory, error)
	Close() error
}
