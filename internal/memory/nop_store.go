package memory

import (
	"context"

	"github.com/lynassistant/lyn/internal/schema"
)

// NopStore discards memories. Used when memory is disabled.
type NopStore struct{}

func (NopStore) Store(context.Context, schema.Memory) error { return nil }
func (NopStore) Search(context.Context, []float32, int) ([]schema.ScoredMemory, error) {
	return nil, nil
}
func (NopStore) Close() error { return nil }
