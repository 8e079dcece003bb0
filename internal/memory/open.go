package memory

import (
	"context"
	"fmt"

	"github.com/lynassistant/lyn/internal/schema"
)

const (
	BackendFile     = "file"
	BackendPGVector = "pgvector"
	BackendNone     = "none"
)

// Options selects and configures the memory backend.
type Options struct {
	Backend     string
	Workspace   string
	PostgresDSN string
	Dimensions  int
}

// Open returns the configured store. An empty backend means BackendFile.
func Open(ctx context.Context, o Options) (schema.MemoryStore, error) {
	switch o.Backend {
	case "", BackendFile:
		return NewFileStore(o.Workspace)
	case BackendPGVector:
		if o.PostgresDSN == "" {
			return nil, fmt.Errorf("memory backend %q requires a postgres DSN", o.Backend)
		}
		return ConnectPGVector(ctx, o.PostgresDSN, o.Dimensions)
	case BackendNone:
		return NopStore{}, nil
	}
	return nil, fmt.Errorf("unknown memory backend %q", o.Backend)
}
