// Package memory stores summaries of past interactions.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/similarity"
)

// maxLineBytes bounds one history record.
const maxLineBytes = 4 << 20

// FileStore appends memories as JSON lines to memory/history.jsonl in the
// workspace. Search scans the whole file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore rooted at workspace.
// The memory/ subdirectory is created if it does not exist.
func NewFileStore(workspace string) (*FileStore, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "history.jsonl")}, nil
}

func (s *FileStore) Path() string { return s.path }

// Store appends m, assigning an ID and timestamp when missing.
func (s *FileStore) Store(_ context.Context, m schema.Memory) error {
	normalize(&m)
	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Search returns up to limit memories ranked by cosine similarity.
// Records without an embedding, or with a different dimension, are skipped.
func (s *FileStore) Search(_ context.Context, embedding []float32, limit int) ([]schema.ScoredMemory, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []schema.ScoredMemory
	for _, m := range all {
		sim, err := similarity.Cosine(embedding, m.Embedding)
		if err != nil {
			continue
		}
		out = append(out, schema.ScoredMemory{Memory: m, Similarity: sim})
	}
	return rank(out, limit), nil
}

// All returns every stored memory in insertion order.
func (s *FileStore) All() ([]schema.Memory, error) {
	return s.readAll()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readAll() ([]schema.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var out []schema.Memory
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var m schema.Memory
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			slog.Warn("skip corrupt memory record", "path", s.path, "line", n, "err", err)
			continue
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	return out, nil
}

func normalize(m *schema.Memory) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}

func rank(in []schema.ScoredMemory, limit int) []schema.ScoredMemory {
	slices.SortStableFunc(in, func(a, b schema.ScoredMemory) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
