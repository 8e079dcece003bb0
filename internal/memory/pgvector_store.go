package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/lynassistant/lyn/internal/schema"
)

// Compile-time check
var _ schema.MemoryStore = (*PGVectorStore)(nil)

// PGVectorStore keeps memories in Postgres with a pgvector embedding column.
type PGVectorStore struct {
	db   *sqlx.DB
	dims int
}

// NewPGVectorStore wraps an open database handle.
// dims is the embedding dimension used for the vector column.
func NewPGVectorStore(db *sqlx.DB, dims int) *PGVectorStore {
	return &PGVectorStore{db: db, dims: dims}
}

// ConnectPGVector opens dsn with lib/pq and ensures the schema exists.
func ConnectPGVector(ctx context.Context, dsn string, dims int) (*PGVectorStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewPGVectorStore(db, dims)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) createTableSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS lyn_memories (
			id         UUID PRIMARY KEY,
			prompt     TEXT NOT NULL,
			answer     TEXT NOT NULL,
			summary    TEXT NOT NULL,
			embedding  vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.dims)
}

// EnsureSchema creates the vector extension and the memories table.
func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	if s.dims <= 0 {
		return fmt.Errorf("pgvector: invalid embedding dimension %d", s.dims)
	}
	for _, stmt := range []string{`CREATE EXTENSION IF NOT EXISTS vector`, s.createTableSQL()} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure memory schema: %w", err)
		}
	}
	return nil
}

// Store inserts a new memory
func (s *PGVectorStore) Store(ctx context.Context, m schema.Memory) error {
	normalize(&m)
	if len(m.Embedding) > 0 && len(m.Embedding) != s.dims {
		return fmt.Errorf("pgvector: embedding has %d dimensions, table expects %d", len(m.Embedding), s.dims)
	}

	query := `
		INSERT INTO lyn_memories (id, prompt, answer, summary, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Prompt, m.Answer, m.Summary, nullableVector(m.Embedding), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

type memoryRow struct {
	ID         string          `db:"id"`
	Prompt     string          `db:"prompt"`
	Answer     string          `db:"answer"`
	Summary    string          `db:"summary"`
	Embedding  pgvector.Vector `db:"embedding"`
	CreatedAt  time.Time       `db:"created_at"`
	Similarity float64         `db:"similarity"`
}

func (r memoryRow) toScored() schema.ScoredMemory {
	return schema.ScoredMemory{
		Memory: schema.Memory{
			ID:        r.ID,
			Prompt:    r.Prompt,
			Answer:    r.Answer,
			Summary:   r.Summary,
			Embedding: r.Embedding.Slice(),
			CreatedAt: r.CreatedAt,
		},
		Similarity: r.Similarity,
	}
}

// Search performs semantic search using pgvector cosine similarity
func (s *PGVectorStore) Search(ctx context.Context, embedding []float32, limit int) ([]schema.ScoredMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT id, prompt, answer, summary, embedding, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM lyn_memories
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, query, pgvector.NewVector(embedding), limit); err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	out := make([]schema.ScoredMemory, len(rows))
	for i, r := range rows {
		out[i] = r.toScored()
	}
	return out, nil
}

func (s *PGVectorStore) Close() error { return s.db.Close() }

// nullableVector maps a missing embedding to SQL NULL.
func nullableVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
