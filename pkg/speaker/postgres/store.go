// Package postgres provides a PostgreSQL-backed implementation of the
// speaker.Store interface using pgvector for cosine-similarity retrieval.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS. The directory
// store (speaker.DirStore) remains the default backend; this one suits
// deployments that already run PostgreSQL and want enrollments to survive
// host loss.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 256)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Enroll(ctx, "alice", embedding)
//	m, ok, _ := store.FindMatch(ctx, query, 0.65)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/huddlesync/diarizerd/pkg/speaker"
)

// Compile-time assertion that Store satisfies speaker.Store.
var _ speaker.Store = (*Store)(nil)

// ddlSpeakers returns the enrollment DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlSpeakers(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS speakers (
    user_id     TEXT         PRIMARY KEY,
    embedding   vector(%d)   NOT NULL,
    enrolled_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speakers_embedding
    ON speakers USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the speakers table and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the output dimension of the configured voice
// embedding model (e.g., 256 for WeSpeaker ResNet34). Changing the value
// after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlSpeakers(embeddingDimensions)); err != nil {
		return fmt.Errorf("speaker postgres: migrate: %w", err)
	}
	return nil
}

// Store is a speaker registry backed by a PostgreSQL speakers table with a
// pgvector HNSW cosine index. All operations are safe for concurrent use;
// upsert atomicity and last-write-wins semantics come from the database.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and ensures the schema exists.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("speaker postgres: embedding dimensions must be positive, got %d", embeddingDimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("speaker postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("speaker postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("speaker postgres: ping: %w: %v", speaker.ErrStorage, err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// Enroll implements [speaker.Store.Enroll] as an upsert. The database commit
// is the durability point; there is no separate in-memory state to diverge.
func (s *Store) Enroll(ctx context.Context, userID string, embedding []float32) error {
	if err := speaker.ValidateUserID(userID); err != nil {
		return err
	}
	if len(embedding) == 0 {
		return speaker.ErrEmptyEmbedding
	}
	if len(embedding) != s.dims {
		return fmt.Errorf("speaker postgres: enroll %q with dimension %d, store has %d: %w",
			userID, len(embedding), s.dims, speaker.ErrDimensionMismatch)
	}

	const q = `
		INSERT INTO speakers (user_id, embedding, enrolled_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
		    embedding   = EXCLUDED.embedding,
		    enrolled_at = EXCLUDED.enrolled_at`

	if _, err := s.pool.Exec(ctx, q, userID, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("speaker postgres: enroll %q: %w: %v", userID, speaker.ErrStorage, err)
	}
	return nil
}

// FindMatch implements [speaker.Store.FindMatch]. The best candidate is
// retrieved by ascending cosine distance; the threshold check happens here so
// the boundary semantics (>= accepts) match the directory store exactly.
//
// A zero-norm query never matches: cosine distance against it is undefined
// in pgvector, so it is rejected before reaching the database.
func (s *Store) FindMatch(ctx context.Context, embedding []float32, threshold float64) (speaker.Match, bool, error) {
	if len(embedding) != s.dims {
		return speaker.Match{}, false, fmt.Errorf("speaker postgres: query dimension %d, store has %d: %w",
			len(embedding), s.dims, speaker.ErrDimensionMismatch)
	}
	if zeroNorm(embedding) {
		return speaker.Match{}, false, nil
	}

	const q = `
		SELECT user_id, 1 - (embedding <=> $1) AS score
		FROM   speakers
		ORDER  BY embedding <=> $1
		LIMIT  1`

	var m speaker.Match
	err := s.pool.QueryRow(ctx, q, pgvector.NewVector(embedding)).Scan(&m.UserID, &m.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return speaker.Match{}, false, nil
	}
	if err != nil {
		return speaker.Match{}, false, fmt.Errorf("speaker postgres: find match: %w: %v", speaker.ErrStorage, err)
	}

	if m.Score < threshold {
		return speaker.Match{}, false, nil
	}
	return m, true, nil
}

// Count implements [speaker.Store.Count].
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM speakers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("speaker postgres: count: %w: %v", speaker.ErrStorage, err)
	}
	return n, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// zeroNorm reports whether every element of v is zero.
func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
