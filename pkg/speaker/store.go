// Package speaker provides the enrolled-speaker registry: a durable mapping
// from opaque user identifiers to voice embeddings, queryable by cosine
// similarity.
//
// The package defines the [Store] interface plus two implementations — a
// directory-backed [DirStore] and a pgvector-backed store in the postgres
// subpackage — and a mock in the mock subpackage for tests.
//
// All implementations must be safe for concurrent use. Enrollment is shared
// mutable state across in-flight requests; a concurrent Enroll and FindMatch
// must never observe a partially written embedding.
package speaker

import (
	"context"
	"errors"
	"strings"
)

// ErrStorage is wrapped by every error caused by the persistence layer
// (unwritable directory, failed rename, database failure). Callers can use
// errors.Is(err, ErrStorage) to distinguish "enrollment was not made durable"
// from input validation failures.
var ErrStorage = errors.New("speaker: storage failure")

// ErrInvalidUserID is returned by Enroll when the user ID is empty or cannot
// be used as a persistent record name.
var ErrInvalidUserID = errors.New("speaker: invalid user id")

// ErrEmptyEmbedding is returned by Enroll when the embedding has no elements.
var ErrEmptyEmbedding = errors.New("speaker: empty embedding")

// ErrDimensionMismatch is returned when an embedding's dimension differs from
// the dimension already established for the store.
var ErrDimensionMismatch = errors.New("speaker: embedding dimension mismatch")

// Match is the result of a successful FindMatch query.
type Match struct {
	// UserID is the enrolled user identifier with the highest similarity.
	UserID string

	// Score is the cosine similarity between the query and the matched
	// embedding, in [-1, 1].
	Score float64
}

// Store is the enrolled-speaker registry.
//
// Implementations must be safe for concurrent use. Concurrent enrollments for
// the same user ID resolve last-write-wins; no stronger ordering is promised.
type Store interface {
	// Enroll upserts the embedding for userID and makes it durable before
	// returning. Re-enrolling an existing user silently replaces the prior
	// embedding. Persistence happens before the in-memory mapping is
	// updated, so a failed Enroll never advertises a speaker that would be
	// lost on restart.
	//
	// Returns [ErrInvalidUserID], [ErrEmptyEmbedding], or
	// [ErrDimensionMismatch] on bad input, and an error wrapping
	// [ErrStorage] when the record could not be persisted.
	Enroll(ctx context.Context, userID string, embedding []float32) error

	// FindMatch returns the enrolled user whose embedding is most similar
	// to the query, provided the best cosine similarity is >= threshold
	// (boundary inclusive). The boolean is false when the store is empty or
	// no enrolled speaker clears the threshold — absence is not an error.
	//
	// Ties go to the first candidate in enrollment/load order. Zero-norm
	// vectors compare at similarity 0.0 and therefore never match.
	FindMatch(ctx context.Context, embedding []float32, threshold float64) (Match, bool, error)

	// Count returns the number of enrolled speakers.
	Count(ctx context.Context) (int, error)
}

// ValidateUserID reports whether id is usable as a record name. IDs are
// externally assigned opaque strings; the only restriction is that they must
// be storable as a single path element.
func ValidateUserID(id string) error {
	if id == "" {
		return ErrInvalidUserID
	}
	if id == "." || id == ".." {
		return ErrInvalidUserID
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return ErrInvalidUserID
	}
	return nil
}
