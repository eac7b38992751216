// Package mock provides a test double for the speaker.Store interface.
//
// Use Store to return pre-canned match results without touching disk and to
// verify which embeddings were enrolled or queried.
//
// Example:
//
//	st := &mock.Store{
//	    FindMatchResult: speaker.Match{UserID: "alice", Score: 0.91},
//	    FindMatchOK:     true,
//	}
//	m, ok, _ := st.FindMatch(ctx, vec, 0.65)
package mock

import (
	"context"
	"sync"

	"github.com/huddlesync/diarizerd/pkg/speaker"
)

// EnrollCall records a single invocation of Enroll.
type EnrollCall struct {
	// UserID is the user identifier passed to Enroll.
	UserID string
	// Embedding is a copy of the embedding passed to Enroll.
	Embedding []float32
}

// FindMatchCall records a single invocation of FindMatch.
type FindMatchCall struct {
	// Embedding is a copy of the query embedding.
	Embedding []float32
	// Threshold is the threshold passed to FindMatch.
	Threshold float64
}

// Store is a mock implementation of speaker.Store.
type Store struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EnrollErr, if non-nil, is returned as the error from Enroll.
	EnrollErr error

	// FindMatchResult is returned by FindMatch when FindMatchOK is true.
	FindMatchResult speaker.Match

	// FindMatchOK is the boolean returned by FindMatch.
	FindMatchOK bool

	// FindMatchErr, if non-nil, is returned as the error from FindMatch.
	FindMatchErr error

	// CountValue is returned by Count.
	CountValue int

	// --- Call records ---

	// EnrollCalls records every call to Enroll in order.
	EnrollCalls []EnrollCall

	// FindMatchCalls records every call to FindMatch in order.
	FindMatchCalls []FindMatchCall
}

// Enroll records the call and returns EnrollErr.
func (s *Store) Enroll(ctx context.Context, userID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	s.EnrollCalls = append(s.EnrollCalls, EnrollCall{UserID: userID, Embedding: cp})
	return s.EnrollErr
}

// FindMatch records the call and returns the configured result.
func (s *Store) FindMatch(ctx context.Context, embedding []float32, threshold float64) (speaker.Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	s.FindMatchCalls = append(s.FindMatchCalls, FindMatchCall{Embedding: cp, Threshold: threshold})
	if s.FindMatchErr != nil {
		return speaker.Match{}, false, s.FindMatchErr
	}
	return s.FindMatchResult, s.FindMatchOK, nil
}

// Count returns CountValue.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CountValue, nil
}

// Reset clears all recorded calls. Thread-safe.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EnrollCalls = nil
	s.FindMatchCalls = nil
}

// Ensure Store implements speaker.Store at compile time.
var _ speaker.Store = (*Store)(nil)
