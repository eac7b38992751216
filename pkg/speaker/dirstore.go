package speaker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// recordExt is the file extension for persisted enrollment records.
const recordExt = ".json"

// record is the on-disk representation of a single enrollment. The file name
// stem is the user ID; the body carries the embedding so a fresh store can
// rebuild its mapping from a directory scan alone.
type record struct {
	UserID     string    `json:"user_id"`
	Embedding  []float32 `json:"embedding"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Compile-time assertion that DirStore satisfies the Store interface.
var _ Store = (*DirStore)(nil)

// DirStore is a [Store] that keeps all enrollments in memory and persists one
// JSON record per user in a local directory. Records are written atomically
// (temp file + rename) and the write lock is held across persist + memory
// update so concurrent enrollments for the same user resolve in some total
// order.
//
// Construction scans the directory and recovers every previously persisted
// enrollment before the store serves its first query.
type DirStore struct {
	dir string

	mu         sync.RWMutex
	embeddings map[string][]float32
	order      []string // enrollment/load order, used for tie-breaking
	dims       int      // fixed after the first enrollment or loaded record
}

// NewDirStore creates the directory if needed, loads all existing records,
// and returns a ready-to-serve store.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("speaker: storage directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("speaker: create storage dir %q: %w: %v", dir, ErrStorage, err)
	}

	s := &DirStore{
		dir:        dir,
		embeddings: make(map[string][]float32),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load scans the storage directory and rebuilds the in-memory mapping. The
// file name stem is the user ID. Called only from NewDirStore, before the
// store is shared.
func (s *DirStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("speaker: scan storage dir %q: %w: %v", s.dir, ErrStorage, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("speaker: read record %q: %w: %v", path, ErrStorage, err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("speaker: parse record %q: %w", path, err)
		}

		userID := strings.TrimSuffix(e.Name(), recordExt)
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("speaker: record %q: %w", path, ErrEmptyEmbedding)
		}
		if s.dims == 0 {
			s.dims = len(rec.Embedding)
		} else if len(rec.Embedding) != s.dims {
			return fmt.Errorf("speaker: record %q has dimension %d, store has %d: %w",
				path, len(rec.Embedding), s.dims, ErrDimensionMismatch)
		}

		s.embeddings[userID] = rec.Embedding
		s.order = append(s.order, userID)
	}

	return nil
}

// Enroll implements [Store.Enroll]. The record is persisted first; the
// in-memory mapping is only updated once the write is durable.
func (s *DirStore) Enroll(ctx context.Context, userID string, embedding []float32) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dims != 0 && len(embedding) != s.dims {
		return fmt.Errorf("speaker: enroll %q with dimension %d, store has %d: %w",
			userID, len(embedding), s.dims, ErrDimensionMismatch)
	}

	// Readers hold s.mu.RLock, so the copy below is never observed
	// half-written even though persist + update spans two steps.
	stored := make([]float32, len(embedding))
	copy(stored, embedding)

	if err := s.persist(userID, stored); err != nil {
		return err
	}

	if _, exists := s.embeddings[userID]; !exists {
		s.order = append(s.order, userID)
	}
	s.embeddings[userID] = stored
	if s.dims == 0 {
		s.dims = len(stored)
	}
	return nil
}

// persist writes the record atomically: marshal to a temp file in the same
// directory, then rename over the final path.
func (s *DirStore) persist(userID string, embedding []float32) error {
	rec := record{
		UserID:     userID,
		Embedding:  embedding,
		EnrolledAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("speaker: marshal record %q: %w", userID, err)
	}

	final := filepath.Join(s.dir, userID+recordExt)
	tmp, err := os.CreateTemp(s.dir, userID+".*.tmp")
	if err != nil {
		return fmt.Errorf("speaker: create temp record for %q: %w: %v", userID, ErrStorage, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("speaker: write record %q: %w: %v", userID, ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("speaker: close record %q: %w: %v", userID, ErrStorage, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("speaker: rename record %q: %w: %v", userID, ErrStorage, err)
	}
	return nil
}

// FindMatch implements [Store.FindMatch]. Candidates are scanned in
// enrollment/load order; the first highest-scoring candidate wins ties.
func (s *DirStore) FindMatch(ctx context.Context, embedding []float32, threshold float64) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.embeddings) == 0 {
		return Match{}, false, nil
	}
	if s.dims != 0 && len(embedding) != s.dims {
		return Match{}, false, fmt.Errorf("speaker: query dimension %d, store has %d: %w",
			len(embedding), s.dims, ErrDimensionMismatch)
	}

	best := Match{Score: -2} // below any reachable cosine similarity
	for _, userID := range s.order {
		score := Cosine(embedding, s.embeddings[userID])
		if score > best.Score {
			best = Match{UserID: userID, Score: score}
		}
	}

	if best.Score < threshold {
		return Match{}, false, nil
	}
	return best, true, nil
}

// Count implements [Store.Count].
func (s *DirStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// Dir returns the storage directory the store was created with.
func (s *DirStore) Dir() string { return s.dir }
