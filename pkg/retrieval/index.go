// Package retrieval provides the two semantic indexes the engine
// searches: the static runbook knowledge base and the append-only
// episodic incident memory. Both share the same in-memory
// cosine-distance index.
package retrieval

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrDuplicateID       = errors.New("duplicate id")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Hit is one ranked search result. Distance is monotonic with
// dissimilarity: smaller = more relevant.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

type indexEntry struct {
	id       string
	text     string
	vector   []float32
	norm     float64
	metadata map[string]string
}

// Index is an in-memory vector index over fixed-dimension embeddings.
// Entries are append-only; reads are safe concurrently with each other.
type Index struct {
	dims int

	mu      sync.RWMutex
	entries []indexEntry
	ids     map[string]struct{}
}

// NewIndex creates an index for vectors of the given dimensionality.
func NewIndex(dims int) *Index {
	return &Index{dims: dims, ids: make(map[string]struct{})}
}

// Add indexes one entry. Duplicate ids are rejected — entries are never
// overwritten, matching the append-only contract of episodic memory.
func (ix *Index) Add(id, text string, vector []float32, metadata map[string]string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrDuplicateID)
	}
	if len(vector) != ix.dims {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), ix.dims)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.ids[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	ix.ids[id] = struct{}{}
	ix.entries = append(ix.entries, indexEntry{
		id:       id,
		text:     text,
		vector:   vector,
		norm:     vectorNorm(vector),
		metadata: metadata,
	})
	return nil
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns the k nearest entries to the query vector, optionally
// filtered by metadata. Results are ranked by cosine distance with a
// deterministic id tie-break, so identical queries over an unchanged
// index return identical rankings.
func (ix *Index) Search(query []float32, k int, filter func(metadata map[string]string) bool) ([]Hit, error) {
	if len(query) != ix.dims {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), ix.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	queryNorm := vectorNorm(query)

	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.entries))
	for _, e := range ix.entries {
		if filter != nil && !filter(e.metadata) {
			continue
		}
		hits = append(hits, Hit{
			ID:       e.id,
			Text:     e.text,
			Metadata: e.metadata,
			Distance: cosineDistance(query, queryNorm, e.vector, e.norm),
		})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosineDistance is 1 − cosine similarity, in [0, 2]. Zero-norm vectors
// compare as maximally distant rather than dividing by zero.
func cosineDistance(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(normA*normB)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
