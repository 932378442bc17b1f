package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/incidentkit/incidentkit/pkg/embedding"
	"github.com/incidentkit/incidentkit/pkg/models"
)

// EpisodeStore is the durable backing for episodic memory. The memory
// path only appends; retention pruning goes through the cleanup
// service, and the pruned rows drop out of the index on the next
// rehydration.
type EpisodeStore interface {
	AppendEpisode(ctx context.Context, episode models.MemoryEpisode) error
	ListEpisodes(ctx context.Context) ([]models.MemoryEpisode, error)
}

// RecalledEpisode is a past incident with its search distance.
type RecalledEpisode struct {
	Episode  models.MemoryEpisode
	Distance float64
}

// MemoryStore is the episodic incident memory: an in-memory search
// index write-through backed by a durable EpisodeStore.
type MemoryStore struct {
	store    EpisodeStore
	index    *Index
	embedder embedding.Embedder
}

// NewMemoryStore builds the memory and rehydrates the index from the
// durable store so recall covers incidents from previous process
// lifetimes.
func NewMemoryStore(ctx context.Context, store EpisodeStore, embedder embedding.Embedder) (*MemoryStore, error) {
	m := &MemoryStore{
		store:    store,
		index:    NewIndex(embedder.Dimensions()),
		embedder: embedder,
	}

	episodes, err := store.ListEpisodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("rehydrate episodic memory: %w", err)
	}
	for _, ep := range episodes {
		if err := m.indexEpisode(ep); err != nil {
			// A single bad historical row (wrong dimensionality after a
			// model change) should not block startup.
			slog.Warn("Skipping unindexable episode", "episode_id", ep.ID, "error", err)
		}
	}
	slog.Info("Episodic memory rehydrated", "episodes", m.index.Len())
	return m, nil
}

// Append persists a new episode and indexes it. The durable write goes
// first — an episode that is searchable but not persisted would vanish
// on restart.
func (m *MemoryStore) Append(ctx context.Context, episode models.MemoryEpisode) error {
	if episode.ID == "" {
		return fmt.Errorf("append episode: empty id")
	}
	if len(episode.Embedding) == 0 {
		vec, err := m.embedder.Embed(ctx, episode.Summary)
		if err != nil {
			return fmt.Errorf("embed episode %s: %w", episode.ID, err)
		}
		episode.Embedding = vec
	}
	if len(episode.Embedding) != m.embedder.Dimensions() {
		return fmt.Errorf("append episode %s: %w", episode.ID, ErrDimensionMismatch)
	}

	if err := m.store.AppendEpisode(ctx, episode); err != nil {
		return fmt.Errorf("persist episode %s: %w", episode.ID, err)
	}
	return m.indexEpisode(episode)
}

func (m *MemoryStore) indexEpisode(ep models.MemoryEpisode) error {
	return m.index.Add(ep.ID, ep.Summary, ep.Embedding, map[string]string{
		"service":  ep.Service,
		"severity": string(ep.Severity),
	})
}

// Recall returns the k most similar past episodes for a query text.
// An empty result is a normal outcome, not an error.
func (m *MemoryStore) Recall(ctx context.Context, query string, k int) ([]RecalledEpisode, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	return m.recallByVector(ctx, vec, k, nil)
}

// RecallForService is Recall restricted to one service's history.
func (m *MemoryStore) RecallForService(ctx context.Context, query, service string, k int) ([]RecalledEpisode, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	return m.recallByVector(ctx, vec, k, func(meta map[string]string) bool {
		return meta["service"] == service
	})
}

func (m *MemoryStore) recallByVector(ctx context.Context, vec []float32, k int, filter func(map[string]string) bool) ([]RecalledEpisode, error) {
	hits, err := m.index.Search(vec, k, filter)
	if err != nil {
		return nil, err
	}

	// Resolve full episodes from the durable store's view held in the
	// index text/metadata. Summaries live in the index; the remaining
	// fields are reloaded lazily only when a caller needs them all.
	out := make([]RecalledEpisode, 0, len(hits))
	for _, h := range hits {
		out = append(out, RecalledEpisode{
			Episode: models.MemoryEpisode{
				ID:       h.ID,
				Service:  h.Metadata["service"],
				Summary:  h.Text,
				Severity: models.Severity(h.Metadata["severity"]),
			},
			Distance: h.Distance,
		})
	}
	return out, nil
}

// Len returns the number of remembered episodes.
func (m *MemoryStore) Len() int { return m.index.Len() }

// InMemoryEpisodeStore is a non-durable EpisodeStore for tests and
// database-less development runs.
type InMemoryEpisodeStore struct {
	mu       sync.Mutex
	episodes []models.MemoryEpisode
	ids      map[string]struct{}
}

// NewInMemoryEpisodeStore creates an empty store.
func NewInMemoryEpisodeStore() *InMemoryEpisodeStore {
	return &InMemoryEpisodeStore{ids: make(map[string]struct{})}
}

func (s *InMemoryEpisodeStore) AppendEpisode(_ context.Context, episode models.MemoryEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[episode.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, episode.ID)
	}
	s.ids[episode.ID] = struct{}{}
	s.episodes = append(s.episodes, episode)
	return nil
}

// DeleteEpisodesBefore removes episodes created before cutoff and
// returns how many were deleted.
func (s *InMemoryEpisodeStore) DeleteEpisodesBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.episodes[:0]
	deleted := 0
	for _, ep := range s.episodes {
		if ep.CreatedAt.Before(cutoff) {
			delete(s.ids, ep.ID)
			deleted++
			continue
		}
		kept = append(kept, ep)
	}
	s.episodes = kept
	return deleted, nil
}

func (s *InMemoryEpisodeStore) ListEpisodes(_ context.Context) ([]models.MemoryEpisode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MemoryEpisode, len(s.episodes))
	copy(out, s.episodes)
	return out, nil
}
