package retrieval

import (
	"context"
	"hash/fnv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentkit/incidentkit/pkg/models"
)

// hashEmbedder is a deterministic fake: same text, same vector.
type hashEmbedder struct{ dims int }

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for i := range vec {
		f := fnv.New32a()
		_, _ = f.Write([]byte(text))
		_, _ = f.Write([]byte{byte(i)})
		vec[i] = float32(f.Sum32()%1000) / 1000
	}
	return vec, nil
}

func (h hashEmbedder) Dimensions() int { return h.dims }

func newTestMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m, err := NewMemoryStore(context.Background(), NewInMemoryEpisodeStore(), hashEmbedder{dims: 8})
	require.NoError(t, err)
	return m
}

func episode(id, service, summary string) models.MemoryEpisode {
	return models.MemoryEpisode{
		ID:        id,
		Service:   service,
		Summary:   summary,
		Severity:  models.SeverityHigh,
		RootCause: "connection pool exhaustion",
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemory_AppendAndRecall(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, episode("ep-1", "payment-gateway", "payment gateway pods crashlooping after deploy")))
	require.NoError(t, m.Append(ctx, episode("ep-2", "search", "search latency spike from cold cache")))

	recalled, err := m.Recall(ctx, "payment gateway pods crashlooping after deploy", 1)
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, "ep-1", recalled[0].Episode.ID)
	assert.InDelta(t, 0, recalled[0].Distance, 1e-6, "identical text embeds to distance zero")
}

func TestMemory_AppendRejectsDuplicateID(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, episode("ep-1", "a", "first")))
	err := m.Append(ctx, episode("ep-1", "a", "second"))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_RecallOnlyReturnsAppended(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, episode("ep-1", "a", "the only episode")))

	recalled, err := m.Recall(ctx, "anything at all", 10)
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, "ep-1", recalled[0].Episode.ID)
}

func TestMemory_EmptyRecallIsNotAnError(t *testing.T) {
	m := newTestMemory(t)

	recalled, err := m.Recall(context.Background(), "nothing remembered yet", 5)
	require.NoError(t, err)
	assert.Empty(t, recalled)
}

func TestMemory_RecallForService(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, episode("ep-1", "payment-gateway", "oom kills in payments")))
	require.NoError(t, m.Append(ctx, episode("ep-2", "search", "oom kills in search")))

	recalled, err := m.RecallForService(ctx, "oom kills", "search", 10)
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, "ep-2", recalled[0].Episode.ID)
}

func TestMemory_RehydratesFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEpisodeStore()
	emb := hashEmbedder{dims: 8}

	first, err := NewMemoryStore(ctx, store, emb)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, episode("ep-1", "api", "request timeouts from db failover")))

	// A fresh memory over the same store sees the prior episode.
	second, err := NewMemoryStore(ctx, store, emb)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Len())

	recalled, err := second.Recall(ctx, "request timeouts from db failover", 1)
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, "ep-1", recalled[0].Episode.ID)
}

func TestMemory_SkipsBadDimensionOnRehydrate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEpisodeStore()

	bad := episode("ep-bad", "api", "episode from an old embedding model")
	bad.Embedding = []float32{1, 2, 3} // wrong dimensionality
	require.NoError(t, store.AppendEpisode(ctx, bad))

	m, err := NewMemoryStore(ctx, store, hashEmbedder{dims: 8})
	require.NoError(t, err, "one bad row must not block startup")
	assert.Equal(t, 0, m.Len())
}
