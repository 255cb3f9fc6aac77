package vidsem

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vidsem/pkg/embed"
	"github.com/orneryd/vidsem/pkg/search"
	"github.com/orneryd/vidsem/pkg/store"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	// Full graph keeps community structure a pure function of similarity.
	cfg.GraphK = 100
	// Keep the background auto re-cluster out of the way; tests drive the
	// pipeline synchronously.
	cfg.ReclusterDebounce = time.Hour
	return cfg
}

func seedLibrary(t *testing.T, st store.Store) {
	t.Helper()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	texts := map[string]string{
		"go": "go concurrency goroutines channels scheduler runtime",
		"ck": "sourdough bread baking starter crumb fermentation",
	}
	for prefix, text := range texts {
		for i := 0; i < 12; i++ {
			require.NoError(t, st.PutItem(store.Item{
				ID:          fmt.Sprintf("%s-%02d", prefix, i),
				Title:       strings.ToUpper(prefix),
				TextContent: fmt.Sprintf("%s episode %d", text, i),
				Source:      "youtube",
				DurationSec: 300 + i,
				PublishedAt: base.AddDate(0, 0, i),
			}))
		}
	}
}

func newTestEngine(t *testing.T, st store.Store, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, st, embed.NewHashEncoder(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// waitEmbedded blocks until the background worker has embedded n items.
func waitEmbedded(t *testing.T, st store.Store, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		items, err := st.AllItemsWithEmbeddings()
		return err == nil && len(items) == n
	}, 10*time.Second, 10*time.Millisecond)
}

func TestEngineRequiresEncoder(t *testing.T) {
	_, err := NewEngine(testConfig(t), store.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, ErrNoEncoder)
}

func TestEngineEmbedsAndSearches(t *testing.T) {
	st := store.NewMemoryStore()
	seedLibrary(t, st)
	e := newTestEngine(t, st, testConfig(t))

	waitEmbedded(t, st, 24)

	got, err := e.Search(context.Background(), "sourdough starter", search.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got[0].ID, "ck-"))

	got, err = e.Search(context.Background(), "", search.Filters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngineReclusterAssignsItems(t *testing.T) {
	st := store.NewMemoryStore()
	seedLibrary(t, st)
	e := newTestEngine(t, st, testConfig(t))
	waitEmbedded(t, st, 24)

	require.NoError(t, e.Recluster(context.Background()))

	clusters, err := e.ListClusters()
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	items, err := st.AllItems()
	require.NoError(t, err)
	byCluster := make(map[string][]string)
	for _, it := range items {
		require.NotEmpty(t, it.ClusterID, "every embedded item gets a cluster")
		byCluster[it.ClusterID] = append(byCluster[it.ClusterID], it.ID)
	}
	for _, members := range byCluster {
		prefix := members[0][:2]
		for _, id := range members {
			assert.Equal(t, prefix, id[:2])
		}
	}

	// Item counts persisted on the records match actual assignments.
	for _, rec := range clusters {
		assert.Equal(t, len(byCluster[rec.ID]), rec.ItemCount)
		assert.NotEmpty(t, rec.Label)
	}
}

func TestEngineReclusterKeepsStableIDs(t *testing.T) {
	st := store.NewMemoryStore()
	seedLibrary(t, st)
	e := newTestEngine(t, st, testConfig(t))
	waitEmbedded(t, st, 24)
	require.NoError(t, e.Recluster(context.Background()))

	first, err := e.ListClusters()
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NoError(t, e.SetClusterLabel(first[0].ID, "Keep Me"))

	require.NoError(t, e.Recluster(context.Background()))
	second, err := e.ListClusters()
	require.NoError(t, err)
	require.Len(t, second, 2)

	ids := map[string]store.ClusterRecord{}
	for _, rec := range second {
		ids[rec.ID] = rec
	}
	rec, ok := ids[first[0].ID]
	require.True(t, ok, "unchanged community keeps its cluster id")
	assert.Equal(t, "Keep Me", rec.CustomLabel)
}

func TestEngineSnapshotRecovery(t *testing.T) {
	st := store.NewMemoryStore()
	seedLibrary(t, st)
	cfg := testConfig(t)
	cfg.SnapshotPath = filepath.Join(cfg.DataDir, "index.snapshot")

	e := newTestEngine(t, st, cfg)
	waitEmbedded(t, st, 24)
	require.NoError(t, e.Close())

	// Reopened engine serves vector search from the snapshot.
	e2 := newTestEngine(t, st, cfg)
	assert.Equal(t, 24, e2.index.Size())

	got, err := e2.Search(context.Background(), "goroutines scheduler", search.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got[0].ID, "go-"))
}

func TestEngineRebuildIndexRecovery(t *testing.T) {
	st := store.NewMemoryStore()
	seedLibrary(t, st)
	e := newTestEngine(t, st, testConfig(t))
	waitEmbedded(t, st, 24)

	// Simulate drift: the index loses an item the store still has.
	e.index.Remove("go-03")
	require.NoError(t, e.RebuildIndex(context.Background()))
	assert.True(t, e.index.Contains("go-03"))
	assert.Equal(t, 24, e.index.Size())
}

func TestEngineNotifications(t *testing.T) {
	st := store.NewMemoryStore()
	e := newTestEngine(t, st, testConfig(t))

	require.NoError(t, st.PutItem(store.Item{
		ID:          "late-1",
		TextContent: "kubernetes operators controllers reconcile",
		PublishedAt: time.Now(),
	}))
	e.NotifyItemUpserted("late-1")

	// Keyword-searchable immediately, whether or not the embedding landed.
	got, err := e.Search(context.Background(), "kubernetes", search.Filters{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "late-1", got[0].ID)

	waitEmbedded(t, st, 1)
	require.Eventually(t, func() bool { return e.index.Contains("late-1") },
		10*time.Second, 10*time.Millisecond)

	require.NoError(t, st.DeleteItem("late-1"))
	e.NotifyItemRemoved("late-1")
	assert.False(t, e.index.Contains("late-1"))
	got, err = e.Search(context.Background(), "kubernetes", search.Filters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngineManualClusterOps(t *testing.T) {
	st := store.NewMemoryStore()
	seedLibrary(t, st)
	e := newTestEngine(t, st, testConfig(t))
	waitEmbedded(t, st, 24)
	require.NoError(t, e.Recluster(context.Background()))

	clusters, err := e.ListClusters()
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	a, b := clusters[0], clusters[1]

	require.NoError(t, e.MergeClusters(a.ID, b.ID))
	merged, err := e.GetCluster(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 24, merged.ItemCount)
	_, err = e.GetCluster(b.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	splitID, err := e.SplitCluster(a.ID, []string{"ck-00", "ck-01"})
	require.NoError(t, err)
	split, err := e.GetCluster(splitID)
	require.NoError(t, err)
	assert.Equal(t, 2, split.ItemCount)
	it, err := st.GetItem("ck-00")
	require.NoError(t, err)
	assert.Equal(t, splitID, it.ClusterID)

	require.NoError(t, e.EvictFromCluster(splitID, "ck-01"))
	it, err = st.GetItem("ck-01")
	require.NoError(t, err)
	assert.Empty(t, it.ClusterID)
	split, err = e.GetCluster(splitID)
	require.NoError(t, err)
	assert.Equal(t, 1, split.ItemCount)
}
