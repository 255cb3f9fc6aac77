package graph

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vidsem/pkg/search"
	"github.com/orneryd/vidsem/pkg/store"
)

func seededItems(t *testing.T, idx *search.HNSWIndex, n, dims int) []store.Item {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	items := make([]store.Item, n)
	for i := range items {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		id := fmt.Sprintf("item-%02d", i)
		items[i] = store.Item{ID: id, TextContent: id, Embedding: vec}
		require.NoError(t, idx.Insert(id, vec))
	}
	return items
}

func TestBuildExcludesSelfAndMergesEdges(t *testing.T) {
	idx := search.NewHNSWIndex(8, search.DefaultHNSWConfig())
	items := seededItems(t, idx, 30, 8)

	g, err := NewBuilder(idx, 5).Build(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 30, g.NodeCount())
	for _, e := range g.Edges() {
		assert.NotEqual(t, e.Source, e.Target, "no self loops")
		assert.Less(t, e.Source, e.Target, "edges normalized to one direction")
		assert.Greater(t, e.Weight, -1.01)
	}
	// Undirected: weight readable from either side.
	e := g.Edges()[0]
	assert.Equal(t, g.Weight(e.Source, e.Target), g.Weight(e.Target, e.Source))
}

func TestBuildExcludesItemsWithoutEmbeddings(t *testing.T) {
	idx := search.NewHNSWIndex(8, search.DefaultHNSWConfig())
	items := seededItems(t, idx, 10, 8)
	items = append(items, store.Item{ID: "no-embedding", TextContent: "pending"})

	g, err := NewBuilder(idx, 3).Build(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 10, g.NodeCount())
	assert.False(t, g.HasNode("no-embedding"))
}

func TestBuildSkipsStaleIndexEntries(t *testing.T) {
	idx := search.NewHNSWIndex(8, search.DefaultHNSWConfig())
	items := seededItems(t, idx, 12, 8)

	// The index still knows item-00 but the item set no longer includes it.
	stale := items[0]
	items = items[1:]

	g, err := NewBuilder(idx, 4).Build(context.Background(), items)
	require.NoError(t, err)

	assert.False(t, g.HasNode(stale.ID))
	for _, e := range g.Edges() {
		assert.NotEqual(t, stale.ID, e.Source)
		assert.NotEqual(t, stale.ID, e.Target)
	}
}

func TestAddNodeIncremental(t *testing.T) {
	idx := search.NewHNSWIndex(8, search.DefaultHNSWConfig())
	items := seededItems(t, idx, 20, 8)

	b := NewBuilder(idx, 4)
	g, err := b.Build(context.Background(), items)
	require.NoError(t, err)
	before := g.EdgeCount()

	vec := make([]float32, 8)
	copy(vec, items[3].Embedding)
	vec[0] += 0.01
	late := store.Item{ID: "item-99", TextContent: "late arrival", Embedding: vec}
	require.NoError(t, idx.Insert(late.ID, vec))
	require.NoError(t, b.AddNode(context.Background(), g, late))

	assert.True(t, g.HasNode("item-99"))
	assert.Greater(t, g.EdgeCount(), before)
	assert.Greater(t, g.Weight("item-99", items[3].ID), 0.9)
}

func TestBuildHonorsCancellation(t *testing.T) {
	idx := search.NewHNSWIndex(8, search.DefaultHNSWConfig())
	items := seededItems(t, idx, 10, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(idx, 3).Build(ctx, items)
	assert.ErrorIs(t, err, context.Canceled)
}
