package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vidsem/pkg/graph"
	"github.com/orneryd/vidsem/pkg/math/vector"
	"github.com/orneryd/vidsem/pkg/search"
	"github.com/orneryd/vidsem/pkg/store"
)

// twoTopicLibrary builds items around two well-separated anchors so
// community structure is unambiguous.
func twoTopicLibrary(t *testing.T, perTopic int) ([]store.Item, *search.HNSWIndex) {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	idx := search.NewHNSWIndex(16, search.DefaultHNSWConfig())

	anchorA := make([]float32, 16)
	anchorB := make([]float32, 16)
	anchorA[0] = 1
	anchorB[8] = 1

	items := make([]store.Item, 0, perTopic*2)
	add := func(prefix, text string, anchor []float32, i int) {
		vec := make([]float32, 16)
		copy(vec, anchor)
		for j := range vec {
			vec[j] += float32(rng.NormFloat64()) * 0.05
		}
		id := fmt.Sprintf("%s-%02d", prefix, i)
		it := store.Item{ID: id, TextContent: text, Embedding: vec}
		items = append(items, it)
		require.NoError(t, idx.Insert(id, vec))
	}
	for i := 0; i < perTopic; i++ {
		add("go", "go concurrency goroutines channels", anchorA, i)
		add("cook", "sourdough bread baking fermentation", anchorB, i)
	}
	return items, idx
}

func buildGraph(t *testing.T, items []store.Item, idx *search.HNSWIndex) *graph.Graph {
	t.Helper()
	// Link every item to every other so the community structure depends on
	// similarity weights alone, not on kNN truncation.
	g, err := graph.NewBuilder(idx, len(items)).Build(context.Background(), items)
	require.NoError(t, err)
	return g
}

func itemMap(items []store.Item) map[string]store.Item {
	m := make(map[string]store.Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}

func TestRunSeparatesTopics(t *testing.T) {
	items, idx := twoTopicLibrary(t, 15)
	g := buildGraph(t, items, idx)

	res, err := NewEngine(DefaultEngineConfig()).Run(context.Background(), g, items, nil)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 2)

	for _, c := range res.Clusters {
		require.NotEmpty(t, c.MemberIDs)
		prefix := c.MemberIDs[0][:2]
		for _, id := range c.MemberIDs {
			assert.Equal(t, prefix, id[:2], "topics must not mix within a cluster")
		}
		assert.NotEmpty(t, c.ID)
		assert.NotEmpty(t, c.Label)
		assert.Greater(t, c.Confidence, 0.9, "tight synthetic clusters score high confidence")
	}
}

func TestRunMembershipConservation(t *testing.T) {
	items, idx := twoTopicLibrary(t, 10)
	g := buildGraph(t, items, idx)

	res, err := NewEngine(DefaultEngineConfig()).Run(context.Background(), g, items, nil)
	require.NoError(t, err)

	seen := make(map[string]int)
	total := 0
	for _, c := range res.Clusters {
		total += len(c.MemberIDs)
		for _, id := range c.MemberIDs {
			seen[id]++
		}
	}
	assert.Equal(t, len(items), total)
	for _, it := range items {
		assert.Equal(t, 1, seen[it.ID], "every embedded item belongs to exactly one cluster")
	}
}

func TestCentroidCorrectness(t *testing.T) {
	items, idx := twoTopicLibrary(t, 8)
	g := buildGraph(t, items, idx)

	res, err := NewEngine(DefaultEngineConfig()).Run(context.Background(), g, items, nil)
	require.NoError(t, err)
	byID := itemMap(items)

	for _, c := range res.Clusters {
		embs := make([][]float32, 0, len(c.MemberIDs))
		for _, id := range c.MemberIDs {
			embs = append(embs, byID[id].Embedding)
		}
		want := vector.Mean(embs)
		require.Len(t, c.Centroid, len(want))
		for i := range want {
			assert.InDelta(t, want[i], c.Centroid[i], 1e-5)
		}
	}
}

func TestStabilityAcrossRecluster(t *testing.T) {
	items, idx := twoTopicLibrary(t, 50)
	g := buildGraph(t, items, idx)
	engine := NewEngine(DefaultEngineConfig())

	first, err := engine.Run(context.Background(), g, items, nil)
	require.NoError(t, err)
	require.Len(t, first.Clusters, 2)

	firstAssignment := make(map[string]string)
	for i := range first.Clusters {
		c := &first.Clusters[i]
		if c.MemberIDs[0][:2] == "go" {
			c.CustomLabel = "My Go Stuff"
		}
		for _, id := range c.MemberIDs {
			firstAssignment[id] = c.ID
		}
	}

	// Five new items near the "go" anchor, then re-cluster.
	rng := rand.New(rand.NewSource(99))
	extra := make([]store.Item, 0, 5)
	for i := 0; i < 5; i++ {
		vec := make([]float32, 16)
		vec[0] = 1
		for j := range vec {
			vec[j] += float32(rng.NormFloat64()) * 0.05
		}
		id := fmt.Sprintf("go-new-%d", i)
		it := store.Item{ID: id, TextContent: "go modules tooling", Embedding: vec}
		extra = append(extra, it)
		require.NoError(t, idx.Insert(id, vec))
	}
	all := append(append([]store.Item{}, items...), extra...)
	g2 := buildGraph(t, all, idx)

	second, err := engine.Run(context.Background(), g2, all, first.Clusters)
	require.NoError(t, err)
	require.Len(t, second.Clusters, 2)
	assert.Empty(t, second.DeletedClusterIDs)

	unchanged := 0
	for _, c := range second.Clusters {
		for _, id := range c.MemberIDs {
			if prev, ok := firstAssignment[id]; ok && prev == c.ID {
				unchanged++
			}
		}
		if c.MemberIDs[0][:2] == "go" {
			assert.Equal(t, "My Go Stuff", c.CustomLabel, "user labels survive re-clustering")
		}
	}
	assert.GreaterOrEqual(t, unchanged, len(items)*9/10)
}

func TestUnmatchedPriorClustersAreDeleted(t *testing.T) {
	items, idx := twoTopicLibrary(t, 10)
	g := buildGraph(t, items, idx)

	stale := Cluster{ID: "stale-cluster", Centroid: func() []float32 {
		v := make([]float32, 16)
		v[15] = -1 // nowhere near either topic anchor
		return v
	}()}

	res, err := NewEngine(DefaultEngineConfig()).Run(context.Background(), g, items, []Cluster{stale})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-cluster"}, res.DeletedClusterIDs)
	for _, c := range res.Clusters {
		assert.NotEqual(t, "stale-cluster", c.ID)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	items, idx := twoTopicLibrary(t, 10)
	g := buildGraph(t, items, idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(DefaultEngineConfig()).Run(ctx, g, items, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectSingletonsRetained(t *testing.T) {
	idx := search.NewHNSWIndex(4, search.DefaultHNSWConfig())
	items := []store.Item{
		{ID: "lonely", TextContent: "outlier", Embedding: []float32{0, 0, 0, 1}},
	}
	require.NoError(t, idx.Insert("lonely", items[0].Embedding))
	g := buildGraph(t, items, idx)

	groups, err := NewLeidenDetector(DefaultLeidenConfig()).Detect(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"lonely"}, groups[0])
}

func TestMergeSplitEvict(t *testing.T) {
	items, idx := twoTopicLibrary(t, 6)
	g := buildGraph(t, items, idx)
	engine := NewEngine(DefaultEngineConfig())
	byID := itemMap(items)

	res, err := engine.Run(context.Background(), g, items, nil)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 2)
	a, b := res.Clusters[0], res.Clusters[1]

	merged := engine.Merge(&a, &b, byID)
	assert.Equal(t, a.ID, merged.ID)
	assert.Len(t, merged.MemberIDs, len(a.MemberIDs)+len(b.MemberIDs))
	embs := make([][]float32, 0, len(merged.MemberIDs))
	for _, id := range merged.MemberIDs {
		embs = append(embs, byID[id].Embedding)
	}
	want := vector.Mean(embs)
	for i := range want {
		assert.InDelta(t, want[i], merged.Centroid[i], 1e-5)
	}

	split, err := engine.Split(merged, b.MemberIDs, byID)
	require.NoError(t, err)
	assert.NotEqual(t, merged.ID, split.ID)
	assert.Len(t, merged.MemberIDs, len(a.MemberIDs))
	assert.ElementsMatch(t, b.MemberIDs, split.MemberIDs)

	_, err = engine.Split(merged, []string{"not-there"}, byID)
	assert.ErrorIs(t, err, ErrNotAMember)

	victim := merged.MemberIDs[0]
	require.NoError(t, engine.Evict(merged, victim, byID))
	assert.NotContains(t, merged.MemberIDs, victim)
	assert.ErrorIs(t, engine.Evict(merged, victim, byID), ErrNotAMember)
}

func TestLabelerDisambiguatesCollisions(t *testing.T) {
	l := NewLabeler()
	texts := [][]string{
		{"jazz piano", "jazz piano"},
		{"piano jazz", "jazz piano"},
	}
	centroids := [][]float32{{1, 0}, {0, 1}}

	labels := l.LabelAll(texts, centroids)
	require.Len(t, labels, 2)
	assert.NotEqual(t, labels[0], labels[1])
	assert.Contains(t, labels[0], "Jazz Piano")
	assert.Contains(t, labels[1], "Jazz Piano")
	assert.Contains(t, labels[0], "(")
}

func TestLabelerTopTerms(t *testing.T) {
	l := NewLabeler()
	label := l.Label([]string{
		"the go programming language",
		"go programming tutorial",
		"advanced go programming",
	})
	assert.Contains(t, label, "Go")
	assert.Contains(t, label, "Programming")
	assert.NotContains(t, label, "The", "stopwords never appear in labels")
}
