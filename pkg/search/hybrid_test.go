package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vidsem/pkg/embed"
	"github.com/orneryd/vidsem/pkg/store"
)

func TestKeywordIndexScoring(t *testing.T) {
	k := NewKeywordIndex()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	k.Index("a", "go concurrency patterns worker pools", base)
	k.Index("b", "go generics deep dive", base.AddDate(0, 1, 0))
	k.Index("c", "sourdough bread baking", base)

	hits := k.Search("go concurrency", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID) // matches both tokens
	assert.Equal(t, 2.0, hits[0].Score)
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, 1.0, hits[1].Score)
}

func TestKeywordIndexRecencyTieBreak(t *testing.T) {
	k := NewKeywordIndex()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	k.Index("older", "rust memory safety", old)
	k.Index("newer", "rust async runtimes", newer)

	hits := k.Search("rust", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "newer", hits[0].ID)
	assert.Equal(t, "older", hits[1].ID)
}

func TestKeywordIndexStopwordsAndCase(t *testing.T) {
	k := NewKeywordIndex()
	k.Index("a", "How To Make Pasta At Home", time.Now())

	// "the" and "of" are stopwords; "PASTA" matches case-insensitively.
	hits := k.Search("the PASTA of", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, 1.0, hits[0].Score)

	assert.Empty(t, k.Search("the of a", 10), "stopword-only query matches nothing")
}

func TestKeywordIndexRemove(t *testing.T) {
	k := NewKeywordIndex()
	k.Index("a", "kubernetes networking", time.Now())
	k.Remove("a")
	assert.Empty(t, k.Search("kubernetes", 10))
	assert.Zero(t, k.Size())
}

func TestFuseRRFWorkedExample(t *testing.T) {
	keyword := []Result{{ID: "A"}, {ID: "B"}}
	vector := []Result{{ID: "B"}, {ID: "C"}}

	fused := fuseRRF(60, keyword, vector)
	require.Len(t, fused, 3)

	assert.Equal(t, "B", fused[0].ID)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].Score, 1e-12)
	assert.Equal(t, "A", fused[1].ID)
	assert.InDelta(t, 1.0/61, fused[1].Score, 1e-12)
	assert.Equal(t, "C", fused[2].ID)
	assert.InDelta(t, 1.0/62, fused[2].Score, 1e-12)
}

func TestFuseRRFTiesBrokenByID(t *testing.T) {
	fused := fuseRRF(60, []Result{{ID: "z"}}, []Result{{ID: "a"}})
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
	assert.Equal(t, "z", fused[1].ID)
}

func newTestSearcher(t *testing.T, items []store.Item) (*HybridSearcher, *embed.Service) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := embed.NewService(embed.NewHashEncoder(64), 0)
	idx := NewHNSWIndex(64, DefaultHNSWConfig())
	kw := NewKeywordIndex()

	for _, it := range items {
		vec, err := svc.Embed(context.Background(), it.TextContent)
		require.NoError(t, err)
		it.Embedding = vec
		require.NoError(t, st.PutItem(it))
		require.NoError(t, idx.Insert(it.ID, vec))
		kw.Index(it.ID, it.TextContent, it.PublishedAt)
	}
	return NewHybridSearcher(st, svc, idx, kw, DefaultHybridConfig()), svc
}

func testLibrary() []store.Item {
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	return []store.Item{
		{ID: "go-1", Title: "Go Concurrency", TextContent: "go concurrency goroutines channels select", Source: "youtube", DurationSec: 600, PublishedAt: base},
		{ID: "go-2", Title: "Go Generics", TextContent: "go generics type parameters constraints", Source: "youtube", DurationSec: 900, PublishedAt: base.AddDate(0, 1, 0)},
		{ID: "cook-1", Title: "Sourdough", TextContent: "sourdough bread baking starter fermentation", Source: "vimeo", DurationSec: 1200, PublishedAt: base},
		{ID: "cook-2", Title: "Pasta", TextContent: "fresh pasta dough rolling shapes", Source: "vimeo", DurationSec: 800, PublishedAt: base},
	}
}

func TestHybridSearchEmptyQuery(t *testing.T) {
	s, _ := newTestSearcher(t, testLibrary())

	got, err := s.Search(context.Background(), "", Filters{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Search(context.Background(), "   the of a   ", Filters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHybridSearchRanksRelevantFirst(t *testing.T) {
	s, _ := newTestSearcher(t, testLibrary())

	got, err := s.Search(context.Background(), "go concurrency channels", Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "go-1", got[0].ID)
}

func TestHybridSearchPostFusionFilters(t *testing.T) {
	s, _ := newTestSearcher(t, testLibrary())

	got, err := s.Search(context.Background(), "go", Filters{MaxDurationSec: 700})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "go-1", got[0].ID)

	got, err = s.Search(context.Background(), "bread pasta", Filters{Source: "vimeo"})
	require.NoError(t, err)
	for _, it := range got {
		assert.Equal(t, "vimeo", it.Source)
	}
}

func TestHybridSearchSkipsOrphanedIndexEntries(t *testing.T) {
	items := testLibrary()
	s, _ := newTestSearcher(t, items)

	// Store loses an item the indexes still know about.
	require.NoError(t, s.store.DeleteItem("go-1"))

	got, err := s.Search(context.Background(), "go concurrency", Filters{})
	require.NoError(t, err)
	for _, it := range got {
		assert.NotEqual(t, "go-1", it.ID)
	}
}

func TestHybridSearchKeywordOnlyWhenVectorPathFails(t *testing.T) {
	items := testLibrary()
	st := store.NewMemoryStore()
	kw := NewKeywordIndex()
	for _, it := range items {
		require.NoError(t, st.PutItem(it))
		kw.Index(it.ID, it.TextContent, it.PublishedAt)
	}
	// No encoder configured: the vector path degrades to empty.
	s := NewHybridSearcher(st, embed.NewService(nil, 0), NewHNSWIndex(64, DefaultHNSWConfig()), kw, DefaultHybridConfig())

	got, err := s.Search(context.Background(), "sourdough", Filters{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cook-1", got[0].ID)
}
