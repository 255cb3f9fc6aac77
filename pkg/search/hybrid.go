package search

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/vidsem/pkg/embed"
	"github.com/orneryd/vidsem/pkg/store"
)

// DefaultRRFK is the reciprocal-rank-fusion constant. 60 is the standard
// value from the RRF literature; raising it flattens the rank bonus.
const DefaultRRFK = 60

// DefaultVectorTopK is how many neighbors the vector path retrieves before
// fusion.
const DefaultVectorTopK = 20

// DefaultResultCap bounds the fused result list so caller rendering cost
// stays constant regardless of library size.
const DefaultResultCap = 100

// Filters narrow fused results. Zero values mean "no constraint". Filters
// run after fusion, never before: pre-filtering would bias the RRF constant
// inconsistently between the two retrieval paths.
type Filters struct {
	MinDurationSec  int
	MaxDurationSec  int
	PublishedAfter  time.Time
	PublishedBefore time.Time
	Source          string
	ClusterID       string
}

func (f Filters) matches(it store.Item) bool {
	if f.MinDurationSec > 0 && it.DurationSec < f.MinDurationSec {
		return false
	}
	if f.MaxDurationSec > 0 && it.DurationSec > f.MaxDurationSec {
		return false
	}
	if !f.PublishedAfter.IsZero() && it.PublishedAt.Before(f.PublishedAfter) {
		return false
	}
	if !f.PublishedBefore.IsZero() && it.PublishedAt.After(f.PublishedBefore) {
		return false
	}
	if f.Source != "" && it.Source != f.Source {
		return false
	}
	if f.ClusterID != "" && it.ClusterID != f.ClusterID {
		return false
	}
	return true
}

// HybridConfig tunes the fusion stage.
type HybridConfig struct {
	RRFK       int // fusion constant, default 60
	VectorTopK int // neighbors fetched by the vector path, default 20
	ResultCap  int // max fused results returned, default 100
}

// DefaultHybridConfig returns the standard fusion parameters.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{RRFK: DefaultRRFK, VectorTopK: DefaultVectorTopK, ResultCap: DefaultResultCap}
}

func (c HybridConfig) withDefaults() HybridConfig {
	d := DefaultHybridConfig()
	if c.RRFK <= 0 {
		c.RRFK = d.RRFK
	}
	if c.VectorTopK <= 0 {
		c.VectorTopK = d.VectorTopK
	}
	if c.ResultCap <= 0 {
		c.ResultCap = d.ResultCap
	}
	return c
}

// HybridSearcher runs the keyword and vector paths concurrently and fuses
// them with reciprocal rank fusion.
type HybridSearcher struct {
	store    store.Store
	embedder *embed.Service
	vectors  *HNSWIndex
	keywords *KeywordIndex
	config   HybridConfig
}

// NewHybridSearcher wires the two retrieval paths together.
func NewHybridSearcher(st store.Store, embedder *embed.Service, vectors *HNSWIndex, keywords *KeywordIndex, config HybridConfig) *HybridSearcher {
	return &HybridSearcher{
		store:    st,
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		config:   config.withDefaults(),
	}
}

// Search returns ranked items for query. An empty query returns an empty
// list, not the whole library. Vector-path failures degrade to keyword-only
// results; they never fail the search.
func (h *HybridSearcher) Search(ctx context.Context, query string, filters Filters) ([]store.Item, error) {
	if len(TokenizeQuery(query)) == 0 {
		return []store.Item{}, nil
	}

	var (
		wg          sync.WaitGroup
		keywordHits []Result
		vectorHits  []Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		keywordHits = h.keywords.Search(query, h.config.ResultCap)
	}()
	go func() {
		defer wg.Done()
		vectorHits = h.vectorPath(ctx, query)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fused := fuseRRF(h.config.RRFK, keywordHits, vectorHits)

	out := make([]store.Item, 0, minInt(len(fused), h.config.ResultCap))
	for _, f := range fused {
		item, err := h.store.GetItem(f.ID)
		if err != nil {
			// Index ahead of the store; skipped here, healed on next rebuild.
			log.Printf("[SEARCH] Result %s missing from store, skipping: %v", f.ID, err)
			continue
		}
		if !filters.matches(item) {
			continue
		}
		out = append(out, item)
		if len(out) >= h.config.ResultCap {
			break
		}
	}
	return out, nil
}

// vectorPath embeds the query and asks the index for the nearest neighbors.
// Any failure yields an empty list so the keyword path still serves.
func (h *HybridSearcher) vectorPath(ctx context.Context, query string) []Result {
	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[SEARCH] Vector path disabled for this query: %v", err)
		return nil
	}
	hits, err := h.vectors.Query(ctx, vec, h.config.VectorTopK)
	if err != nil {
		log.Printf("[SEARCH] Vector query failed: %v", err)
		return nil
	}
	return hits
}

// fuseRRF merges ranked lists by reciprocal rank fusion: each occurrence of
// an id at 1-based rank r contributes 1/(k+r). Output is sorted by fused
// score descending, ties broken by ascending id.
func fuseRRF(k int, lists ...[]Result) []Result {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, r := range list {
			scores[r.ID] += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]Result, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Result{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}
