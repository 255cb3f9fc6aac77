// Package search provides the vector index, the keyword index and the
// hybrid searcher that fuses them.
//
// HNSW delete/update policy:
//
// Delete:
//   - Remove() tombstones the node and repairs adjacency: live neighbors of
//     the removed node are reconnected to the next-nearest live candidates
//     so the graph does not fragment around tombstones.
//   - Tombstoned nodes never appear in query results; Compact() drops them
//     physically to bound memory growth.
//
// Update:
//   - Insert() of an existing id is remove-then-insert. In-place vector
//     mutation is not supported: neighbor links were chosen for the old
//     vector and silently keeping them degrades recall.
//
// Determinism:
//   - Level assignment uses an index-owned seeded rng. For a fixed index
//     state and seed, repeated queries return identical ordered results;
//     ties are broken by ascending id.
package search

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/orneryd/vidsem/pkg/math/vector"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the index dimensionality.
var ErrDimensionMismatch = errors.New("search: vector dimension mismatch")

// HNSWConfig holds the tunables of the proximity graph.
type HNSWConfig struct {
	M              int   // max connections per node per layer
	EfConstruction int   // candidate list size during insertion
	EfSearch       int   // candidate list size during query (raised to k when smaller)
	Seed           int64 // level-assignment rng seed
}

// DefaultHNSWConfig returns the standard parameters (M=16, efConstruction=200,
// efSearch=100).
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruction: 200, EfSearch: 100, Seed: 1}
}

func (c HNSWConfig) levelMultiplier() float64 {
	m := c.M
	if m < 2 {
		m = 2
	}
	return 1.0 / math.Log(float64(m))
}

// Result is one vector-search hit: item id plus cosine similarity.
type Result struct {
	ID    string
	Score float64
}

// HNSWIndex is a hierarchical navigable small world graph over item
// embeddings. Vectors are normalized at insert so cosine similarity is a
// dot product at query time.
//
// Concurrency: one RWMutex guards all state. Queries take the read lock, so
// a query in flight observes a consistent graph and never a half-inserted
// node; writers serialize against each other and against readers.
type HNSWIndex struct {
	mu     sync.RWMutex
	config HNSWConfig
	dims   int
	rng    *rand.Rand

	// Per-node state, indexed by internal id.
	vectors   [][]float32 // normalized
	levels    []int
	neighbors [][][]uint32 // node -> level -> neighbor internal ids
	deleted   []bool

	idToInternal map[string]uint32
	internalToID []string
	liveCount    int

	entryPoint    uint32
	hasEntryPoint bool
	maxLevel      int
}

// NewHNSWIndex creates an empty index for dims-wide vectors.
func NewHNSWIndex(dims int, config HNSWConfig) *HNSWIndex {
	if config.M <= 0 {
		config = DefaultHNSWConfig()
	}
	if config.EfSearch <= 0 {
		config.EfSearch = DefaultHNSWConfig().EfSearch
	}
	return &HNSWIndex{
		config:       config,
		dims:         dims,
		rng:          rand.New(rand.NewSource(config.Seed)),
		idToInternal: make(map[string]uint32),
	}
}

// Dimensions returns the vector width the index was created with.
func (h *HNSWIndex) Dimensions() int { return h.dims }

// Size returns the number of live (non-tombstoned) vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveCount
}

// Contains reports whether id is live in the index.
func (h *HNSWIndex) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	internal, ok := h.idToInternal[id]
	return ok && !h.deleted[internal]
}

// TombstoneRatio returns deleted/total; above ~0.5 a Compact() is worthwhile.
func (h *HNSWIndex) TombstoneRatio() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := len(h.levels)
	if total == 0 {
		return 0
	}
	return float64(total-h.liveCount) / float64(total)
}

// Insert adds a vector under id. Inserting an existing id is equivalent to
// Remove followed by Insert, never a duplicate node.
func (h *HNSWIndex) Insert(id string, vec []float32) error {
	if len(vec) != h.dims {
		return ErrDimensionMismatch
	}
	if id == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if internal, ok := h.idToInternal[id]; ok && !h.deleted[internal] {
		h.removeLocked(internal)
	}

	normalized := vector.Normalize(vec)
	level := h.randomLevelLocked()

	internal := uint32(len(h.levels))
	h.vectors = append(h.vectors, normalized)
	h.levels = append(h.levels, level)
	h.neighbors = append(h.neighbors, make([][]uint32, level+1))
	h.deleted = append(h.deleted, false)
	h.internalToID = append(h.internalToID, id)
	h.idToInternal[id] = internal
	h.liveCount++

	if !h.hasEntryPoint {
		h.entryPoint = internal
		h.hasEntryPoint = true
		h.maxLevel = level
		return nil
	}

	ep := h.entryPoint
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedyClosestLocked(normalized, ep, l)
	}

	for l := minInt(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayerLocked(normalized, ep, h.config.EfConstruction, l)
		selected := h.selectNeighborsLocked(normalized, candidateIDs(candidates), h.config.M)
		h.neighbors[internal][l] = selected

		for _, nb := range selected {
			h.linkLocked(nb, l, internal)
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.entryPoint = internal
		h.maxLevel = level
	}
	return nil
}

// Remove tombstones id and repairs adjacency around it. Unknown ids are a
// no-op.
func (h *HNSWIndex) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	internal, ok := h.idToInternal[id]
	if !ok || h.deleted[internal] {
		return
	}
	h.removeLocked(internal)
}

// Query returns the k most similar live items to vec, ordered by descending
// similarity with ties broken by ascending id. An empty index returns an
// empty slice, not an error.
func (h *HNSWIndex) Query(ctx context.Context, vec []float32, k int) ([]Result, error) {
	if len(vec) != h.dims {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return []Result{}, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntryPoint || h.liveCount == 0 {
		return []Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := vector.Normalize(vec)
	ef := h.config.EfSearch
	if ef < k {
		ef = k
	}

	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosestLocked(query, ep, l)
	}
	candidates := h.searchLayerLocked(query, ep, ef, 0)

	results := make([]Result, 0, minInt(k, len(candidates)))
	for _, c := range candidates {
		results = append(results, Result{ID: h.internalToID[c.id], Score: 1.0 - float64(c.dist)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Compact rebuilds the index without tombstones. Live vectors are
// re-inserted in ascending id order with the original seed, so a compacted
// index is deterministic for a given live set.
func (h *HNSWIndex) Compact() {
	h.mu.Lock()
	defer h.mu.Unlock()

	live := make([]string, 0, h.liveCount)
	for internal, id := range h.internalToID {
		if !h.deleted[internal] {
			live = append(live, id)
		}
	}
	sort.Strings(live)

	vecs := make(map[string][]float32, len(live))
	for _, id := range live {
		vecs[id] = h.vectors[h.idToInternal[id]]
	}

	fresh := NewHNSWIndex(h.dims, h.config)
	for _, id := range live {
		// Already normalized; re-normalizing a unit vector is a no-op.
		_ = fresh.Insert(id, vecs[id])
	}

	h.vectors = fresh.vectors
	h.levels = fresh.levels
	h.neighbors = fresh.neighbors
	h.deleted = fresh.deleted
	h.idToInternal = fresh.idToInternal
	h.internalToID = fresh.internalToID
	h.liveCount = fresh.liveCount
	h.entryPoint = fresh.entryPoint
	h.hasEntryPoint = fresh.hasEntryPoint
	h.maxLevel = fresh.maxLevel
	h.rng = fresh.rng
}

// removeLocked tombstones internal and rewires its live neighbors.
func (h *HNSWIndex) removeLocked(internal uint32) {
	h.deleted[internal] = true
	h.liveCount--
	delete(h.idToInternal, h.internalToID[internal])

	// Repair: at each level, every live neighbor loses its link to the
	// tombstone and gains the next-nearest live candidate from the removed
	// node's neighborhood.
	for l := 0; l <= h.levels[internal]; l++ {
		removedNeighbors := h.neighbors[internal][l]
		for _, nb := range removedNeighbors {
			if h.deleted[nb] || l > h.levels[nb] {
				continue
			}
			h.unlinkLocked(nb, l, internal)
			if replacement, ok := h.nearestReplacementLocked(nb, removedNeighbors, l); ok {
				h.linkLocked(nb, l, replacement)
			}
		}
		h.neighbors[internal][l] = nil
	}

	if h.liveCount == 0 {
		h.entryPoint = 0
		h.hasEntryPoint = false
		h.maxLevel = 0
		return
	}
	if internal == h.entryPoint || h.levels[internal] == h.maxLevel {
		h.reselectEntryPointLocked()
	}
}

// nearestReplacementLocked picks the live candidate closest to node that is
// not node itself and not already linked to it.
func (h *HNSWIndex) nearestReplacementLocked(node uint32, candidates []uint32, level int) (uint32, bool) {
	existing := make(map[uint32]bool, len(h.neighbors[node][level]))
	for _, nb := range h.neighbors[node][level] {
		existing[nb] = true
	}
	var (
		best     uint32
		bestDist float32
		found    bool
	)
	for _, c := range candidates {
		if c == node || h.deleted[c] || existing[c] || level > h.levels[c] {
			continue
		}
		d := h.distLocked(h.vectors[node], c)
		if !found || d < bestDist {
			best, bestDist, found = c, d, true
		}
	}
	return best, found
}

func (h *HNSWIndex) reselectEntryPointLocked() {
	bestLevel := -1
	var best uint32
	for internal := range h.levels {
		if h.deleted[internal] {
			continue
		}
		if h.levels[internal] > bestLevel {
			bestLevel = h.levels[internal]
			best = uint32(internal)
		}
	}
	if bestLevel < 0 {
		h.hasEntryPoint = false
		h.maxLevel = 0
		return
	}
	h.entryPoint = best
	h.hasEntryPoint = true
	h.maxLevel = bestLevel
}

func (h *HNSWIndex) randomLevelLocked() int {
	r := h.rng.Float64()
	for r == 0 {
		r = h.rng.Float64()
	}
	return int(-math.Log(r) * h.config.levelMultiplier())
}

func (h *HNSWIndex) distLocked(query []float32, internal uint32) float32 {
	return float32(1.0 - vector.DotProduct(query, h.vectors[internal]))
}

// greedyClosestLocked walks one layer greedily toward query.
func (h *HNSWIndex) greedyClosestLocked(query []float32, entry uint32, level int) uint32 {
	current := entry
	currentDist := h.distLocked(query, current)
	for {
		changed := false
		if level <= h.levels[current] {
			for _, nb := range h.neighbors[current][level] {
				if h.deleted[nb] {
					continue
				}
				if d := h.distLocked(query, nb); d < currentDist {
					current, currentDist = nb, d
					changed = true
				}
			}
		}
		if !changed {
			return current
		}
	}
}

type distItem struct {
	id   uint32
	dist float32
}

// searchLayerLocked is the beam search over one layer. Returns up to ef
// live candidates ordered by increasing distance.
func (h *HNSWIndex) searchLayerLocked(query []float32, entry uint32, ef int, level int) []distItem {
	if ef <= 0 {
		return nil
	}
	visited := make(map[uint32]bool, ef*4)
	visited[entry] = true

	candidates := &distHeap{}       // min-heap: closest first
	results := &distHeap{max: true} // max-heap: furthest on top
	entryDist := h.distLocked(query, entry)
	candidates.push(distItem{entry, entryDist})
	if !h.deleted[entry] {
		results.push(distItem{entry, entryDist})
	}

	for candidates.len() > 0 {
		closest := candidates.pop()
		if results.len() >= ef && closest.dist > results.peek().dist {
			break
		}
		if level > h.levels[closest.id] {
			continue
		}
		for _, nb := range h.neighbors[closest.id][level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := h.distLocked(query, nb)
			if results.len() < ef || d < results.peek().dist {
				candidates.push(distItem{nb, d})
				if !h.deleted[nb] {
					results.push(distItem{nb, d})
					if results.len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	out := make([]distItem, results.len())
	for i := results.len() - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

func candidateIDs(items []distItem) []uint32 {
	ids := make([]uint32, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// selectNeighborsLocked keeps the m nearest live candidates to query.
func (h *HNSWIndex) selectNeighborsLocked(query []float32, candidates []uint32, m int) []uint32 {
	scored := make([]distItem, 0, len(candidates))
	for _, c := range candidates {
		if h.deleted[c] {
			continue
		}
		scored = append(scored, distItem{c, h.distLocked(query, c)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].dist != scored[j].dist {
			return scored[i].dist < scored[j].dist
		}
		return h.internalToID[scored[i].id] < h.internalToID[scored[j].id]
	})
	if len(scored) > m {
		scored = scored[:m]
	}
	out := make([]uint32, len(scored))
	for i, s := range scored {
		out[i] = s.id
	}
	return out
}

// linkLocked adds newNb to node's list at level, pruning to M by distance
// when full.
func (h *HNSWIndex) linkLocked(node uint32, level int, newNb uint32) {
	if level > h.levels[node] || node == newNb {
		return
	}
	for _, nb := range h.neighbors[node][level] {
		if nb == newNb {
			return
		}
	}
	list := append(h.neighbors[node][level], newNb)
	if len(list) > h.config.M {
		list = h.selectNeighborsLocked(h.vectors[node], list, h.config.M)
	}
	h.neighbors[node][level] = list
}

func (h *HNSWIndex) unlinkLocked(node uint32, level int, target uint32) {
	list := h.neighbors[node][level]
	for i, nb := range list {
		if nb == target {
			h.neighbors[node][level] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// distHeap is a small binary heap over distItem; max selects ordering.
type distHeap struct {
	max   bool
	items []distItem
}

func (d *distHeap) len() int       { return len(d.items) }
func (d *distHeap) peek() distItem { return d.items[0] }

func (d *distHeap) less(i, j int) bool {
	if d.max {
		return d.items[i].dist > d.items[j].dist
	}
	return d.items[i].dist < d.items[j].dist
}

func (d *distHeap) push(it distItem) {
	d.items = append(d.items, it)
	i := len(d.items) - 1
	for i > 0 {
		p := (i - 1) / 2
		if !d.less(i, p) {
			break
		}
		d.items[i], d.items[p] = d.items[p], d.items[i]
		i = p
	}
}

func (d *distHeap) pop() distItem {
	out := d.items[0]
	last := len(d.items) - 1
	d.items[0] = d.items[last]
	d.items = d.items[:last]
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		best := i
		if l < len(d.items) && d.less(l, best) {
			best = l
		}
		if r < len(d.items) && d.less(r, best) {
			best = r
		}
		if best == i {
			break
		}
		d.items[i], d.items[best] = d.items[best], d.items[i]
		i = best
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
