// Package graph builds the weighted k-nearest-neighbor graph that the
// cluster engine partitions. The graph is ephemeral: it is derived from the
// vector index on demand and never persisted.
package graph

import (
	"context"
	"log"
	"sort"

	"github.com/orneryd/vidsem/pkg/search"
	"github.com/orneryd/vidsem/pkg/store"
)

// DefaultNeighborsPerNode is k for the kNN edge discovery.
const DefaultNeighborsPerNode = 10

// Edge is an undirected weighted edge. Source < Target always holds so the
// same pair never appears twice.
type Edge struct {
	Source string
	Target string
	Weight float64
}

// Graph holds item-id nodes and merged undirected similarity edges.
type Graph struct {
	nodes map[string]bool
	// edge key is the ordered pair (a, b) with a < b; weight is the max
	// seen for the pair.
	edges map[[2]string]float64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		edges: make(map[[2]string]float64),
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of merged undirected edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// HasNode reports whether id is a node.
func (g *Graph) HasNode(id string) bool { return g.nodes[id] }

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Edges returns all edges, ordered by (source, target) for determinism.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for pair, w := range g.edges {
		out = append(out, Edge{Source: pair[0], Target: pair[1], Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Weight returns the edge weight between a and b, or 0 when no edge exists.
func (g *Graph) Weight(a, b string) float64 {
	return g.edges[pairKey(a, b)]
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func (g *Graph) addNode(id string) { g.nodes[id] = true }

// addEdge merges an undirected edge, keeping the maximum weight when the
// pair was already discovered from the other side.
func (g *Graph) addEdge(a, b string, weight float64) {
	if a == b {
		return
	}
	key := pairKey(a, b)
	if existing, ok := g.edges[key]; !ok || weight > existing {
		g.edges[key] = weight
	}
}

// Builder discovers edges by querying the vector index.
type Builder struct {
	index *search.HNSWIndex
	k     int
}

// NewBuilder creates a graph builder over index. k <= 0 uses the default.
func NewBuilder(index *search.HNSWIndex, k int) *Builder {
	if k <= 0 {
		k = DefaultNeighborsPerNode
	}
	return &Builder{index: index, k: k}
}

// Build constructs the kNN graph for items. Items without embeddings are
// excluded entirely; neighbors pointing at ids absent from items are skipped
// as stale index state.
func (b *Builder) Build(ctx context.Context, items []store.Item) (*Graph, error) {
	g := New()
	known := make(map[string]bool, len(items))
	for _, it := range items {
		if it.HasEmbedding() {
			known[it.ID] = true
		}
	}

	for _, it := range items {
		if !it.HasEmbedding() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.addNode(it.ID)
		if err := b.addEdgesFor(ctx, g, it, known); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddNode inserts one item and its edges into an existing graph without a
// full rebuild. No-op for items without embeddings.
func (b *Builder) AddNode(ctx context.Context, g *Graph, item store.Item) error {
	if !item.HasEmbedding() {
		return nil
	}
	g.addNode(item.ID)
	return b.addEdgesFor(ctx, g, item, g.nodes)
}

func (b *Builder) addEdgesFor(ctx context.Context, g *Graph, item store.Item, known map[string]bool) error {
	// k+1 because the item's own vector comes back as its best neighbor.
	hits, err := b.index.Query(ctx, item.Embedding, b.k+1)
	if err != nil {
		return err
	}
	added := 0
	for _, h := range hits {
		if h.ID == item.ID {
			continue
		}
		if !known[h.ID] {
			log.Printf("[GRAPH] Skipping stale neighbor %s of %s", h.ID, item.ID)
			continue
		}
		g.addEdge(item.ID, h.ID, h.Score)
		added++
		if added >= b.k {
			break
		}
	}
	return nil
}
