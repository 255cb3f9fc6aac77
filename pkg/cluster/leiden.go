// Package cluster partitions the similarity graph into communities, derives
// centroids and labels for them, and keeps cluster identity stable across
// re-clustering runs.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/orneryd/vidsem/pkg/graph"
)

// LeidenConfig tunes community detection.
type LeidenConfig struct {
	// Resolution controls granularity; higher values produce more, smaller
	// communities. Default 1.0.
	Resolution float64
	// MaxIterations caps both local-move sweeps and aggregation passes.
	// Default 50.
	MaxIterations int
	// Seed drives node-visit shuffling so runs are repeatable.
	Seed int64
}

// DefaultLeidenConfig returns the standard detection parameters.
func DefaultLeidenConfig() LeidenConfig {
	return LeidenConfig{Resolution: 1.0, MaxIterations: 50, Seed: 1}
}

// LeidenDetector runs Leiden community detection: a local-move phase for
// modularity-gain merges, a refinement phase that splits communities that
// are not internally connected, then aggregation into a coarser graph,
// iterated until no move improves modularity or the iteration cap is hit.
//
// Modularity is maximized greedily, not globally. That is a deliberate
// speed-over-optimality tradeoff, not a bug.
type LeidenDetector struct {
	config LeidenConfig
	rng    *rand.Rand
}

// NewLeidenDetector creates a detector. Zero config fields fall back to
// defaults.
func NewLeidenDetector(config LeidenConfig) *LeidenDetector {
	d := DefaultLeidenConfig()
	if config.Resolution > 0 {
		d.Resolution = config.Resolution
	}
	if config.MaxIterations > 0 {
		d.MaxIterations = config.MaxIterations
	}
	if config.Seed != 0 {
		d.Seed = config.Seed
	}
	return &LeidenDetector{config: d, rng: rand.New(rand.NewSource(d.Seed))}
}

// Detect partitions g into communities and returns the member-id groups,
// each sorted ascending, ordered by their smallest member for determinism.
// Singletons are retained as size-1 groups. Cancellation is checked
// cooperatively between passes; a cancelled run returns ctx.Err() and no
// partial partition.
func (d *LeidenDetector) Detect(ctx context.Context, g *graph.Graph) ([][]string, error) {
	adj := buildAdjacency(g)
	if len(adj) == 0 {
		return nil, nil
	}

	// assignment maps every original node to its community label in the
	// current coarse graph; cur/partition operate on the coarse graph.
	assignment := make(map[string]string, len(adj))
	partition := make(map[string]string, len(adj))
	for id := range adj {
		assignment[id] = id
		partition[id] = id
	}
	cur := adj

	for pass := 0; pass < d.config.MaxIterations; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		moved := d.localMove(ctx, cur, partition)
		partition = refineDisconnected(cur, partition)

		for node, coarse := range assignment {
			assignment[node] = partition[coarse]
		}
		if !moved {
			break
		}
		cur, partition = aggregate(cur, partition)
	}

	groups := make(map[string][]string)
	for node, comm := range assignment {
		groups[comm] = append(groups[comm], node)
	}
	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

// buildAdjacency converts the graph to a symmetric weighted adjacency map.
// Non-positive weights carry no attraction signal and are dropped.
func buildAdjacency(g *graph.Graph) map[string]map[string]float64 {
	adj := make(map[string]map[string]float64, g.NodeCount())
	for _, id := range g.Nodes() {
		adj[id] = make(map[string]float64)
	}
	for _, e := range g.Edges() {
		if e.Weight <= 0 {
			continue
		}
		adj[e.Source][e.Target] = e.Weight
		adj[e.Target][e.Source] = e.Weight
	}
	return adj
}

// localMove greedily reassigns nodes to the neighbor community with the
// best modularity gain until a full sweep makes no move. Reports whether
// any node moved at all.
func (d *LeidenDetector) localMove(ctx context.Context, adj map[string]map[string]float64, partition map[string]string) bool {
	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	d.rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

	// Cached strengths keep the gain computation O(degree) per candidate.
	var totalWeight float64
	strength := make(map[string]float64, len(adj))
	commStrength := make(map[string]float64)
	for node, neighbors := range adj {
		for _, w := range neighbors {
			strength[node] += w
			totalWeight += w
		}
	}
	totalWeight /= 2
	for node, comm := range partition {
		commStrength[comm] += strength[node]
	}
	if totalWeight == 0 {
		return false
	}

	anyMoved := false
	for sweep := 0; sweep < d.config.MaxIterations; sweep++ {
		if ctx.Err() != nil {
			return anyMoved
		}
		improved := false
		for _, node := range nodes {
			current := partition[node]

			// Weight from node into each adjacent community.
			toComm := make(map[string]float64)
			for neighbor, w := range adj[node] {
				toComm[partition[neighbor]] += w
			}

			candidates := make([]string, 0, len(toComm))
			for comm := range toComm {
				if comm != current {
					candidates = append(candidates, comm)
				}
			}
			sort.Strings(candidates)

			ki := strength[node]
			removalCost := toComm[current] - d.config.Resolution*ki*(commStrength[current]-ki)/(2*totalWeight)

			best, bestGain := current, 0.0
			for _, comm := range candidates {
				gain := toComm[comm] - d.config.Resolution*ki*commStrength[comm]/(2*totalWeight) - removalCost
				if gain > bestGain {
					best, bestGain = comm, gain
				}
			}

			if best != current {
				commStrength[current] -= ki
				commStrength[best] += ki
				partition[node] = best
				improved = true
				anyMoved = true
			}
		}
		if !improved {
			break
		}
	}
	return anyMoved
}

// refineDisconnected splits any community whose members are not one
// connected component. This is the Leiden guarantee Louvain lacks.
func refineDisconnected(adj map[string]map[string]float64, partition map[string]string) map[string]string {
	members := make(map[string][]string)
	for node, comm := range partition {
		members[comm] = append(members[comm], node)
	}

	refined := make(map[string]string, len(partition))
	for node, comm := range partition {
		refined[node] = comm
	}

	for comm, nodes := range members {
		if len(nodes) <= 1 {
			continue
		}
		sort.Strings(nodes)
		components := connectedComponents(adj, nodes)
		for i, component := range components {
			if i == 0 {
				continue
			}
			split := fmt.Sprintf("%s.%d", comm, i)
			for _, node := range component {
				refined[node] = split
			}
		}
	}
	return refined
}

// connectedComponents runs BFS within the node set, returning components in
// the order of their first (sorted) node.
func connectedComponents(adj map[string]map[string]float64, nodes []string) [][]string {
	inSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inSet[n] = true
	}
	visited := make(map[string]bool, len(nodes))

	var components [][]string
	for _, start := range nodes {
		if visited[start] {
			continue
		}
		component := []string{}
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			component = append(component, node)
			for neighbor := range adj[node] {
				if inSet[neighbor] && !visited[neighbor] {
					visited[neighbor] = true
					queue = append(queue, neighbor)
				}
			}
		}
		components = append(components, component)
	}
	return components
}

// aggregate collapses each community to a single node, summing edge weights
// between communities and folding intra-community weight into self-loops.
func aggregate(adj map[string]map[string]float64, partition map[string]string) (map[string]map[string]float64, map[string]string) {
	coarse := make(map[string]map[string]float64)
	for _, comm := range partition {
		if coarse[comm] == nil {
			coarse[comm] = make(map[string]float64)
		}
	}
	for node, neighbors := range adj {
		nodeComm := partition[node]
		for neighbor, w := range neighbors {
			coarse[nodeComm][partition[neighbor]] += w
		}
	}

	identity := make(map[string]string, len(coarse))
	for comm := range coarse {
		identity[comm] = comm
	}
	return coarse, identity
}
