package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/orneryd/vidsem/pkg/graph"
	"github.com/orneryd/vidsem/pkg/math/vector"
	"github.com/orneryd/vidsem/pkg/store"
)

// DefaultStabilityThreshold is the minimum centroid cosine similarity for a
// new cluster to inherit a prior cluster's identity.
const DefaultStabilityThreshold = 0.85

var (
	// ErrClusterNotFound is returned by manual operations on unknown ids.
	ErrClusterNotFound = errors.New("cluster: not found")
	// ErrNotAMember is returned when an eviction or split names an item the
	// cluster does not contain.
	ErrNotAMember = errors.New("cluster: item is not a member")
)

// Cluster is one community: an id, a derived label, an optional user label
// that overrides it, member item ids (references, never owning pointers),
// the member-embedding centroid, and a confidence score.
type Cluster struct {
	ID          string
	Label       string
	CustomLabel string
	MemberIDs   []string
	Centroid    []float32
	// Confidence is the mean cosine similarity of members to the centroid:
	// 1.0 for a perfectly tight cluster, lower for diffuse ones.
	Confidence float64
}

// DisplayLabel returns the user label when set, otherwise the derived one.
func (c *Cluster) DisplayLabel() string {
	if c.CustomLabel != "" {
		return c.CustomLabel
	}
	return c.Label
}

// Record converts the cluster to its persisted form.
func (c *Cluster) Record() store.ClusterRecord {
	return store.ClusterRecord{
		ID:          c.ID,
		Label:       c.Label,
		CustomLabel: c.CustomLabel,
		Centroid:    c.Centroid,
		ItemCount:   len(c.MemberIDs),
		Confidence:  c.Confidence,
	}
}

// EngineConfig tunes the cluster engine.
type EngineConfig struct {
	Leiden             LeidenConfig
	StabilityThreshold float64 // default 0.85
}

// DefaultEngineConfig returns the standard engine parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Leiden:             DefaultLeidenConfig(),
		StabilityThreshold: DefaultStabilityThreshold,
	}
}

// Engine turns graph partitions into labeled, stable clusters.
type Engine struct {
	config  EngineConfig
	labeler *Labeler
}

// NewEngine creates a cluster engine.
func NewEngine(config EngineConfig) *Engine {
	if config.StabilityThreshold <= 0 {
		config.StabilityThreshold = DefaultStabilityThreshold
	}
	return &Engine{config: config, labeler: NewLabeler()}
}

// Result is the outcome of one clustering pass.
type Result struct {
	Clusters []Cluster
	// DeletedClusterIDs are prior clusters with no match above the
	// stability threshold; their members become unclustered, not
	// reassigned arbitrarily.
	DeletedClusterIDs []string
}

// Run partitions g, builds clusters with centroids and labels, and matches
// them against previous clusters so stable communities keep their ids and
// user-assigned labels. items must cover every node in g.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, items []store.Item, previous []Cluster) (*Result, error) {
	groups, err := NewLeidenDetector(e.config.Leiden).Detect(ctx, g)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, members := range groups {
		c := Cluster{MemberIDs: members}
		e.recompute(&c, byID)
		clusters = append(clusters, c)
	}

	deleted := e.matchPrevious(clusters, previous)
	e.labelAll(clusters, byID)
	return &Result{Clusters: clusters, DeletedClusterIDs: deleted}, nil
}

// matchPrevious assigns ids: a new cluster inherits the prior cluster with
// the highest centroid cosine similarity above the threshold, each prior
// cluster matching at most once, best pairs first. Matched clusters keep
// the prior custom label. Everything else gets a fresh id. Returns prior
// cluster ids left unmatched.
func (e *Engine) matchPrevious(clusters []Cluster, previous []Cluster) []string {
	type pair struct {
		newIdx  int
		prevIdx int
		sim     float64
	}
	pairs := make([]pair, 0, len(clusters)*len(previous))
	for i := range clusters {
		for j := range previous {
			sim := vector.CosineSimilarity(clusters[i].Centroid, previous[j].Centroid)
			if sim >= e.config.StabilityThreshold {
				pairs = append(pairs, pair{i, j, sim})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].sim != pairs[b].sim {
			return pairs[a].sim > pairs[b].sim
		}
		return previous[pairs[a].prevIdx].ID < previous[pairs[b].prevIdx].ID
	})

	newTaken := make(map[int]bool)
	prevTaken := make(map[int]bool)
	for _, p := range pairs {
		if newTaken[p.newIdx] || prevTaken[p.prevIdx] {
			continue
		}
		newTaken[p.newIdx] = true
		prevTaken[p.prevIdx] = true
		clusters[p.newIdx].ID = previous[p.prevIdx].ID
		clusters[p.newIdx].CustomLabel = previous[p.prevIdx].CustomLabel
	}

	for i := range clusters {
		if clusters[i].ID == "" {
			clusters[i].ID = uuid.NewString()
		}
	}

	var deleted []string
	for j := range previous {
		if !prevTaken[j] {
			deleted = append(deleted, previous[j].ID)
		}
	}
	sort.Strings(deleted)
	return deleted
}

func (e *Engine) labelAll(clusters []Cluster, items map[string]store.Item) {
	texts := make([][]string, len(clusters))
	for i, c := range clusters {
		for _, id := range c.MemberIDs {
			if it, ok := items[id]; ok {
				texts[i] = append(texts[i], it.TextContent)
			}
		}
	}
	labels := e.labeler.LabelAll(texts, centroidsOf(clusters))
	for i := range clusters {
		clusters[i].Label = labels[i]
	}
}

func centroidsOf(clusters []Cluster) [][]float32 {
	out := make([][]float32, len(clusters))
	for i, c := range clusters {
		out[i] = c.Centroid
	}
	return out
}

// recompute refreshes centroid, confidence and member order after any
// membership change.
func (e *Engine) recompute(c *Cluster, items map[string]store.Item) {
	sort.Strings(c.MemberIDs)

	embeddings := make([][]float32, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		if it, ok := items[id]; ok && it.HasEmbedding() {
			embeddings = append(embeddings, it.Embedding)
		}
	}
	c.Centroid = vector.Mean(embeddings)

	if len(embeddings) == 0 || c.Centroid == nil {
		c.Confidence = 0
		return
	}
	var total float64
	for _, emb := range embeddings {
		total += vector.CosineSimilarity(emb, c.Centroid)
	}
	c.Confidence = total / float64(len(embeddings))
}

// Merge folds cluster b into cluster a and returns the merged cluster,
// which keeps a's id and labels. A direct data-model mutation, not an
// algorithm rerun.
func (e *Engine) Merge(a, b *Cluster, items map[string]store.Item) *Cluster {
	merged := &Cluster{
		ID:          a.ID,
		Label:       a.Label,
		CustomLabel: a.CustomLabel,
		MemberIDs:   append(append([]string{}, a.MemberIDs...), b.MemberIDs...),
	}
	e.recompute(merged, items)
	return merged
}

// Split moves the named members out of c into a fresh cluster and returns
// it. Both clusters get recomputed centroids and confidence.
func (e *Engine) Split(c *Cluster, memberIDs []string, items map[string]store.Item) (*Cluster, error) {
	moving := make(map[string]bool, len(memberIDs))
	current := make(map[string]bool, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		current[id] = true
	}
	for _, id := range memberIDs {
		if !current[id] {
			return nil, fmt.Errorf("%w: %s in cluster %s", ErrNotAMember, id, c.ID)
		}
		moving[id] = true
	}

	remaining := c.MemberIDs[:0]
	for _, id := range c.MemberIDs {
		if !moving[id] {
			remaining = append(remaining, id)
		}
	}
	c.MemberIDs = remaining
	e.recompute(c, items)

	split := &Cluster{ID: uuid.NewString(), MemberIDs: memberIDs}
	e.recompute(split, items)
	texts := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if it, ok := items[id]; ok {
			texts = append(texts, it.TextContent)
		}
	}
	split.Label = e.labeler.Label(texts)
	return split, nil
}

// Evict removes one item from c and refreshes its derived fields.
func (e *Engine) Evict(c *Cluster, itemID string, items map[string]store.Item) error {
	found := false
	remaining := c.MemberIDs[:0]
	for _, id := range c.MemberIDs {
		if id == itemID {
			found = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !found {
		return fmt.Errorf("%w: %s in cluster %s", ErrNotAMember, itemID, c.ID)
	}
	c.MemberIDs = remaining
	e.recompute(c, items)
	return nil
}
