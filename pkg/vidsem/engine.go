// Package vidsem is the discovery engine facade: it owns the vector and
// keyword indexes, the similarity graph, the cluster state, and the
// background embedding worker, and exposes the query surface the UI layer
// calls.
package vidsem

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/orneryd/vidsem/pkg/cluster"
	"github.com/orneryd/vidsem/pkg/embed"
	"github.com/orneryd/vidsem/pkg/graph"
	"github.com/orneryd/vidsem/pkg/search"
	"github.com/orneryd/vidsem/pkg/store"
)

// ErrNoEncoder is returned by NewEngine when no text encoder is configured.
var ErrNoEncoder = errors.New("vidsem: no text encoder configured")

// Engine wires the pipeline together. Foreground search never blocks on
// background embedding or clustering: the indexes are guarded by their own
// readers-writer locks and searches read whatever state is current.
type Engine struct {
	config   Config
	store    store.Store
	embedSvc *embed.Service

	// mu guards the index pointers, which RebuildIndex swaps wholesale.
	mu       sync.RWMutex
	index    *search.HNSWIndex
	keywords *search.KeywordIndex

	clusters *cluster.Engine

	// persistMu serializes cluster-result persistence so a superseded pass
	// can never interleave writes with its successor.
	persistMu sync.Mutex
	// cancelMu guards the active re-cluster cancellation handle.
	cancelMu        sync.Mutex
	cancelRecluster context.CancelFunc

	lastClusterCount int

	worker *embedWorker
}

// NewEngine opens the engine over st using encoder for inference. The index
// snapshot is loaded when present and compatible; otherwise the index is
// rebuilt from stored embeddings (the documented recovery path). The
// background embedding worker starts immediately.
func NewEngine(config Config, st store.Store, encoder embed.TextEncoder) (*Engine, error) {
	if encoder == nil {
		return nil, ErrNoEncoder
	}
	svc := embed.NewService(encoder, config.EmbedConcurrency)
	dims := svc.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("vidsem: encoder reports %d dimensions", dims)
	}

	e := &Engine{
		config:   config,
		store:    st,
		embedSvc: svc,
		keywords: search.NewKeywordIndex(),
		clusters: cluster.NewEngine(config.Cluster),
	}

	idx, err := search.LoadHNSWIndex(config.snapshotPath(), dims, config.HNSW)
	if err != nil {
		return nil, err
	}
	e.index = idx
	if e.index == nil {
		e.index = search.NewHNSWIndex(dims, config.HNSW)
		if err := e.rebuildVectorIndex(context.Background()); err != nil {
			return nil, err
		}
	}
	if err := e.rebuildKeywordIndex(); err != nil {
		return nil, err
	}
	// Baseline for the growth trigger. A store with no clusters keeps the
	// baseline at zero so the first embedded batch clusters immediately.
	if clusters, err := st.ListClusters(); err == nil && len(clusters) > 0 {
		if count, err := st.ItemCount(); err == nil {
			e.lastClusterCount = count
		}
	}

	e.worker = newEmbedWorker(e)
	e.worker.start()
	e.worker.notify() // pick up items that arrived while the engine was down
	return e, nil
}

// Search runs the hybrid keyword+vector query. See search.HybridSearcher.
func (e *Engine) Search(ctx context.Context, query string, filters search.Filters) ([]store.Item, error) {
	e.mu.RLock()
	searcher := search.NewHybridSearcher(e.store, e.embedSvc, e.index, e.keywords, e.config.Hybrid)
	e.mu.RUnlock()
	return searcher.Search(ctx, query, filters)
}

// ListClusters returns all persisted clusters.
func (e *Engine) ListClusters() ([]store.ClusterRecord, error) {
	return e.store.ListClusters()
}

// GetCluster returns one cluster by id.
func (e *Engine) GetCluster(id string) (store.ClusterRecord, error) {
	return e.store.GetCluster(id)
}

// NotifyItemUpserted tells the engine an item was added or changed. The
// item becomes keyword-searchable immediately; embedding and vector
// indexing happen on the background worker.
func (e *Engine) NotifyItemUpserted(id string) {
	item, err := e.store.GetItem(id)
	if err != nil {
		log.Printf("[ENGINE] Upsert notification for unknown item %s: %v", id, err)
		return
	}
	e.mu.RLock()
	e.keywords.Index(item.ID, item.TextContent, item.PublishedAt)
	e.mu.RUnlock()
	e.worker.notify()
}

// NotifyItemRemoved tells the engine an item was deleted from the store.
func (e *Engine) NotifyItemRemoved(id string) {
	e.mu.RLock()
	e.index.Remove(id)
	e.keywords.Remove(id)
	e.mu.RUnlock()
}

// RebuildIndex rebuilds both indexes from the store and writes a fresh
// snapshot. This is the recovery path for corrupt or stale index state;
// searches keep serving the old index until the swap.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	fresh := search.NewHNSWIndex(e.embedSvc.Dimensions(), e.config.HNSW)
	items, err := e.store.AllItemsWithEmbeddings()
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fresh.Insert(it.ID, it.Embedding); err != nil {
			log.Printf("[ENGINE] Skipping %s during rebuild: %v", it.ID, err)
		}
	}

	freshKeywords := search.NewKeywordIndex()
	all, err := e.store.AllItems()
	if err != nil {
		return err
	}
	for _, it := range all {
		freshKeywords.Index(it.ID, it.TextContent, it.PublishedAt)
	}

	e.mu.Lock()
	e.index = fresh
	e.keywords = freshKeywords
	e.mu.Unlock()

	return e.saveSnapshot()
}

// Recluster rebuilds the similarity graph and recomputes the cluster
// partition. A newer call supersedes a running one: the superseded pass is
// cancelled cooperatively and its partial results are discarded.
func (e *Engine) Recluster(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelRecluster != nil {
		e.cancelRecluster()
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancelRecluster = cancel
	e.cancelMu.Unlock()
	defer cancel()

	items, err := e.store.AllItemsWithEmbeddings()
	if err != nil {
		return err
	}

	e.mu.RLock()
	builder := graph.NewBuilder(e.index, e.config.GraphK)
	e.mu.RUnlock()
	g, err := builder.Build(ctx, items)
	if err != nil {
		return err
	}

	previous, err := e.previousClusters()
	if err != nil {
		return err
	}
	result, err := e.clusters.Run(ctx, g, items, previous)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		// Superseded after the algorithm finished; discard, do not persist.
		return err
	}
	if err := e.persistClusters(result); err != nil {
		return err
	}

	e.cancelMu.Lock()
	e.lastClusterCount = len(items)
	e.cancelMu.Unlock()
	log.Printf("[ENGINE] Clustering complete: %d clusters over %d items", len(result.Clusters), len(items))
	return nil
}

// Close stops the background worker and writes the index snapshot. The
// store stays open; whoever opened it closes it.
func (e *Engine) Close() error {
	e.cancelMu.Lock()
	if e.cancelRecluster != nil {
		e.cancelRecluster()
	}
	e.cancelMu.Unlock()
	e.worker.stop()
	return e.saveSnapshot()
}

func (e *Engine) saveSnapshot() error {
	e.mu.RLock()
	idx := e.index
	e.mu.RUnlock()
	return idx.Save(e.config.snapshotPath())
}

func (e *Engine) rebuildVectorIndex(ctx context.Context) error {
	items, err := e.store.AllItemsWithEmbeddings()
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.index.Insert(it.ID, it.Embedding); err != nil {
			log.Printf("[ENGINE] Skipping %s during index rebuild: %v", it.ID, err)
		}
	}
	if len(items) > 0 {
		log.Printf("[ENGINE] Rebuilt vector index from store: %d items", len(items))
	}
	return nil
}

func (e *Engine) rebuildKeywordIndex() error {
	items, err := e.store.AllItems()
	if err != nil {
		return err
	}
	for _, it := range items {
		e.keywords.Index(it.ID, it.TextContent, it.PublishedAt)
	}
	return nil
}

// previousClusters loads persisted cluster records for stability matching.
// Membership is not needed to match; centroids and labels suffice.
func (e *Engine) previousClusters() ([]cluster.Cluster, error) {
	records, err := e.store.ListClusters()
	if err != nil {
		return nil, err
	}
	out := make([]cluster.Cluster, len(records))
	for i, r := range records {
		out[i] = cluster.Cluster{
			ID:          r.ID,
			Label:       r.Label,
			CustomLabel: r.CustomLabel,
			Centroid:    r.Centroid,
		}
	}
	return out, nil
}

// persistClusters writes the pass outcome: cluster records, member
// assignments, and deletions of unmatched prior clusters. Items belonging
// to a deleted cluster become unclustered, never reassigned arbitrarily.
func (e *Engine) persistClusters(result *cluster.Result) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	assignment := make(map[string]string)
	for _, c := range result.Clusters {
		if err := e.store.PutCluster(c.Record()); err != nil {
			return err
		}
		for _, id := range c.MemberIDs {
			assignment[id] = c.ID
		}
	}
	for _, id := range result.DeletedClusterIDs {
		if err := e.store.DeleteCluster(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	items, err := e.store.AllItems()
	if err != nil {
		return err
	}
	for _, it := range items {
		desired := assignment[it.ID]
		if it.ClusterID == desired {
			continue
		}
		if err := e.store.UpdateClusterAssignment(it.ID, desired); err != nil {
			return err
		}
	}
	return nil
}
