package vidsem

import (
	"fmt"

	"github.com/orneryd/vidsem/pkg/cluster"
	"github.com/orneryd/vidsem/pkg/store"
)

// Manual cluster operations. These are direct data-model mutations, not
// algorithm reruns: they update membership, item count, centroid and
// confidence of the affected clusters only.

// MergeClusters folds cluster b into cluster a. Cluster a keeps its id and
// labels; b is deleted and its members move to a.
func (e *Engine) MergeClusters(aID, bID string) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	a, items, err := e.loadCluster(aID)
	if err != nil {
		return err
	}
	b, _, err := e.loadCluster(bID)
	if err != nil {
		return err
	}

	merged := e.clusters.Merge(a, b, items)
	if err := e.store.PutCluster(merged.Record()); err != nil {
		return err
	}
	if err := e.store.DeleteCluster(bID); err != nil {
		return err
	}
	for _, id := range b.MemberIDs {
		if err := e.store.UpdateClusterAssignment(id, merged.ID); err != nil {
			return err
		}
	}
	return nil
}

// SplitCluster moves memberIDs out of cluster id into a fresh cluster and
// returns the new cluster's id.
func (e *Engine) SplitCluster(id string, memberIDs []string) (string, error) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	c, items, err := e.loadCluster(id)
	if err != nil {
		return "", err
	}
	split, err := e.clusters.Split(c, memberIDs, items)
	if err != nil {
		return "", err
	}

	if err := e.store.PutCluster(c.Record()); err != nil {
		return "", err
	}
	if err := e.store.PutCluster(split.Record()); err != nil {
		return "", err
	}
	for _, memberID := range split.MemberIDs {
		if err := e.store.UpdateClusterAssignment(memberID, split.ID); err != nil {
			return "", err
		}
	}
	return split.ID, nil
}

// EvictFromCluster removes one item from its cluster; the item becomes
// unclustered.
func (e *Engine) EvictFromCluster(clusterID, itemID string) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	c, items, err := e.loadCluster(clusterID)
	if err != nil {
		return err
	}
	if err := e.clusters.Evict(c, itemID, items); err != nil {
		return err
	}
	if err := e.store.PutCluster(c.Record()); err != nil {
		return err
	}
	return e.store.UpdateClusterAssignment(itemID, "")
}

// SetClusterLabel records a user-assigned label. Custom labels override the
// derived label and survive re-clustering for as long as the cluster
// remains matched.
func (e *Engine) SetClusterLabel(clusterID, label string) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	rec, err := e.store.GetCluster(clusterID)
	if err != nil {
		return err
	}
	rec.CustomLabel = label
	return e.store.PutCluster(rec)
}

// loadCluster materializes a persisted cluster with its member list, which
// is derived from item assignments rather than stored on the record.
func (e *Engine) loadCluster(id string) (*cluster.Cluster, map[string]store.Item, error) {
	rec, err := e.store.GetCluster(id)
	if err != nil {
		return nil, nil, fmt.Errorf("load cluster %s: %w", id, err)
	}
	items, err := e.store.AllItems()
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]store.Item, len(items))
	c := &cluster.Cluster{
		ID:          rec.ID,
		Label:       rec.Label,
		CustomLabel: rec.CustomLabel,
		Centroid:    rec.Centroid,
		Confidence:  rec.Confidence,
	}
	for _, it := range items {
		byID[it.ID] = it
		if it.ClusterID == id {
			c.MemberIDs = append(c.MemberIDs, it.ID)
		}
	}
	return c, byID, nil
}
