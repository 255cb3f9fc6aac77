package store

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when an item or cluster id is unknown to the store.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary the engine depends on. Implementations
// must be safe for concurrent use; the engine calls into the store from the
// embed worker, the cluster engine and the search path simultaneously.
type Store interface {
	GetItem(id string) (Item, error)
	PutItem(item Item) error
	DeleteItem(id string) error
	AllItems() ([]Item, error)
	// AllItemsWithEmbeddings returns only items eligible for the vector index.
	AllItemsWithEmbeddings() ([]Item, error)
	ItemCount() (int, error)

	UpdateEmbedding(id string, embedding []float32) error
	// UpdateClusterAssignment sets or clears (clusterID == "") the item's
	// cluster reference.
	UpdateClusterAssignment(id string, clusterID string) error

	PutCluster(rec ClusterRecord) error
	DeleteCluster(id string) error
	GetCluster(id string) (ClusterRecord, error)
	ListClusters() ([]ClusterRecord, error)
}

// MemoryStore is an in-memory Store used by tests and small libraries.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]Item
	clusters map[string]ClusterRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]Item),
		clusters: make(map[string]ClusterRecord),
	}
}

func (m *MemoryStore) GetItem(id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return cloneItem(it), nil
}

func (m *MemoryStore) PutItem(item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = cloneItem(item)
	return nil
}

func (m *MemoryStore) DeleteItem(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) AllItems() ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, cloneItem(it))
	}
	sortItems(out)
	return out, nil
}

func (m *MemoryStore) AllItemsWithEmbeddings() ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		if it.HasEmbedding() {
			out = append(out, cloneItem(it))
		}
	}
	sortItems(out)
	return out, nil
}

func (m *MemoryStore) ItemCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *MemoryStore) UpdateEmbedding(id string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Embedding = append([]float32(nil), embedding...)
	m.items[id] = it
	return nil
}

func (m *MemoryStore) UpdateClusterAssignment(id string, clusterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.ClusterID = clusterID
	m.items[id] = it
	return nil
}

func (m *MemoryStore) PutCluster(rec ClusterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[rec.ID] = rec
	return nil
}

func (m *MemoryStore) DeleteCluster(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clusters, id)
	return nil
}

func (m *MemoryStore) GetCluster(id string) (ClusterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.clusters[id]
	if !ok {
		return ClusterRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ListClusters() ([]ClusterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClusterRecord, 0, len(m.clusters))
	for _, rec := range m.clusters {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneItem(it Item) Item {
	out := it
	if it.Embedding != nil {
		out.Embedding = append([]float32(nil), it.Embedding...)
	}
	return out
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

var _ Store = (*MemoryStore)(nil)
