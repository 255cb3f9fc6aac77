package search

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// hnswSnapshotVersion is bumped on any layout change; older snapshots are
// discarded and the index rebuilt from the store.
const hnswSnapshotVersion = 1

type hnswSnapshot struct {
	Version        int          `msgpack:"version"`
	Dimensions     int          `msgpack:"dimensions"`
	M              int          `msgpack:"m"`
	EfConstruction int          `msgpack:"ef_construction"`
	EfSearch       int          `msgpack:"ef_search"`
	Seed           int64        `msgpack:"seed"`
	Count          int          `msgpack:"count"`
	IDs            []string     `msgpack:"ids"`
	Vectors        [][]float32  `msgpack:"vectors"`
	Levels         []int        `msgpack:"levels"`
	Neighbors      [][][]uint32 `msgpack:"neighbors"`
	EntryPoint     uint32       `msgpack:"entry_point"`
	MaxLevel       int          `msgpack:"max_level"`
}

// Save writes the index to path atomically (temp file + rename). Tombstones
// are compacted away first so snapshots only ever hold live vectors.
func (h *HNSWIndex) Save(path string) error {
	if h.TombstoneRatio() > 0 {
		h.Compact()
	}

	h.mu.RLock()
	snap := hnswSnapshot{
		Version:        hnswSnapshotVersion,
		Dimensions:     h.dims,
		M:              h.config.M,
		EfConstruction: h.config.EfConstruction,
		EfSearch:       h.config.EfSearch,
		Seed:           h.config.Seed,
		Count:          h.liveCount,
		IDs:            h.internalToID,
		Vectors:        h.vectors,
		Levels:         h.levels,
		Neighbors:      h.neighbors,
		EntryPoint:     h.entryPoint,
		MaxLevel:       h.maxLevel,
	}
	data, err := msgpack.Marshal(&snap)
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal hnsw snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write hnsw snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHNSWIndex restores an index from path. A missing, corrupt, stale or
// mismatched snapshot returns (nil, nil): the caller rebuilds from the
// source of truth instead of failing startup.
func LoadHNSWIndex(path string, dims int, config HNSWConfig) (*HNSWIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read hnsw snapshot: %w", err)
	}

	var snap hnswSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		log.Printf("[HNSW] Corrupt snapshot at %s, will rebuild: %v", path, err)
		return nil, nil
	}
	if snap.Version != hnswSnapshotVersion {
		log.Printf("[HNSW] Snapshot version %d != %d, will rebuild", snap.Version, hnswSnapshotVersion)
		return nil, nil
	}
	if snap.Dimensions != dims || snap.M != config.M {
		log.Printf("[HNSW] Snapshot parameters changed (dims %d->%d, M %d->%d), will rebuild",
			snap.Dimensions, dims, snap.M, config.M)
		return nil, nil
	}
	n := len(snap.IDs)
	if len(snap.Vectors) != n || len(snap.Levels) != n || len(snap.Neighbors) != n {
		log.Printf("[HNSW] Inconsistent snapshot at %s, will rebuild", path)
		return nil, nil
	}

	h := NewHNSWIndex(dims, config)
	h.vectors = snap.Vectors
	h.levels = snap.Levels
	h.neighbors = snap.Neighbors
	h.deleted = make([]bool, n)
	h.internalToID = snap.IDs
	h.idToInternal = make(map[string]uint32, n)
	for i, id := range snap.IDs {
		h.idToInternal[id] = uint32(i)
	}
	h.liveCount = n
	h.maxLevel = snap.MaxLevel
	if n > 0 {
		h.entryPoint = snap.EntryPoint
		h.hasEntryPoint = true
	}
	return h, nil
}
