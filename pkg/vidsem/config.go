package vidsem

import (
	"time"

	"github.com/orneryd/vidsem/pkg/cluster"
	"github.com/orneryd/vidsem/pkg/envutil"
	"github.com/orneryd/vidsem/pkg/graph"
	"github.com/orneryd/vidsem/pkg/search"
)

// Config collects every engine tunable. All fields have working defaults;
// ConfigFromEnv overlays VIDSEM_* environment variables on top of them.
type Config struct {
	// DataDir holds the item store and the index snapshot.
	DataDir string
	// SnapshotPath overrides the default <DataDir>/index.snapshot location.
	SnapshotPath string

	HNSW    search.HNSWConfig
	Hybrid  search.HybridConfig
	Cluster cluster.EngineConfig

	// GraphK is the neighbor count used when building the similarity graph.
	GraphK int
	// EmbedConcurrency bounds concurrent encoder calls during batch embedding.
	EmbedConcurrency int

	// ReclusterGrowthPct triggers an automatic re-cluster when the embedded
	// item count has grown by more than this percentage since the last run.
	ReclusterGrowthPct float64
	// ReclusterDebounce delays worker-triggered re-clustering so a burst of
	// imports coalesces into one pass.
	ReclusterDebounce time.Duration
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:            "./vidsem-data",
		HNSW:               search.DefaultHNSWConfig(),
		Hybrid:             search.DefaultHybridConfig(),
		Cluster:            cluster.DefaultEngineConfig(),
		GraphK:             graph.DefaultNeighborsPerNode,
		EmbedConcurrency:   0, // embed.DefaultBatchConcurrency
		ReclusterGrowthPct: 10,
		ReclusterDebounce:  2 * time.Second,
	}
}

// ConfigFromEnv builds a Config from defaults plus VIDSEM_* overrides.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.DataDir = envutil.Get("VIDSEM_DATA_DIR", c.DataDir)
	c.SnapshotPath = envutil.Get("VIDSEM_SNAPSHOT_PATH", c.SnapshotPath)

	c.HNSW.M = envutil.GetInt("VIDSEM_HNSW_M", c.HNSW.M)
	c.HNSW.EfConstruction = envutil.GetInt("VIDSEM_HNSW_EF_CONSTRUCTION", c.HNSW.EfConstruction)
	c.HNSW.EfSearch = envutil.GetInt("VIDSEM_HNSW_EF_SEARCH", c.HNSW.EfSearch)
	c.HNSW.Seed = envutil.GetInt64("VIDSEM_HNSW_SEED", c.HNSW.Seed)

	c.Hybrid.RRFK = envutil.GetInt("VIDSEM_RRF_K", c.Hybrid.RRFK)
	c.Hybrid.VectorTopK = envutil.GetInt("VIDSEM_VECTOR_TOP_K", c.Hybrid.VectorTopK)
	c.Hybrid.ResultCap = envutil.GetInt("VIDSEM_RESULT_CAP", c.Hybrid.ResultCap)

	c.Cluster.Leiden.Resolution = envutil.GetFloat("VIDSEM_LEIDEN_RESOLUTION", c.Cluster.Leiden.Resolution)
	c.Cluster.Leiden.MaxIterations = envutil.GetInt("VIDSEM_LEIDEN_MAX_ITERATIONS", c.Cluster.Leiden.MaxIterations)
	c.Cluster.Leiden.Seed = envutil.GetInt64("VIDSEM_LEIDEN_SEED", c.Cluster.Leiden.Seed)
	c.Cluster.StabilityThreshold = envutil.GetFloat("VIDSEM_STABILITY_THRESHOLD", c.Cluster.StabilityThreshold)

	c.GraphK = envutil.GetInt("VIDSEM_GRAPH_K", c.GraphK)
	c.EmbedConcurrency = envutil.GetInt("VIDSEM_EMBED_CONCURRENCY", c.EmbedConcurrency)
	c.ReclusterGrowthPct = envutil.GetFloat("VIDSEM_RECLUSTER_GROWTH_PCT", c.ReclusterGrowthPct)
	c.ReclusterDebounce = envutil.GetDuration("VIDSEM_RECLUSTER_DEBOUNCE", c.ReclusterDebounce)
	return c
}

func (c Config) snapshotPath() string {
	if c.SnapshotPath != "" {
		return c.SnapshotPath
	}
	return c.DataDir + "/index.snapshot"
}
