// Package store defines the item library boundary: the Item model, the
// Store interface the engine talks to, and two implementations (in-memory
// and badger-backed). The engine never owns item metadata; it reads items,
// writes embeddings and cluster assignments back, and persists a small
// cluster table on behalf of the cluster engine.
package store

import "time"

// Item is one library entry. TextContent is the concatenation of title,
// description, tags and optional thumbnail-OCR text prepared by the import
// layer. Embedding is absent (nil) until computed; ClusterID is empty until
// a clustering pass assigns the item.
type Item struct {
	ID          string    `msgpack:"id" json:"id"`
	Title       string    `msgpack:"title" json:"title"`
	TextContent string    `msgpack:"text" json:"textContent"`
	Source      string    `msgpack:"source" json:"source,omitempty"`
	DurationSec int       `msgpack:"duration" json:"durationSec,omitempty"`
	PublishedAt time.Time `msgpack:"published" json:"publishedAt,omitempty"`

	Embedding []float32 `msgpack:"embedding" json:"-"`
	ClusterID string    `msgpack:"cluster" json:"clusterId,omitempty"`
}

// HasEmbedding reports whether the item can enter the vector index.
func (it *Item) HasEmbedding() bool {
	return len(it.Embedding) > 0
}

// ClusterRecord is the denormalized cluster row the store persists for the
// engine (id, label, centroid, count, confidence). Cluster membership itself
// lives on items as ClusterID references, never as owning pointers.
type ClusterRecord struct {
	ID          string    `msgpack:"id" json:"id"`
	Label       string    `msgpack:"label" json:"label"`
	CustomLabel string    `msgpack:"customLabel" json:"customLabel,omitempty"`
	Centroid    []float32 `msgpack:"centroid" json:"-"`
	ItemCount   int       `msgpack:"count" json:"itemCount"`
	Confidence  float64   `msgpack:"confidence" json:"confidenceScore"`
}
