package database

import "time"

// HNSW candidate index parameters
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100
)

// persistTimeout bounds a single backend write issued by the persistence worker.
const persistTimeout = 30 * time.Second
