package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/faceid/internal/descriptor"
)

// ErrIndexEmpty is returned when searching an index with no nodes.
var ErrIndexEmpty = errors.New("index is empty")

// HNSWIndex is an approximate nearest-neighbour graph over enrollment descriptors.
// It is built once and never modified, snapshots get a fresh one instead.
type HNSWIndex struct {
	mu    sync.Mutex // serializes graph searches
	graph *hnsw.Graph[string]
	count int
}

// NewHNSWIndex builds the graph with Euclidean distance.
func NewHNSWIndex(enrollments []Enrollment) *HNSWIndex {
	h := &HNSWIndex{}
	if len(enrollments) == 0 {
		return h
	}

	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance

	nodes := make([]hnsw.Node[string], 0, len(enrollments))
	for i := range enrollments {
		e := &enrollments[i]
		if len(e.Descriptor) == 0 {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(e.IdentityID, []float32(e.Descriptor)))
	}
	g.Add(nodes...)

	h.graph = g
	h.count = len(nodes)
	return h
}

// Search returns up to k identity ids, closest first by graph distance.
// Callers re-rank with exact distances.
func (h *HNSWIndex) Search(query descriptor.Descriptor, k int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		return nil, ErrIndexEmpty
	}
	if k > h.count {
		k = h.count
	}

	neighbors := h.graph.Search([]float32(query), k)
	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
	}
	return ids, nil
}

// Count returns the number of indexed descriptors.
func (h *HNSWIndex) Count() int {
	return h.count
}
