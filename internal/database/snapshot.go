package database

import (
	"slices"
	"sync"

	"github.com/kozaktomas/faceid/internal/descriptor"
)

// Snapshot is an immutable point-in-time view of the store.
// Readers may hold it for as long as they like; writers never touch it.
type Snapshot struct {
	version uint64
	dim     int
	entries map[string]*Enrollment
	ids     []string // sorted, for deterministic iteration

	indexOnce sync.Once
	index     *HNSWIndex
}

func newSnapshot(version uint64, dim int, entries map[string]*Enrollment) *Snapshot {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return &Snapshot{version: version, dim: dim, entries: entries, ids: ids}
}

// with returns a new snapshot containing e in place of any previous record.
func (s *Snapshot) with(e *Enrollment, dim int) *Snapshot {
	next := make(map[string]*Enrollment, len(s.entries)+1)
	for id, existing := range s.entries {
		next[id] = existing
	}
	next[e.IdentityID] = e
	return newSnapshot(s.version+1, dim, next)
}

// without returns a new snapshot lacking id.
func (s *Snapshot) without(id string) *Snapshot {
	next := make(map[string]*Enrollment, len(s.entries))
	for other, existing := range s.entries {
		if other != id {
			next[other] = existing
		}
	}
	return newSnapshot(s.version+1, s.dim, next)
}

// Version increases by one with every committed write.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Dim is the descriptor dimension, 0 while it has not been established.
func (s *Snapshot) Dim() int {
	return s.dim
}

// Len returns the number of enrollments.
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// Get returns the enrollment for id. The descriptor must not be modified.
func (s *Snapshot) Get(id string) (Enrollment, bool) {
	e, ok := s.entries[id]
	if !ok {
		return Enrollment{}, false
	}
	return *e, true
}

// Range calls fn for every enrollment in identity order until fn returns false.
func (s *Snapshot) Range(fn func(e *Enrollment) bool) {
	for _, id := range s.ids {
		if !fn(s.entries[id]) {
			return
		}
	}
}

// Enrollments returns every enrollment in identity order.
func (s *Snapshot) Enrollments() []Enrollment {
	out := make([]Enrollment, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, *s.entries[id])
	}
	return out
}

// Nearest returns up to k identities closest to probe according to the HNSW
// graph. The graph is built on first use and shared by all readers of s.
func (s *Snapshot) Nearest(probe descriptor.Descriptor, k int) ([]string, error) {
	if err := probe.Validate(s.dim); err != nil {
		return nil, err
	}
	s.indexOnce.Do(func() {
		s.index = NewHNSWIndex(s.Enrollments())
	})
	return s.index.Search(probe, k)
}
