// Package database holds the encoding store: the authoritative in-memory
// mapping from identity to enrollment, and its durable persistence backends.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/faceid/internal/descriptor"
)

var (
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("enrollment store is closed")
	// ErrInvalidEnrollment is returned for records without an identity or with a bad descriptor.
	ErrInvalidEnrollment = errors.New("invalid enrollment")
	// ErrDimensionMismatch is returned when a descriptor does not match the store dimension.
	ErrDimensionMismatch = descriptor.ErrDimensionMismatch
	// ErrDurabilityDegraded is returned by Close when committed changes could not be persisted.
	ErrDurabilityDegraded = errors.New("durability degraded")
	// ErrBackendLocked is returned by OpenStore when another store holds the backend.
	ErrBackendLocked = errors.New("enrollment backend is in use by another process")
	// ErrWritesPending is returned by Close when its context ends before the
	// persistence worker drained. The worker keeps running; call Close again to wait.
	ErrWritesPending = errors.New("enrollment writes still pending")
)

// Options configures a Store.
type Options struct {
	Dim    int // descriptor dimension; 0 adopts the first descriptor seen
	Logger *slog.Logger
}

// Store is the encoding store. Reads work on immutable snapshots and never
// block; writes are serialized and persisted asynchronously in commit order.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex // serializes writers
	closed bool
	snap   atomic.Pointer[Snapshot]

	queue    *opQueue
	inflight atomic.Int64
	stopped  chan struct{}

	durMu sync.Mutex
	dur   Durability

	finishOnce sync.Once
	finishErr  error
}

// OpenStore loads every enrollment from the backend and starts the persistence worker.
func OpenStore(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("enrollment store requires a backend")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if locker, ok := backend.(Locker); ok {
		if err := locker.Lock(ctx); err != nil {
			return nil, fmt.Errorf("failed to lock enrollment backend: %w", err)
		}
	}

	s, err := loadStore(ctx, backend, opts.Dim, logger)
	if err != nil {
		if locker, ok := backend.(Locker); ok {
			_ = locker.Unlock()
		}
		return nil, err
	}
	go s.worker()

	logger.Info("enrollment store opened", "enrollments", s.Len(), "dim", s.Dim())
	return s, nil
}

func loadStore(ctx context.Context, backend Backend, dim int, logger *slog.Logger) (*Store, error) {
	loaded, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	entries := make(map[string]*Enrollment, len(loaded))
	for i := range loaded {
		e := loaded[i].Clone()
		if e.IdentityID == "" {
			return nil, fmt.Errorf("%w: record %d has no identity id", ErrInvalidEnrollment, i)
		}
		if _, dup := entries[e.IdentityID]; dup {
			return nil, fmt.Errorf("%w: duplicate identity %q", ErrInvalidEnrollment, e.IdentityID)
		}
		if dim == 0 {
			dim = len(e.Descriptor)
		}
		if err := e.Descriptor.Validate(dim); err != nil {
			return nil, fmt.Errorf("enrollment %q: %w", e.IdentityID, err)
		}
		entries[e.IdentityID] = &e
	}

	s := &Store{
		backend: backend,
		logger:  logger,
		queue:   newOpQueue(),
		stopped: make(chan struct{}),
	}
	s.snap.Store(newSnapshot(0, dim, entries))
	return s, nil
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Len returns the number of enrollments in the current snapshot.
func (s *Store) Len() int {
	return s.snap.Load().Len()
}

// Dim returns the established descriptor dimension, 0 if none yet.
func (s *Store) Dim() int {
	return s.snap.Load().Dim()
}

// Get returns the enrollment for identityID.
func (s *Store) Get(identityID string) (Enrollment, bool) {
	return s.snap.Load().Get(identityID)
}

// Put inserts or fully replaces the enrollment of e.IdentityID.
// The change is visible to readers on return; persistence follows asynchronously.
func (s *Store) Put(ctx context.Context, e Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.IdentityID == "" {
		return fmt.Errorf("%w: empty identity id", ErrInvalidEnrollment)
	}
	e = e.Clone()
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cur := s.snap.Load()
	dim := cur.Dim()
	if dim == 0 {
		dim = len(e.Descriptor)
	}
	if err := e.Descriptor.Validate(dim); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEnrollment, err)
	}

	s.snap.Store(cur.with(&e, dim))
	s.queue.push(persistOp{kind: opSave, enrollment: e})
	return nil
}

// Delete removes the enrollment. Deleting an unknown identity is a no-op.
func (s *Store) Delete(ctx context.Context, identityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cur := s.snap.Load()
	if _, ok := cur.entries[identityID]; !ok {
		return nil
	}

	s.snap.Store(cur.without(identityID))
	s.queue.push(persistOp{kind: opDelete, identityID: identityID})
	return nil
}

// Flush waits until every change committed before the call has been handed to the backend.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	done := make(chan struct{})
	s.queue.push(persistOp{kind: opBarrier, done: done})
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Durability reports the persistence status.
func (s *Store) Durability() Durability {
	s.durMu.Lock()
	d := s.dur
	s.durMu.Unlock()
	d.Pending = s.queue.len() + int(s.inflight.Load())
	return d
}

// Close drains pending writes, reconciles the backend if writes failed and the
// backend supports ReplaceAll, stops the worker and releases the backend lock.
// If ctx ends first Close returns ErrWritesPending and may be called again.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.queue.close()
	}
	s.mu.Unlock()

	select {
	case <-s.stopped:
	case <-ctx.Done():
		return fmt.Errorf("%w: %d queued: %w", ErrWritesPending, s.Durability().Pending, ctx.Err())
	}

	s.finishOnce.Do(func() {
		s.finishErr = s.finish(ctx)
		if locker, ok := s.backend.(Locker); ok {
			if err := locker.Unlock(); err != nil {
				s.logger.Warn("failed to unlock enrollment backend", "error", err)
			}
		}
	})
	return s.finishErr
}

func (s *Store) finish(ctx context.Context) error {
	if !s.Durability().Degraded {
		s.logger.Info("enrollment store closed", "enrollments", s.Len())
		return nil
	}

	replacer, ok := s.backend.(Replacer)
	if !ok {
		return fmt.Errorf("%w: backend cannot be reconciled: %s", ErrDurabilityDegraded, s.Durability().LastError)
	}

	snap := s.snap.Load()
	if err := replacer.ReplaceAll(ctx, snap.Enrollments()); err != nil {
		s.recordFailure(err)
		return fmt.Errorf("%w: reconcile failed: %w", ErrDurabilityDegraded, err)
	}

	s.durMu.Lock()
	s.dur = Durability{}
	s.durMu.Unlock()
	s.logger.Info("enrollment store reconciled with backend", "enrollments", snap.Len())
	return nil
}

// worker applies persistence ops one at a time in commit order.
func (s *Store) worker() {
	defer close(s.stopped)
	for {
		ops, ok := s.queue.drain()
		if !ok {
			return
		}
		s.inflight.Store(int64(len(ops)))
		for i, op := range ops {
			s.apply(op)
			s.inflight.Store(int64(len(ops) - i - 1))
		}
	}
}

func (s *Store) apply(op persistOp) {
	if op.kind == opBarrier {
		close(op.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	var id string
	switch op.kind {
	case opSave:
		id = op.enrollment.IdentityID
		err = s.backend.Save(ctx, op.enrollment)
	case opDelete:
		id = op.identityID
		err = s.backend.Delete(ctx, op.identityID)
	}
	if err != nil {
		s.recordFailure(err)
		s.logger.Error("failed to persist enrollment change", "identity_id", id, "error", err)
	}
}

func (s *Store) recordFailure(err error) {
	s.durMu.Lock()
	defer s.durMu.Unlock()
	if !s.dur.Degraded {
		s.dur.Degraded = true
		s.dur.Since = time.Now().UTC()
	}
	s.dur.Failures++
	s.dur.LastError = err.Error()
}
