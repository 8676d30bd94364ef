package database

import "sync"

type opKind int

const (
	opSave opKind = iota
	opDelete
	opBarrier
)

// persistOp is one change waiting to reach the backend.
type persistOp struct {
	kind       opKind
	enrollment Enrollment
	identityID string
	done       chan struct{} // closed once a barrier is reached
}

// opQueue is an unbounded FIFO so writers never wait on the backend.
type opQueue struct {
	mu     sync.Mutex
	ops    []persistOp
	wake   chan struct{}
	closed bool
}

func newOpQueue() *opQueue {
	return &opQueue{wake: make(chan struct{}, 1)}
}

func (q *opQueue) push(op persistOp) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// drain takes every queued op. ok is false once the queue is closed and empty.
func (q *opQueue) drain() (ops []persistOp, ok bool) {
	for {
		q.mu.Lock()
		if len(q.ops) > 0 {
			ops, q.ops = q.ops, nil
			q.mu.Unlock()
			return ops, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *opQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
