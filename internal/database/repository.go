package database

import (
	"context"
)

// Backend is the durable persistence behind a Store.
// The Store is the only caller and never calls it concurrently.
type Backend interface {
	// Save upserts the enrollment, replacing any previous record for its identity.
	Save(ctx context.Context, e Enrollment) error
	// LoadAll returns every persisted enrollment.
	LoadAll(ctx context.Context) ([]Enrollment, error)
	// Delete removes the enrollment; deleting a missing identity is not an error.
	Delete(ctx context.Context, identityID string) error
}

// Replacer is implemented by backends that can atomically replace their whole
// content. The Store uses it on Close to reconcile after failed writes.
type Replacer interface {
	ReplaceAll(ctx context.Context, enrollments []Enrollment) error
}

// Locker is implemented by backends that can be held by a single Store at a
// time. OpenStore takes the lock before loading and Close releases it, so a
// second process sharing the backend fails with ErrBackendLocked instead of
// running duplicate checks against a stale copy.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}
