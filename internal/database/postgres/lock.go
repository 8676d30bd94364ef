package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/kozaktomas/faceid/internal/database"
)

// enrollmentLockKey is the pg_advisory_lock key held by the process that owns
// the enrollments table.
const enrollmentLockKey int64 = 0x66616365_6964 // "faceid"

// advisoryLock holds a session-level advisory lock on a dedicated connection.
type advisoryLock struct {
	mu   sync.Mutex
	conn *sql.Conn
}

var _ database.Locker = (*EnrollmentRepository)(nil)

// Lock takes the enrollment advisory lock without waiting.
func (r *EnrollmentRepository) Lock(ctx context.Context) error {
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()

	if r.lock.conn != nil {
		return database.ErrBackendLocked
	}
	conn, err := r.pool.DB().Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", enrollmentLockKey).Scan(&ok); err != nil {
		_ = conn.Close()
		return fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("%w: advisory lock %d is held", database.ErrBackendLocked, enrollmentLockKey)
	}
	r.lock.conn = conn
	return nil
}

// Unlock releases the advisory lock and returns its connection to the pool.
func (r *EnrollmentRepository) Unlock() error {
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()

	if r.lock.conn == nil {
		return nil
	}
	conn := r.lock.conn
	r.lock.conn = nil

	_, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", enrollmentLockKey)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	return nil
}
