package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/kozaktomas/faceid/internal/database"
)

// enrollmentLockName is the GET_LOCK name held by the process that owns the
// enrollments table.
const enrollmentLockName = "faceid.enrollments"

// namedLock holds a GET_LOCK lock on a dedicated connection.
type namedLock struct {
	mu   sync.Mutex
	conn *sql.Conn
}

var _ database.Locker = (*EnrollmentRepository)(nil)

// Lock takes the enrollment named lock without waiting.
func (r *EnrollmentRepository) Lock(ctx context.Context) error {
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()

	if r.lock.conn != nil {
		return database.ErrBackendLocked
	}
	conn, err := r.pool.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}
	// GET_LOCK returns 1 on success, 0 on timeout and NULL on error.
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", enrollmentLockName).Scan(&got); err != nil {
		_ = conn.Close()
		return fmt.Errorf("GET_LOCK: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return fmt.Errorf("%w: lock %q is held", database.ErrBackendLocked, enrollmentLockName)
	}
	r.lock.conn = conn
	return nil
}

// Unlock releases the named lock and returns its connection to the pool.
func (r *EnrollmentRepository) Unlock() error {
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()

	if r.lock.conn == nil {
		return nil
	}
	conn := r.lock.conn
	r.lock.conn = nil

	_, err := conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", enrollmentLockName)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("RELEASE_LOCK: %w", err)
	}
	return nil
}
