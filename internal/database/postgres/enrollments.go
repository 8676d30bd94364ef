package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/descriptor"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const upsertEnrollment = `
	INSERT INTO enrollments (identity_id, descriptor, dim, display_name, email, angle_count, model, enrolled_at, updated_at)
	VALUES ($1, $2::vector, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (identity_id) DO UPDATE SET
		descriptor   = EXCLUDED.descriptor,
		dim          = EXCLUDED.dim,
		display_name = EXCLUDED.display_name,
		email        = EXCLUDED.email,
		angle_count  = EXCLUDED.angle_count,
		model        = EXCLUDED.model,
		enrolled_at  = EXCLUDED.enrolled_at,
		updated_at   = NOW()
`

// EnrollmentRepository is the PostgreSQL persistence backend of the encoding store.
type EnrollmentRepository struct {
	pool *Pool
	lock advisoryLock
}

var (
	_ database.Backend  = (*EnrollmentRepository)(nil)
	_ database.Replacer = (*EnrollmentRepository)(nil)
)

// NewEnrollmentRepository creates a new PostgreSQL enrollment repository.
func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// Save upserts an enrollment.
func (r *EnrollmentRepository) Save(ctx context.Context, e database.Enrollment) error {
	if _, err := r.pool.Exec(ctx, upsertEnrollment, enrollmentArgs(e)...); err != nil {
		return fmt.Errorf("save enrollment %s: %w", e.IdentityID, err)
	}
	return nil
}

// Delete removes an enrollment. Missing rows are not an error.
func (r *EnrollmentRepository) Delete(ctx context.Context, identityID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM enrollments WHERE identity_id = $1", identityID); err != nil {
		return fmt.Errorf("delete enrollment %s: %w", identityID, err)
	}
	return nil
}

// LoadAll returns every enrollment ordered by identity.
func (r *EnrollmentRepository) LoadAll(ctx context.Context) ([]database.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity_id, descriptor, dim, display_name, email, angle_count, model, enrolled_at
		FROM enrollments
		ORDER BY identity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []database.Enrollment
	for rows.Next() {
		e, err := scanEnrollmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return out, nil
}

// ReplaceAll makes the table hold exactly the given enrollments, in one transaction.
func (r *EnrollmentRepository) ReplaceAll(ctx context.Context, enrollments []database.Enrollment) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.IdentityID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM enrollments WHERE NOT (identity_id = ANY($1))", pq.Array(ids)); err != nil {
		return fmt.Errorf("delete stale enrollments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertEnrollment)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range enrollments {
		if _, err := stmt.ExecContext(ctx, enrollmentArgs(e)...); err != nil {
			return fmt.Errorf("save enrollment %s: %w", e.IdentityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of stored enrollments.
func (r *EnrollmentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM enrollments").Scan(&count); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

func enrollmentArgs(e database.Enrollment) []any {
	return []any{
		e.IdentityID,
		pgvector.NewVector([]float32(e.Descriptor)),
		len(e.Descriptor),
		e.Metadata.DisplayName,
		e.Metadata.Email,
		e.AngleCount,
		e.Model,
		e.EnrolledAt,
	}
}

func scanEnrollmentRow(scanner interface{ Scan(...any) error }) (database.Enrollment, error) {
	var e database.Enrollment
	var vec pgvector.Vector
	var dim int
	var model sql.NullString

	if err := scanner.Scan(
		&e.IdentityID,
		&vec,
		&dim,
		&e.Metadata.DisplayName,
		&e.Metadata.Email,
		&e.AngleCount,
		&model,
		&e.EnrolledAt,
	); err != nil {
		return e, fmt.Errorf("scan enrollment: %w", err)
	}

	e.Descriptor = descriptor.Descriptor(vec.Slice())
	if len(e.Descriptor) != dim {
		return e, fmt.Errorf("enrollment %s: %w: stored dim %d, vector has %d",
			e.IdentityID, descriptor.ErrDimensionMismatch, dim, len(e.Descriptor))
	}
	if model.Valid {
		e.Model = model.String
	}
	return e, nil
}
