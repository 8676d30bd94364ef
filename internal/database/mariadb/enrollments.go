package mariadb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/descriptor"
)

// The descriptor is stored as a JSON list [d1, d2, ..., dn].
const upsertEnrollment = `
	INSERT INTO enrollments (identity_id, descriptor, dim, display_name, email, angle_count, model, enrolled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		descriptor   = VALUES(descriptor),
		dim          = VALUES(dim),
		display_name = VALUES(display_name),
		email        = VALUES(email),
		angle_count  = VALUES(angle_count),
		model        = VALUES(model),
		enrolled_at  = VALUES(enrolled_at),
		updated_at   = CURRENT_TIMESTAMP(6)
`

// EnrollmentRepository is the MariaDB persistence backend of the encoding store.
type EnrollmentRepository struct {
	pool *Pool
	lock namedLock
}

var (
	_ database.Backend  = (*EnrollmentRepository)(nil)
	_ database.Replacer = (*EnrollmentRepository)(nil)
)

// NewEnrollmentRepository creates a new MariaDB enrollment repository.
func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// Save upserts an enrollment.
func (r *EnrollmentRepository) Save(ctx context.Context, e database.Enrollment) error {
	args, err := enrollmentArgs(e)
	if err != nil {
		return err
	}
	if _, err := r.pool.db.ExecContext(ctx, upsertEnrollment, args...); err != nil {
		return fmt.Errorf("save enrollment %s: %w", e.IdentityID, err)
	}
	return nil
}

// Delete removes an enrollment. Missing rows are not an error.
func (r *EnrollmentRepository) Delete(ctx context.Context, identityID string) error {
	if _, err := r.pool.db.ExecContext(ctx, `DELETE FROM enrollments WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("delete enrollment %s: %w", identityID, err)
	}
	return nil
}

// LoadAll returns every enrollment ordered by identity.
func (r *EnrollmentRepository) LoadAll(ctx context.Context) ([]database.Enrollment, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
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
		var e database.Enrollment
		var raw []byte
		var dim int
		if err := rows.Scan(&e.IdentityID, &raw, &dim, &e.Metadata.DisplayName, &e.Metadata.Email,
			&e.AngleCount, &e.Model, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Descriptor); err != nil {
			return nil, fmt.Errorf("decode descriptor of %s: %w", e.IdentityID, err)
		}
		if len(e.Descriptor) != dim {
			return nil, fmt.Errorf("enrollment %s: %w: stored dim %d, descriptor has %d",
				e.IdentityID, descriptor.ErrDimensionMismatch, dim, len(e.Descriptor))
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
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(enrollments) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments`); err != nil {
			return fmt.Errorf("delete enrollments: %w", err)
		}
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(enrollments)), ",")
		ids := make([]any, 0, len(enrollments))
		for _, e := range enrollments {
			ids = append(ids, e.IdentityID)
		}
		query := `DELETE FROM enrollments WHERE identity_id NOT IN (` + placeholders + `)`
		if _, err := tx.ExecContext(ctx, query, ids...); err != nil {
			return fmt.Errorf("delete stale enrollments: %w", err)
		}
	}

	for _, e := range enrollments {
		args, err := enrollmentArgs(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertEnrollment, args...); err != nil {
			return fmt.Errorf("save enrollment %s: %w", e.IdentityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func enrollmentArgs(e database.Enrollment) ([]any, error) {
	data, err := json.Marshal(e.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	return []any{
		e.IdentityID,
		data,
		len(e.Descriptor),
		e.Metadata.DisplayName,
		e.Metadata.Email,
		e.AngleCount,
		e.Model,
		e.EnrolledAt.UTC(),
	}, nil
}
