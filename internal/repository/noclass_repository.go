package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

// NoClassRepository persists per-course no-class day flags.
type NoClassRepository struct {
	db *sqlx.DB
}

// NewNoClassRepository constructs the repository.
func NewNoClassRepository(db *sqlx.DB) *NoClassRepository {
	return &NoClassRepository{db: db}
}

// Exists reports whether the (course, date) pair is flagged.
func (r *NoClassRepository) Exists(ctx context.Context, courseCode, date string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM no_class_flags WHERE course_code = $1 AND date = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseCode, date); err != nil {
		return false, fmt.Errorf("check no-class flag: %w", err)
	}
	return exists, nil
}

// Set records the flag; setting an already-set pair is a no-op.
func (r *NoClassRepository) Set(ctx context.Context, flag *models.NoClassFlag) error {
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO no_class_flags (course_code, date, issuer_username, created_at)
VALUES (:course_code, :date, :issuer_username, :created_at)
ON CONFLICT (course_code, date) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, flag); err != nil {
		return fmt.Errorf("set no-class flag: %w", err)
	}
	return nil
}

// Remove deletes the flag for the pair.
func (r *NoClassRepository) Remove(ctx context.Context, courseCode, date string) error {
	const query = `DELETE FROM no_class_flags WHERE course_code = $1 AND date = $2`
	result, err := r.db.ExecContext(ctx, query, courseCode, date)
	if err != nil {
		return fmt.Errorf("remove no-class flag: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByCourse returns the flags recorded for a course, newest first.
func (r *NoClassRepository) ListByCourse(ctx context.Context, courseCode string) ([]models.NoClassFlag, error) {
	const query = `SELECT course_code, to_char(date, 'YYYY-MM-DD') AS date, issuer_username, created_at FROM no_class_flags WHERE course_code = $1 ORDER BY date DESC`
	flags := []models.NoClassFlag{}
	if err := r.db.SelectContext(ctx, &flags, query, courseCode); err != nil {
		return nil, fmt.Errorf("list no-class flags: %w", err)
	}
	return flags, nil
}
