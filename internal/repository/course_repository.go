package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

// CourseRepository persists the course catalogue.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns every course ordered by code.
func (r *CourseRepository) List(ctx context.Context) ([]models.Course, error) {
	const query = `SELECT code, name, created_at FROM courses ORDER BY code`
	courses := []models.Course{}
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// FindByCode returns a single course.
func (r *CourseRepository) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	const query = `SELECT code, name, created_at FROM courses WHERE code = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.CreatedAt.IsZero() {
		course.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO courses (code, name, created_at) VALUES (:code, :name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Delete removes a course and unlinks it from every user's course set
// in one transaction, so no enrollment keeps pointing at a dead code.
func (r *CourseRepository) Delete(ctx context.Context, code string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete course: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_courses WHERE course_code = $1`, code); err != nil {
		return fmt.Errorf("unlink course: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete course: %w", err)
	}
	commit = true
	return nil
}
