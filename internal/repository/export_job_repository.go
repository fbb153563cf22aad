package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

// ExportJobRepository persists report export job metadata.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository constructs the repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a queued job row.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	const query = `INSERT INTO export_jobs (id, requested_by, course_code, month, year, format, status, file_path, error_message, created_at, finished_at)
VALUES (:id, :requested_by, :course_code, :month, :year, :format, :status, :file_path, :error_message, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID returns a job by identifier.
func (r *ExportJobRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	const query = `SELECT id, requested_by, course_code, month, year, format, status, file_path, error_message, created_at, finished_at FROM export_jobs WHERE id = $1 LIMIT 1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find export job: %w", err)
	}
	return &job, nil
}

// MarkProcessing flips the job into the processing state.
func (r *ExportJobRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `UPDATE export_jobs SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusProcessing); err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}
	return nil
}

// MarkFinished records the output file and completion time.
func (r *ExportJobRepository) MarkFinished(ctx context.Context, id, filePath string, finishedAt time.Time) error {
	const query = `UPDATE export_jobs SET status = $2, file_path = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusFinished, filePath, finishedAt); err != nil {
		return fmt.Errorf("mark export job finished: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure.
func (r *ExportJobRepository) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	const query = `UPDATE export_jobs SET status = $2, error_message = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusFailed, message, finishedAt); err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}
