package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
	"github.com/rollcall-app/rollcall-api/pkg/export"
	"github.com/rollcall-app/rollcall-api/pkg/jobs"
	"github.com/rollcall-app/rollcall-api/pkg/storage"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, filePath string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error
}

type exportAttendanceRepository interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
}

type exportCourseReader interface {
	FindByCode(ctx context.Context, code string) (*models.Course, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	ResultTTL time.Duration
}

// ExportService runs monthly attendance report exports as background
// jobs. Clients create a job, poll its status, and follow the signed
// download URL once it is finished.
type ExportService struct {
	exports   exportJobRepository
	records   exportAttendanceRepository
	courses   exportCourseReader
	storage   exportFileStorage
	queue     jobEnqueuer
	signer    *storage.SignedURLSigner
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(
	exports exportJobRepository,
	records exportAttendanceRepository,
	courses exportCourseReader,
	fileStorage exportFileStorage,
	signer *storage.SignedURLSigner,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ExportConfig,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		exports:   exports,
		records:   records,
		courses:   courses,
		storage:   fileStorage,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetQueue attaches the worker queue used to run jobs. The queue's
// handler is expected to be Process.
func (s *ExportService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Create validates the request, persists a queued job and hands it to
// the worker pool.
func (s *ExportService) Create(ctx context.Context, requestedBy string, req dto.CreateExportRequest) (*models.ExportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export worker is not running")
	}

	if _, err := s.courses.FindByCode(ctx, req.CourseCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course")
	}

	job := &models.ExportJob{
		ID:          uuid.NewString(),
		RequestedBy: requestedBy,
		CourseCode:  req.CourseCode,
		Month:       req.Month,
		Year:        req.Year,
		Format:      models.ExportFormat(req.Format),
		Status:      models.ExportStatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.exports.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "attendance_export", Payload: job.ID}); err != nil {
		now := time.Now().UTC()
		if markErr := s.exports.MarkFailed(ctx, job.ID, "failed to enqueue", now); markErr != nil {
			s.logger.Warn("failed to mark unqueued export job", zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}

	s.logger.Info("export job queued",
		zap.String("job_id", job.ID),
		zap.String("course_code", job.CourseCode),
		zap.String("format", string(job.Format)))

	return job, nil
}

// Get returns the job with a signed download URL attached once finished.
// Only the requester or an admin may read a job.
func (s *ExportService) Get(ctx context.Context, caller models.JWTClaims, id string) (*models.ExportJob, error) {
	job, err := s.exports.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch export job")
	}

	if caller.Role != models.RoleAdmin && job.RequestedBy != caller.Username {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export job belongs to another user")
	}

	if job.Status == models.ExportStatusFinished && job.FilePath != nil && s.signer != nil {
		token, _, err := s.signer.Generate(job.ID, *job.FilePath)
		if err != nil {
			s.logger.Warn("failed to sign download url", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			url := "/api/v1/exports/download?token=" + token
			job.DownloadURL = &url
		}
	}

	return job, nil
}

// ResolveDownload verifies a signed download token and opens the
// exported file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*os.File, *models.ExportJob, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}

	job, err := s.exports.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch export job")
	}
	if job.Status != models.ExportStatusFinished || job.FilePath == nil || *job.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export file is not available")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return file, job, nil
}

// Process is the queue handler: it renders and stores the export named
// by the job payload.
func (s *ExportService) Process(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected export payload type %T", job.Payload)
	}

	record, err := s.exports.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", id, err)
	}

	if err := s.exports.MarkProcessing(ctx, id); err != nil {
		return fmt.Errorf("mark export job %s processing: %w", id, err)
	}

	relPath, err := s.render(ctx, record)
	if err != nil {
		now := time.Now().UTC()
		if markErr := s.exports.MarkFailed(ctx, id, err.Error(), now); markErr != nil {
			s.logger.Error("failed to mark export job failed", zap.String("job_id", id), zap.Error(markErr))
		}
		return err
	}

	if err := s.exports.MarkFinished(ctx, id, relPath, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark export job %s finished: %w", id, err)
	}

	s.logger.Info("export job finished", zap.String("job_id", id), zap.String("file", relPath))
	return nil
}

// Cleanup deletes exported files older than the result TTL.
func (s *ExportService) Cleanup() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("export cleanup removed files", zap.Int("count", len(removed)))
	}
}

func (s *ExportService) render(ctx context.Context, job *models.ExportJob) (string, error) {
	records, err := s.records.List(ctx, models.AttendanceFilter{
		CourseCode: job.CourseCode,
		Month:      job.Month,
		Year:       job.Year,
	})
	if err != nil {
		return "", fmt.Errorf("list attendance for export: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"date", "student", "course", "issued_by", "recorded_at", "status"},
	}
	for _, rec := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"date":        rec.Date,
			"student":     rec.StudentUsername,
			"course":      rec.CourseCode,
			"issued_by":   rec.IssuerUsername,
			"recorded_at": rec.RecordedAt.Format(time.RFC3339),
			"status":      string(rec.Status),
		})
	}

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		title := fmt.Sprintf("Attendance %s %04d-%02d", job.CourseCode, job.Year, job.Month)
		payload, err = s.pdf.Render(dataset, title)
	default:
		return "", fmt.Errorf("unsupported export format %q", job.Format)
	}
	if err != nil {
		return "", fmt.Errorf("render export: %w", err)
	}

	filename := "attendance-" + job.CourseCode + "-" +
		strconv.Itoa(job.Year) + "-" + fmt.Sprintf("%02d", job.Month) + "-" + job.ID + "." + string(job.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return relPath, nil
}
