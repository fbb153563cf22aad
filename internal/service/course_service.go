package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context) ([]models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, code string) error
}

// CourseService provides admin course management.
type CourseService struct {
	repo      courseRepository
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs a CourseService instance.
func NewCourseService(repo courseRepository, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns all courses.
func (s *CourseService) List(ctx context.Context) ([]models.Course, error) {
	courses, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// Get returns one course by code.
func (s *CourseService) Get(ctx context.Context, code string) (*models.Course, error) {
	course, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch course")
	}
	return course, nil
}

// Create adds a course. Codes are normalised to upper case so the
// ledger's course keys stay canonical.
func (s *CourseService) Create(ctx context.Context, actor string, req dto.CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))

	if _, err := s.repo.FindByCode(ctx, code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}

	course := &models.Course{
		Code:      code,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.recordAudit(ctx, actor, models.AuditActionCourseCreate, course.Code)
	s.logger.Info("course created", zap.String("code", course.Code))

	return course, nil
}

// Delete removes a course and unlinks all users from it. Attendance
// already recorded against the course stays in the ledger.
func (s *CourseService) Delete(ctx context.Context, actor, code string) error {
	if err := s.repo.Delete(ctx, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	s.recordAudit(ctx, actor, models.AuditActionCourseDelete, code)
	return nil
}

func (s *CourseService) recordAudit(ctx context.Context, actor, action, code string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Username:   &actor,
		Action:     action,
		Resource:   "course",
		ResourceID: &code,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
