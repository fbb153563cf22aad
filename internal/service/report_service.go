package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type reportAttendanceRepository interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
	Summary(ctx context.Context, studentUsername, courseCode string) (*models.AttendanceSummary, error)
}

type reportUserRepository interface {
	HasCourse(ctx context.Context, username, courseCode string) (bool, error)
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type reportMetrics interface {
	RecordCacheOperation(hit bool, duration time.Duration)
	ObserveCacheWrite(duration time.Duration)
}

// ReportConfig holds report caching policy.
type ReportConfig struct {
	SummaryCacheTTL time.Duration
}

// ReportService answers attendance queries scoped to the caller's role:
// students see their own ledger, teachers see the courses they run,
// admins see everything.
type ReportService struct {
	records   reportAttendanceRepository
	users     reportUserRepository
	cache     reportCache
	metrics   reportMetrics
	validator *validator.Validate
	logger    *zap.Logger
	config    ReportConfig
}

// NewReportService constructs a ReportService instance.
func NewReportService(records reportAttendanceRepository, users reportUserRepository, cache reportCache, metrics reportMetrics, validate *validator.Validate, logger *zap.Logger, config ReportConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.SummaryCacheTTL <= 0 {
		config.SummaryCacheTTL = 5 * time.Minute
	}
	return &ReportService{records: records, users: users, cache: cache, metrics: metrics, validator: validate, logger: logger, config: config}
}

// Records lists attendance records for the caller's allowed scope.
func (s *ReportService) Records(ctx context.Context, caller models.JWTClaims, req dto.RecordsRequest) ([]models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid records query")
	}
	if req.Month != 0 && req.Year == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month filter requires a year")
	}

	filter := models.AttendanceFilter{
		StudentUsername: req.StudentUsername,
		CourseCode:      req.CourseCode,
		Month:           req.Month,
		Year:            req.Year,
		SortDescending:  strings.EqualFold(req.SortOrder, "desc"),
	}

	switch caller.Role {
	case models.RoleStudent:
		// Students can only read their own ledger regardless of the
		// requested filter.
		filter.StudentUsername = caller.Username
	case models.RoleTeacher:
		if filter.CourseCode == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "teachers must scope queries to a course")
		}
		assigned, err := s.users.HasCourse(ctx, caller.Username, filter.CourseCode)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
		}
		if !assigned {
			return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
		}
	case models.RoleAdmin:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	records, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance records")
	}
	return records, nil
}

// Summary returns the aggregated presence figures for a student/course
// pair, served from cache when fresh. The second return value reports
// whether the cache answered.
func (s *ReportService) Summary(ctx context.Context, caller models.JWTClaims, req dto.SummaryRequest) (*models.AttendanceSummary, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid summary query")
	}

	switch caller.Role {
	case models.RoleStudent:
		if req.StudentUsername != caller.Username {
			return nil, false, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own summary")
		}
	case models.RoleTeacher:
		assigned, err := s.users.HasCourse(ctx, caller.Username, req.CourseCode)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
		}
		if !assigned {
			return nil, false, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
		}
	case models.RoleAdmin:
	default:
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	key := fmt.Sprintf("reports:summary:%s:%s", req.StudentUsername, req.CourseCode)

	if s.cache != nil {
		var cached models.AttendanceSummary
		start := time.Now()
		err := s.cache.Get(ctx, key, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		}
		if err == nil {
			return &cached, true, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("summary cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	summary, err := s.records.Summary(ctx, req.StudentUsername, req.CourseCode)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute attendance summary")
	}

	if s.cache != nil {
		start := time.Now()
		if err := s.cache.Set(ctx, key, summary, s.config.SummaryCacheTTL); err != nil {
			s.logger.Warn("summary cache write failed", zap.String("key", key), zap.Error(err))
		} else if s.metrics != nil {
			s.metrics.ObserveCacheWrite(time.Since(start))
		}
	}

	return summary, false, nil
}
