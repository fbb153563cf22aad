package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type ledgerUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	HasCourse(ctx context.Context, username, courseCode string) (bool, error)
}

type ledgerTokenRepository interface {
	Put(ctx context.Context, token *models.SessionToken) error
	Get(ctx context.Context, courseCode string) (*models.SessionToken, error)
	Clear(ctx context.Context, courseCode string) error
}

type ledgerAttendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) error
}

type ledgerNoClassRepository interface {
	Exists(ctx context.Context, courseCode, date string) (bool, error)
	Set(ctx context.Context, flag *models.NoClassFlag) error
	Remove(ctx context.Context, courseCode, date string) error
	ListByCourse(ctx context.Context, courseCode string) ([]models.NoClassFlag, error)
}

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type summaryCacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

type ledgerMetrics interface {
	RecordTokenIssued(courseCode string)
	RecordAttendanceMark(courseCode string)
}

// LedgerConfig holds the attendance session policy knobs.
type LedgerConfig struct {
	TokenTTL time.Duration
}

// LedgerService implements the attendance ledger: issuing session
// tokens, recording scans, and managing no-class days.
type LedgerService struct {
	users     ledgerUserRepository
	tokens    ledgerTokenRepository
	records   ledgerAttendanceRepository
	noClass   ledgerNoClassRepository
	audit     auditWriter
	cache     summaryCacheInvalidator
	metrics   ledgerMetrics
	validator *validator.Validate
	logger    *zap.Logger
	config    LedgerConfig

	now func() time.Time
}

// NewLedgerService constructs a LedgerService instance.
func NewLedgerService(
	users ledgerUserRepository,
	tokens ledgerTokenRepository,
	records ledgerAttendanceRepository,
	noClass ledgerNoClassRepository,
	audit auditWriter,
	cache summaryCacheInvalidator,
	metrics ledgerMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
	config LedgerConfig,
) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 15 * time.Minute
	}
	return &LedgerService{
		users:     users,
		tokens:    tokens,
		records:   records,
		noClass:   noClass,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// today returns the current local calendar-day key. The day boundary is
// the server's local midnight; a scan at 23:59 and one at 00:01 belong
// to different days even when the same token is presented.
func (s *LedgerService) today() string {
	return s.now().Format(models.DateLayout)
}

// IssueToken opens an attendance session for the course. Issuing again
// while a previous token is still live replaces it; only the newest
// token occupies the course slot, though earlier tokens keep validating
// until their own expiry.
func (s *LedgerService) IssueToken(ctx context.Context, teacherUsername, courseCode string) (*dto.IssueTokenResponse, error) {
	teacher, err := s.users.FindByUsername(ctx, teacherUsername)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "issuer no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issuer")
	}
	// Enforced here as well as at the route: only teachers issue tokens.
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}

	assigned, err := s.users.HasCourse(ctx, teacherUsername, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
	}
	if !assigned {
		return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}

	flagged, err := s.noClass.Exists(ctx, courseCode, s.today())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check no-class flag")
	}
	if flagged {
		return nil, appErrors.Clone(appErrors.ErrSessionSuspended, "")
	}

	issuedAt := s.now().UTC()
	token := &models.SessionToken{
		CourseCode: courseCode,
		IssuedBy:   teacherUsername,
		IssuerName: teacher.FullName,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(s.config.TokenTTL),
	}

	if err := s.tokens.Put(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store session token")
	}

	serialized, err := token.Encode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode session token")
	}

	s.recordAudit(ctx, teacherUsername, models.AuditActionTokenIssue, "session_token", courseCode, map[string]interface{}{
		"course_code": courseCode,
		"expires_at":  token.ExpiresAt,
	})
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(courseCode)
	}

	s.logger.Info("session token issued",
		zap.String("course_code", courseCode),
		zap.String("issued_by", teacherUsername),
		zap.Time("expires_at", token.ExpiresAt))

	return &dto.IssueTokenResponse{Token: token, Serialized: serialized}, nil
}

// CurrentToken returns the live token for the course, or nil when the
// slot is empty or holds only an expired token. Expired leftovers are
// cleared on read.
func (s *LedgerService) CurrentToken(ctx context.Context, teacherUsername, courseCode string) (*models.SessionToken, error) {
	assigned, err := s.users.HasCourse(ctx, teacherUsername, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
	}
	if !assigned {
		return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}

	token, err := s.tokens.Get(ctx, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read session token")
	}
	if token == nil {
		return nil, nil
	}
	if token.Expired(s.now()) {
		if err := s.tokens.Clear(ctx, courseCode); err != nil {
			s.logger.Warn("failed to clear expired session token", zap.Error(err))
		}
		return nil, nil
	}
	return token, nil
}

// CancelToken closes the live session for the course, if any. Already
// distributed copies of the token remain valid until their expiry; the
// slot is simply emptied.
func (s *LedgerService) CancelToken(ctx context.Context, teacherUsername, courseCode string) error {
	assigned, err := s.users.HasCourse(ctx, teacherUsername, courseCode)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
	}
	if !assigned {
		return appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}
	if err := s.tokens.Clear(ctx, courseCode); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear session token")
	}
	return nil
}

// RecordAttendance validates a scanned token and marks the student
// present for the token's course on the current day. The check order is
// fixed: parse, expiry, enrollment, duplicate. The duplicate check is
// enforced by the storage layer's uniqueness constraint, so two racing
// scans can never both insert.
func (s *LedgerService) RecordAttendance(ctx context.Context, studentUsername string, req dto.ScanRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload")
	}

	token, err := models.ParseSessionToken(req.Token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrMalformedToken.Code, appErrors.ErrMalformedToken.Status, appErrors.ErrMalformedToken.Message)
	}

	if token.Expired(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}

	enrolled, err := s.users.HasCourse(ctx, studentUsername, token.CourseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "")
	}

	record := &models.AttendanceRecord{
		StudentUsername: studentUsername,
		CourseCode:      token.CourseCode,
		IssuerUsername:  token.IssuedBy,
		Date:            s.today(),
		RecordedAt:      s.now().UTC(),
		Status:          models.AttendanceStatusPresent,
	}

	if err := s.records.Insert(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateMark, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert attendance record")
	}

	if s.cache != nil {
		pattern := fmt.Sprintf("reports:summary:%s:%s", studentUsername, token.CourseCode)
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("failed to invalidate summary cache", zap.Error(err))
		}
	}

	s.recordAudit(ctx, studentUsername, models.AuditActionAttendanceMark, "attendance_record", record.ID, map[string]interface{}{
		"course_code": record.CourseCode,
		"date":        record.Date,
	})
	if s.metrics != nil {
		s.metrics.RecordAttendanceMark(record.CourseCode)
	}

	s.logger.Info("attendance marked",
		zap.String("student", studentUsername),
		zap.String("course_code", record.CourseCode),
		zap.String("date", record.Date))

	return record, nil
}

// SetNoClass flags a course/day as having no session. Flagging today
// blocks further token issuance but does not cancel a token that is
// already live; marks made through it stand.
func (s *LedgerService) SetNoClass(ctx context.Context, teacherUsername, courseCode string, req dto.NoClassRequest) (*models.NoClassFlag, error) {
	assigned, err := s.users.HasCourse(ctx, teacherUsername, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
	}
	if !assigned {
		return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}

	date := req.Date
	if date == "" {
		date = s.today()
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}

	flag := &models.NoClassFlag{
		CourseCode:     courseCode,
		Date:           date,
		IssuerUsername: teacherUsername,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.noClass.Set(ctx, flag); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set no-class flag")
	}

	s.recordAudit(ctx, teacherUsername, models.AuditActionNoClassSet, "no_class_flag", courseCode, map[string]interface{}{
		"course_code": courseCode,
		"date":        date,
	})

	return flag, nil
}

// RemoveNoClass lifts the flag for a course/day, re-enabling issuance.
func (s *LedgerService) RemoveNoClass(ctx context.Context, teacherUsername, courseCode string, req dto.NoClassRequest) error {
	assigned, err := s.users.HasCourse(ctx, teacherUsername, courseCode)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
	}
	if !assigned {
		return appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}

	date := req.Date
	if date == "" {
		date = s.today()
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}

	if err := s.noClass.Remove(ctx, courseCode, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no-class flag not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove no-class flag")
	}

	s.recordAudit(ctx, teacherUsername, models.AuditActionNoClassRemove, "no_class_flag", courseCode, map[string]interface{}{
		"course_code": courseCode,
		"date":        date,
	})

	return nil
}

// ListNoClass returns the no-class days flagged for the course.
func (s *LedgerService) ListNoClass(ctx context.Context, teacherUsername, courseCode string) ([]models.NoClassFlag, error) {
	assigned, err := s.users.HasCourse(ctx, teacherUsername, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course assignment")
	}
	if !assigned {
		return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "")
	}

	flags, err := s.noClass.ListByCourse(ctx, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list no-class flags")
	}
	return flags, nil
}

func (s *LedgerService) recordAudit(ctx context.Context, username, action, resource, resourceID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(values)
	if err != nil {
		payload = nil
	}
	entry := &models.AuditLog{
		Username:   &username,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  payload,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
