package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type userRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByRollNo(ctx context.Context, rollNo string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, username string) error
	CourseCodes(ctx context.Context, username string) ([]string, error)
	ReplaceCourses(ctx context.Context, username string, codes []string) error
}

type courseReader interface {
	FindByCode(ctx context.Context, code string) (*models.Course, error)
}

// UserService provides admin user management.
type UserService struct {
	repo      userRepository
	courses   courseReader
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(repo userRepository, courses courseReader, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, courses: courses, audit: audit, validator: validate, logger: logger}
}

// List returns users matching the filter plus pagination metadata.
func (s *UserService) List(ctx context.Context, req dto.ListUsersRequest) ([]models.User, *models.Pagination, error) {
	filter := models.UserFilter{
		Search:   req.Search,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.Role != "" {
		role := models.UserRole(req.Role)
		if !role.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role filter")
		}
		filter.Role = &role
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	return users, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a single user with their course links.
func (s *UserService) Get(ctx context.Context, username string) (*models.UserDetail, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	codes, err := s.repo.CourseCodes(ctx, username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch course links")
	}

	return &models.UserDetail{User: *user, Courses: codes}, nil
}

// Create adds a user. Roll numbers are required for students and
// rejected for other roles; both roll numbers and usernames double as
// login identifiers so they share a namespace. A student created
// without a username gets student{rollNo}.
func (s *UserService) Create(ctx context.Context, actor string, req dto.CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	role := models.UserRole(req.Role)
	if role == models.RoleStudent && (req.RollNo == nil || *req.RollNo == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students require a roll number")
	}
	if role != models.RoleStudent && req.RollNo != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roll numbers are only valid for students")
	}
	if req.Username == "" {
		if role != models.RoleStudent {
			return nil, appErrors.Clone(appErrors.ErrValidation, "username is required")
		}
		req.Username = "student" + *req.RollNo
	}

	if _, err := s.repo.FindByUsername(ctx, req.Username); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	if req.RollNo != nil {
		if _, err := s.repo.FindByRollNo(ctx, *req.RollNo); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "roll number already taken")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check roll number")
		}
	}

	for _, code := range req.Courses {
		if _, err := s.courses.FindByCode(ctx, code); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "unknown course: "+code)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         role,
		RollNo:       req.RollNo,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if len(req.Courses) > 0 {
		if err := s.repo.ReplaceCourses(ctx, user.Username, req.Courses); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link courses")
		}
	}

	s.recordAudit(ctx, actor, models.AuditActionUserCreate, "user", user.Username)
	s.logger.Info("user created", zap.String("username", user.Username), zap.String("role", string(user.Role)))

	return user, nil
}

// AssignCourses replaces the user's course links with the given set.
func (s *UserService) AssignCourses(ctx context.Context, username string, req dto.AssignCoursesRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course assignment payload")
	}

	if _, err := s.repo.FindByUsername(ctx, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	for _, code := range req.Courses {
		if _, err := s.courses.FindByCode(ctx, code); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "unknown course: "+code)
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course")
		}
	}

	if err := s.repo.ReplaceCourses(ctx, username, req.Courses); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace course links")
	}
	return nil
}

// Delete removes a user and their course links. Attendance records the
// user already produced are kept; the ledger is append-only.
func (s *UserService) Delete(ctx context.Context, actor, username string) error {
	if actor == username {
		return appErrors.Clone(appErrors.ErrValidation, "cannot delete your own account")
	}

	if err := s.repo.Delete(ctx, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.recordAudit(ctx, actor, models.AuditActionUserDelete, "user", username)
	return nil
}

func (s *UserService) recordAudit(ctx context.Context, actor, action, resource, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Username:   &actor,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
