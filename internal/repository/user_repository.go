package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a user by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	const query = `SELECT username, password_hash, full_name, role, roll_no, active, created_at, updated_at FROM users WHERE username = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByRollNo returns a student by roll number.
func (r *UserRepository) FindByRollNo(ctx context.Context, rollNo string) (*models.User, error) {
	const query = `SELECT username, password_hash, full_name, role, roll_no, active, created_at, updated_at FROM users WHERE role = $1 AND roll_no = $2 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, models.RoleStudent, rollNo); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by roll no: %w", err)
	}
	return &user, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(username) LIKE $%d OR LOWER(full_name) LIKE $%d OR LOWER(roll_no) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]bool{
		"username":   true,
		"created_at": true,
		"updated_at": true,
		"full_name":  true,
		"roll_no":    true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT username, password_hash, full_name, role, roll_no, active, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (username, password_hash, full_name, role, roll_no, active, created_at, updated_at) VALUES (:username, :password_hash, :full_name, :role, :roll_no, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, username, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE username = $1`
	if _, err := r.db.ExecContext(ctx, query, username, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Delete removes a user; enrollment rows cascade at the database level.
func (r *UserRepository) Delete(ctx context.Context, username string) error {
	const query = `DELETE FROM users WHERE username = $1`
	result, err := r.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CourseCodes returns the enrolled or assigned course codes for a user.
func (r *UserRepository) CourseCodes(ctx context.Context, username string) ([]string, error) {
	const query = `SELECT course_code FROM user_courses WHERE username = $1 ORDER BY course_code`
	codes := []string{}
	if err := r.db.SelectContext(ctx, &codes, query, username); err != nil {
		return nil, fmt.Errorf("list course codes: %w", err)
	}
	return codes, nil
}

// HasCourse reports whether the given course code is in the user's set.
func (r *UserRepository) HasCourse(ctx context.Context, username, courseCode string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM user_courses WHERE username = $1 AND course_code = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, username, courseCode); err != nil {
		return false, fmt.Errorf("check course membership: %w", err)
	}
	return exists, nil
}

// ReplaceCourses swaps the user's course set for the provided codes.
func (r *UserRepository) ReplaceCourses(ctx context.Context, username string, codes []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace courses: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_courses WHERE username = $1`, username); err != nil {
		return fmt.Errorf("clear course set: %w", err)
	}
	const insert = `INSERT INTO user_courses (username, course_code) VALUES ($1, $2)`
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, insert, username, code); err != nil {
			return fmt.Errorf("add course %s: %w", code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace courses: %w", err)
	}
	commit = true
	return nil
}
