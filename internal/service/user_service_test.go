package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type mockUserRepo struct {
	users    map[string]*models.User
	byRollNo map[string]*models.User
	links    map[string][]string
	deleted  []string
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := m.users[username]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByRollNo(ctx context.Context, rollNo string) (*models.User, error) {
	if u, ok := m.byRollNo[rollNo]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	m.users[user.Username] = user
	if user.RollNo != nil {
		if m.byRollNo == nil {
			m.byRollNo = make(map[string]*models.User)
		}
		m.byRollNo[*user.RollNo] = user
	}
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, username string) error {
	if _, ok := m.users[username]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, username)
	m.deleted = append(m.deleted, username)
	return nil
}

func (m *mockUserRepo) CourseCodes(ctx context.Context, username string) ([]string, error) {
	return m.links[username], nil
}

func (m *mockUserRepo) ReplaceCourses(ctx context.Context, username string, codes []string) error {
	if m.links == nil {
		m.links = make(map[string][]string)
	}
	m.links[username] = codes
	return nil
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	if c, ok := m.courses[code]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func newUserFixture(t *testing.T) (*UserService, *mockUserRepo) {
	t.Helper()
	repo := &mockUserRepo{
		users: map[string]*models.User{
			"admin": {Username: "admin", Role: models.RoleAdmin, Active: true},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"CS101": {Code: "CS101", Name: "Intro to CS"},
	}}
	svc := NewUserService(repo, courses, &mockAuditWriter{}, nil, nil)
	return svc, repo
}

func TestCreateStudentWithEnrollments(t *testing.T) {
	svc, repo := newUserFixture(t)

	roll := "21CS042"
	user, err := svc.Create(context.Background(), "admin", dto.CreateUserRequest{
		Username: "student1",
		Password: "secret123",
		FullName: "Sam Pole",
		Role:     "STUDENT",
		RollNo:   &roll,
		Courses:  []string{"CS101"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.True(t, user.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))
	assert.Equal(t, []string{"CS101"}, repo.links["student1"])
}

func TestCreateStudentDerivesUsernameFromRollNo(t *testing.T) {
	svc, _ := newUserFixture(t)

	roll := "21CS042"
	user, err := svc.Create(context.Background(), "admin", dto.CreateUserRequest{
		Password: "secret123",
		FullName: "Sam Pole",
		Role:     "STUDENT",
		RollNo:   &roll,
	})
	require.NoError(t, err)
	assert.Equal(t, "student21CS042", user.Username)
}

func TestCreateStudentRequiresRollNo(t *testing.T) {
	svc, _ := newUserFixture(t)

	_, err := svc.Create(context.Background(), "admin", dto.CreateUserRequest{
		Username: "student1",
		Password: "secret123",
		FullName: "Sam Pole",
		Role:     "STUDENT",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newUserFixture(t)

	_, err := svc.Create(context.Background(), "admin", dto.CreateUserRequest{
		Username: "admin",
		Password: "secret123",
		FullName: "Second Admin",
		Role:     "ADMIN",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateUserRejectsUnknownCourse(t *testing.T) {
	svc, _ := newUserFixture(t)

	_, err := svc.Create(context.Background(), "admin", dto.CreateUserRequest{
		Username: "teacher1",
		Password: "secret123",
		FullName: "Jane Grey",
		Role:     "TEACHER",
		Courses:  []string{"NOPE999"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignCoursesReplacesLinks(t *testing.T) {
	svc, repo := newUserFixture(t)
	repo.users["teacher1"] = &models.User{Username: "teacher1", Role: models.RoleTeacher, Active: true}
	repo.links = map[string][]string{"teacher1": {"MATH201"}}

	err := svc.AssignCourses(context.Background(), "teacher1", dto.AssignCoursesRequest{Courses: []string{"CS101"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CS101"}, repo.links["teacher1"])
}

func TestDeleteUser(t *testing.T) {
	svc, repo := newUserFixture(t)
	repo.users["student1"] = &models.User{Username: "student1", Role: models.RoleStudent}

	require.NoError(t, svc.Delete(context.Background(), "admin", "student1"))
	assert.Equal(t, []string{"student1"}, repo.deleted)
}

func TestDeleteUserRefusesSelf(t *testing.T) {
	svc, _ := newUserFixture(t)

	err := svc.Delete(context.Background(), "admin", "admin")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGetUserWithCourses(t *testing.T) {
	svc, repo := newUserFixture(t)
	repo.users["student1"] = &models.User{Username: "student1", Role: models.RoleStudent}
	repo.links = map[string][]string{"student1": {"CS101", "MATH201"}}

	detail, err := svc.Get(context.Background(), "student1")
	require.NoError(t, err)
	assert.Equal(t, []string{"CS101", "MATH201"}, detail.Courses)
}
