package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type mockCourseRepo struct {
	courses map[string]*models.Course
	deleted []string
}

func (m *mockCourseRepo) List(ctx context.Context) ([]models.Course, error) {
	var out []models.Course
	for _, c := range m.courses {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCourseRepo) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	if c, ok := m.courses[code]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]*models.Course)
	}
	m.courses[course.Code] = course
	return nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, code string) error {
	if _, ok := m.courses[code]; !ok {
		return sql.ErrNoRows
	}
	delete(m.courses, code)
	m.deleted = append(m.deleted, code)
	return nil
}

func TestCreateCourseNormalisesCode(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, &mockAuditWriter{}, nil, nil)

	course, err := svc.Create(context.Background(), "admin", dto.CreateCourseRequest{Code: " cs101 ", Name: " Intro to CS "})
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.Code)
	assert.Equal(t, "Intro to CS", course.Name)
}

func TestCreateCourseRejectsDuplicate(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]*models.Course{"CS101": {Code: "CS101"}}}
	svc := NewCourseService(repo, &mockAuditWriter{}, nil, nil)

	_, err := svc.Create(context.Background(), "admin", dto.CreateCourseRequest{Code: "CS101", Name: "Intro to CS"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDeleteCourse(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]*models.Course{"CS101": {Code: "CS101"}}}
	svc := NewCourseService(repo, &mockAuditWriter{}, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "admin", "CS101"))
	assert.Equal(t, []string{"CS101"}, repo.deleted)

	err := svc.Delete(context.Background(), "admin", "CS101")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
