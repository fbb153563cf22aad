package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type mockReportRepo struct {
	records    []models.AttendanceRecord
	summary    *models.AttendanceSummary
	lastFilter models.AttendanceFilter
	queries    int
}

func (m *mockReportRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	m.lastFilter = filter
	return m.records, nil
}

func (m *mockReportRepo) Summary(ctx context.Context, studentUsername, courseCode string) (*models.AttendanceSummary, error) {
	m.queries++
	return m.summary, nil
}

type mockReportCache struct {
	store map[string][]byte
}

func (m *mockReportCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockReportCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.store == nil {
		m.store = make(map[string][]byte)
	}
	m.store[key] = raw
	return nil
}

func newReportFixture(t *testing.T) (*ReportService, *mockReportRepo, *mockReportCache) {
	t.Helper()
	repo := &mockReportRepo{
		records: []models.AttendanceRecord{{StudentUsername: "student1", CourseCode: "CS101", Date: "2026-01-12"}},
		summary: &models.AttendanceSummary{StudentUsername: "student1", CourseCode: "CS101", DaysPresent: 8, SessionDays: 10, Percent: 80},
	}
	users := &mockLedgerUserRepo{courses: map[string]map[string]bool{
		"teacher1": {"CS101": true},
	}}
	cache := &mockReportCache{}
	svc := NewReportService(repo, users, cache, nil, nil, nil, ReportConfig{SummaryCacheTTL: time.Minute})
	return svc, repo, cache
}

func TestRecordsStudentScopedToSelf(t *testing.T) {
	svc, repo, _ := newReportFixture(t)
	caller := models.JWTClaims{Username: "student1", Role: models.RoleStudent}

	_, err := svc.Records(context.Background(), caller, dto.RecordsRequest{StudentUsername: "student2"})
	require.NoError(t, err)
	assert.Equal(t, "student1", repo.lastFilter.StudentUsername)
}

func TestRecordsTeacherRequiresAssignedCourse(t *testing.T) {
	svc, _, _ := newReportFixture(t)
	caller := models.JWTClaims{Username: "teacher1", Role: models.RoleTeacher}

	_, err := svc.Records(context.Background(), caller, dto.RecordsRequest{CourseCode: "MATH201"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTeacherNotAssigned.Code, appErrors.FromError(err).Code)

	_, err = svc.Records(context.Background(), caller, dto.RecordsRequest{CourseCode: "CS101"})
	require.NoError(t, err)
}

func TestRecordsTeacherMustScopeToCourse(t *testing.T) {
	svc, _, _ := newReportFixture(t)
	caller := models.JWTClaims{Username: "teacher1", Role: models.RoleTeacher}

	_, err := svc.Records(context.Background(), caller, dto.RecordsRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRecordsMonthFilterRequiresYear(t *testing.T) {
	svc, _, _ := newReportFixture(t)
	caller := models.JWTClaims{Username: "admin", Role: models.RoleAdmin}

	_, err := svc.Records(context.Background(), caller, dto.RecordsRequest{Month: 3})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSummaryCachesResult(t *testing.T) {
	svc, repo, cache := newReportFixture(t)
	caller := models.JWTClaims{Username: "admin", Role: models.RoleAdmin}
	req := dto.SummaryRequest{StudentUsername: "student1", CourseCode: "CS101"}

	summary, cacheHit, err := svc.Summary(context.Background(), caller, req)
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 80.0, summary.Percent)
	assert.Contains(t, cache.store, "reports:summary:student1:CS101")

	summary, cacheHit, err = svc.Summary(context.Background(), caller, req)
	require.NoError(t, err)
	assert.True(t, cacheHit)
	assert.Equal(t, 8, summary.DaysPresent)
	assert.Equal(t, 1, repo.queries)
}

func TestSummaryStudentCannotReadOthers(t *testing.T) {
	svc, _, _ := newReportFixture(t)
	caller := models.JWTClaims{Username: "student2", Role: models.RoleStudent}

	_, _, err := svc.Summary(context.Background(), caller, dto.SummaryRequest{StudentUsername: "student1", CourseCode: "CS101"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
