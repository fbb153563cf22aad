package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
	"github.com/rollcall-app/rollcall-api/pkg/jobs"
	"github.com/rollcall-app/rollcall-api/pkg/storage"
)

type mockExportJobRepo struct {
	byID map[string]*models.ExportJob
}

func (m *mockExportJobRepo) Create(ctx context.Context, job *models.ExportJob) error {
	if m.byID == nil {
		m.byID = make(map[string]*models.ExportJob)
	}
	m.byID[job.ID] = job
	return nil
}

func (m *mockExportJobRepo) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if j, ok := m.byID[id]; ok {
		out := *j
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExportJobRepo) MarkProcessing(ctx context.Context, id string) error {
	m.byID[id].Status = models.ExportStatusProcessing
	return nil
}

func (m *mockExportJobRepo) MarkFinished(ctx context.Context, id, filePath string, finishedAt time.Time) error {
	j := m.byID[id]
	j.Status = models.ExportStatusFinished
	j.FilePath = &filePath
	j.FinishedAt = &finishedAt
	return nil
}

func (m *mockExportJobRepo) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	j := m.byID[id]
	j.Status = models.ExportStatusFailed
	j.ErrorMessage = &message
	j.FinishedAt = &finishedAt
	return nil
}

type mockQueue struct {
	enqueued []jobs.Job
}

func (m *mockQueue) Enqueue(job jobs.Job) error {
	m.enqueued = append(m.enqueued, job)
	return nil
}

type tmpStorage struct {
	dir string
}

func (s *tmpStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return filename, nil
}

func (s *tmpStorage) Open(filename string) (*os.File, error) {
	return os.Open(filepath.Join(s.dir, filename))
}

func (s *tmpStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	return nil, nil
}

func newExportFixture(t *testing.T) (*ExportService, *mockExportJobRepo, *mockQueue, *mockReportRepo) {
	t.Helper()
	jobsRepo := &mockExportJobRepo{}
	records := &mockReportRepo{records: []models.AttendanceRecord{
		{StudentUsername: "student1", CourseCode: "CS101", IssuerUsername: "teacher1", Date: "2026-01-12", RecordedAt: time.Now(), Status: models.AttendanceStatusPresent},
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"CS101": {Code: "CS101"}}}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewExportService(jobsRepo, records, courses, &tmpStorage{dir: t.TempDir()}, signer, nil, nil, ExportConfig{})
	queue := &mockQueue{}
	svc.SetQueue(queue)
	return svc, jobsRepo, queue, records
}

func TestCreateExportQueuesJob(t *testing.T) {
	svc, repo, queue, _ := newExportFixture(t)

	job, err := svc.Create(context.Background(), "teacher1", dto.CreateExportRequest{
		CourseCode: "CS101", Month: 1, Year: 2026, Format: "csv",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].Payload)
	assert.Contains(t, repo.byID, job.ID)
}

func TestCreateExportUnknownCourse(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.Create(context.Background(), "teacher1", dto.CreateExportRequest{
		CourseCode: "NOPE999", Month: 1, Year: 2026, Format: "csv",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestProcessRendersAndFinishesJob(t *testing.T) {
	svc, repo, queue, _ := newExportFixture(t)

	job, err := svc.Create(context.Background(), "teacher1", dto.CreateExportRequest{
		CourseCode: "CS101", Month: 1, Year: 2026, Format: "csv",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), queue.enqueued[0]))

	stored := repo.byID[job.ID]
	assert.Equal(t, models.ExportStatusFinished, stored.Status)
	require.NotNil(t, stored.FilePath)
	assert.True(t, strings.HasSuffix(*stored.FilePath, ".csv"))

	file, _, err := svc.ResolveDownload(context.Background(), mustSignedToken(t, svc, job.ID, *stored.FilePath))
	require.NoError(t, err)
	defer file.Close()
}

func TestGetAttachesSignedURLWhenFinished(t *testing.T) {
	svc, repo, queue, _ := newExportFixture(t)

	job, err := svc.Create(context.Background(), "teacher1", dto.CreateExportRequest{
		CourseCode: "CS101", Month: 1, Year: 2026, Format: "csv",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Process(context.Background(), queue.enqueued[0]))
	require.Equal(t, models.ExportStatusFinished, repo.byID[job.ID].Status)

	fetched, err := svc.Get(context.Background(), models.JWTClaims{Username: "teacher1", Role: models.RoleTeacher}, job.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.DownloadURL)
	assert.Contains(t, *fetched.DownloadURL, "/api/v1/exports/download?token=")
}

func TestGetRejectsForeignJob(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	job, err := svc.Create(context.Background(), "teacher1", dto.CreateExportRequest{
		CourseCode: "CS101", Month: 1, Year: 2026, Format: "csv",
	})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), models.JWTClaims{Username: "teacher2", Role: models.RoleTeacher}, job.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Get(context.Background(), models.JWTClaims{Username: "admin", Role: models.RoleAdmin}, job.ID)
	require.NoError(t, err)
}

func mustSignedToken(t *testing.T, svc *ExportService, jobID, relPath string) string {
	t.Helper()
	token, _, err := svc.signer.Generate(jobID, relPath)
	require.NoError(t, err)
	return token
}
