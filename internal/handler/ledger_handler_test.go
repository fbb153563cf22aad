package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/middleware"
	"github.com/rollcall-app/rollcall-api/internal/models"
	"github.com/rollcall-app/rollcall-api/internal/service"
)

type stubUserRepo struct {
	courses map[string]map[string]bool
}

func (s *stubUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if username == "teacher1" {
		return &models.User{Username: "teacher1", FullName: "Jane Grey", Role: models.RoleTeacher, Active: true}, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserRepo) HasCourse(ctx context.Context, username, courseCode string) (bool, error) {
	return s.courses[username][courseCode], nil
}

type stubTokenRepo struct {
	slots map[string]*models.SessionToken
}

func (s *stubTokenRepo) Put(ctx context.Context, token *models.SessionToken) error {
	if s.slots == nil {
		s.slots = make(map[string]*models.SessionToken)
	}
	s.slots[token.CourseCode] = token
	return nil
}

func (s *stubTokenRepo) Get(ctx context.Context, courseCode string) (*models.SessionToken, error) {
	return s.slots[courseCode], nil
}

func (s *stubTokenRepo) Clear(ctx context.Context, courseCode string) error {
	delete(s.slots, courseCode)
	return nil
}

type stubAttendanceRepo struct {
	seen map[string]bool
}

func (s *stubAttendanceRepo) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	key := record.StudentUsername + record.CourseCode + record.Date
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[key] {
		return sql.ErrNoRows
	}
	s.seen[key] = true
	record.ID = "rec-1"
	return nil
}

type stubNoClassRepo struct{}

func (s *stubNoClassRepo) Exists(ctx context.Context, courseCode, date string) (bool, error) {
	return false, nil
}

func (s *stubNoClassRepo) Set(ctx context.Context, flag *models.NoClassFlag) error { return nil }

func (s *stubNoClassRepo) Remove(ctx context.Context, courseCode, date string) error { return nil }

func (s *stubNoClassRepo) ListByCourse(ctx context.Context, courseCode string) ([]models.NoClassFlag, error) {
	return nil, nil
}

func newLedgerHandler() *LedgerHandler {
	users := &stubUserRepo{courses: map[string]map[string]bool{
		"teacher1": {"CS101": true},
		"student1": {"CS101": true},
	}}
	svc := service.NewLedgerService(users, &stubTokenRepo{}, &stubAttendanceRepo{}, &stubNoClassRepo{}, nil, nil, nil, nil, nil, service.LedgerConfig{TokenTTL: 15 * time.Minute})
	return NewLedgerHandler(svc)
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestLedgerHandlerIssueToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLedgerHandler()

	c, w := newGinContext(http.MethodPost, "/courses/CS101/token", nil)
	c.Params = gin.Params{{Key: "code", Value: "CS101"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Username: "teacher1", Role: models.RoleTeacher})

	handler.IssueToken(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestLedgerHandlerIssueTokenUnassigned(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLedgerHandler()

	c, w := newGinContext(http.MethodPost, "/courses/MATH201/token", nil)
	c.Params = gin.Params{{Key: "code", Value: "MATH201"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Username: "teacher1", Role: models.RoleTeacher})

	handler.IssueToken(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestLedgerHandlerScanFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLedgerHandler()

	c, w := newGinContext(http.MethodPost, "/courses/CS101/token", nil)
	c.Params = gin.Params{{Key: "code", Value: "CS101"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Username: "teacher1", Role: models.RoleTeacher})
	handler.IssueToken(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data dto.IssueTokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.Serialized)

	payload, _ := json.Marshal(dto.ScanRequest{Token: envelope.Data.Serialized})
	c, w = newGinContext(http.MethodPost, "/attendance/scan", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Username: "student1", Role: models.RoleStudent})
	handler.Scan(c)
	require.Equal(t, http.StatusCreated, w.Code)

	// Scanning again the same day is a conflict.
	c, w = newGinContext(http.MethodPost, "/attendance/scan", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Username: "student1", Role: models.RoleStudent})
	handler.Scan(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestLedgerHandlerScanMalformed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLedgerHandler()

	payload, _ := json.Marshal(dto.ScanRequest{Token: "garbage"})
	c, w := newGinContext(http.MethodPost, "/attendance/scan", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Username: "student1", Role: models.RoleStudent})

	handler.Scan(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
