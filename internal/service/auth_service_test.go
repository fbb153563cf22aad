package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rollcall-app/rollcall-api/internal/models"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
)

type mockAuthRepo struct {
	users    map[string]*models.User
	byRollNo map[string]*models.User
	updated  map[string]string
}

func (m *mockAuthRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := m.users[username]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByRollNo(ctx context.Context, rollNo string) (*models.User, error) {
	if u, ok := m.byRollNo[rollNo]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, username, passwordHash string, updatedAt time.Time) error {
	if m.updated == nil {
		m.updated = make(map[string]string)
	}
	m.updated[username] = passwordHash
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *mockAuthRepo, *mockAuditWriter) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)

	roll := "21CS042"
	student := &models.User{
		Username:     "student1",
		PasswordHash: string(hash),
		FullName:     "Sam Pole",
		Role:         models.RoleStudent,
		RollNo:       &roll,
		Active:       true,
	}
	repo := &mockAuthRepo{
		users:    map[string]*models.User{"student1": student},
		byRollNo: map[string]*models.User{roll: student},
	}
	audit := &mockAuditWriter{}
	svc := NewAuthService(repo, audit, nil, nil, AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "rollcall"})
	return svc, repo, audit
}

func TestLoginByUsername(t *testing.T) {
	svc, _, audit := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Login: "student1", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "student1", resp.User.Username)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionLogin, audit.entries[0].Action)
}

func TestLoginByRollNo(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Login: "21CS042", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "student1", resp.User.Username)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Login: "student1", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Login: "ghost", Password: "secret123"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, repo, _ := newAuthFixture(t)
	repo.users["student1"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Login: "student1", Password: "secret123"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Login: "student1", Password: "secret123"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "student1", claims.Username)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestChangePassword(t *testing.T) {
	svc, repo, audit := newAuthFixture(t)

	err := svc.ChangePassword(context.Background(), "student1", models.ChangePasswordRequest{
		OldPassword: "secret123",
		NewPassword: "newsecret",
	})
	require.NoError(t, err)
	require.Contains(t, repo.updated, "student1")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.updated["student1"]), []byte("newsecret")))
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionPasswordChange, audit.entries[0].Action)
}

func TestChangePasswordWrongOld(t *testing.T) {
	svc, repo, _ := newAuthFixture(t)

	err := svc.ChangePassword(context.Background(), "student1", models.ChangePasswordRequest{
		OldPassword: "wrong",
		NewPassword: "newsecret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.updated)
}
