package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

func userColumns() []string {
	return []string{"username", "password_hash", "full_name", "role", "roll_no", "active", "created_at", "updated_at"}
}

func TestUserRepositoryFindByUsername(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	rows := sqlmock.NewRows(userColumns()).
		AddRow("teacher1", "hash", "Jane Grey", "TEACHER", nil, true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT username, password_hash, full_name, role, roll_no, active, created_at, updated_at FROM users WHERE username")).
		WithArgs("teacher1").
		WillReturnRows(rows)

	user, err := repo.FindByUsername(context.Background(), "teacher1")
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, user.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByRollNoMiss(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE role")).
		WithArgs(models.RoleStudent, "21CS999").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByRollNo(context.Background(), "21CS999")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryHasCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("student1", "CS101").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	enrolled, err := repo.HasCourse(context.Background(), "student1", "CS101")
	require.NoError(t, err)
	require.True(t, enrolled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryReplaceCourses(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_courses")).
		WithArgs("student1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_courses")).
		WithArgs("student1", "CS101").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_courses")).
		WithArgs("student1", "MATH201").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceCourses(context.Background(), "student1", []string{"CS101", "MATH201"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
