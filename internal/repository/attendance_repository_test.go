package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAttendanceRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))

	record := &models.AttendanceRecord{
		ID:              "rec-1",
		StudentUsername: "student1",
		CourseCode:      "CS101",
		IssuerUsername:  "teacher1",
		Date:            "2026-01-12",
		RecordedAt:      time.Now().UTC(),
		Status:          models.AttendanceStatusPresent,
	}
	require.NoError(t, repo.Insert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	// ON CONFLICT DO NOTHING yields no returned row for a duplicate.
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	record := &models.AttendanceRecord{
		ID:              "rec-2",
		StudentUsername: "student1",
		CourseCode:      "CS101",
		IssuerUsername:  "teacher1",
		Date:            "2026-01-12",
		RecordedAt:      time.Now().UTC(),
		Status:          models.AttendanceStatusPresent,
	}
	err := repo.Insert(context.Background(), record)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListMonthFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	rows := sqlmock.NewRows([]string{"id", "student_username", "course_code", "issuer_username", "date", "recorded_at", "status"}).
		AddRow("rec-1", "student1", "CS101", "teacher1", "2026-01-12", time.Now(), "present")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_username, course_code, issuer_username, to_char(date, 'YYYY-MM-DD') AS date, recorded_at, status")).
		WithArgs("CS101", "2026-01-01", "2026-02-01").
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), models.AttendanceFilter{
		CourseCode: "CS101",
		Month:      1,
		Year:       2026,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "student1", records[0].StudentUsername)
	require.NoError(t, mock.ExpectationsWereMet())
}

// date is stored as a DATE column, which the driver would otherwise
// surface as a midnight timestamp; the query must keep the calendar-day
// string shape.
func TestAttendanceRepositoryListDateIsCalendarDay(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	rows := sqlmock.NewRows([]string{"id", "student_username", "course_code", "issuer_username", "date", "recorded_at", "status"}).
		AddRow("rec-1", "student1", "CS101", "teacher1", "2026-01-12", time.Now(), "present")
	mock.ExpectQuery(regexp.QuoteMeta("to_char(date, 'YYYY-MM-DD') AS date")).
		WithArgs("CS101").
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), models.AttendanceFilter{CourseCode: "CS101"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "2026-01-12", records[0].Date)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySummary(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	rows := sqlmock.NewRows([]string{"days_present", "session_days"}).AddRow(8, 10)
	mock.ExpectQuery("SELECT").
		WithArgs("student1", "CS101").
		WillReturnRows(rows)

	summary, err := repo.Summary(context.Background(), "student1", "CS101")
	require.NoError(t, err)
	require.Equal(t, 8, summary.DaysPresent)
	require.Equal(t, 10, summary.SessionDays)
	require.InDelta(t, 80.0, summary.Percent, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}
