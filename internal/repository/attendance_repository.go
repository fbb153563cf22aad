package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

// AttendanceRepository handles persistence for attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Insert appends a record, enforcing at most one mark per
// (student, course, date) via the table's unique constraint. Returns
// sql.ErrNoRows when the triple already exists, so concurrent markers
// cannot both succeed.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_records (id, student_username, course_code, issuer_username, date, recorded_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (student_username, course_code, date) DO NOTHING
RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query, record.ID, record.StudentUsername, record.CourseCode, record.IssuerUsername, record.Date, record.RecordedAt, record.Status).Scan(&insertedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// Exists reports whether a record is already present for the triple.
func (r *AttendanceRepository) Exists(ctx context.Context, studentUsername, courseCode, date string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE student_username = $1 AND course_code = $2 AND date = $3)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentUsername, courseCode, date); err != nil {
		return false, fmt.Errorf("check attendance record: %w", err)
	}
	return exists, nil
}

// List returns records matching the filter. Default order is insertion
// order; callers may request recorded_at descending instead.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentUsername != "" {
		where = append(where, fmt.Sprintf("student_username = $%d", len(args)+1))
		args = append(args, filter.StudentUsername)
	}
	if filter.CourseCode != "" {
		where = append(where, fmt.Sprintf("course_code = $%d", len(args)+1))
		args = append(args, filter.CourseCode)
	}
	if filter.Month >= 1 && filter.Month <= 12 && filter.Year > 0 {
		where = append(where, fmt.Sprintf("date >= $%d AND date < $%d", len(args)+1, len(args)+2))
		start := time.Date(filter.Year, time.Month(filter.Month), 1, 0, 0, 0, 0, time.UTC)
		args = append(args, start.Format(models.DateLayout), start.AddDate(0, 1, 0).Format(models.DateLayout))
	}

	order := "recorded_at ASC"
	if filter.SortDescending {
		order = "recorded_at DESC"
	}

	// date is a DATE column; to_char keeps the calendar-day string shape
	// instead of the driver's midnight timestamp.
	query := fmt.Sprintf(`SELECT id, student_username, course_code, issuer_username, to_char(date, 'YYYY-MM-DD') AS date, recorded_at, status
FROM attendance_records WHERE %s ORDER BY %s`, strings.Join(where, " AND "), order)

	records := []models.AttendanceRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}

// Summary aggregates a student's presence against the distinct session
// days recorded for the course.
func (r *AttendanceRepository) Summary(ctx context.Context, studentUsername, courseCode string) (*models.AttendanceSummary, error) {
	const query = `SELECT
    COUNT(*) FILTER (WHERE student_username = $1) AS days_present,
    COUNT(DISTINCT date) AS session_days
FROM attendance_records WHERE course_code = $2`
	row := struct {
		DaysPresent int `db:"days_present"`
		SessionDays int `db:"session_days"`
	}{}
	if err := r.db.GetContext(ctx, &row, query, studentUsername, courseCode); err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	summary := &models.AttendanceSummary{
		StudentUsername: studentUsername,
		CourseCode:      courseCode,
		DaysPresent:     row.DaysPresent,
		SessionDays:     row.SessionDays,
	}
	if summary.SessionDays > 0 {
		summary.Percent = float64(summary.DaysPresent) / float64(summary.SessionDays) * 100
	}
	return summary, nil
}
