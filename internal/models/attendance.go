package models

import "time"

// AttendanceStatus is the status recorded on an attendance record. The
// ledger only ever writes PRESENT; absence is the lack of a record.
type AttendanceStatus string

const AttendanceStatusPresent AttendanceStatus = "present"

// AttendanceRecord is the durable fact "student X was present in course
// Y on day Z". Records are created exactly once per (student, course,
// day) and never mutated afterwards.
type AttendanceRecord struct {
	ID              string           `db:"id" json:"id"`
	StudentUsername string           `db:"student_username" json:"student_username"`
	CourseCode      string           `db:"course_code" json:"course_code"`
	IssuerUsername  string           `db:"issuer_username" json:"issuer_username"`
	Date            string           `db:"date" json:"date"`
	RecordedAt      time.Time        `db:"recorded_at" json:"recorded_at"`
	Status          AttendanceStatus `db:"status" json:"status"`
}

// AttendanceFilter scopes record queries. Month is 1-12 and only applied
// together with Year.
type AttendanceFilter struct {
	StudentUsername string
	CourseCode      string
	Month           int
	Year            int
	SortDescending  bool
}

// AttendanceSummary aggregates a student's marks for a course.
type AttendanceSummary struct {
	StudentUsername string  `json:"student_username"`
	CourseCode      string  `json:"course_code"`
	DaysPresent     int     `json:"days_present"`
	SessionDays     int     `json:"session_days"`
	Percent         float64 `json:"percent"`
}

// NoClassFlag marks a course/day as having no session; its presence
// suppresses token issuance for that pair.
type NoClassFlag struct {
	CourseCode     string    `db:"course_code" json:"course_code"`
	Date           string    `db:"date" json:"date"`
	IssuerUsername string    `db:"issuer_username" json:"issuer_username"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DateLayout is the calendar-day key format used across the ledger.
const DateLayout = "2006-01-02"
