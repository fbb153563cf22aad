package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionCourseCreate   = "COURSE_CREATE"
	AuditActionCourseDelete   = "COURSE_DELETE"
	AuditActionTokenIssue     = "TOKEN_ISSUE"
	AuditActionAttendanceMark = "ATTENDANCE_MARK"
	AuditActionNoClassSet     = "NO_CLASS_SET"
	AuditActionNoClassRemove  = "NO_CLASS_REMOVE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Username   *string   `db:"username" json:"username,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
