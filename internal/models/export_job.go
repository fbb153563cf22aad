package models

import "time"

// ExportFormat enumerates supported export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportFormatCSV || f == ExportFormatPDF
}

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is the persisted metadata of an asynchronous attendance
// report export.
type ExportJob struct {
	ID           string       `db:"id" json:"id"`
	RequestedBy  string       `db:"requested_by" json:"requested_by"`
	CourseCode   string       `db:"course_code" json:"course_code"`
	Month        int          `db:"month" json:"month"`
	Year         int          `db:"year" json:"year"`
	Format       ExportFormat `db:"format" json:"format"`
	Status       ExportStatus `db:"status" json:"status"`
	FilePath     *string      `db:"file_path" json:"-"`
	DownloadURL  *string      `db:"-" json:"download_url,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}
