package dto

import "github.com/rollcall-app/rollcall-api/internal/models"

// RecordsRequest filters attendance record listings.
type RecordsRequest struct {
	StudentUsername string `json:"student_username"`
	CourseCode      string `json:"course_code"`
	Month           int    `json:"month" validate:"omitempty,min=1,max=12"`
	Year            int    `json:"year" validate:"omitempty,min=2000"`
	SortOrder       string `json:"sort_order"`
}

// SummaryRequest identifies a student/course pair to summarise.
type SummaryRequest struct {
	StudentUsername string `json:"student_username" validate:"required"`
	CourseCode      string `json:"course_code" validate:"required"`
}

// CreateExportRequest starts an asynchronous report export.
type CreateExportRequest struct {
	CourseCode string `json:"course_code" validate:"required"`
	Month      int    `json:"month" validate:"required,min=1,max=12"`
	Year       int    `json:"year" validate:"required,min=2000"`
	Format     string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportJobResponse is the job envelope returned to pollers.
type ExportJobResponse struct {
	Job *models.ExportJob `json:"job"`
}
