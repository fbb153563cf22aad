package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/service"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
	"github.com/rollcall-app/rollcall-api/pkg/response"
)

// ReportHandler wires HTTP endpoints to attendance reporting.
type ReportHandler struct {
	reports *service.ReportService
	exports *service.ExportService
}

// NewReportHandler creates a new handler.
func NewReportHandler(reports *service.ReportService, exports *service.ExportService) *ReportHandler {
	return &ReportHandler{reports: reports, exports: exports}
}

// Records godoc
// @Summary List attendance records
// @Description List records scoped to the caller's role
// @Tags Reports
// @Produce json
// @Param student query string false "Student username"
// @Param course query string false "Course code"
// @Param month query int false "Month (1-12, requires year)"
// @Param year query int false "Year"
// @Param sort query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/records [get]
func (h *ReportHandler) Records(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := dto.RecordsRequest{
		StudentUsername: c.Query("student"),
		CourseCode:      c.Query("course"),
		Month:           queryInt(c, "month"),
		Year:            queryInt(c, "year"),
		SortOrder:       c.Query("sort"),
	}

	records, err := h.reports.Records(c.Request.Context(), *claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// Summary godoc
// @Summary Attendance summary
// @Description Aggregate presence figures for a student/course pair
// @Tags Reports
// @Produce json
// @Param student query string true "Student username"
// @Param course query string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := dto.SummaryRequest{
		StudentUsername: c.Query("student"),
		CourseCode:      c.Query("course"),
	}
	if req.StudentUsername == "" {
		req.StudentUsername = claims.Username
	}

	summary, cacheHit, err := h.reports.Summary(c.Request.Context(), *claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil, map[string]interface{}{"cache_hit": cacheHit})
}

// CreateExport godoc
// @Summary Create export job
// @Description Queue an asynchronous monthly attendance export
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.CreateExportRequest true "Export request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports [post]
func (h *ReportHandler) CreateExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}

	job, err := h.exports.Create(c.Request.Context(), claims.Username, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, dto.ExportJobResponse{Job: job}, nil)
}

// GetExport godoc
// @Summary Get export job
// @Description Poll an export job; finished jobs carry a signed download URL
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ReportHandler) GetExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	job, err := h.exports.Get(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, dto.ExportJobResponse{Job: job}, nil)
}

// DownloadExport godoc
// @Summary Download export file
// @Description Stream a finished export via its signed token
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download [get]
func (h *ReportHandler) DownloadExport(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "download token required"))
		return
	}

	file, job, err := h.exports.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	filename := job.CourseCode + "-" + strconv.Itoa(job.Year) + "." + string(job.Format)
	c.FileAttachment(file.Name(), filename)
}

func queryInt(c *gin.Context, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}
