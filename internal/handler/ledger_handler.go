package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/service"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
	"github.com/rollcall-app/rollcall-api/pkg/response"
)

// LedgerHandler wires HTTP endpoints to the attendance ledger.
type LedgerHandler struct {
	service *service.LedgerService
}

// NewLedgerHandler creates a new handler.
func NewLedgerHandler(svc *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{service: svc}
}

// IssueToken godoc
// @Summary Issue session token
// @Description Open an attendance session for a course
// @Tags Ledger
// @Produce json
// @Param code path string true "Course code"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{code}/token [post]
func (h *LedgerHandler) IssueToken(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.service.IssueToken(c.Request.Context(), claims.Username, c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}

// CurrentToken godoc
// @Summary Current session token
// @Description Return the live token for a course, if any
// @Tags Ledger
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{code}/token [get]
func (h *LedgerHandler) CurrentToken(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	token, err := h.service.CurrentToken(c.Request.Context(), claims.Username, c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, token, nil)
}

// CancelToken godoc
// @Summary Cancel session token
// @Description Close the live session for a course
// @Tags Ledger
// @Produce json
// @Param code path string true "Course code"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{code}/token [delete]
func (h *LedgerHandler) CancelToken(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.CancelToken(c.Request.Context(), claims.Username, c.Param("code")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Scan godoc
// @Summary Record attendance
// @Description Validate a scanned token and mark the student present
// @Tags Ledger
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Scanned token"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /attendance/scan [post]
func (h *LedgerHandler) Scan(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"))
		return
	}

	record, err := h.service.RecordAttendance(c.Request.Context(), claims.Username, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, record)
}

// SetNoClass godoc
// @Summary Flag no-class day
// @Description Mark a course/day as having no session
// @Tags Ledger
// @Accept json
// @Produce json
// @Param code path string true "Course code"
// @Param payload body dto.NoClassRequest false "Optional date override"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{code}/no-class [post]
func (h *LedgerHandler) SetNoClass(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.NoClassRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid no-class payload"))
			return
		}
	}

	flag, err := h.service.SetNoClass(c.Request.Context(), claims.Username, c.Param("code"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, flag)
}

// RemoveNoClass godoc
// @Summary Remove no-class flag
// @Description Lift the no-class flag for a course/day
// @Tags Ledger
// @Produce json
// @Param code path string true "Course code"
// @Param date query string false "Date (YYYY-MM-DD, defaults to today)"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{code}/no-class [delete]
func (h *LedgerHandler) RemoveNoClass(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := dto.NoClassRequest{Date: c.Query("date")}
	if err := h.service.RemoveNoClass(c.Request.Context(), claims.Username, c.Param("code"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListNoClass godoc
// @Summary List no-class days
// @Description Return the no-class days flagged for a course
// @Tags Ledger
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{code}/no-class [get]
func (h *LedgerHandler) ListNoClass(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	flags, err := h.service.ListNoClass(c.Request.Context(), claims.Username, c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, flags, nil)
}
