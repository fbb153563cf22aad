package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rollcall-app/rollcall-api/internal/dto"
	"github.com/rollcall-app/rollcall-api/internal/service"
	appErrors "github.com/rollcall-app/rollcall-api/pkg/errors"
	"github.com/rollcall-app/rollcall-api/pkg/response"
)

// CourseHandler wires HTTP endpoints to course management.
type CourseHandler struct {
	service *service.CourseService
}

// NewCourseHandler creates a new handler.
func NewCourseHandler(svc *service.CourseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// List godoc
// @Summary List courses
// @Tags Courses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	courses, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, courses, nil)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{code} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.service.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body dto.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}

	course, err := h.service.Create(c.Request.Context(), claims.Username, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, course)
}

// Delete godoc
// @Summary Delete course
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{code} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims.Username, c.Param("code")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
