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

// UserHandler wires HTTP endpoints to admin user management.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler creates a new handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param role query string false "Role filter"
// @Param search query string false "Search text"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	req := dto.ListUsersRequest{
		Role:   c.Query("role"),
		Search: c.Query("search"),
	}
	req.Page, _ = strconv.Atoi(c.Query("page"))
	req.PageSize, _ = strconv.Atoi(c.Query("page_size"))

	users, pagination, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get user
// @Tags Users
// @Produce json
// @Param username path string true "Username"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{username} [get]
func (h *UserHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("username"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}

	user, err := h.service.Create(c.Request.Context(), claims.Username, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// AssignCourses godoc
// @Summary Replace course links
// @Tags Users
// @Accept json
// @Produce json
// @Param username path string true "Username"
// @Param payload body dto.AssignCoursesRequest true "Course codes"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{username}/courses [put]
func (h *UserHandler) AssignCourses(c *gin.Context) {
	var req dto.AssignCoursesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course assignment payload"))
		return
	}

	if err := h.service.AssignCourses(c.Request.Context(), c.Param("username"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Delete godoc
// @Summary Delete user
// @Tags Users
// @Produce json
// @Param username path string true "Username"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{username} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims.Username, c.Param("username")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
