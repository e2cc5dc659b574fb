package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/response"
)

type permissionService interface {
	Matrix(ctx context.Context, actor models.Actor) (*dto.PermissionMatrixResponse, error)
	Update(ctx context.Context, req dto.UpdatePermissionRequest, actor models.Actor) (*models.Permission, error)
	MyActions(ctx context.Context, actor models.Actor) (*dto.MyPermissionsResponse, error)
}

// PermissionHandler exposes the permission matrix administration endpoints.
type PermissionHandler struct {
	service permissionService
}

// NewPermissionHandler constructs the handler.
func NewPermissionHandler(service permissionService) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// Matrix godoc
// @Summary Get the role/action permission matrix
// @Tags Permissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /permissions [get]
func (h *PermissionHandler) Matrix(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permission service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	matrix, err := h.service.Matrix(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, matrix, nil)
}

// Update godoc
// @Summary Allow or deny one action for a role
// @Tags Permissions
// @Accept json
// @Produce json
// @Param payload body dto.UpdatePermissionRequest true "Permission cell"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /permissions [put]
func (h *PermissionHandler) Update(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permission service not configured"))
		return
	}
	var req dto.UpdatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid permission payload"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	permission, err := h.service.Update(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, permission, nil)
}

// Mine godoc
// @Summary List the actions the caller may perform
// @Tags Permissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /permissions/me [get]
func (h *PermissionHandler) Mine(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permission service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	mine, err := h.service.MyActions(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mine, nil)
}
