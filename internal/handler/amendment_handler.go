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

type amendmentService interface {
	Amend(ctx context.Context, caseID string, req dto.AmendCaseRequest, actor models.Actor) (*dto.AmendmentResult, error)
	List(ctx context.Context, caseID string, actor models.Actor) ([]models.AmendmentRecord, error)
}

// AmendmentHandler exposes case amendment endpoints.
type AmendmentHandler struct {
	service amendmentService
}

// NewAmendmentHandler constructs the handler.
func NewAmendmentHandler(service amendmentService) *AmendmentHandler {
	return &AmendmentHandler{service: service}
}

// Amend godoc
// @Summary Amend case details
// @Tags Amendments
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.AmendCaseRequest true "Proposed values"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases/{id}/amendments [post]
func (h *AmendmentHandler) Amend(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "amendment service not configured"))
		return
	}
	var req dto.AmendCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid amendment payload"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Amend(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List the amendment records of a case
// @Tags Amendments
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/amendments [get]
func (h *AmendmentHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "amendment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	records, err := h.service.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}
