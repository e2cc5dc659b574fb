package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/middleware"
	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/response"
)

type caseService interface {
	Create(ctx context.Context, req dto.CreateCaseRequest, actor models.Actor) (*models.Case, error)
	Get(ctx context.Context, id string, actor models.Actor) (*models.Case, error)
	List(ctx context.Context, query dto.CaseQuery, actor models.Actor) ([]models.Case, *models.Pagination, error)
	History(ctx context.Context, id string, actor models.Actor) ([]models.StatusHistoryEntry, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest, actor models.Actor) (*dto.TransitionResult, error)
	AvailableTransitions(ctx context.Context, id string, actor models.Actor) (*dto.AvailableTransitionsResponse, error)
}

// CaseHandler exposes the case lifecycle endpoints.
type CaseHandler struct {
	service caseService
}

// NewCaseHandler constructs the handler.
func NewCaseHandler(service caseService) *CaseHandler {
	return &CaseHandler{service: service}
}

// Create godoc
// @Summary Book a new case
// @Tags Cases
// @Accept json
// @Produce json
// @Param payload body dto.CreateCaseRequest true "Case booking"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases [post]
func (h *CaseHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "case service not configured"))
		return
	}
	var req dto.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid case payload"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	created, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List cases visible to the caller
// @Tags Cases
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param department query string false "Department"
// @Param country query string false "Country code (elevated roles only)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "case service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.CaseQuery{
		Department: strings.TrimSpace(c.Query("department")),
		Country:    strings.TrimSpace(c.Query("country")),
		Page:       queryInt(c, "page"),
		PageSize:   queryInt(c, "pageSize"),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			query.Status = append(query.Status, models.CaseStatus(part))
		}
	}
	cases, pagination, err := h.service.List(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a case with its status history
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "case service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	found, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, found, nil)
}

// History godoc
// @Summary List the status history of a case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/history [get]
func (h *CaseHandler) History(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "case service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	history, err := h.service.History(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Transition godoc
// @Summary Move a case to its next status
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.TransitionRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /cases/{id}/transitions [post]
func (h *CaseHandler) Transition(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "case service not configured"))
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AvailableTransitions godoc
// @Summary List the statuses the caller may move the case to
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/transitions [get]
func (h *CaseHandler) AvailableTransitions(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "case service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	available, err := h.service.AvailableTransitions(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, available, nil)
}
