package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

type caseStore interface {
	Create(ctx context.Context, c *models.Case, entry *models.StatusHistoryEntry) error
	GetByID(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error)
	ListHistory(ctx context.Context, caseID string) ([]models.StatusHistoryEntry, error)
	UpdateStatus(ctx context.Context, c *models.Case, previous models.CaseStatus, entry *models.StatusHistoryEntry) error
}

type attachmentLister interface {
	ListByCase(ctx context.Context, caseID string) ([]models.Attachment, error)
}

type caseAuthority interface {
	Authorizer
	Elevated(role models.RoleID) bool
}

// CaseWorkflowService books cases and moves them through the workflow.
type CaseWorkflowService struct {
	repo      caseStore
	engine    *StatusTransitionEngine
	authority caseAuthority
	trail     *AuditTrailAppender
	validator   *validator.Validate
	logger      *zap.Logger
	attachments attachmentLister
}

// CaseWorkflowServiceOption configures optional collaborators.
type CaseWorkflowServiceOption func(*CaseWorkflowService)

// WithAttachmentLister lets transitions verify the attachments they
// reference. Without it, transitions carrying references are refused.
func WithAttachmentLister(attachments attachmentLister) CaseWorkflowServiceOption {
	return func(s *CaseWorkflowService) {
		s.attachments = attachments
	}
}

// NewCaseWorkflowService constructs the service.
func NewCaseWorkflowService(repo caseStore, engine *StatusTransitionEngine, authority caseAuthority, trail *AuditTrailAppender, validate *validator.Validate, logger *zap.Logger, opts ...CaseWorkflowServiceOption) *CaseWorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = NewAuditTrailAppender(nil, logger)
	}
	svc := &CaseWorkflowService{
		repo:      repo,
		engine:    engine,
		authority: authority,
		trail:     trail,
		validator: validate,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create books a new case in the initial status.
func (s *CaseWorkflowService) Create(ctx context.Context, req dto.CreateCaseRequest, actor models.Actor) (*models.Case, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid case payload")
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if !s.inScope(actor, country) {
		return nil, appErrors.Clone(appErrors.ErrAuthorizationDenied, "cannot book cases outside your country")
	}

	c := &models.Case{
		ID:                  s.trail.NewID(),
		CaseReference:       strings.TrimSpace(req.CaseReference),
		SubmittedBy:         actor.UserID,
		Country:             country,
		Department:          strings.TrimSpace(req.Department),
		Hospital:            strings.TrimSpace(req.Hospital),
		Surgeon:             strings.TrimSpace(req.Surgeon),
		ProcedureType:       strings.TrimSpace(req.ProcedureType),
		ProcedureName:       strings.TrimSpace(req.ProcedureName),
		SurgeryDate:         req.SurgeryDate,
		SurgeryTime:         req.SurgeryTime,
		PatientReference:    strings.TrimSpace(req.PatientReference),
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
	}
	entry, err := s.engine.Book(c, actor, "")
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c, entry); err != nil {
		return nil, appErrors.Persistence(err, "failed to create case")
	}

	s.trail.Record(ctx, models.AuditActionCaseCreate, "case", c.ID, actor, nil, c)
	s.logger.Info("case booked", zap.String("case_id", c.ID), zap.String("actor", actor.UserID))
	return c, nil
}

// Get returns a case with its status history.
func (s *CaseWorkflowService) Get(ctx context.Context, id string, actor models.Actor) (*models.Case, error) {
	if err := s.require(actor, models.ActionViewCase); err != nil {
		return nil, err
	}
	return s.load(ctx, id, actor)
}

// List returns cases visible to the actor.
func (s *CaseWorkflowService) List(ctx context.Context, query dto.CaseQuery, actor models.Actor) ([]models.Case, *models.Pagination, error) {
	if err := s.require(actor, models.ActionViewCase); err != nil {
		return nil, nil, err
	}
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter "+string(status))
		}
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = 50
	}
	if size > 200 {
		size = 200
	}

	filter := models.CaseFilter{
		Status:     query.Status,
		Country:    strings.ToUpper(strings.TrimSpace(query.Country)),
		Department: strings.TrimSpace(query.Department),
		Limit:      size,
		Offset:     (page - 1) * size,
	}
	if !s.elevated(actor) && actor.Country != "" {
		if filter.Country != "" && filter.Country != strings.ToUpper(actor.Country) {
			return []models.Case{}, &models.Pagination{Page: page, PageSize: size}, nil
		}
		filter.Country = strings.ToUpper(actor.Country)
	}

	cases, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Persistence(err, "failed to list cases")
	}
	return cases, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// History returns the ordered status trail of a case.
func (s *CaseWorkflowService) History(ctx context.Context, id string, actor models.Actor) ([]models.StatusHistoryEntry, error) {
	c, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return c.History, nil
}

// Transition moves a case to req.Status and persists the new history entry.
// The store rejects the write when the case moved on concurrently.
func (s *CaseWorkflowService) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor models.Actor) (*dto.TransitionResult, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	c, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	previous := c.Status
	if s.engine.Validate(previous, req.Status, actor.Role) == nil {
		if err := s.checkAttachmentRefs(ctx, c.ID, req.AttachmentRefs); err != nil {
			return nil, err
		}
	}
	entry, err := s.engine.Apply(c, req.Status, actor, strings.TrimSpace(req.Detail), req.AttachmentRefs)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, c, previous, entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Persistence(err, "case was modified concurrently; reload and retry")
		}
		return nil, appErrors.Persistence(err, "failed to persist status change")
	}

	s.trail.Record(ctx, models.AuditActionStatusTransition, "case", c.ID, actor,
		map[string]interface{}{"status": previous},
		map[string]interface{}{"status": c.Status, "sequence": entry.Sequence})
	s.logger.Info("case status changed",
		zap.String("case_id", c.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(c.Status)),
		zap.String("actor", actor.UserID))
	return &dto.TransitionResult{Case: c, Entry: entry}, nil
}

// checkAttachmentRefs requires every reference to name an active attachment
// of the case. History is write-once, so bad references cannot be fixed later.
func (s *CaseWorkflowService) checkAttachmentRefs(ctx context.Context, caseID string, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	if s.attachments == nil {
		return appErrors.Clone(appErrors.ErrInternal, "attachment lookup not configured")
	}
	stored, err := s.attachments.ListByCase(ctx, caseID)
	if err != nil {
		return appErrors.Persistence(err, "failed to load case attachments")
	}
	active := make(map[string]struct{}, len(stored))
	for _, att := range stored {
		if att.CaseID == caseID && att.Active() {
			active[att.ID] = struct{}{}
		}
	}
	for _, ref := range refs {
		if _, ok := active[ref]; !ok {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("attachment %q not found on case", ref))
		}
	}
	return nil
}

// AvailableTransitions lists the statuses the actor may move the case into.
func (s *CaseWorkflowService) AvailableTransitions(ctx context.Context, id string, actor models.Actor) (*dto.AvailableTransitionsResponse, error) {
	c, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &dto.AvailableTransitionsResponse{
		CaseID:  c.ID,
		Current: c.Status,
		Next:    s.engine.AvailableTransitions(c.Status, actor.Role),
	}, nil
}

// load fetches a case with history, hiding cases outside the actor's country.
func (s *CaseWorkflowService) load(ctx context.Context, id string, actor models.Actor) (*models.Case, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case id is required")
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Persistence(err, "failed to load case")
	}
	if !s.inScope(actor, c.Country) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
	}
	history, err := s.repo.ListHistory(ctx, c.ID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load case history")
	}
	c.History = history
	return c, nil
}

func (s *CaseWorkflowService) require(actor models.Actor, action models.Action) error {
	return requireAction(s.authority, actor, action)
}

func requireAction(authority Authorizer, actor models.Actor, action models.Action) error {
	if actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	if authority == nil || !authority.Authorize(actor.Role, action) {
		return appErrors.Clone(appErrors.ErrAuthorizationDenied, "not allowed to "+string(action))
	}
	return nil
}

func (s *CaseWorkflowService) elevated(actor models.Actor) bool {
	return s.authority != nil && s.authority.Elevated(actor.Role)
}

func (s *CaseWorkflowService) inScope(actor models.Actor, country string) bool {
	return actorInScope(s.authority, actor, country)
}

// actorInScope reports whether actor may see cases of country. Elevated
// roles and actors without a country see every case.
func actorInScope(authority caseAuthority, actor models.Actor, country string) bool {
	if actor.Country == "" || (authority != nil && authority.Elevated(actor.Role)) {
		return true
	}
	return strings.EqualFold(actor.Country, country)
}
