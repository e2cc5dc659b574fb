package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

type amendmentCaseReader interface {
	GetByID(ctx context.Context, id string) (*models.Case, error)
}

type amendmentStore interface {
	Save(ctx context.Context, c *models.Case, previousUpdatedAt time.Time, record *models.AmendmentRecord) error
	ListByCase(ctx context.Context, caseID string) ([]models.AmendmentRecord, error)
}

// AmendmentService amends case details and keeps the amendment log.
type AmendmentService struct {
	cases     amendmentCaseReader
	repo      amendmentStore
	tracker   *AmendmentTracker
	authority caseAuthority
	trail     *AuditTrailAppender
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAmendmentService constructs the service.
func NewAmendmentService(cases amendmentCaseReader, repo amendmentStore, tracker *AmendmentTracker, authority caseAuthority, trail *AuditTrailAppender, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AmendmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = NewAuditTrailAppender(nil, logger)
	}
	return &AmendmentService{
		cases:     cases,
		repo:      repo,
		tracker:   tracker,
		authority: authority,
		trail:     trail,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Amend applies the proposed values and stores the case with its record.
func (s *AmendmentService) Amend(ctx context.Context, caseID string, req dto.AmendCaseRequest, actor models.Actor) (*dto.AmendmentResult, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid amendment payload")
	}
	c, err := s.loadCase(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}

	previousUpdatedAt := c.UpdatedAt
	record, err := s.tracker.Amend(c, req.Fields, req.Reason, actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c, previousUpdatedAt, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Persistence(err, "case was modified concurrently; reload and retry")
		}
		return nil, appErrors.Persistence(err, "failed to save amendment")
	}

	s.metrics.RecordAmendment()
	s.trail.Record(ctx, models.AuditActionCaseAmend, "case", c.ID, actor, amendedValues(record.Changes, true), amendedValues(record.Changes, false))
	s.logger.Info("case amended",
		zap.String("case_id", c.ID),
		zap.Int("changes", len(record.Changes)),
		zap.String("actor", actor.UserID))
	return &dto.AmendmentResult{Case: c, Record: record}, nil
}

// List returns the amendment log of a case, oldest first.
func (s *AmendmentService) List(ctx context.Context, caseID string, actor models.Actor) ([]models.AmendmentRecord, error) {
	if err := requireAction(s.authority, actor, models.ActionViewCase); err != nil {
		return nil, err
	}
	c, err := s.loadCase(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list amendments")
	}
	return records, nil
}

func (s *AmendmentService) loadCase(ctx context.Context, id string, actor models.Actor) (*models.Case, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case id is required")
	}
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Persistence(err, "failed to load case")
	}
	if !actorInScope(s.authority, actor, c.Country) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
	}
	return c, nil
}

func amendedValues(changes []models.FieldChange, old bool) map[string]string {
	values := make(map[string]string, len(changes))
	for _, change := range changes {
		if old {
			values[change.Field] = change.OldValue
		} else {
			values[change.Field] = change.NewValue
		}
	}
	return values
}
