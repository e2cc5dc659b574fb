package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

// Authorizer answers role/action questions.
type Authorizer interface {
	Authorize(role models.RoleID, action models.Action) bool
}

// StatusTransitionEngine moves cases along the workflow. A move is allowed
// when the actor holds the action gating the target status and the target
// is either the next workflow step or the escape status.
type StatusTransitionEngine struct {
	authority Authorizer
	trail     *AuditTrailAppender
	metrics   *MetricsService
}

// NewStatusTransitionEngine constructs the engine.
func NewStatusTransitionEngine(authority Authorizer, trail *AuditTrailAppender, metrics *MetricsService) *StatusTransitionEngine {
	if trail == nil {
		trail = NewAuditTrailAppender(nil, nil)
	}
	return &StatusTransitionEngine{authority: authority, trail: trail, metrics: metrics}
}

// Validate checks a move without side effects. Authorization is checked
// before the workflow edge.
func (e *StatusTransitionEngine) Validate(from, to models.CaseStatus, role models.RoleID) error {
	action, ok := models.ActionForStatus(to)
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("unknown target status %q", to))
	}
	if e.authority == nil || !e.authority.Authorize(role, action) {
		return appErrors.Clone(appErrors.ErrAuthorizationDenied, fmt.Sprintf("role %q is not allowed to %s", role, action))
	}
	if to == models.EscapeStatus {
		return nil
	}
	fromIdx, ok := models.WorkflowIndex(from)
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("unknown current status %q", from))
	}
	toIdx, _ := models.WorkflowIndex(to)
	if toIdx != fromIdx+1 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move from %q to %q", from, to))
	}
	return nil
}

// Apply validates and performs a move on c, appending one history entry.
// On error c is left untouched.
func (e *StatusTransitionEngine) Apply(c *models.Case, to models.CaseStatus, actor models.Actor, detail string, attachmentRefs []string) (*models.StatusHistoryEntry, error) {
	if c == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case is required")
	}
	if err := e.Validate(c.Status, to, actor.Role); err != nil {
		e.metrics.RecordTransition(to, outcomeFor(err))
		return nil, err
	}
	entry := e.trail.AppendStatus(c, to, actor, detail, attachmentRefs)
	c.Status = to
	c.UpdatedAt = entry.Timestamp
	e.metrics.RecordTransition(to, "applied")
	return &entry, nil
}

// Book puts a new case in the initial status. It requires the action that
// gates the first workflow step.
func (e *StatusTransitionEngine) Book(c *models.Case, actor models.Actor, detail string) (*models.StatusHistoryEntry, error) {
	if c == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case is required")
	}
	initial := models.Workflow[0]
	action, _ := models.ActionForStatus(initial)
	if e.authority == nil || !e.authority.Authorize(actor.Role, action) {
		e.metrics.RecordTransition(initial, "denied")
		return nil, appErrors.Clone(appErrors.ErrAuthorizationDenied, fmt.Sprintf("role %q is not allowed to %s", actor.Role, action))
	}
	if len(c.History) > 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "case has already been booked")
	}
	entry := e.trail.AppendStatus(c, initial, actor, detail, nil)
	c.Status = initial
	c.CreatedAt = entry.Timestamp
	c.UpdatedAt = entry.Timestamp
	e.metrics.RecordTransition(initial, "applied")
	return &entry, nil
}

// AvailableTransitions lists the statuses role could move a case in from
// into right now, in workflow order.
func (e *StatusTransitionEngine) AvailableTransitions(from models.CaseStatus, role models.RoleID) []models.CaseStatus {
	available := make([]models.CaseStatus, 0, 2)
	for _, candidate := range models.Workflow {
		if e.Validate(from, candidate, role) == nil {
			available = append(available, candidate)
		}
	}
	return available
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, appErrors.ErrInvalidTransition):
		return "invalid"
	default:
		return "error"
	}
}
