package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

// AmendmentTracker diffs proposed case details against the current case and
// records what changed.
type AmendmentTracker struct {
	authority Authorizer
	trail     *AuditTrailAppender
	locked    map[models.CaseStatus]struct{}
	readOnly  map[string]struct{}
}

// NewAmendmentTracker builds a tracker. Cases in a locked status refuse
// amendments; with no locked statuses given the escape status is locked.
func NewAmendmentTracker(authority Authorizer, trail *AuditTrailAppender, locked []models.CaseStatus) *AmendmentTracker {
	if trail == nil {
		trail = NewAuditTrailAppender(nil, nil)
	}
	if len(locked) == 0 {
		locked = []models.CaseStatus{models.EscapeStatus}
	}
	t := &AmendmentTracker{
		authority: authority,
		trail:     trail,
		locked:    make(map[models.CaseStatus]struct{}, len(locked)),
		readOnly:  make(map[string]struct{}, len(models.ReadOnlyFields)),
	}
	for _, status := range locked {
		t.locked[status] = struct{}{}
	}
	for _, field := range models.ReadOnlyFields {
		t.readOnly[field] = struct{}{}
	}
	return t
}

// Amend applies proposed field values to c and returns the amendment record.
// Every check runs before c is touched. A proposal identical to the current
// values still produces a record with no changes and marks the case amended.
func (t *AmendmentTracker) Amend(c *models.Case, proposed map[string]string, reason string, actor models.Actor) (*models.AmendmentRecord, error) {
	if c == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case is required")
	}
	if t.authority == nil || !t.authority.Authorize(actor.Role, models.ActionAmendCase) {
		return nil, appErrors.Clone(appErrors.ErrAuthorizationDenied, fmt.Sprintf("role %q is not allowed to %s", actor.Role, models.ActionAmendCase))
	}
	if _, locked := t.locked[c.Status]; locked {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cases in status %q can no longer be amended", c.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if err := t.checkFields(c, proposed); err != nil {
		return nil, err
	}

	changes := Diff(c, proposed)
	for _, change := range changes {
		c.SetAmendableField(change.Field, change.NewValue)
	}
	record := t.trail.Amendment(c.ID, actor, reason, changes)
	amendedBy := actor.UserID
	amendedAt := record.Timestamp
	c.IsAmended = true
	c.AmendedBy = &amendedBy
	c.AmendedAt = &amendedAt
	c.UpdatedAt = amendedAt
	return &record, nil
}

func (t *AmendmentTracker) checkFields(c *models.Case, proposed map[string]string) error {
	fields := make([]string, 0, len(proposed))
	for field := range proposed {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		current, known := c.FieldValue(field)
		if !known {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field %q", field))
		}
		if _, ro := t.readOnly[field]; ro && strings.TrimSpace(proposed[field]) != current {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q is read-only", field))
		}
	}
	return nil
}

// Diff compares proposed amendable values with c in canonical field order.
// Fields absent from proposed are left alone; read-only fields are ignored.
func Diff(c *models.Case, proposed map[string]string) []models.FieldChange {
	changes := make([]models.FieldChange, 0, len(proposed))
	for _, field := range models.AmendableFields {
		raw, ok := proposed[field]
		if !ok {
			continue
		}
		oldValue, _ := c.FieldValue(field)
		newValue := strings.TrimSpace(raw)
		if oldValue == newValue {
			continue
		}
		changes = append(changes, models.FieldChange{
			Field:    field,
			OldValue: oldValue,
			NewValue: newValue,
			Kind:     models.ClassifyFieldChange(oldValue, newValue),
		})
	}
	return changes
}
