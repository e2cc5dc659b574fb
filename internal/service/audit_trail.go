package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditTrailOption configures the appender.
type AuditTrailOption func(*AuditTrailAppender)

// WithAuditClock overrides the time source.
func WithAuditClock(now func() time.Time) AuditTrailOption {
	return func(a *AuditTrailAppender) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuditIDs overrides identifier generation.
func WithAuditIDs(newID func() string) AuditTrailOption {
	return func(a *AuditTrailAppender) {
		if newID != nil {
			a.newID = newID
		}
	}
}

// AuditTrailAppender turns approved mutations into history records. Every
// record it hands out owns its slices, so later edits by the caller cannot
// reach back into recorded history.
type AuditTrailAppender struct {
	sink   auditLogger
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewAuditTrailAppender constructs the appender. sink may be nil.
func NewAuditTrailAppender(sink auditLogger, logger *zap.Logger, opts ...AuditTrailOption) *AuditTrailAppender {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AuditTrailAppender{
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Now returns the trail's current time.
func (a *AuditTrailAppender) Now() time.Time {
	return a.now()
}

// NewID returns a fresh record identifier.
func (a *AuditTrailAppender) NewID() string {
	return a.newID()
}

// AppendStatus appends a status entry to the case history and returns it.
func (a *AuditTrailAppender) AppendStatus(c *models.Case, status models.CaseStatus, actor models.Actor, detail string, refs []string) models.StatusHistoryEntry {
	sequence := 1
	if n := len(c.History); n > 0 {
		sequence = c.History[n-1].Sequence + 1
	}
	entry := models.StatusHistoryEntry{
		ID:             a.newID(),
		CaseID:         c.ID,
		Sequence:       sequence,
		Status:         status,
		ActorID:        actor.UserID,
		ActorName:      actor.Name,
		Timestamp:      a.now(),
		Detail:         optionalString(detail),
		AttachmentRefs: copyStrings(refs),
	}
	c.History = append(c.History, entry)
	out := entry
	out.AttachmentRefs = copyStrings(entry.AttachmentRefs)
	return out
}

// AttachmentChange builds the audit record of one attachment action.
func (a *AuditTrailAppender) AttachmentChange(caseID, attachmentID string, changeType models.AttachmentChangeType, fileName string, oldFileName *string, actor models.Actor) models.AttachmentChange {
	var old *string
	if oldFileName != nil {
		v := *oldFileName
		old = &v
	}
	return models.AttachmentChange{
		ID:           a.newID(),
		CaseID:       caseID,
		AttachmentID: attachmentID,
		Type:         changeType,
		FileName:     fileName,
		OldFileName:  old,
		ActorID:      actor.UserID,
		Timestamp:    a.now(),
	}
}

// Amendment builds the audit record of one amend command.
func (a *AuditTrailAppender) Amendment(caseID string, actor models.Actor, reason string, changes []models.FieldChange) models.AmendmentRecord {
	recorded := make([]models.FieldChange, len(changes))
	copy(recorded, changes)
	return models.AmendmentRecord{
		ID:        a.newID(),
		CaseID:    caseID,
		AmendedBy: actor.UserID,
		Timestamp: a.now(),
		Reason:    reason,
		Changes:   recorded,
	}
}

// Record writes a system audit log once a mutation has been persisted.
// Sink failures are logged, never returned: the mutation already happened.
func (a *AuditTrailAppender) Record(ctx context.Context, action, resource, resourceID string, actor models.Actor, oldValues, newValues interface{}) {
	if a.sink == nil {
		return
	}
	log := &models.AuditLog{
		ID:         a.newID(),
		Action:     action,
		Resource:   resource,
		ResourceID: optionalString(resourceID),
		OldValues:  marshalAudit(oldValues),
		NewValues:  marshalAudit(newValues),
		IPAddress:  "system",
		UserAgent:  "casebook-workflow",
		CreatedAt:  a.now(),
	}
	if origin, ok := models.RequestOriginFrom(ctx); ok {
		log.IPAddress = origin.IPAddress
		log.UserAgent = origin.UserAgent
	}
	if actor.UserID != "" {
		userID := actor.UserID
		log.UserID = &userID
	}
	if err := a.sink.CreateAuditLog(ctx, log); err != nil {
		a.logger.Warn("failed to persist audit log",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err))
	}
}

func marshalAudit(value interface{}) []byte {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return raw
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}

func copyStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
