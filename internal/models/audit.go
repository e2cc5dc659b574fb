package models

import (
	"context"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionCaseCreate       = "CASE_CREATE"
	AuditActionStatusTransition = "CASE_STATUS_TRANSITION"
	AuditActionCaseAmend        = "CASE_AMEND"
	AuditActionAttachmentAdd    = "ATTACHMENT_ADD"
	AuditActionAttachmentDelete = "ATTACHMENT_DELETE"
	AuditActionAttachmentSwap   = "ATTACHMENT_REPLACE"
	AuditActionPermissionUpdate = "PERMISSION_UPDATE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestOrigin identifies where a mutating request came from.
type RequestOrigin struct {
	IPAddress string
	UserAgent string
}

type requestOriginKey struct{}

// WithRequestOrigin stores origin on ctx for audit records.
func WithRequestOrigin(ctx context.Context, origin RequestOrigin) context.Context {
	return context.WithValue(ctx, requestOriginKey{}, origin)
}

// RequestOriginFrom returns the origin stored by WithRequestOrigin.
func RequestOriginFrom(ctx context.Context) (RequestOrigin, bool) {
	if ctx == nil {
		return RequestOrigin{}, false
	}
	origin, ok := ctx.Value(requestOriginKey{}).(RequestOrigin)
	return origin, ok
}
