package dto

import "github.com/noah-isme/casebook-api/internal/models"

// AmendCaseRequest proposes new values for case details. Fields maps the
// camelCase field name to its proposed value.
type AmendCaseRequest struct {
	Fields map[string]string `json:"fields"`
	Reason string            `json:"reason" validate:"required,max=500"`
}

// AmendmentResult carries the amended case and the amendment record.
type AmendmentResult struct {
	Case   *models.Case            `json:"case"`
	Record *models.AmendmentRecord `json:"record"`
}
