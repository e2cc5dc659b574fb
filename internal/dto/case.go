package dto

import "github.com/noah-isme/casebook-api/internal/models"

// CreateCaseRequest is the booking form submitted by sales.
type CreateCaseRequest struct {
	CaseReference       string `json:"caseReference" validate:"required,max=64"`
	Country             string `json:"country" validate:"required,len=2"`
	Department          string `json:"department" validate:"required"`
	Hospital            string `json:"hospital" validate:"required"`
	Surgeon             string `json:"surgeon"`
	ProcedureType       string `json:"procedureType" validate:"required"`
	ProcedureName       string `json:"procedureName"`
	SurgeryDate         string `json:"surgeryDate" validate:"required,datetime=2006-01-02"`
	SurgeryTime         string `json:"surgeryTime" validate:"omitempty,datetime=15:04"`
	PatientReference    string `json:"patientReference"`
	SpecialInstructions string `json:"specialInstructions" validate:"max=2000"`
}

// TransitionRequest moves a case to a new status.
type TransitionRequest struct {
	Status         models.CaseStatus `json:"status" validate:"required"`
	Detail         string            `json:"detail" validate:"max=1000"`
	AttachmentRefs []string          `json:"attachmentRefs" validate:"max=20,dive,required"`
}

// TransitionResult carries the updated case and the recorded entry.
type TransitionResult struct {
	Case  *models.Case               `json:"case"`
	Entry *models.StatusHistoryEntry `json:"entry"`
}

// CaseQuery mirrors supported listing filters.
type CaseQuery struct {
	Status     []models.CaseStatus
	Department string
	Country    string
	Page       int
	PageSize   int
}

// AvailableTransitionsResponse lists the statuses the caller may move to.
type AvailableTransitionsResponse struct {
	CaseID  string              `json:"caseId"`
	Current models.CaseStatus   `json:"current"`
	Next    []models.CaseStatus `json:"next"`
}
