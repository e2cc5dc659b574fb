package models

import "time"

// FieldChangeKind classifies a single field difference.
type FieldChangeKind string

const (
	FieldChangeAddition     FieldChangeKind = "ADDITION"
	FieldChangeRemoval      FieldChangeKind = "REMOVAL"
	FieldChangeModification FieldChangeKind = "MODIFICATION"
)

// FieldChange records the before and after value of one amended field.
type FieldChange struct {
	Field    string          `json:"field"`
	OldValue string          `json:"oldValue"`
	NewValue string          `json:"newValue"`
	Kind     FieldChangeKind `json:"kind"`
}

// ClassifyFieldChange returns the kind of a change between two values.
func ClassifyFieldChange(oldValue, newValue string) FieldChangeKind {
	switch {
	case oldValue == "":
		return FieldChangeAddition
	case newValue == "":
		return FieldChangeRemoval
	default:
		return FieldChangeModification
	}
}

// AmendmentRecord is the audit record of one amend command.
type AmendmentRecord struct {
	ID        string        `db:"id" json:"id"`
	CaseID    string        `db:"case_id" json:"caseId"`
	AmendedBy string        `db:"amended_by" json:"amendedBy"`
	Timestamp time.Time     `db:"amended_at" json:"timestamp"`
	Reason    string        `db:"reason" json:"reason"`
	Changes   []FieldChange `db:"-" json:"changes"`
}

// Case field names accepted by amendments, in diff order.
const (
	FieldHospital            = "hospital"
	FieldSurgeon             = "surgeon"
	FieldProcedureType       = "procedureType"
	FieldProcedureName       = "procedureName"
	FieldSurgeryDate         = "surgeryDate"
	FieldSurgeryTime         = "surgeryTime"
	FieldPatientReference    = "patientReference"
	FieldSpecialInstructions = "specialInstructions"
)

// Case fields that can never be amended.
const (
	FieldDepartment    = "department"
	FieldCountry       = "country"
	FieldSubmittedBy   = "submittedBy"
	FieldCaseReference = "caseReference"
	FieldStatus        = "status"
)

// AmendableFields is the canonical diff order.
var AmendableFields = []string{
	FieldHospital,
	FieldSurgeon,
	FieldProcedureType,
	FieldProcedureName,
	FieldSurgeryDate,
	FieldSurgeryTime,
	FieldPatientReference,
	FieldSpecialInstructions,
}

// ReadOnlyFields may be echoed back by clients but never changed.
var ReadOnlyFields = []string{
	FieldDepartment,
	FieldCountry,
	FieldSubmittedBy,
	FieldCaseReference,
	FieldStatus,
}

// FieldValue returns the current value of a named case field.
func (c *Case) FieldValue(field string) (string, bool) {
	switch field {
	case FieldHospital:
		return c.Hospital, true
	case FieldSurgeon:
		return c.Surgeon, true
	case FieldProcedureType:
		return c.ProcedureType, true
	case FieldProcedureName:
		return c.ProcedureName, true
	case FieldSurgeryDate:
		return c.SurgeryDate, true
	case FieldSurgeryTime:
		return c.SurgeryTime, true
	case FieldPatientReference:
		return c.PatientReference, true
	case FieldSpecialInstructions:
		return c.SpecialInstructions, true
	case FieldDepartment:
		return c.Department, true
	case FieldCountry:
		return c.Country, true
	case FieldSubmittedBy:
		return c.SubmittedBy, true
	case FieldCaseReference:
		return c.CaseReference, true
	case FieldStatus:
		return string(c.Status), true
	default:
		return "", false
	}
}

// SetAmendableField assigns an amendable field. Read-only fields are refused.
func (c *Case) SetAmendableField(field, value string) bool {
	switch field {
	case FieldHospital:
		c.Hospital = value
	case FieldSurgeon:
		c.Surgeon = value
	case FieldProcedureType:
		c.ProcedureType = value
	case FieldProcedureName:
		c.ProcedureName = value
	case FieldSurgeryDate:
		c.SurgeryDate = value
	case FieldSurgeryTime:
		c.SurgeryTime = value
	case FieldPatientReference:
		c.PatientReference = value
	case FieldSpecialInstructions:
		c.SpecialInstructions = value
	default:
		return false
	}
	return true
}
