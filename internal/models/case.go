package models

import "time"

// Case is a booked surgical case moving through the delivery workflow.
// Status is only changed by the transition engine.
type Case struct {
	ID                  string     `db:"id" json:"id"`
	CaseReference       string     `db:"case_reference" json:"caseReference"`
	Status              CaseStatus `db:"status" json:"status"`
	IsAmended           bool       `db:"is_amended" json:"isAmended"`
	AmendedBy           *string    `db:"amended_by" json:"amendedBy,omitempty"`
	AmendedAt           *time.Time `db:"amended_at" json:"amendedAt,omitempty"`
	SubmittedBy         string     `db:"submitted_by" json:"submittedBy"`
	Country             string     `db:"country" json:"country"`
	Department          string     `db:"department" json:"department"`
	Hospital            string     `db:"hospital" json:"hospital"`
	Surgeon             string     `db:"surgeon" json:"surgeon"`
	ProcedureType       string     `db:"procedure_type" json:"procedureType"`
	ProcedureName       string     `db:"procedure_name" json:"procedureName"`
	SurgeryDate         string     `db:"surgery_date" json:"surgeryDate"`
	SurgeryTime         string     `db:"surgery_time" json:"surgeryTime"`
	PatientReference    string     `db:"patient_reference" json:"patientReference"`
	SpecialInstructions string     `db:"special_instructions" json:"specialInstructions"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`

	History []StatusHistoryEntry `db:"-" json:"history,omitempty"`
}

// StatusHistoryEntry is one write-once row of a case's status trail.
type StatusHistoryEntry struct {
	ID             string     `db:"id" json:"id"`
	CaseID         string     `db:"case_id" json:"caseId"`
	Sequence       int        `db:"sequence" json:"sequence"`
	Status         CaseStatus `db:"status" json:"status"`
	ActorID        string     `db:"actor_id" json:"actorId"`
	ActorName      string     `db:"actor_name" json:"actorName"`
	Timestamp      time.Time  `db:"recorded_at" json:"timestamp"`
	Detail         *string    `db:"detail" json:"detail,omitempty"`
	AttachmentRefs []string   `db:"-" json:"attachmentRefs,omitempty"`
}

// CaseFilter constrains listing queries.
type CaseFilter struct {
	Status      []CaseStatus
	Country     string
	Department  string
	SubmittedBy string
	Limit       int
	Offset      int
}

// Actor is the authenticated user issuing a command.
type Actor struct {
	UserID     string
	Name       string
	Role       RoleID
	Country    string
	Department string
}

// ActorFromClaims maps verified token claims onto an Actor.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{
		UserID:     claims.UserID,
		Name:       claims.FullName,
		Role:       claims.Role,
		Country:    claims.Country,
		Department: claims.Department,
	}
}
