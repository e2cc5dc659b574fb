package models

import "fmt"

// CaseStatus enumerates the statuses a case can hold.
type CaseStatus string

const (
	StatusCaseBooked              CaseStatus = "Case Booked"
	StatusOrderPreparation        CaseStatus = "Order Preparation"
	StatusOrderPrepared           CaseStatus = "Order Prepared"
	StatusPendingDeliveryHospital CaseStatus = "Pending Delivery (Hospital)"
	StatusDeliveredHospital       CaseStatus = "Delivered (Hospital)"
	StatusCaseCompleted           CaseStatus = "Case Completed"
	StatusPendingDeliveryOffice   CaseStatus = "Pending Delivery (Office)"
	StatusDeliveredOffice         CaseStatus = "Delivered (Office)"
	StatusToBeBilled              CaseStatus = "To be billed"
)

// StatusReceivedAtHospital is the label some legacy screens show once the
// hospital has signed for the delivery. Those screens persisted the
// Delivered (Hospital) value instead of a distinct status, so it is not part
// of the workflow until the domain owners decide whether it is its own step.
const StatusReceivedAtHospital CaseStatus = "Received (Hospital)"

// EscapeStatus may be entered from any status, skipping intermediate steps.
const EscapeStatus = StatusToBeBilled

// Workflow is the fixed ordered path of a case.
var Workflow = []CaseStatus{
	StatusCaseBooked,
	StatusOrderPreparation,
	StatusOrderPrepared,
	StatusPendingDeliveryHospital,
	StatusDeliveredHospital,
	StatusCaseCompleted,
	StatusPendingDeliveryOffice,
	StatusDeliveredOffice,
	StatusToBeBilled,
}

// WorkflowIndex returns the position of status in the workflow.
func WorkflowIndex(status CaseStatus) (int, bool) {
	for i, s := range Workflow {
		if s == status {
			return i, true
		}
	}
	return -1, false
}

// Valid reports whether s belongs to the workflow.
func (s CaseStatus) Valid() bool {
	_, ok := WorkflowIndex(s)
	return ok
}

// Terminal reports whether no further sequential step exists.
func (s CaseStatus) Terminal() bool {
	return s == StatusToBeBilled
}

// ParseCaseStatus validates a raw status string.
func ParseCaseStatus(raw string) (CaseStatus, error) {
	status := CaseStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("unknown case status %q", raw)
	}
	return status, nil
}

// ActionForStatus maps a target status to the action gating the transition
// into it. The mapping is explicit and total over Workflow.
func ActionForStatus(status CaseStatus) (Action, bool) {
	switch status {
	case StatusCaseBooked:
		return ActionCreateCase, true
	case StatusOrderPreparation:
		return ActionProcessOrder, true
	case StatusOrderPrepared:
		return ActionOrderPrepared, true
	case StatusPendingDeliveryHospital:
		return ActionPendingDeliveryHospital, true
	case StatusDeliveredHospital:
		return ActionDeliveredHospital, true
	case StatusCaseCompleted:
		return ActionCaseCompleted, true
	case StatusPendingDeliveryOffice:
		return ActionPendingDeliveryOffice, true
	case StatusDeliveredOffice:
		return ActionDeliveredOffice, true
	case StatusToBeBilled:
		return ActionToBeBilled, true
	default:
		return "", false
	}
}
