package models

import "time"

// RoleID identifies a role in the permission matrix.
type RoleID string

// RoleAdmin is granted every action without consulting the matrix.
const RoleAdmin RoleID = "admin"

// Known operational roles. Roles are data, so this list is not exhaustive.
const (
	RoleOperations       RoleID = "operations"
	RoleOperationManager RoleID = "operation-manager"
	RoleSales            RoleID = "sales"
	RoleSalesManager     RoleID = "sales-manager"
	RoleDriver           RoleID = "driver"
	RoleIT               RoleID = "it"
)

// Action is a stable identifier gating an operation in the permission matrix.
type Action string

const (
	ActionCreateCase              Action = "create-case"
	ActionProcessOrder            Action = "process-order"
	ActionOrderPrepared           Action = "order-prepared"
	ActionPendingDeliveryHospital Action = "pending-delivery-hospital"
	ActionDeliveredHospital       Action = "delivered-hospital"
	ActionCaseCompleted           Action = "case-completed"
	ActionPendingDeliveryOffice   Action = "pending-delivery-office"
	ActionDeliveredOffice         Action = "delivered-office"
	ActionToBeBilled              Action = "to-be-billed"
	ActionAmendCase               Action = "amend-case"
	ActionManageAttachments       Action = "manage-attachments"
	ActionViewCase                Action = "view-case"
	ActionExportHistory           Action = "export-history"
	ActionEditPermissions         Action = "edit-permissions"
)

// Actions lists every action identifier.
var Actions = []Action{
	ActionCreateCase,
	ActionProcessOrder,
	ActionOrderPrepared,
	ActionPendingDeliveryHospital,
	ActionDeliveredHospital,
	ActionCaseCompleted,
	ActionPendingDeliveryOffice,
	ActionDeliveredOffice,
	ActionToBeBilled,
	ActionAmendCase,
	ActionManageAttachments,
	ActionViewCase,
	ActionExportHistory,
	ActionEditPermissions,
}

// Valid reports whether a is a known action identifier.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Role carries display metadata for a role.
type Role struct {
	ID          RoleID    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Permission is one cell of the role/action matrix.
type Permission struct {
	RoleID    RoleID    `db:"role_id" json:"roleId"`
	Action    Action    `db:"action_id" json:"actionId"`
	Allowed   bool      `db:"allowed" json:"allowed"`
	UpdatedBy *string   `db:"updated_by" json:"updatedBy,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
