package dto

import "github.com/noah-isme/casebook-api/internal/models"

// UpdatePermissionRequest sets one cell of the permission matrix.
type UpdatePermissionRequest struct {
	RoleID  models.RoleID `json:"roleId" validate:"required"`
	Action  models.Action `json:"action" validate:"required"`
	Allowed *bool         `json:"allowed" validate:"required"`
}

// PermissionMatrixResponse is the admin view of the matrix.
type PermissionMatrixResponse struct {
	Roles       []models.Role       `json:"roles"`
	Actions     []models.Action     `json:"actions"`
	Permissions []models.Permission `json:"permissions"`
}

// MyPermissionsResponse lists what the caller may do.
type MyPermissionsResponse struct {
	Role     models.RoleID   `json:"role"`
	Elevated bool            `json:"elevated"`
	Actions  []models.Action `json:"actions"`
}
