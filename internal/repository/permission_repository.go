package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/casebook-api/internal/models"
)

// PermissionRepository reads and writes the role/action matrix.
type PermissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository constructs the repository.
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// LoadMatrix returns every stored matrix cell.
func (r *PermissionRepository) LoadMatrix(ctx context.Context) ([]models.Permission, error) {
	const query = `SELECT role_id, action_id, allowed, updated_by, updated_at FROM role_permissions ORDER BY role_id, action_id`
	var permissions []models.Permission
	if err := r.db.SelectContext(ctx, &permissions, query); err != nil {
		return nil, fmt.Errorf("load permission matrix: %w", err)
	}
	return permissions, nil
}

// ListRoles returns the known roles.
func (r *PermissionRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, name, description, created_at FROM roles ORDER BY id`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// Upsert sets one matrix cell.
func (r *PermissionRepository) Upsert(ctx context.Context, permission *models.Permission) error {
	if permission.UpdatedAt.IsZero() {
		permission.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO role_permissions (role_id, action_id, allowed, updated_by, updated_at)
	VALUES (:role_id, :action_id, :allowed, :updated_by, :updated_at)
	ON CONFLICT (role_id, action_id) DO UPDATE SET allowed = EXCLUDED.allowed, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, permission); err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}
