package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

// PermissionSnapshotKey is the cache key of the serialized matrix.
const PermissionSnapshotKey = "permissions:matrix"

type permissionCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string) error
}

// CachedPermissionSource serves the matrix from a shared cache and falls back
// to the store on a miss. Snapshots remember when they were read from the
// store so the authority's TTL counts from that moment.
type CachedPermissionSource struct {
	store  PermissionSource
	cache  permissionCache
	ttl    time.Duration
	maxAge time.Duration
	now    func() time.Time
}

// CachedPermissionSourceOption configures a CachedPermissionSource.
type CachedPermissionSourceOption func(*CachedPermissionSource)

// WithSnapshotMaxAge ignores cached snapshots read from the store more than
// maxAge ago. Pass the authority TTL so a snapshot is never served already
// expired.
func WithSnapshotMaxAge(maxAge time.Duration) CachedPermissionSourceOption {
	return func(c *CachedPermissionSource) {
		c.maxAge = maxAge
	}
}

// WithSnapshotClock overrides the clock used to stamp and age snapshots.
func WithSnapshotClock(now func() time.Time) CachedPermissionSourceOption {
	return func(c *CachedPermissionSource) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCachedPermissionSource wraps store with cache. cache may be nil.
func NewCachedPermissionSource(store PermissionSource, cache permissionCache, ttl time.Duration, opts ...CachedPermissionSourceOption) *CachedPermissionSource {
	c := &CachedPermissionSource{store: store, cache: cache, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadMatrix implements PermissionSource.
func (c *CachedPermissionSource) LoadMatrix(ctx context.Context) ([]models.Permission, error) {
	snapshot, err := c.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Permissions, nil
}

// LoadSnapshot implements SnapshotSource.
func (c *CachedPermissionSource) LoadSnapshot(ctx context.Context) (PermissionSnapshot, error) {
	if c.cache != nil {
		var snapshot PermissionSnapshot
		if c.cache.Get(ctx, PermissionSnapshotKey, &snapshot) && c.usable(snapshot) {
			return snapshot, nil
		}
	}
	permissions, err := c.store.LoadMatrix(ctx)
	if err != nil {
		return PermissionSnapshot{}, err
	}
	snapshot := PermissionSnapshot{Permissions: permissions, LoadedAt: c.now().UTC()}
	if c.cache != nil {
		c.cache.Set(ctx, PermissionSnapshotKey, snapshot, c.ttl)
	}
	return snapshot, nil
}

func (c *CachedPermissionSource) usable(snapshot PermissionSnapshot) bool {
	if snapshot.LoadedAt.IsZero() {
		return false
	}
	return c.maxAge <= 0 || c.now().Sub(snapshot.LoadedAt) < c.maxAge
}

// Invalidate drops the shared snapshot.
func (c *CachedPermissionSource) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Invalidate(ctx, PermissionSnapshotKey)
}

type permissionStore interface {
	LoadMatrix(ctx context.Context) ([]models.Permission, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	Upsert(ctx context.Context, permission *models.Permission) error
}

type permissionAuthority interface {
	caseAuthority
	AllowedActions(role models.RoleID) []models.Action
	Refresh(ctx context.Context, force bool) error
	Invalidate()
}

type snapshotInvalidator interface {
	Invalidate(ctx context.Context) error
}

// PermissionService administers the role/action matrix.
type PermissionService struct {
	repo      permissionStore
	snapshot  snapshotInvalidator
	authority permissionAuthority
	trail     *AuditTrailAppender
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPermissionService constructs the service. snapshot may be nil.
func NewPermissionService(repo permissionStore, snapshot snapshotInvalidator, authority permissionAuthority, trail *AuditTrailAppender, validate *validator.Validate, logger *zap.Logger) *PermissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = NewAuditTrailAppender(nil, logger)
	}
	return &PermissionService{
		repo:      repo,
		snapshot:  snapshot,
		authority: authority,
		trail:     trail,
		validator: validate,
		logger:    logger,
	}
}

// Matrix returns roles, actions and the stored matrix cells.
func (s *PermissionService) Matrix(ctx context.Context, actor models.Actor) (*dto.PermissionMatrixResponse, error) {
	if err := requireAction(s.authority, actor, models.ActionEditPermissions); err != nil {
		return nil, err
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list roles")
	}
	permissions, err := s.repo.LoadMatrix(ctx)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load permission matrix")
	}
	return &dto.PermissionMatrixResponse{Roles: roles, Actions: models.Actions, Permissions: permissions}, nil
}

// Update sets one cell of the matrix. Both caches are dropped and the
// authority reloads, so the change applies to the next request.
func (s *PermissionService) Update(ctx context.Context, req dto.UpdatePermissionRequest, actor models.Actor) (*models.Permission, error) {
	if err := requireAction(s.authority, actor, models.ActionEditPermissions); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid permission payload")
	}
	if !req.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", req.Action))
	}
	if s.authority.Elevated(req.RoleID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("role %q is elevated and bypasses the matrix", req.RoleID))
	}

	updatedBy := actor.UserID
	permission := &models.Permission{
		RoleID:    req.RoleID,
		Action:    req.Action,
		Allowed:   *req.Allowed,
		UpdatedBy: &updatedBy,
	}
	if err := s.repo.Upsert(ctx, permission); err != nil {
		return nil, appErrors.Persistence(err, "failed to save permission")
	}

	if s.snapshot != nil {
		if err := s.snapshot.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to drop permission snapshot", zap.Error(err))
		}
	}
	s.authority.Invalidate()
	if err := s.authority.Refresh(ctx, true); err != nil {
		s.logger.Warn("permission matrix reload failed after update", zap.Error(err))
	}

	s.trail.Record(ctx, models.AuditActionPermissionUpdate, "permission", string(req.RoleID)+":"+string(req.Action), actor, nil, permission)
	s.logger.Info("permission updated",
		zap.String("role", string(req.RoleID)),
		zap.String("action", string(req.Action)),
		zap.Bool("allowed", permission.Allowed),
		zap.String("actor", actor.UserID))
	return permission, nil
}

// MyActions lists what the actor may currently do.
func (s *PermissionService) MyActions(ctx context.Context, actor models.Actor) (*dto.MyPermissionsResponse, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.authority.Refresh(ctx, false); err != nil {
		s.logger.Warn("permission matrix unavailable", zap.Error(err))
	}
	return &dto.MyPermissionsResponse{
		Role:     actor.Role,
		Elevated: s.authority.Elevated(actor.Role),
		Actions:  s.authority.AllowedActions(actor.Role),
	}, nil
}
