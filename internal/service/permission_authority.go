package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

// DefaultPermissionTTL bounds how long a loaded matrix is trusted.
const DefaultPermissionTTL = 5 * time.Minute

// PermissionSource supplies the authoritative role/action matrix.
type PermissionSource interface {
	LoadMatrix(ctx context.Context) ([]models.Permission, error)
}

// PermissionSnapshot is a matrix together with the time it was read from
// the authoritative store.
type PermissionSnapshot struct {
	Permissions []models.Permission `json:"permissions"`
	LoadedAt    time.Time           `json:"loadedAt"`
}

// SnapshotSource is implemented by sources serving copies of the matrix that
// know when the copy was read from the store.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context) (PermissionSnapshot, error)
}

// PermissionSourceFunc adapts a function into a PermissionSource.
type PermissionSourceFunc func(ctx context.Context) ([]models.Permission, error)

// LoadMatrix implements PermissionSource.
func (f PermissionSourceFunc) LoadMatrix(ctx context.Context) ([]models.Permission, error) {
	return f(ctx)
}

type permissionKey struct {
	role   models.RoleID
	action models.Action
}

// PermissionAuthorityConfig configures cache lifetime and elevated roles.
type PermissionAuthorityConfig struct {
	TTL           time.Duration
	ElevatedRoles []models.RoleID
	Now           func() time.Time
}

// PermissionAuthority decides whether a role may perform an action.
//
// Elevated roles are allowed everything and never hit the matrix. For every
// other role the decision comes from a cached copy of the matrix; when that
// copy is missing or older than the TTL every lookup is denied.
type PermissionAuthority struct {
	source   PermissionSource
	logger   *zap.Logger
	metrics  *MetricsService
	ttl      time.Duration
	now      func() time.Time
	elevated map[models.RoleID]struct{}

	mu       sync.RWMutex
	matrix   map[permissionKey]bool
	loadedAt time.Time
}

// NewPermissionAuthority builds an authority with an empty cache.
func NewPermissionAuthority(source PermissionSource, metrics *MetricsService, logger *zap.Logger, cfg PermissionAuthorityConfig) *PermissionAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultPermissionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	elevated := map[models.RoleID]struct{}{models.RoleAdmin: {}}
	for _, role := range cfg.ElevatedRoles {
		elevated[role] = struct{}{}
	}
	return &PermissionAuthority{
		source:   source,
		logger:   logger,
		metrics:  metrics,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		elevated: elevated,
	}
}

// Elevated reports whether role bypasses the matrix.
func (p *PermissionAuthority) Elevated(role models.RoleID) bool {
	_, ok := p.elevated[role]
	return ok
}

// Authorize reports whether role may perform action.
func (p *PermissionAuthority) Authorize(role models.RoleID, action models.Action) bool {
	if p.Elevated(role) {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.freshLocked() {
		p.metrics.RecordAuthorization("stale")
		return false
	}
	if p.matrix[permissionKey{role: role, action: action}] {
		p.metrics.RecordAuthorization("allowed")
		return true
	}
	p.metrics.RecordAuthorization("denied")
	return false
}

// AllowedActions lists the actions role may currently perform.
func (p *PermissionAuthority) AllowedActions(role models.RoleID) []models.Action {
	allowed := make([]models.Action, 0, len(models.Actions))
	for _, action := range models.Actions {
		if p.Authorize(role, action) {
			allowed = append(allowed, action)
		}
	}
	return allowed
}

// Fresh reports whether a matrix is loaded and within its TTL.
func (p *PermissionAuthority) Fresh() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freshLocked()
}

func (p *PermissionAuthority) freshLocked() bool {
	if p.matrix == nil {
		return false
	}
	return p.now().Sub(p.loadedAt) <= p.ttl
}

// Refresh reloads the matrix unless it is still fresh and force is false.
// A failed load clears the cache instead of keeping stale data.
func (p *PermissionAuthority) Refresh(ctx context.Context, force bool) error {
	if !force && p.Fresh() {
		return nil
	}
	if p.source == nil {
		p.Invalidate()
		return appErrors.Clone(appErrors.ErrPersistence, "permission source not configured")
	}
	snapshot, err := p.load(ctx)
	if err != nil {
		p.Invalidate()
		p.metrics.RecordPermissionRefresh(false)
		p.logger.Warn("permission matrix refresh failed", zap.Error(err))
		return appErrors.Persistence(err, "failed to load permission matrix")
	}
	matrix := make(map[permissionKey]bool, len(snapshot.Permissions))
	for _, perm := range snapshot.Permissions {
		matrix[permissionKey{role: perm.RoleID, action: perm.Action}] = perm.Allowed
	}
	loadedAt := snapshot.LoadedAt
	if now := p.now(); loadedAt.IsZero() || loadedAt.After(now) {
		loadedAt = now
	}

	p.mu.Lock()
	p.matrix = matrix
	p.loadedAt = loadedAt
	p.mu.Unlock()

	p.metrics.RecordPermissionRefresh(true)
	p.logger.Debug("permission matrix refreshed", zap.Int("entries", len(matrix)))
	return nil
}

// load prefers a timestamped snapshot so the TTL counts from the store read,
// not from when a shared copy reached this process.
func (p *PermissionAuthority) load(ctx context.Context) (PermissionSnapshot, error) {
	if source, ok := p.source.(SnapshotSource); ok {
		return source.LoadSnapshot(ctx)
	}
	permissions, err := p.source.LoadMatrix(ctx)
	if err != nil {
		return PermissionSnapshot{}, err
	}
	return PermissionSnapshot{Permissions: permissions, LoadedAt: p.now()}, nil
}

// Invalidate drops the cached matrix immediately.
func (p *PermissionAuthority) Invalidate() {
	p.mu.Lock()
	p.matrix = nil
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}
