package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/models"
	"github.com/noah-isme/casebook-api/internal/repository"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

type permissionStoreStub struct {
	perms []models.Permission
	roles []models.Role
	loads int
	err   error
}

func (s *permissionStoreStub) LoadMatrix(ctx context.Context) ([]models.Permission, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.Permission(nil), s.perms...), nil
}

func (s *permissionStoreStub) ListRoles(ctx context.Context) ([]models.Role, error) {
	return s.roles, s.err
}

func (s *permissionStoreStub) Upsert(ctx context.Context, permission *models.Permission) error {
	if s.err != nil {
		return s.err
	}
	permission.UpdatedAt = fixedNow
	for i := range s.perms {
		if s.perms[i].RoleID == permission.RoleID && s.perms[i].Action == permission.Action {
			s.perms[i] = *permission
			return nil
		}
	}
	s.perms = append(s.perms, *permission)
	return nil
}

func newRedisCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheService(repository.NewCacheRepository(client, nil), NewMetricsService(), time.Minute, nil, true), mr
}

type permissionFixture struct {
	svc       *PermissionService
	store     *permissionStoreStub
	authority *PermissionAuthority
	redis     *miniredis.Miniredis
	sink      *auditSinkStub
}

func newPermissionFixture(t *testing.T) *permissionFixture {
	t.Helper()
	store := &permissionStoreStub{
		perms: []models.Permission{{RoleID: models.RoleSalesManager, Action: models.ActionEditPermissions, Allowed: true}},
		roles: []models.Role{{ID: models.RoleAdmin, Name: "Administrator"}, {ID: models.RoleSales, Name: "Sales"}},
	}
	cache, mr := newRedisCache(t)
	source := NewCachedPermissionSource(store, cache, time.Minute)
	authority := NewPermissionAuthority(source, NewMetricsService(), nil, PermissionAuthorityConfig{})
	require.NoError(t, authority.Refresh(context.Background(), true))
	sink := &auditSinkStub{}
	svc := NewPermissionService(store, source, authority, newTestTrail(sink), nil, nil)
	return &permissionFixture{svc: svc, store: store, authority: authority, redis: mr, sink: sink}
}

func allowed(v bool) *bool {
	return &v
}

func TestCachedPermissionSourceServesSnapshot(t *testing.T) {
	store := &permissionStoreStub{perms: []models.Permission{{RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: true}}}
	cache, mr := newRedisCache(t)
	source := NewCachedPermissionSource(store, cache, time.Minute)

	first, err := source.LoadMatrix(context.Background())
	require.NoError(t, err)
	second, err := source.LoadMatrix(context.Background())
	require.NoError(t, err)
	require.Len(t, second, len(first))
	assert.Equal(t, first[0].RoleID, second[0].RoleID)
	assert.True(t, second[0].Allowed)
	assert.Equal(t, 1, store.loads)
	assert.True(t, mr.Exists("casebook:"+PermissionSnapshotKey))

	require.NoError(t, source.Invalidate(context.Background()))
	assert.False(t, mr.Exists("casebook:"+PermissionSnapshotKey))
	_, err = source.LoadMatrix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
}

func TestCachedPermissionSourcePropagatesStoreErrors(t *testing.T) {
	store := &permissionStoreStub{err: errors.New("db down")}
	source := NewCachedPermissionSource(store, nil, time.Minute)
	_, err := source.LoadMatrix(context.Background())
	assert.Error(t, err)
}

func TestCachedPermissionSourceSkipsAgedSnapshot(t *testing.T) {
	store := &permissionStoreStub{perms: []models.Permission{{RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: true}}}
	cache, _ := newRedisCache(t)
	clock := newTestClock()
	source := NewCachedPermissionSource(store, cache, time.Hour,
		WithSnapshotMaxAge(5*time.Minute), WithSnapshotClock(clock.Now))

	first, err := source.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, first.LoadedAt.Equal(fixedNow))

	clock.Advance(4 * time.Minute)
	cached, err := source.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads)
	assert.True(t, cached.LoadedAt.Equal(fixedNow))

	clock.Advance(2 * time.Minute)
	reloaded, err := source.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
	assert.True(t, reloaded.LoadedAt.Equal(clock.Now()))
}

func TestAuthorityAgesSharedSnapshotFromStoreRead(t *testing.T) {
	store := &permissionStoreStub{perms: []models.Permission{{RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: true}}}
	cache, _ := newRedisCache(t)
	clock := newTestClock()
	opts := []CachedPermissionSourceOption{WithSnapshotMaxAge(5 * time.Minute), WithSnapshotClock(clock.Now)}

	// another instance populates the shared snapshot
	_, err := NewCachedPermissionSource(store, cache, time.Hour, opts...).LoadSnapshot(context.Background())
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)

	source := NewCachedPermissionSource(store, cache, time.Hour, opts...)
	authority := NewPermissionAuthority(source, NewMetricsService(), nil, PermissionAuthorityConfig{TTL: 5 * time.Minute, Now: clock.Now})
	require.NoError(t, authority.Refresh(context.Background(), false))
	assert.Equal(t, 1, store.loads)
	assert.True(t, authority.Authorize(models.RoleSales, models.ActionCreateCase))

	clock.Advance(90 * time.Second)
	assert.False(t, authority.Fresh())
	assert.False(t, authority.Authorize(models.RoleSales, models.ActionCreateCase))

	require.NoError(t, authority.Refresh(context.Background(), false))
	assert.Equal(t, 2, store.loads)
	assert.True(t, authority.Fresh())
}

func TestPermissionServiceUpdateAppliesImmediately(t *testing.T) {
	f := newPermissionFixture(t)
	require.False(t, f.authority.Authorize(models.RoleSales, models.ActionCreateCase))

	perm, err := f.svc.Update(context.Background(), dto.UpdatePermissionRequest{
		RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: allowed(true),
	}, testActor(models.RoleAdmin))
	require.NoError(t, err)
	assert.True(t, perm.Allowed)
	require.NotNil(t, perm.UpdatedBy)
	assert.Equal(t, "user-admin", *perm.UpdatedBy)

	assert.True(t, f.authority.Authorize(models.RoleSales, models.ActionCreateCase))
	require.Len(t, f.sink.logs, 1)
	assert.Equal(t, models.AuditActionPermissionUpdate, f.sink.logs[0].Action)
}

func TestPermissionServiceUpdateByMatrixRole(t *testing.T) {
	f := newPermissionFixture(t)
	_, err := f.svc.Update(context.Background(), dto.UpdatePermissionRequest{
		RoleID: models.RoleDriver, Action: models.ActionDeliveredHospital, Allowed: allowed(true),
	}, testActor(models.RoleSalesManager))
	require.NoError(t, err)
	assert.True(t, f.authority.Authorize(models.RoleDriver, models.ActionDeliveredHospital))
}

func TestPermissionServiceUpdateRejections(t *testing.T) {
	f := newPermissionFixture(t)
	admin := testActor(models.RoleAdmin)

	_, err := f.svc.Update(context.Background(), dto.UpdatePermissionRequest{RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: allowed(true)}, testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrAuthorizationDenied))

	_, err = f.svc.Update(context.Background(), dto.UpdatePermissionRequest{RoleID: models.RoleSales, Action: "launch-rocket", Allowed: allowed(true)}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Update(context.Background(), dto.UpdatePermissionRequest{RoleID: models.RoleSales, Action: models.ActionCreateCase}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Update(context.Background(), dto.UpdatePermissionRequest{RoleID: models.RoleAdmin, Action: models.ActionCreateCase, Allowed: allowed(false)}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	f.store.err = errors.New("db down")
	_, err = f.svc.Update(context.Background(), dto.UpdatePermissionRequest{RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: allowed(true)}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
}

func TestPermissionServiceMatrixAndMyActions(t *testing.T) {
	f := newPermissionFixture(t)

	_, err := f.svc.Matrix(context.Background(), testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrAuthorizationDenied))

	matrix, err := f.svc.Matrix(context.Background(), testActor(models.RoleAdmin))
	require.NoError(t, err)
	assert.Len(t, matrix.Roles, 2)
	assert.Equal(t, models.Actions, matrix.Actions)
	assert.Len(t, matrix.Permissions, 1)

	mine, err := f.svc.MyActions(context.Background(), testActor(models.RoleSalesManager))
	require.NoError(t, err)
	assert.False(t, mine.Elevated)
	assert.Equal(t, []models.Action{models.ActionEditPermissions}, mine.Actions)

	admin, err := f.svc.MyActions(context.Background(), testActor(models.RoleAdmin))
	require.NoError(t, err)
	assert.True(t, admin.Elevated)
	assert.Len(t, admin.Actions, len(models.Actions))
}
