package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

type matrixSourceStub struct {
	mu    sync.Mutex
	perms []models.Permission
	err   error
	calls int
}

func (s *matrixSourceStub) LoadMatrix(ctx context.Context) ([]models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Permission, len(s.perms))
	copy(out, s.perms)
	return out, nil
}

func newAuthority(source PermissionSource, clock *testClock) *PermissionAuthority {
	return NewPermissionAuthority(source, NewMetricsService(), nil, PermissionAuthorityConfig{TTL: 5 * time.Minute, Now: clock.Now})
}

func TestAuthorizeDeniesWithoutMatrix(t *testing.T) {
	auth := newAuthority(&matrixSourceStub{}, newTestClock())
	for _, action := range models.Actions {
		assert.False(t, auth.Authorize(models.RoleSales, action))
	}
	assert.True(t, auth.Authorize(models.RoleAdmin, models.ActionEditPermissions))
}

func TestAuthorizeUsesMatrix(t *testing.T) {
	source := &matrixSourceStub{perms: []models.Permission{
		{RoleID: models.RoleOperations, Action: models.ActionProcessOrder, Allowed: true},
		{RoleID: models.RoleOperations, Action: models.ActionToBeBilled, Allowed: false},
	}}
	auth := newAuthority(source, newTestClock())
	require.NoError(t, auth.Refresh(context.Background(), false))

	assert.True(t, auth.Authorize(models.RoleOperations, models.ActionProcessOrder))
	assert.False(t, auth.Authorize(models.RoleOperations, models.ActionToBeBilled))
	assert.False(t, auth.Authorize(models.RoleDriver, models.ActionProcessOrder))
	assert.Equal(t, []models.Action{models.ActionProcessOrder}, auth.AllowedActions(models.RoleOperations))
}

func TestAuthorizeExpiresAfterTTL(t *testing.T) {
	clock := newTestClock()
	source := &matrixSourceStub{perms: []models.Permission{{RoleID: models.RoleDriver, Action: models.ActionDeliveredHospital, Allowed: true}}}
	auth := newAuthority(source, clock)
	require.NoError(t, auth.Refresh(context.Background(), false))
	require.True(t, auth.Authorize(models.RoleDriver, models.ActionDeliveredHospital))

	clock.Advance(5*time.Minute + time.Second)
	assert.False(t, auth.Fresh())
	assert.False(t, auth.Authorize(models.RoleDriver, models.ActionDeliveredHospital))
	assert.True(t, auth.Authorize(models.RoleAdmin, models.ActionDeliveredHospital))
}

func TestRefreshSkipsWhenFresh(t *testing.T) {
	source := &matrixSourceStub{}
	auth := newAuthority(source, newTestClock())
	require.NoError(t, auth.Refresh(context.Background(), false))
	require.NoError(t, auth.Refresh(context.Background(), false))
	assert.Equal(t, 1, source.calls)

	require.NoError(t, auth.Refresh(context.Background(), true))
	assert.Equal(t, 2, source.calls)
}

func TestRefreshFailureInvalidates(t *testing.T) {
	clock := newTestClock()
	source := &matrixSourceStub{perms: []models.Permission{{RoleID: models.RoleSales, Action: models.ActionCreateCase, Allowed: true}}}
	auth := newAuthority(source, clock)
	require.NoError(t, auth.Refresh(context.Background(), false))

	source.err = errors.New("connection refused")
	err := auth.Refresh(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
	assert.True(t, appErrors.Retryable(err))
	assert.False(t, auth.Authorize(models.RoleSales, models.ActionCreateCase))
}

func TestInvalidateClearsImmediately(t *testing.T) {
	source := &matrixSourceStub{perms: []models.Permission{{RoleID: models.RoleSales, Action: models.ActionViewCase, Allowed: true}}}
	auth := newAuthority(source, newTestClock())
	require.NoError(t, auth.Refresh(context.Background(), false))
	auth.Invalidate()
	assert.False(t, auth.Authorize(models.RoleSales, models.ActionViewCase))
}

func TestConfiguredElevatedRoles(t *testing.T) {
	auth := NewPermissionAuthority(&matrixSourceStub{}, nil, nil, PermissionAuthorityConfig{ElevatedRoles: []models.RoleID{models.RoleIT}})
	assert.True(t, auth.Elevated(models.RoleAdmin))
	assert.True(t, auth.Authorize(models.RoleIT, models.ActionEditPermissions))
	assert.False(t, auth.Authorize(models.RoleSales, models.ActionEditPermissions))
}

func TestConcurrentRefreshAndAuthorize(t *testing.T) {
	source := &matrixSourceStub{perms: []models.Permission{{RoleID: models.RoleSales, Action: models.ActionViewCase, Allowed: true}}}
	auth := newAuthority(source, newTestClock())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = auth.Refresh(context.Background(), true)
		}()
		go func() {
			defer wg.Done()
			_ = auth.Authorize(models.RoleSales, models.ActionViewCase)
		}()
	}
	wg.Wait()
	assert.True(t, auth.Authorize(models.RoleSales, models.ActionViewCase))
}
