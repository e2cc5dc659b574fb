package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 5*time.Minute, cfg.Permissions.CacheTTL)
	assert.Equal(t, []string{"admin"}, cfg.Permissions.ElevatedRoles)
	assert.Equal(t, 10, cfg.Attachments.MaxFiles)
	assert.Equal(t, int64(10*1024*1024), cfg.Attachments.MaxFileSizeBytes)
	assert.Contains(t, cfg.Attachments.AllowedMIMEs, "application/pdf")
	assert.Equal(t, []string{"To be billed"}, cfg.Amendments.LockedStatuses)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("PERMISSION_CACHE_TTL", "90s")
	v.Set("PERMISSION_ELEVATED_ROLES", "admin, it ")
	v.Set("ATTACHMENTS_MAX_FILES", 0)
	v.Set("ATTACHMENTS_SIGNED_URL_TTL", "not-a-duration")

	cfg := fromViper(v)
	assert.Equal(t, 90*time.Second, cfg.Permissions.CacheTTL)
	assert.Equal(t, []string{"admin", "it"}, cfg.Permissions.ElevatedRoles)
	assert.Equal(t, 10, cfg.Attachments.MaxFiles)
	assert.Equal(t, 30*time.Minute, cfg.Attachments.SignedURLTTL)
}
