package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
cache:
  driver: memory
  ttl: 5m
avatar:
  key_secret: s3cr3t
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "s3cr3t", cfg.Avatar.KeySecret)
	assert.Equal(t, 50, cfg.Avatar.GravatarSize)
	assert.Equal(t, "/images/no_pic.gif", cfg.Avatar.NoPicPath)
	assert.Equal(t, "avatar-processed", cfg.Kafka.Topic)
	assert.Equal(t, "/images/thumbnails", cfg.Storage.Local.URLPrefix)
	assert.Equal(t, "avatar-service", cfg.Log.ServiceName)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))
	t.Setenv("AVATAR_KEY_SECRET", "from-env")
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Avatar.KeySecret)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadBoundsCacheLifetimesForPresignedURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  driver: s3
cache:
  ttl: 0s
avatar:
  url_expiry: 2h
  redirect_ttl: 3h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, time.Hour, cfg.Avatar.RedirectTTL)
}

func TestLoadKeepsCacheLifetimesForPublicURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  driver: s3
  s3:
    public_url: https://cdn.example.com
cache:
  ttl: 0s
avatar:
  url_expiry: 2h
  redirect_ttl: 3h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Cache.TTL)
	assert.Equal(t, 3*time.Hour, cfg.Avatar.RedirectTTL)
}
