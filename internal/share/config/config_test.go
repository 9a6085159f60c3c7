package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/sharecast/internal/share"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sharecast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ConnectTimeout)
	assert.Equal(t, 2, cfg.HTTP.Retries)
	assert.Equal(t, 500, cfg.HTTP.RetrySleepMS)
	assert.Equal(t, "local", cfg.TemporaryMedia.Disk)
	assert.Equal(t, "temp-share-media", cfg.TemporaryMedia.Directory)
	assert.Equal(t, "public", cfg.TemporaryMedia.Visibility)
	assert.False(t, cfg.StrictOptionKeys)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
http:
  timeout: 45s
  retries: 4
strict_option_keys: true
default_profile: main
facebook:
  graph_version: v23.0
  profiles:
    main:
      page_id: "123"
      access_token: tok
instagram:
  poll_attempts: 5
  poll_interval: 1s
  profiles:
    main:
      ig_id: "456"
      access_token: tok
twitter:
  base_url: https://sandbox.example.com
  default_profile: bot
  profiles:
    bot:
      bearer_token: xyz
`))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 4, cfg.HTTP.Retries)
	assert.True(t, cfg.StrictOptionKeys)
	assert.Equal(t, "v23.0", cfg.Facebook.GraphVersion)
	assert.Equal(t, 5, cfg.Instagram.PollAttempts)
	assert.Equal(t, time.Second, cfg.Instagram.PollInterval)
	assert.Equal(t, "https://sandbox.example.com", cfg.Twitter.BaseURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "temporary_media:\n  disk: ftp\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestProfileResolution(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
default_profile: global
facebook:
  default_profile: page
  profiles:
    page:
      page_id: "1"
      access_token: a
    other:
      page_id: "2"
      access_token: b
twitter:
  profiles:
    global:
      bearer_token: t
`))
	require.NoError(t, err)

	t.Run("explicit name wins", func(t *testing.T) {
		creds, err := cfg.Profile(share.Facebook, "other")
		require.NoError(t, err)
		assert.Equal(t, "2", creds.Get("page_id"))
	})

	t.Run("provider default next", func(t *testing.T) {
		creds, err := cfg.Profile(share.Facebook, "")
		require.NoError(t, err)
		assert.Equal(t, "1", creds.Get("page_id"))
	})

	t.Run("global default next", func(t *testing.T) {
		creds, err := cfg.Profile(share.Twitter, "")
		require.NoError(t, err)
		assert.Equal(t, "t", creds.Get("bearer_token"))
	})

	t.Run("missing profile is a config error", func(t *testing.T) {
		_, err := cfg.Profile(share.LinkedIn, "")
		var ce share.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, share.LinkedIn, ce.Provider)
		assert.Contains(t, ce.Reason, "global")
	})
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.TemporaryMedia.Disk)
}
