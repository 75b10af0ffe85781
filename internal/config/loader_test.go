package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temporary directory and returns the
// mender config directory inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "mender")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	return configDir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9300
  http_host: 127.0.0.1
engine:
  min_confidence: 0.75
  min_samples: 5
  cooldown: 2m
patternstore:
  backend: redis
  redis:
    address: localhost:6379
    password: hunter2
events:
  enabled: true
  nats_url: nats://localhost:4222
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 0.75, cfg.Engine.MinConfidence)
	assert.Equal(t, 5, cfg.Engine.MinSamples)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Cooldown.Duration())
	assert.Equal(t, "redis", cfg.PatternStore.Backend)
	assert.Equal(t, "hunter2", cfg.PatternStore.Redis.Password.Value())
	assert.Equal(t, "[REDACTED]", cfg.PatternStore.Redis.Password.String())
	assert.True(t, cfg.Events.Enabled)

	// Untouched sections fall back to defaults.
	assert.Equal(t, "memory", cfg.LogStore.Backend)
	assert.Equal(t, "mender", cfg.PatternStore.Redis.Prefix)
	assert.True(t, cfg.Scrub.Enabled)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `engine:
  min_confidence: 0.7
  cooldown: 30s
`)

	t.Setenv("MENDER_ENGINE_MIN_CONFIDENCE", "0.9")
	t.Setenv("MENDER_SERVER_HTTP_PORT", "9400")
	t.Setenv("MENDER_SCRUB_ENABLED", "false")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Engine.MinConfidence)
	assert.Equal(t, 30*time.Second, cfg.Engine.Cooldown.Duration())
	assert.Equal(t, 9400, cfg.Server.Port)
	assert.False(t, cfg.Scrub.Enabled)
}

func TestLoadWithFile_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		perm    os.FileMode
		wantErr string
	}{
		{
			name:    "world readable",
			content: "server:\n  http_port: 9300\n",
			perm:    0644,
			wantErr: "insecure config file permissions",
		},
		{
			name:    "malformed yaml",
			content: "server: [unclosed\n",
			perm:    0600,
			wantErr: "failed to load config file",
		},
		{
			name:    "confidence out of range",
			content: "engine:\n  min_confidence: 1.5\n",
			perm:    0600,
			wantErr: "min_confidence",
		},
		{
			name:    "unknown backend",
			content: "logstore:\n  backend: sqlite\n",
			perm:    0600,
			wantErr: "unknown logstore backend",
		},
		{
			name:    "redis without address",
			content: "patternstore:\n  backend: redis\n",
			perm:    0600,
			wantErr: "patternstore.redis.address",
		},
		{
			name:    "negative duration",
			content: "engine:\n  cooldown: -5s\n",
			perm:    0600,
			wantErr: "failed to unmarshal config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), tt.perm))
			require.NoError(t, os.Chmod(path, tt.perm))

			_, err := LoadWithFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupTestHome(t)
	home := filepath.Dir(filepath.Dir(dir))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"inside config dir", filepath.Join(dir, "config.yaml"), false},
		{"nested inside config dir", filepath.Join(dir, "prod", "config.yaml"), false},
		{"etc dir", "/etc/mender/config.yaml", false},
		{"sibling with shared prefix", filepath.Join(home, ".config", "mender-evil", "config.yaml"), true},
		{"traversal", filepath.Join(dir, "..", "other", "config.yaml"), true},
		{"tmp", "/tmp/config.yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "engine.min_confidence", envKey("MENDER_ENGINE_MIN_CONFIDENCE"))
	assert.Equal(t, "server.http_port", envKey("MENDER_SERVER_HTTP_PORT"))
	assert.Equal(t, "patternstore.redis", envKey("MENDER_PATTERNSTORE_REDIS"))
	assert.Equal(t, "debug", envKey("MENDER_DEBUG"))
}
