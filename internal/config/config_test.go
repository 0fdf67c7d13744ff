package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prompt-edu/feedbackdesk/internal/config"
	"github.com/prompt-edu/feedbackdesk/internal/feedback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToEnvWhenFileMissing(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv("FEEDBACKDESK_BASE_URL", "https://feedback.example.com/")
	t.Setenv("FEEDBACKDESK_STATE_DIR", stateDir)
	t.Setenv("FEEDBACKDESK_REQUEST_TIMEOUT", "30s")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://feedback.example.com", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.DraftQuietPeriod)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(stateDir, "feedbackdesk.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(stateDir, "state.json"), cfg.StateBackendDSN())
	assert.Equal(t, filepath.Join(stateDir, "session.json"), cfg.SessionPath())
}

func TestStateBackendDSNResolvesRelativeStateDir(t *testing.T) {
	t.Setenv("FEEDBACKDESK_BASE_URL", "https://feedback.example.com")
	t.Setenv("FEEDBACKDESK_STATE_DIR", filepath.Join("state", "dir"))
	t.Setenv("FEEDBACKDESK_STATE_DSN", "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	want, err := filepath.Abs(filepath.Join("state", "dir", "state.json"))
	require.NoError(t, err)
	assert.Equal(t, want, cfg.StateBackendDSN())

	backend, err := feedback.BuildStateBackendFromDSN(cfg.StateBackendDSN())
	require.NoError(t, err)
	file, ok := backend.(*feedback.JSONFileStateBackend)
	require.True(t, ok, "expected a JSON file backend, got %T", backend)
	assert.Equal(t, want, file.Path)
	assert.NotEqual(t, "/state.json", file.Path)
}

func TestLoadParsesYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
base_url: http://localhost:8000
username: editor
state_dir: ` + dir + `
state_dsn: redis://localhost:6379/0
log_level: debug
request_timeout: 5s
draft_quiet_period: 750ms
max_retries: 1
page_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("FEEDBACKDESK_USERNAME", "override")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, "override", cfg.Username)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.DraftQuietPeriod)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, "redis://localhost:6379/0", cfg.StateBackendDSN())
}

func TestInitWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, config.Init(path, config.Config{}, false))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)

	err = config.Init(path, config.Config{}, false)
	assert.ErrorIs(t, err, config.ErrConfigExists)

	custom := config.Default()
	custom.BaseURL = "https://prompt.example.org"
	require.NoError(t, config.Init(path, custom, true))
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://prompt.example.org", cfg.BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.BaseURL = "ftp://example.com"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.LogLevel = "loud"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RequestTimeout = 0
	assert.Error(t, bad.Validate())
}
