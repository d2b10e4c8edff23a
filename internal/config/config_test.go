package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and unsets every variable the
// loader would read, restoring them when the test ends.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if envKey(key) == "" {
			continue
		}
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() { _ = os.Setenv(key, value) })
	}
	return home
}

func writeConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()

	dir := filepath.Join(home, ".config", "deployd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `
server:
  port: 9191
github:
  token: ghp_from_file
  username: grader
allowed:
  secrets: alpha,beta
notify:
  base_delay: 250ms
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "ghp_from_file", cfg.GitHub.Token.Value())
	assert.Equal(t, "grader", cfg.GitHub.Username)
	assert.Equal(t, []Secret{"alpha", "beta"}, cfg.Allowed.Secrets.List())
	assert.Equal(t, 250*time.Millisecond, cfg.Notify.BaseDelay.Duration())
	assert.Equal(t, 5, cfg.Notify.MaxAttempts)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `
server:
  port: 9191
github:
  token: ghp_from_file
allowed:
  secrets: alpha
`, 0600)

	t.Setenv("SERVER_PORT", "8088")
	t.Setenv("GITHUB_TOKEN", "ghp_from_env")
	t.Setenv("PIPELINE_MAX_CONCURRENT", "3")
	t.Setenv("NOTIFY_BASE_DELAY", "2s")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "ghp_from_env", cfg.GitHub.Token.Value())
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Notify.BaseDelay.Duration())
}

func TestLoadWithFile_NoFileUsesEnv(t *testing.T) {
	setupTestHome(t)
	t.Setenv("PUBLISHER_BACKEND", "local")
	t.Setenv("ALLOWED_SECRETS", "s1")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Publisher.Backend)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadWithFile_EmptyEnvKeepsFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `
github:
  token: ghp_from_file
allowed:
  secrets: alpha
notify:
  base_delay: 250ms
`, 0600)

	t.Setenv("ALLOWED_SECRETS", "")
	t.Setenv("NOTIFY_BASE_DELAY", "")
	t.Setenv("GITHUB_TOKEN", "")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, []Secret{"alpha"}, cfg.Allowed.Secrets.List())
	assert.Equal(t, 250*time.Millisecond, cfg.Notify.BaseDelay.Duration())
	assert.Equal(t, "ghp_from_file", cfg.GitHub.Token.Value())
}

func TestLoadWithFile_Rejections(t *testing.T) {
	t.Run("insecure permissions", func(t *testing.T) {
		home := setupTestHome(t)
		path := writeConfig(t, home, "allowed:\n  secrets: a\n", 0644)

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("path outside allowed dirs", func(t *testing.T) {
		setupTestHome(t)
		path := filepath.Join(t.TempDir(), "config.yaml")

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config path validation failed")
	})

	t.Run("missing github token", func(t *testing.T) {
		home := setupTestHome(t)
		path := writeConfig(t, home, "allowed:\n  secrets: a\n", 0600)

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "github.token is required")
	})
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GITHUB_TOKEN", "github.token"},
		{"OPENAI_API_KEY", "openai.api_key"},
		{"ALLOWED_SECRETS", "allowed.secrets"},
		{"PIPELINE_GENERATE_TIMEOUT", "pipeline.generate_timeout"},
		{"PATH", ""},
		{"HOME", ""},
		{"XDG_CONFIG_HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.GitHub.Token = "ghp_x"
		cfg.Allowed.Secrets = "s"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"no secrets", func(c *Config) { c.Allowed.Secrets = " , " }, "allowed.secrets"},
		{"unknown backend", func(c *Config) { c.Publisher.Backend = "gitlab" }, "publisher.backend"},
		{"local needs no token", func(c *Config) { c.Publisher.Backend = BackendLocal; c.GitHub.Token = "" }, ""},
		{"api url slash", func(c *Config) { c.GitHub.APIURL = "https://ghe.local/api/v3" }, "must end with a slash"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero workers", func(c *Config) { c.Pipeline.MaxConcurrent = 0 }, "max_concurrent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret", s.Value())

	data, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))

	assert.Empty(t, Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
