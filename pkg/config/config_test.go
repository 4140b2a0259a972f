package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nassdata/quickstats/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfigIsValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, MaxPageSize, cfg.API.PageSize)
	assert.True(t, cfg.API.HasPaging())
	assert.True(t, cfg.Reliability.IsRateLimited())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"page size zero", func(c *Config) { c.API.PageSize = 0 }},
		{"offset without limit", func(c *Config) { c.API.LimitParam = "" }},
		{"limit without offset", func(c *Config) { c.API.OffsetParam = "" }},
		{"page size over cap", func(c *Config) { c.API.PageSize = MaxPageSize + 1 }},
		{"same paging params", func(c *Config) { c.API.LimitParam = c.API.OffsetParam }},
		{"no concurrency", func(c *Config) { c.Performance.MaxConcurrency = 0 }},
		{"no attempts", func(c *Config) { c.Reliability.RetryAttempts = 0 }},
		{"negative rate", func(c *Config) { c.Reliability.RateLimitPerSec = -1 }},
		{"negative delay", func(c *Config) { c.Reliability.JobDelay = -time.Second }},
		{"no output", func(c *Config) { c.Output.Type = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := NewConfig()
	err := cfg.API.RequireAPIKey()
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	cfg.API.APIKey = "  "
	assert.True(t, errors.IsAuth(cfg.API.RequireAPIKey()))

	cfg.API.APIKey = "secret"
	assert.NoError(t, cfg.API.RequireAPIKey())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Setenv("QS_TEST_BUCKET", "nass-raw")
	t.Setenv(APIKeyEnv, "")
	path := writeFile(t, "quickstats.yaml", `
name: nightly
api:
  page_size: 1000
reliability:
  job_delay: 250ms
output:
  type: s3
  bucket: ${QS_TEST_BUCKET}
  prefix: quickstats/
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.Name)
	assert.Equal(t, 1000, cfg.API.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Reliability.JobDelay)
	assert.Equal(t, "s3", cfg.Output.Type)
	assert.Equal(t, "nass-raw", cfg.Output.Bucket)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 4, cfg.Reliability.RetryAttempts)
	assert.Equal(t, "gzip", cfg.Output.Compression)
}

func TestLoadEnvKeyOverridesFile(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	path := writeFile(t, "quickstats.yaml", "api:\n  api_key: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.APIKey)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(APIKeyEnv, "k")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.API.APIKey)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "api: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "invalid.yaml", "api:\n  page_size: 60000\n"))
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("QS_A", "one")
	t.Setenv("QS_B", "two")
	assert.Equal(t, "one-two", substituteEnvVars("${QS_A}-${QS_B}"))
	assert.Equal(t, "x=", substituteEnvVars("x=${QS_UNSET_VARIABLE}"))
	assert.Equal(t, "${open", substituteEnvVars("${open"))
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	os.Unsetenv(APIKeyEnv)
	path := writeFile(t, ".env", APIKeyEnv+"=dotenv-key\n")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "dotenv-key", os.Getenv(APIKeyEnv))
}
