package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
	assert.Equal(t, time.Duration(0), cfg.Poll.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "out", cfg.Batch.OutputDir)
	assert.Equal(t, "error_workflow", cfg.Batch.QuarantineDir)
	assert.Equal(t, "error_workflows.csv", cfg.Batch.ErrorLog)
	assert.True(t, cfg.Batch.Overwrite)
	assert.False(t, cfg.Redis.Enabled())

	assert.ErrorIs(t, cfg.Validate(), ErrServerURLRequired)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COMFYBATCH_SERVER_URL", "http://gpu-box:8188/")
	t.Setenv("COMFYBATCH_BATCH_WORKFLOW_DIR", "/data/workflow")
	t.Setenv("COMFYBATCH_RETRY_DELAY", "500ms")
	t.Setenv("COMFYBATCH_REDIS_HOST", "redis")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:8188", cfg.Server.URL)
	assert.Equal(t, "/data/workflow", cfg.Batch.WorkflowDir)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Delay)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comfybatch.yaml")
	content := `
server:
  url: http://127.0.0.1:8188
poll:
  interval: 1s
  timeout: 10m
batch:
  workflow_dir: ./workflow
  image_dir: ./pic
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Poll.Timeout)
	assert.Equal(t, "./pic", cfg.Batch.ImageDir)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		cfg.Server.URL = "http://localhost:8188"
		cfg.Batch.WorkflowDir = "workflow"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"ok", func(*Config) {}, nil},
		{"no workflow dir", func(c *Config) { c.Batch.WorkflowDir = "" }, ErrWorkflowDirRequired},
		{"zero retries", func(c *Config) { c.Retry.MaxRetries = 0 }, ErrMaxRetriesInvalid},
		{"negative delay", func(c *Config) { c.Retry.Delay = -time.Second }, ErrRetryDelayInvalid},
		{"zero interval", func(c *Config) { c.Poll.Interval = 0 }, ErrPollIntervalInvalid},
		{"negative timeout", func(c *Config) { c.Poll.Timeout = -time.Second }, ErrPollTimeoutInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
