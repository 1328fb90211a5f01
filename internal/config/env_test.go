package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikaelliljedahl/prfactory/internal/retry"
)

func TestLoadEnv_Defaults(t *testing.T) {
	t.Setenv("PRFACTORY_API_KEY", "secret")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "local", env.Env)
	assert.Equal(t, "3100", env.HTTPPort)
	assert.Equal(t, "yaml", env.CheckpointStore)
	assert.Equal(t, 30*time.Minute, env.Timeout)
	assert.Equal(t, int64(4), env.MaxConcurrentExecutions)
	assert.Equal(t, 7*24*time.Hour, env.CheckpointRetention)
	assert.Equal(t, "log", env.NotifierEnv.Type)
	assert.Equal(t, slog.LevelDebug, env.SlogLevel())

	opts := env.PipelineOptions()
	assert.True(t, opts.Enabled)
	assert.True(t, opts.EnableRetry)
	assert.True(t, opts.ErrorHandling.SanitizeErrorMessages)
	assert.True(t, opts.ErrorHandling.RethrowCancellation)
	assert.Equal(t, retry.DefaultOptions(), opts.Retry)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("PRFACTORY_API_KEY", "secret")
	t.Setenv("PRFACTORY_RETRY_BACKOFF", "Linear")
	t.Setenv("PRFACTORY_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("PRFACTORY_PIPELINE_TIMEOUT", "90s")
	t.Setenv("PRFACTORY_ENABLE_TELEMETRY", "false")
	t.Setenv("PRFACTORY_LOG_LEVEL", "warn")
	t.Setenv("PRFACTORY_ENABLED", "false")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, retry.BackoffLinear, env.RetryOptions().BackoffType)
	assert.Equal(t, 5, env.RetryOptions().MaxRetryAttempts)
	assert.Equal(t, 90*time.Second, env.PipelineOptions().Timeout)
	assert.False(t, env.PipelineOptions().EnableTelemetry)
	assert.False(t, env.PipelineOptions().Enabled)
	assert.Equal(t, slog.LevelWarn, env.SlogLevel())
}

func TestLoadEnv_MissingAPIKey(t *testing.T) {
	t.Setenv("PRFACTORY_API_KEY", "")
	_, err := LoadEnv()
	require.Error(t, err)
}

func TestValidate_ListsEveryProblem(t *testing.T) {
	t.Setenv("PRFACTORY_API_KEY", "secret")
	t.Setenv("PRFACTORY_HTTP_PORT", "http")
	t.Setenv("PRFACTORY_STORAGE_TYPE", "s3")
	t.Setenv("PRFACTORY_CHECKPOINT_STORE", "redis")
	t.Setenv("PRFACTORY_MAX_CONCURRENT_EXECUTIONS", "0")
	t.Setenv("PRFACTORY_RETRY_MAX_DELAY", "1s")
	t.Setenv("PRFACTORY_NOTIFIER_TYPE", "jira")
	t.Setenv("PRFACTORY_VAPID_PUBLIC_KEY", "pub")

	_, err := LoadEnv()
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Len(t, ce.Problems, 7)
	for _, want := range []string{
		"HTTP_PORT",
		"S3_BUCKET",
		"CHECKPOINT_STORE",
		"MAX_CONCURRENT_EXECUTIONS",
		"max delay must be at least the initial delay",
		"JIRA_BASE_URL",
		"VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
