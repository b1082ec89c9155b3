package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 500, cfg.Queue.MaxSize)
	assert.Equal(t, 2*time.Second, cfg.Queue.OpTimeout())
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.StageTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.PollInterval())
	assert.InDelta(t, 0.40, cfg.Scoring.ASRWeight, 0.001)
	assert.InDelta(t, 0.35, cfg.Scoring.EntityWeight, 0.001)
	assert.InDelta(t, 0.25, cfg.Scoring.RetrievalWeight, 0.001)
	assert.InDelta(t, 0.9, cfg.Decision.AutoThreshold, 0.001)
	assert.InDelta(t, 0.7, cfg.Decision.FlaggedThreshold, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Storage.MaxAudioSizeMB)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DISPATCH_QUEUE_MAX_SIZE", "42")
	t.Setenv("DISPATCH_PIPELINE_WORKERS", "8")
	t.Setenv("DISPATCH_SERVER_API_KEY", "env-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Queue.MaxSize)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "env-secret", cfg.Server.APIKey)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := validConfig(t)
	cfg.Scoring.ASRWeight = 0.5
	cfg.Scoring.EntityWeight = 0.5
	cfg.Scoring.RetrievalWeight = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	cfg := validConfig(t)
	cfg.Decision.AutoThreshold = 0.6
	cfg.Decision.FlaggedThreshold = 0.8

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds auto threshold")
}

func TestValidate_Positives(t *testing.T) {
	cfg := validConfig(t)
	cfg.Queue.MaxSize = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Pipeline.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Pipeline.MaxAttempts = -1
	assert.Error(t, cfg.Validate())
}

func TestDispatchTimeout(t *testing.T) {
	cfg := DispatchConfig{TimeoutSecs: 5}
	assert.Equal(t, 5*time.Second, cfg.Timeout())
}
