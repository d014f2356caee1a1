package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyEnvOverridesLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := Default()
	applyEnv(&cfg)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnvLeavesDefaultsWhenUnset(t *testing.T) {
	cfg := Default()
	applyEnv(&cfg)
	want := Default()
	assert.Equal(t, want.Store.Backend, cfg.Store.Backend)
}

func TestApplyEnvOverridesChunkingInt(t *testing.T) {
	t.Setenv("MAX_TOKENS_PER_PASSAGE", "42")
	cfg := Default()
	applyEnv(&cfg)
	assert.Equal(t, 42, cfg.Chunking.MaxTokensPerPassage)
}

func TestApplyEnvIgnoresInvalidInt(t *testing.T) {
	t.Setenv("MAX_TOKENS_PER_PASSAGE", "not-a-number")
	cfg := Default()
	want := cfg.Chunking.MaxTokensPerPassage
	applyEnv(&cfg)
	assert.Equal(t, want, cfg.Chunking.MaxTokensPerPassage)
}

func TestApplyEnvOverridesDuration(t *testing.T) {
	t.Setenv("AGING_INTERVAL", "10s")
	cfg := Default()
	applyEnv(&cfg)
	assert.Equal(t, float64(10), cfg.Scheduler.AgingInterval.Seconds())
}
