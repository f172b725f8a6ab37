package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromStringAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromString(`
profiles_dir: ./profiles
llms:
  main:
    endpoint_url: https://api.openai.com/v1/chat/completions
    model: gpt-4o
`)
	require.NoError(t, err)
	assert.Equal(t, "./profiles", cfg.ProfilesDir)
	assert.Equal(t, 64, cfg.Engine.MaxTurnsPerFlow)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentChildFlows)
	assert.Equal(t, "info", cfg.Global.Logging.Level)
	assert.Equal(t, 3, cfg.LLMs["main"].MaxRetries)
}

func TestLoadConfigFromStringExpandsEnvVars(t *testing.T) {
	t.Setenv("CONCLAVE_TEST_MODEL", "gpt-4o-mini")

	cfg, err := LoadConfigFromString(`
profiles_dir: ./profiles
llms:
  main:
    endpoint_url: https://api.openai.com/v1/chat/completions
    model: ${CONCLAVE_TEST_MODEL}
`)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMs["main"].Model)
}

func TestLoadConfigFromStringRejectsMissingProfilesDir(t *testing.T) {
	_, err := LoadConfigFromString(`{}`)
	require.Error(t, err)
}

func TestLoadConfigFromStringRejectsInvalidLogLevel(t *testing.T) {
	_, err := LoadConfigFromString(`
profiles_dir: ./profiles
global:
  logging:
    level: verbose
`)
	require.Error(t, err)
}

func TestLoadConfigReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("profiles_dir: ./profiles\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./profiles", cfg.ProfilesDir)
}

func TestEngineConfigSetDefaultsDoesNotOverrideSetFields(t *testing.T) {
	cfg := EngineConfig{MaxTurnsPerFlow: 10, LLMCallTimeout: 5 * time.Second}
	cfg.SetDefaults()
	assert.Equal(t, 10, cfg.MaxTurnsPerFlow)
	assert.Equal(t, 5*time.Second, cfg.LLMCallTimeout)
	assert.Equal(t, 4, cfg.MaxConcurrentChildFlows)
}

func TestLoadConfigFromStringInterpretsTimeoutMsAsMilliseconds(t *testing.T) {
	cfg, err := LoadConfigFromString(`
profiles_dir: ./profiles
engine:
  llm_call_timeout_ms: 5000
llms:
  main:
    endpoint_url: https://api.openai.com/v1/chat/completions
    model: gpt-4o
    timeout_ms: 2500
`)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Engine.LLMCallTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.LLMs["main"].Timeout)
}

func TestLoadConfigFromStringAcceptsDurationStringTimeout(t *testing.T) {
	cfg, err := LoadConfigFromString(`
profiles_dir: ./profiles
engine:
  llm_call_timeout_ms: 30s
`)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Engine.LLMCallTimeout)
}

func TestExpandEnvVarsSupportsDefaultFallback(t *testing.T) {
	os.Unsetenv("CONCLAVE_UNSET_VAR")
	got := ExpandEnvVars("model: ${CONCLAVE_UNSET_VAR:-gpt-4o}")
	assert.Equal(t, "model: gpt-4o", got)
}
