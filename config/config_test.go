package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_JSONDefaults(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	path := writeFile(t, "config.json", `{"llm":{"api_key":"sk-1"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, DefaultModel, cfg.LLM.Model)
	assert.Equal(t, DeepSeekBaseURL, cfg.LLM.BaseURL)
	assert.Equal(t, "sk-1", cfg.LLM.APIKey)
	assert.True(t, cfg.Render.On())
	assert.Equal(t, 2, cfg.Render.MaxAttempts)
	assert.Equal(t, ModeSequential, cfg.Batch.Mode)
	assert.Equal(t, DefaultOutputDir, cfg.Batch.OutputDir)
	assert.Equal(t, DefaultServerAddr, cfg.ServerAddr)
	assert.Equal(t, DefaultMaxResults, cfg.Search.MaxResults)
	assert.Equal(t, DefaultConcurrency, cfg.Batch.Limit())
	assert.Nil(t, cfg.LLM.Settings().Temperature)
}

func TestLoadConfig_ExplicitZeroValues(t *testing.T) {
	cfg, err := Parse("c.json", []byte(`{"llm":{"temperature":0},"batch":{"mode":"concurrent","concurrency":0}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Batch.Limit())

	s := cfg.LLM.Settings()
	require.NotNil(t, s.Temperature)
	assert.Zero(t, *s.Temperature)

	cfg, err = Parse("c.yaml", []byte("batch:\n  concurrency: -1\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Batch.Limit())
}

func TestLoadConfig_YAMLWithEnv(t *testing.T) {
	t.Setenv("LITFLOW_TEST_KEY", "sk-env")
	path := writeFile(t, "config.yaml", `
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: ${LITFLOW_TEST_KEY}
  temperature: 0.5
  timeout_seconds: 30
render:
  enabled: false
  max_attempts: 3
batch:
  mode: Concurrent
  concurrency: 8
server_addr: "${LITFLOW_UNSET_ADDR:-:9090}"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Empty(t, cfg.LLM.BaseURL)
	assert.False(t, cfg.Render.On())
	assert.Equal(t, 3, cfg.Render.MaxAttempts)
	assert.Equal(t, ModeConcurrent, cfg.Batch.Mode)
	assert.Equal(t, 8, cfg.Batch.Limit())
	assert.Equal(t, ":9090", cfg.ServerAddr)

	s := cfg.LLM.Settings()
	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 0.5, *s.Temperature, 1e-9)
	assert.Equal(t, 30*time.Second, s.Timeout)
}

func TestLoadConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-from-env")
	cfg, err := Parse("c.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "not found")

	_, err = Parse("c.json", []byte(`{`))
	assert.ErrorContains(t, err, "invalid JSON")

	_, err = Parse("c.yml", []byte("llm: [\n"))
	assert.ErrorContains(t, err, "invalid YAML")

	_, err = Parse("c.json", []byte(`{"llm":{"provider":"claude"}}`))
	assert.ErrorContains(t, err, "not supported")

	_, err = Parse("c.json", []byte(`{"batch":{"mode":"parallel"}}`))
	assert.ErrorContains(t, err, "not supported")
}

func TestRenderConfig_MMDCOptions(t *testing.T) {
	r := RenderConfig{MMDCPath: "/bin/mmdc", Width: 100, TimeoutSeconds: 5}
	o := r.MMDCOptions()
	assert.Equal(t, "/bin/mmdc", o.Path)
	assert.Equal(t, 100, o.Width)
	assert.Equal(t, 5*time.Second, o.Timeout)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))

	path := writeFile(t, ".env", "LITFLOW_DOTENV_TEST=loaded\n")
	t.Setenv("LITFLOW_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("LITFLOW_DOTENV_TEST"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("LITFLOW_DOTENV_TEST"))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("LITFLOW_A", "alice")
	t.Setenv("LITFLOW_EMPTY", "")

	assert.Equal(t, "alice:", ExpandEnv("${LITFLOW_A}:${LITFLOW_UNSET_12345}"))
	assert.Equal(t, "fallback", ExpandEnv("${LITFLOW_EMPTY:-fallback}"))
	assert.Equal(t, "alice", ExpandEnv("${LITFLOW_A:-fallback}"))
	assert.Equal(t, "$HOME stays", ExpandEnv("$HOME stays"))
}
