package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Server.JobRetention)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.LLM.Model)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 500_000, cfg.Agent.TokenBudget)
	assert.Equal(t, 5*time.Minute, cfg.Tools.ShellTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oape.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
llm:
  model: claude-haiku-test
agent:
  max_iterations: 12
tools:
  grep_limit: 50
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-test", cfg.LLM.Model)
	assert.Equal(t, 12, cfg.Agent.MaxIterations)
	assert.Equal(t, 50, cfg.Tools.GrepLimit)
	// untouched sections keep defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OAPE_SERVER_PORT", "7001")
	t.Setenv("OAPE_LLM_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestDerivedConfigs(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	tools := cfg.ToolConfig()
	assert.Equal(t, 100_000, tools.ShellOutputLimit)
	assert.Equal(t, int64(1<<20), tools.FileReadLimit)

	engine := cfg.EngineConfig()
	assert.Equal(t, 50, engine.MaxIterations)
	assert.Equal(t, 8192, engine.MaxTokens)

	client := cfg.LLMClientConfig()
	assert.Equal(t, "claude-sonnet-4-20250514", client.Model)
}
