package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"oape/internal/agent"
	oerr "oape/internal/errors"
	"oape/internal/llm"
	"oape/internal/observability"
	"oape/internal/tools/builtin"
)

// Config is the full server configuration, loaded from oape.yaml and OAPE_*
// environment variables (env wins).
type Config struct {
	Server  ServerConfig                `mapstructure:"server"`
	LLM     LLMConfig                   `mapstructure:"llm"`
	Agent   AgentConfig                 `mapstructure:"agent"`
	Tools   ToolsConfig                 `mapstructure:"tools"`
	Prompts PromptsConfig               `mapstructure:"prompts"`
	Logging LoggingConfig               `mapstructure:"logging"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	JobRetention int      `mapstructure:"job_retention"`
}

type LLMConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type AgentConfig struct {
	MaxIterations     int     `mapstructure:"max_iterations"`
	TokenBudget       int     `mapstructure:"token_budget"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxConcurrentJobs int     `mapstructure:"max_concurrent_jobs"`
}

type ToolsConfig struct {
	ShellTimeout    time.Duration `mapstructure:"shell_timeout"`
	ShellOutputKB   int           `mapstructure:"shell_output_kb"`
	FileReadLimitKB int           `mapstructure:"file_read_limit_kb"`
	GlobLimit       int           `mapstructure:"glob_limit"`
	GrepLimit       int           `mapstructure:"grep_limit"`
	FetchBodyKB     int           `mapstructure:"fetch_body_kb"`
}

type PromptsConfig struct {
	// CatalogDir overrides the embedded command catalog.
	CatalogDir string `mapstructure:"catalog_dir"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. path, when non-empty, names an explicit config
// file; otherwise oape.yaml is searched in the working directory, ~/.oape and
// /etc/oape. A missing file is fine: defaults plus env apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, oerr.Wrap(oerr.KindInvalidInput, err, "read config file %s", path)
		}
	} else {
		v.SetConfigName("oape")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.oape")
		v.AddConfigPath("/etc/oape")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, oerr.Wrap(oerr.KindInvalidInput, err, "read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oerr.Wrap(oerr.KindInvalidInput, err, "decode config")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.job_retention", 256)

	// Registered so AutomaticEnv surfaces OAPE_LLM_API_KEY during Unmarshal;
	// viper only considers keys it already knows about.
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("agent.max_iterations", 50)
	v.SetDefault("agent.token_budget", 500_000)
	v.SetDefault("agent.temperature", 0.0)
	v.SetDefault("agent.max_concurrent_jobs", 4)

	v.SetDefault("tools.shell_timeout", 5*time.Minute)
	v.SetDefault("tools.shell_output_kb", 100)
	v.SetDefault("tools.file_read_limit_kb", 1024)
	v.SetDefault("tools.glob_limit", 1000)
	v.SetDefault("tools.grep_limit", 500)
	v.SetDefault("tools.fetch_body_kb", 2048)

	v.SetDefault("logging.level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "oape")
}

// ToolConfig maps the tools section onto the builtin tool bounds.
func (c *Config) ToolConfig() builtin.ToolConfig {
	return builtin.ToolConfig{
		ShellTimeout:     c.Tools.ShellTimeout,
		ShellOutputLimit: c.Tools.ShellOutputKB * 1000,
		FileReadLimit:    int64(c.Tools.FileReadLimitKB) * 1024,
		GlobLimit:        c.Tools.GlobLimit,
		GrepLimit:        c.Tools.GrepLimit,
		FetchBodyLimit:   int64(c.Tools.FetchBodyKB) * 1024,
	}
}

// LLMClientConfig maps the llm section onto the client config.
func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
		Model:      c.LLM.Model,
		Timeout:    c.LLM.Timeout,
		MaxTokens:  c.LLM.MaxTokens,
		MaxRetries: c.LLM.MaxRetries,
	}
}

// EngineConfig maps the agent section onto the loop engine config.
func (c *Config) EngineConfig() agent.Config {
	return agent.Config{
		MaxIterations: c.Agent.MaxIterations,
		TokenBudget:   c.Agent.TokenBudget,
		Temperature:   c.Agent.Temperature,
		MaxTokens:     c.LLM.MaxTokens,
	}
}
