// Package config loads the assistant configuration from an optional YAML
// file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petasbytes/go-assistant/internal/log"
)

const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"

	DefaultListenAddr   = "127.0.0.1:8080"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultThreadIDWait = 5 * time.Second
	DefaultSessionPath  = "conversation.json"
)

type Config struct {
	Backend   string          `yaml:"backend"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Runner    RunnerConfig    `yaml:"runner"`
	Server    ServerConfig    `yaml:"server"`
	Log       log.Config      `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Session   SessionConfig   `yaml:"session"`
}

type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	AssistantID string `yaml:"assistant_id"`
	// MaxRetries < 0 keeps the SDK default.
	MaxRetries int `yaml:"max_retries"`
}

type AnthropicConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	MaxTokens   int64  `yaml:"max_tokens"`
	System      string `yaml:"system"`
	TokenBudget int    `yaml:"token_budget"`
	MaxRetries  int    `yaml:"max_retries"`
}

type RunnerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ThreadIDWait time.Duration `yaml:"thread_id_wait"`
	// UnhandledTools is "fail" or "acknowledge".
	UnhandledTools string `yaml:"unhandled_tools"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type SessionConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file or env is present.
func Default() Config {
	return Config{
		Backend:   BackendOpenAI,
		OpenAI:    OpenAIConfig{MaxRetries: -1},
		Anthropic: AnthropicConfig{MaxRetries: -1},
		Runner: RunnerConfig{
			PollInterval:   DefaultPollInterval,
			ThreadIDWait:   DefaultThreadIDWait,
			UnhandledTools: "fail",
		},
		Server:    ServerConfig{Addr: DefaultListenAddr, ShutdownTimeout: 5 * time.Second},
		Log:       log.DefaultConfig(),
		Telemetry: TelemetryConfig{Dir: ".agent"},
		Session:   SessionConfig{Path: DefaultSessionPath},
	}
}

// Load reads path over the defaults (a missing or empty path is not an
// error) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Backend, "AGT_BACKEND")
	setString(&c.OpenAI.AssistantID, "AGT_ASSISTANT_ID")
	setString(&c.Runner.UnhandledTools, "AGT_UNHANDLED_TOOLS")
	setString(&c.Server.Addr, "AGT_LISTEN_ADDR")
	if v := env("AGT_LOG_LEVEL"); v != "" {
		c.Log.Level = log.Level(v)
	}
	if v := env("AGT_OBSERVE_JSON"); v != "" {
		c.Telemetry.Enabled = v == "1"
	}
	setString(&c.Telemetry.Dir, "AGT_ARTIFACTS_DIR")

	if err := setDuration(&c.Runner.PollInterval, "AGT_POLL_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Runner.ThreadIDWait, "AGT_THREAD_ID_WAIT"); err != nil {
		return err
	}
	if v := env("AGT_TOKEN_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse AGT_TOKEN_BUDGET: %w", err)
		}
		c.Anthropic.TokenBudget = n
	}
	return nil
}

// Validate checks the configuration is usable for the selected backend.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("openai backend requires OPENAI_API_KEY"))
		}
		if c.OpenAI.AssistantID == "" {
			errs = append(errs, errors.New("openai backend requires an assistant id (AGT_ASSISTANT_ID)"))
		}
	case BackendAnthropic:
		if c.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("anthropic backend requires ANTHROPIC_API_KEY"))
		}
		if c.Anthropic.TokenBudget < 0 {
			errs = append(errs, errors.New("anthropic.token_budget must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Runner.PollInterval <= 0 {
		errs = append(errs, errors.New("runner.poll_interval must be > 0"))
	}
	if c.Runner.ThreadIDWait <= 0 {
		errs = append(errs, errors.New("runner.thread_id_wait must be > 0"))
	}
	switch c.Runner.UnhandledTools {
	case "fail", "acknowledge":
	default:
		errs = append(errs, fmt.Errorf("runner.unhandled_tools must be fail or acknowledge, got %q", c.Runner.UnhandledTools))
	}
	if _, err := log.ParseLevel(string(c.Log.Level)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := env(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
