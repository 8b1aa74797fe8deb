// Package config loads runner configuration from YAML.
//
// Example file:
//
//	app_name: storyflow
//	logging:
//	  level: info
//	  format: json
//	limits:
//	  max_concurrent_invocations: 10
//	  max_model_calls: 50
//	session:
//	  driver: sqlite
//	  dsn: ./sessions.db
//	model:
//	  provider: openai
//	  name: gpt-4o-mini
//	  api_key: ${OPENAI_API_KEY}
//	  rate_limit:
//	    rps: 2
//	    burst: 4
//
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/model"
	anthropicmodel "github.com/hupe1980/agentflow/model/anthropic"
	openaimodel "github.com/hupe1980/agentflow/model/openai"
	"github.com/hupe1980/agentflow/runner"
	"github.com/hupe1980/agentflow/session"
	redisstore "github.com/hupe1980/agentflow/session/redis"
	sqlitestore "github.com/hupe1980/agentflow/session/sqlite"
)

// Session drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the top-level configuration.
type Config struct {
	AppName string        `yaml:"app_name"`
	Logging LoggingConfig `yaml:"logging"`
	Limits  LimitsConfig  `yaml:"limits"`
	Session SessionConfig `yaml:"session"`
	Model   ModelConfig   `yaml:"model"`
}

// LoggingConfig selects level and format of the slog backed logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json or text
	AddSource bool   `yaml:"add_source"`
}

// LimitsConfig bounds engine resources. Zero values keep the defaults.
type LimitsConfig struct {
	MaxConcurrentInvocations int `yaml:"max_concurrent_invocations"`
	EventBufferSize          int `yaml:"event_buffer_size"`
	MaxModelCalls            int `yaml:"max_model_calls"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Driver string `yaml:"driver"` // memory (default), sqlite, redis
	// DSN is the SQLite database path or the redis:// URL.
	DSN string `yaml:"dsn"`
	// Prefix namespaces Redis keys.
	Prefix            string `yaml:"prefix"`
	AutoCreateSession *bool  `yaml:"auto_create_session"`
}

// RateLimitConfig throttles model calls. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ModelConfig describes the model provider used by leaf agents.
type ModelConfig struct {
	Provider    string          `yaml:"provider"`
	Name        string          `yaml:"name"`
	APIKey      string          `yaml:"api_key"` //nolint:gosec // configuration field
	BaseURL     string          `yaml:"base_url"`
	Temperature *float64        `yaml:"temperature"`
	MaxTokens   int64           `yaml:"max_tokens"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// Load reads and validates a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-provided configuration path
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it and validates the
// result. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Session.Driver == "" {
		c.Session.Driver = DriverMemory
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("config: app_name is required")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("config: logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Limits.MaxConcurrentInvocations < 0 || c.Limits.EventBufferSize < 0 || c.Limits.MaxModelCalls < 0 {
		return fmt.Errorf("config: limits must not be negative")
	}

	switch c.Session.Driver {
	case DriverMemory:
	case DriverSQLite, DriverRedis:
		if c.Session.DSN == "" {
			return fmt.Errorf("config: session.dsn is required for driver %q", c.Session.Driver)
		}
	default:
		return fmt.Errorf("config: unknown session driver %q", c.Session.Driver)
	}

	switch c.Model.Provider {
	case "", ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}

	if c.Model.RateLimit.RPS < 0 {
		return fmt.Errorf("config: model.rate_limit.rps must not be negative")
	}

	return nil
}

// Logger builds the configured logger writing to w (stdout when nil).
func (c Config) Logger(w io.Writer) logging.Logger {
	level, _ := logging.ParseLevel(c.Logging.Level)

	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Logging.Format,
		Output:    w,
		AddSource: c.Logging.AddSource,
		Component: c.AppName,
	})
}

// OpenSessionStore opens the configured store. The returned close function
// releases its resources and is never nil.
func (c Config) OpenSessionStore(ctx context.Context, logger logging.Logger) (core.SessionStore, func() error, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	noop := func() error { return nil }

	switch c.Session.Driver {
	case DriverSQLite:
		s, err := sqlitestore.New(ctx, c.Session.DSN, func(o *sqlitestore.Options) { o.Logger = logger })
		if err != nil {
			return nil, noop, err
		}

		return s, s.Close, nil
	case DriverRedis:
		s, err := redisstore.NewFromURL(ctx, c.Session.DSN, func(o *redisstore.Options) {
			o.Logger = logger
			if c.Session.Prefix != "" {
				o.Prefix = c.Session.Prefix
			}
		})
		if err != nil {
			return nil, noop, err
		}

		return s, s.Close, nil
	default:
		return session.NewInMemoryStore(), noop, nil
	}
}

// NewModel builds the configured model, wrapped in a rate limiter when
// rate_limit.rps is set.
func (c Config) NewModel() (model.Model, error) {
	var m model.Model

	switch c.Model.Provider {
	case ProviderOpenAI:
		m = openaimodel.NewModel(func(o *openaimodel.Options) {
			if c.Model.Name != "" {
				o.Model = c.Model.Name
			}
			if c.Model.Temperature != nil {
				o.Temperature = *c.Model.Temperature
			}
			if c.Model.MaxTokens > 0 {
				o.MaxCompletionTokens = c.Model.MaxTokens
			}
			o.APIKey = c.Model.APIKey
			o.BaseURL = c.Model.BaseURL
		})
	case ProviderAnthropic:
		m = anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if c.Model.Name != "" {
				o.Model = anthropic.Model(c.Model.Name)
			}
			if c.Model.Temperature != nil {
				o.Temperature = *c.Model.Temperature
			}
			if c.Model.MaxTokens > 0 {
				o.MaxTokens = c.Model.MaxTokens
			}
			o.APIKey = c.Model.APIKey
		})
	default:
		return nil, fmt.Errorf("config: no model provider configured")
	}

	if c.Model.RateLimit.RPS > 0 {
		m = model.NewRateLimitedModel(m, model.NewRateLimiter(c.Model.RateLimit.RPS, c.Model.RateLimit.Burst))
	}

	return m, nil
}

// RunnerOptions returns an option applying limits, logger and store to
// runner.Options.
func (c Config) RunnerOptions(store core.SessionStore, logger logging.Logger) func(o *runner.Options) {
	return func(o *runner.Options) {
		if c.Limits.MaxConcurrentInvocations > 0 {
			o.MaxConcurrentInvocations = c.Limits.MaxConcurrentInvocations
		}

		if c.Limits.EventBufferSize > 0 {
			o.EventBufferSize = c.Limits.EventBufferSize
		}

		if c.Limits.MaxModelCalls > 0 {
			o.MaxModelCalls = c.Limits.MaxModelCalls
		}

		if c.Session.AutoCreateSession != nil {
			o.AutoCreateSession = *c.Session.AutoCreateSession
		}

		if store != nil {
			o.SessionStore = store
		}

		if logger != nil {
			o.Logger = logger
		}
	}
}
