// Package config loads process configuration from a YAML file overlaid with
// environment variables, and watches the file so a reloaded Config can be
// handed to a callback. Which settings a reload actually changes is up to
// that callback; cmd/workflowd applies per-provider enablement only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig configures the Postgres connection backing persistence,
// matching spec.md §6's "persistence connection settings".
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// EventsConfig selects and configures the event publisher.
type EventsConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory postgres"`
	DSN    string `yaml:"dsn"`
}

// WorkflowConfig configures engine-wide defaults.
type WorkflowConfig struct {
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	MaxTransitionRetries int           `yaml:"max_transition_retries"`
	SLASweepInterval     time.Duration `yaml:"sla_sweep_interval"`
}

// ProviderConfig configures one AI provider registration.
type ProviderConfig struct {
	Enabled      bool    `yaml:"enabled"`
	APIKey       string  `yaml:"api_key"`
	Region       string  `yaml:"region"`
	BaseURL      string  `yaml:"base_url"`
	Priority     int     `yaml:"priority"`
	DefaultModel string  `yaml:"default_model"`
	RateLimitRPM int     `yaml:"rate_limit_rpm"`
	RateLimitTPM int     `yaml:"rate_limit_tpm"`
	DailyBudget  float64 `yaml:"daily_budget"`
}

// AIConfig configures the routing layer and its providers.
type AIConfig struct {
	Enabled   bool                      `yaml:"enabled"`
	Strategy  string                    `yaml:"strategy" validate:"omitempty,oneof=performance cost speed balanced fallback"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// LoggingConfig configures the zap logger built at process start.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Events   EventsConfig    `yaml:"events"`
	Workflow WorkflowConfig  `yaml:"workflow"`
	AI       AIConfig        `yaml:"ai"`
	Logging  LoggingConfig   `yaml:"logging"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5},
		Events:   EventsConfig{Driver: "memory"},
		Workflow: WorkflowConfig{
			DefaultTimeout:       48 * time.Hour,
			MaxTransitionRetries: 3,
			SLASweepInterval:     5 * time.Minute,
		},
		AI: AIConfig{Strategy: "balanced", Providers: map[string]ProviderConfig{}},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty), overlays recognized environment variables,
// and validates the result. path may be empty to load from the environment
// alone, matching a container deployment with no mounted config file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overlays the environment variables named in the external
// interface's configuration table onto cfg. Unset variables leave the
// corresponding field untouched.
func loadFromEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("AI_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AI_ENABLED: %w", err)
		}
		cfg.AI.Enabled = b
	}
	if v, ok := os.LookupEnv("AI_STRATEGY"); ok {
		cfg.AI.Strategy = v
	}
	if err := loadProvidersFromEnv(cfg); err != nil {
		return err
	}

	if v, ok := os.LookupEnv("WORKFLOW_DEFAULT_TIMEOUT_SECONDS"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKFLOW_DEFAULT_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Workflow.DefaultTimeout = time.Duration(secs) * time.Second
	}
	if v, ok := os.LookupEnv("WORKFLOW_MAX_TRANSITION_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKFLOW_MAX_TRANSITION_RETRIES: %w", err)
		}
		cfg.Workflow.MaxTransitionRetries = n
	}
	if v, ok := os.LookupEnv("SLA_SWEEP_INTERVAL_SECONDS"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SLA_SWEEP_INTERVAL_SECONDS: %w", err)
		}
		cfg.Workflow.SLASweepInterval = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv("DATABASE_DSN"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("EVENTS_DSN"); ok {
		cfg.Events.DSN = v
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.Server.Addr = v
	}

	return nil
}

// knownProviders lists the provider keys an AI_{PROVIDER}_* environment
// variable may name, matching the registered pkg/ai/providers packages.
var knownProviders = []string{"ANTHROPIC", "BEDROCK", "OPENAI"}

func loadProvidersFromEnv(cfg *Config) error {
	if cfg.AI.Providers == nil {
		cfg.AI.Providers = map[string]ProviderConfig{}
	}
	for _, name := range knownProviders {
		key := strings.ToLower(name)
		provider := cfg.AI.Providers[key]

		if v, ok := os.LookupEnv("AI_" + name + "_ENABLED"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("AI_%s_ENABLED: %w", name, err)
			}
			provider.Enabled = b
		}
		if v, ok := os.LookupEnv("AI_" + name + "_PRIORITY"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("AI_%s_PRIORITY: %w", name, err)
			}
			provider.Priority = n
		}
		if v, ok := os.LookupEnv("AI_" + name + "_DEFAULT_MODEL"); ok {
			provider.DefaultModel = v
		}
		if v, ok := os.LookupEnv("AI_" + name + "_RATE_LIMIT_RPM"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("AI_%s_RATE_LIMIT_RPM: %w", name, err)
			}
			provider.RateLimitRPM = n
		}
		if v, ok := os.LookupEnv("AI_" + name + "_RATE_LIMIT_TPM"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("AI_%s_RATE_LIMIT_TPM: %w", name, err)
			}
			provider.RateLimitTPM = n
		}
		if v, ok := os.LookupEnv("AI_" + name + "_DAILY_BUDGET"); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("AI_%s_DAILY_BUDGET: %w", name, err)
			}
			provider.DailyBudget = f
		}
		if v, ok := os.LookupEnv("AI_" + name + "_API_KEY"); ok {
			provider.APIKey = v
		}
		if v, ok := os.LookupEnv("AI_" + name + "_REGION"); ok {
			provider.Region = v
		}
		if v, ok := os.LookupEnv("AI_" + name + "_BASE_URL"); ok {
			provider.BaseURL = v
		}

		cfg.AI.Providers[key] = provider
	}
	return nil
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Workflow.MaxTransitionRetries < 0 {
		return fmt.Errorf("config validation failed: workflow max transition retries must not be negative")
	}
	if cfg.AI.Enabled && len(cfg.AI.Providers) == 0 {
		return fmt.Errorf("config validation failed: AI_ENABLED is true but no providers are configured")
	}
	return nil
}

// Watcher reloads path on every write and hands the new Config to onReload.
// The Watcher itself applies nothing: cmd/workflowd's callback applies only
// per-provider enablement, and every other setting (server, database,
// events, rate limits, budgets, strategy) takes effect only after a
// restart, since those are wired into the dependency graph once at startup.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
}

// NewWatcher starts watching path itself for changes, invoking onReload
// with the result of Load whenever path is written or created. A failed
// reload is passed to onReload as its error argument (for the caller to
// log); errors from the underlying fsnotify watcher are discarded. The
// watcher keeps running regardless.
func NewWatcher(path string, onReload func(*Config, error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start config watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				onReload(cfg, err)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{watcher: w, path: path}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }
