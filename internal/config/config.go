// Package config provides configuration loading for deployd.
//
// Values come from an optional YAML file and are overridden by environment
// variables. See LoadWithFile for precedence and the environment mapping.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete deployd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	GitHub    GitHubConfig    `koanf:"github"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Allowed   AllowedConfig   `koanf:"allowed"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Notify    NotifyConfig    `koanf:"notify"`
	Publisher PublisherConfig `koanf:"publisher"`
	NATS      NATSConfig      `koanf:"nats"`
	Log       LogConfig       `koanf:"log"`
	OTEL      OTELConfig      `koanf:"otel"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit"` // requests per second per client
	RateBurst       int      `koanf:"rate_burst"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
}

// GitHubConfig holds hosting platform credentials.
type GitHubConfig struct {
	Token    Secret `koanf:"token"`
	Username string `koanf:"username"`
	Org      string `koanf:"org"`
	APIURL   string `koanf:"api_url"`
	Branch   string `koanf:"branch"`
}

// OpenAIConfig holds LLM provider settings.
type OpenAIConfig struct {
	APIKey        Secret  `koanf:"api_key"`
	Model         string  `koanf:"model"`
	BaseURL       string  `koanf:"base_url"`
	Temperature   float64 `koanf:"temperature"`
	MaxTokens     int     `koanf:"max_tokens"`
	RatePerMinute int     `koanf:"rate_per_minute"`
}

// AllowedConfig holds the shared secrets accepted from callers.
// ALLOWED_SECRETS maps here and is comma-separated.
type AllowedConfig struct {
	Secrets Secret `koanf:"secrets"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	MaxConcurrent   int      `koanf:"max_concurrent"`
	GenerateTimeout Duration `koanf:"generate_timeout"`
	PublishTimeout  Duration `koanf:"publish_timeout"`
	NotifyTimeout   Duration `koanf:"notify_timeout"`
	MaxAttempts     int      `koanf:"max_attempts"`
	BaseDelay       Duration `koanf:"base_delay"`
	MaxDelay        Duration `koanf:"max_delay"`
}

// NotifyConfig holds evaluation callback delivery settings.
type NotifyConfig struct {
	MaxAttempts int      `koanf:"max_attempts"`
	BaseDelay   Duration `koanf:"base_delay"`
	MaxDelay    Duration `koanf:"max_delay"`
	Timeout     Duration `koanf:"timeout"`
}

// PublisherConfig selects the repository backend.
type PublisherConfig struct {
	Backend     string `koanf:"backend"` // "github" or "local"
	LocalRoot   string `koanf:"local_root"`
	SiteBaseURL string `koanf:"site_base_url"`
}

// NATSConfig holds lifecycle event settings. An empty URL disables events.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LogConfig holds the logging knobs exposed through configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// OTELConfig holds OpenTelemetry export settings.
type OTELConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

const (
	BackendGitHub = "github"
	BackendLocal  = "local"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 5
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = "https://api.github.com/"
	}
	if cfg.GitHub.Branch == "" {
		cfg.GitHub.Branch = "main"
	}

	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.7
	}
	if cfg.OpenAI.MaxTokens == 0 {
		cfg.OpenAI.MaxTokens = 4000
	}
	if cfg.OpenAI.RatePerMinute == 0 {
		cfg.OpenAI.RatePerMinute = 50
	}

	if cfg.Pipeline.MaxConcurrent == 0 {
		cfg.Pipeline.MaxConcurrent = 8
	}
	if cfg.Pipeline.GenerateTimeout == 0 {
		cfg.Pipeline.GenerateTimeout = Duration(5 * time.Minute)
	}
	if cfg.Pipeline.PublishTimeout == 0 {
		cfg.Pipeline.PublishTimeout = Duration(3 * time.Minute)
	}
	if cfg.Pipeline.NotifyTimeout == 0 {
		cfg.Pipeline.NotifyTimeout = Duration(3 * time.Minute)
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.BaseDelay == 0 {
		cfg.Pipeline.BaseDelay = Duration(time.Second)
	}
	if cfg.Pipeline.MaxDelay == 0 {
		cfg.Pipeline.MaxDelay = Duration(30 * time.Second)
	}

	if cfg.Notify.MaxAttempts == 0 {
		cfg.Notify.MaxAttempts = 5
	}
	if cfg.Notify.BaseDelay == 0 {
		cfg.Notify.BaseDelay = Duration(time.Second)
	}
	if cfg.Notify.MaxDelay == 0 {
		cfg.Notify.MaxDelay = Duration(16 * time.Second)
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = Duration(30 * time.Second)
	}

	if cfg.Publisher.Backend == "" {
		cfg.Publisher.Backend = BackendGitHub
	}
	if cfg.Publisher.LocalRoot == "" {
		cfg.Publisher.LocalRoot = "./data/repos"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "deployments"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.OTEL.Endpoint == "" {
		cfg.OTEL.Endpoint = "localhost:4317"
	}
	if cfg.OTEL.Protocol == "" {
		cfg.OTEL.Protocol = "grpc"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "deployd"
	}
}

// Validate validates the configuration.
//
// Credentials for the selected backends are required: a GitHub token when
// publishing to GitHub, and at least one allowed secret so /deploy is not
// open to anyone.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("rate limit and burst must not be negative")
	}

	if len(c.Allowed.Secrets.List()) == 0 {
		return errors.New("allowed.secrets must list at least one shared secret")
	}

	switch c.Publisher.Backend {
	case BackendGitHub:
		if !c.GitHub.Token.IsSet() {
			return errors.New("github.token is required for the github publisher")
		}
		if !strings.HasSuffix(c.GitHub.APIURL, "/") {
			return fmt.Errorf("github.api_url must end with a slash: %q", c.GitHub.APIURL)
		}
	case BackendLocal:
		if c.Publisher.LocalRoot == "" {
			return errors.New("publisher.local_root is required for the local publisher")
		}
	default:
		return fmt.Errorf("publisher.backend must be %q or %q, got %q", BackendGitHub, BackendLocal, c.Publisher.Backend)
	}

	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("openai.temperature must be between 0 and 2, got %v", c.OpenAI.Temperature)
	}
	if c.OpenAI.MaxTokens < 0 {
		return errors.New("openai.max_tokens must not be negative")
	}

	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent must be >= 1, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.MaxAttempts < 1 || c.Notify.MaxAttempts < 1 {
		return errors.New("retry attempts must be >= 1")
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}

	if c.OTEL.Enabled && c.OTEL.Endpoint == "" {
		return errors.New("otel.endpoint is required when telemetry is enabled")
	}

	return nil
}

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
