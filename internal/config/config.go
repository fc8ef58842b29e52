// Package config loads the quill server configuration.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
)

// CurrentVersion is the configuration format this build reads.
const CurrentVersion = 1

// Config is the main configuration structure for Quill.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// StreamBuffer bounds frames queued ahead of a slow client.
	StreamBuffer int `yaml:"stream_buffer"`
	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimit bounds chat turns per principal.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	Issuer      string         `yaml:"issuer"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	CookieName  string         `yaml:"cookie_name"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
	// AnonymousUser is the principal of every request while no credential
	// source is configured. Empty rejects anonymous requests.
	AnonymousUser string `yaml:"anonymous_user"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

type DatabaseConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     *bool         `yaml:"auto_migrate"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	// Models is the catalog offered to clients. Empty uses the built-in catalog.
	Models []agent.Model `yaml:"models"`
	// DefaultModel names the catalog entry used when a request names none.
	DefaultModel string         `yaml:"default_model"`
	System       string         `yaml:"system"`
	MaxSteps     int            `yaml:"max_steps"`
	MaxTokens    int            `yaml:"max_tokens"`
	Retry        RetryConfig    `yaml:"retry"`
	Failover     FailoverConfig `yaml:"failover"`
}

// FailoverConfig tunes the circuit breaker used by providers with fallbacks.
type FailoverConfig struct {
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`

	// Bedrock only.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// Fallbacks names configured providers tried in order when this one
	// fails to open a stream.
	Fallbacks []string `yaml:"fallbacks"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type ToolsConfig struct {
	// MaxConcurrency limits parallel tool executions within one step.
	MaxConcurrency  int             `yaml:"max_concurrency"`
	Timeout         time.Duration   `yaml:"timeout"`
	HTTPTimeout     time.Duration   `yaml:"http_timeout"`
	WeatherEndpoint string          `yaml:"weather_endpoint"`
	SuggestionLimit int             `yaml:"suggestion_limit"`
	WebSearch       WebSearchConfig `yaml:"websearch"`
}

type WebSearchConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	MaxResults int           `yaml:"max_results"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 4 << 20
	}
	if cfg.Server.StreamBuffer == 0 {
		cfg.Server.StreamBuffer = 64
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "quill_session"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "quill.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 2 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.AutoMigrate == nil {
		on := true
		cfg.Database.AutoMigrate = &on
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if len(cfg.LLM.Models) == 0 {
		cfg.LLM.Models = agent.DefaultCatalog()
	}
	for i := range cfg.LLM.Models {
		if cfg.LLM.Models[i].Provider == "" {
			cfg.LLM.Models[i].Provider = cfg.LLM.DefaultProvider
		}
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = cfg.LLM.Models[0].ID
	}
	if cfg.LLM.MaxSteps == 0 {
		cfg.LLM.MaxSteps = agent.DefaultMaxSteps
	}
	if cfg.LLM.Retry.MaxAttempts == 0 {
		cfg.LLM.Retry.MaxAttempts = 3
	}
	if cfg.LLM.Retry.InitialDelay == 0 {
		cfg.LLM.Retry.InitialDelay = 100 * time.Millisecond
	}
	if cfg.LLM.Retry.MaxDelay == 0 {
		cfg.LLM.Retry.MaxDelay = 5 * time.Second
	}

	if cfg.Tools.MaxConcurrency == 0 {
		cfg.Tools.MaxConcurrency = 4
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 60 * time.Second
	}
	if cfg.Tools.HTTPTimeout == 0 {
		cfg.Tools.HTTPTimeout = 10 * time.Second
	}
	if cfg.Tools.SuggestionLimit == 0 {
		cfg.Tools.SuggestionLimit = 5
	}
	if cfg.Tools.WebSearch.CacheTTL == 0 {
		cfg.Tools.WebSearch.CacheTTL = 5 * time.Minute
	}

	if cfg.Observability.Logging.Level == "" {
		cfg.Observability.Logging.Level = "info"
	}
	if cfg.Observability.Logging.Format == "" {
		cfg.Observability.Logging.Format = "json"
	}
	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "quill"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate reports configuration errors. It expects defaults to be applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.Version != CurrentVersion {
		add("version %d is not supported (this build reads version %d)", c.Version, CurrentVersion)
	}

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.StreamBuffer < 0 {
		add("server.stream_buffer must not be negative")
	}
	if rl := c.Server.RateLimit; rl.Enabled && rl.RequestsPerSecond <= 0 {
		add("server.rate_limit.requests_per_second must be positive when enabled")
	}

	for i, key := range c.Auth.APIKeys {
		if strings.TrimSpace(key.Key) == "" || strings.TrimSpace(key.UserID) == "" {
			add("auth.api_keys[%d] needs key and user_id", i)
		}
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory", "sqlite":
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Database.DSN) == "" {
			add("database.dsn is required for postgres")
		}
	default:
		add("database.driver %q must be memory, sqlite or postgres", c.Database.Driver)
	}

	for name := range c.LLM.Providers {
		if !knownProvider(name) {
			add("llm.providers.%s is not a supported provider (%s)", name, strings.Join(providerNames(), ", "))
		}
	}
	for name, pc := range c.LLM.Providers {
		for _, fb := range pc.Fallbacks {
			if _, ok := c.LLM.Providers[fb]; !ok || fb == name {
				add("llm.providers.%s.fallbacks: %q is not another configured provider", name, fb)
			}
		}
	}
	if c.LLM.Failover.CircuitBreakerThreshold < 0 || c.LLM.Failover.CircuitBreakerTimeout < 0 {
		add("llm.failover values must not be negative")
	}
	if len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			add("llm.default_provider %q is not configured under llm.providers", c.LLM.DefaultProvider)
		}
	}
	seen := make(map[string]bool)
	for i, m := range c.LLM.Models {
		switch {
		case strings.TrimSpace(m.ID) == "":
			add("llm.models[%d].id is required", i)
		case seen[m.ID]:
			add("llm.models[%d].id %q is duplicated", i, m.ID)
		}
		seen[m.ID] = true
		if strings.TrimSpace(m.APIIdentifier) == "" {
			add("llm.models[%d].api_identifier is required", i)
		}
		if len(c.LLM.Providers) > 0 {
			if _, ok := c.LLM.Providers[m.Provider]; !ok {
				add("llm.models[%d].provider %q is not configured", i, m.Provider)
			}
		}
	}
	if !seen[c.LLM.DefaultModel] {
		add("llm.default_model %q is not in llm.models", c.LLM.DefaultModel)
	}
	if c.LLM.MaxSteps < 1 {
		add("llm.max_steps must be at least 1")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must not be negative")
	}

	if c.Tools.MaxConcurrency < 1 {
		add("tools.max_concurrency must be at least 1")
	}
	if c.Tools.Timeout < 0 {
		add("tools.timeout must not be negative")
	}

	switch strings.ToLower(c.Observability.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("observability.logging.level %q is invalid", c.Observability.Logging.Level)
	}
	switch strings.ToLower(c.Observability.Logging.Format) {
	case "json", "text":
	default:
		add("observability.logging.format %q must be json or text", c.Observability.Logging.Format)
	}
	if t := c.Observability.Tracing; t.Enabled && strings.TrimSpace(t.Endpoint) == "" {
		add("observability.tracing.endpoint is required when tracing is enabled")
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate %v must be within [0,1]", r)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

var supportedProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"google":    true,
	"bedrock":   true,
}

func knownProvider(name string) bool { return supportedProviders[name] }

func providerNames() []string {
	names := make([]string, 0, len(supportedProviders))
	for name := range supportedProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
