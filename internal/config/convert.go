package config

import (
	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/ratelimit"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/tools"
)

// StorageConfig returns the store settings.
func (c *Config) StorageConfig() *storage.Config {
	d := c.Database
	return &storage.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
		ConnectTimeout:  d.ConnectTimeout,
		AutoMigrate:     d.AutoMigrate == nil || *d.AutoMigrate,
	}
}

// AuthServiceConfig returns the auth settings.
func (c *Config) AuthServiceConfig() auth.Config {
	keys := make([]auth.APIKeyConfig, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		keys[i] = auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name}
	}
	return auth.Config{
		JWTSecret:   c.Auth.JWTSecret,
		Issuer:      c.Auth.Issuer,
		TokenExpiry: c.Auth.TokenExpiry,
		APIKeys:     keys,
		CookieName:  c.Auth.CookieName,
	}
}

// RateLimitConfig returns the per-principal chat limit.
func (c *Config) RateLimitConfig() ratelimit.Config {
	rl := c.Server.RateLimit
	return ratelimit.Config{
		Enabled:           rl.Enabled,
		RequestsPerSecond: rl.RequestsPerSecond,
		Burst:             rl.Burst,
	}
}

// RetryPolicy returns the retry policy for model calls and writes.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.LLM.Retry.MaxAttempts
	p.InitialDelay = c.LLM.Retry.InitialDelay
	p.MaxDelay = c.LLM.Retry.MaxDelay
	return p
}

// FailoverConfig returns the circuit breaker settings for fallback chains.
func (c *Config) FailoverConfig() agent.FailoverConfig {
	return agent.FailoverConfig{
		CircuitBreakerThreshold: c.LLM.Failover.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   c.LLM.Failover.CircuitBreakerTimeout,
	}
}

// Catalog returns the model catalog.
func (c *Config) Catalog() agent.Catalog {
	return agent.Catalog(c.LLM.Models)
}

// DefaultModel returns the catalog entry used outside a turn.
func (c *Config) DefaultModel() agent.Model {
	if m, ok := c.Catalog().Find(c.LLM.DefaultModel); ok {
		return m
	}
	return c.LLM.Models[0]
}

// ToolsConfig returns the tool settings.
func (c *Config) ToolsConfig() tools.Config {
	t := c.Tools
	ua := "quill"
	if v := c.Observability.Tracing.ServiceVersion; v != "" {
		ua += "/" + v
	}
	return tools.Config{
		WeatherEndpoint:  t.WeatherEndpoint,
		SearchEndpoint:   t.WebSearch.Endpoint,
		SearchMaxResults: t.WebSearch.MaxResults,
		SearchCacheTTL:   t.WebSearch.CacheTTL,
		HTTPTimeout:      t.HTTPTimeout,
		UserAgent:        ua,
		SuggestionLimit:  t.SuggestionLimit,
		Retry:            c.RetryPolicy(),
	}
}
