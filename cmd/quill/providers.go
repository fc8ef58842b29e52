package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/agent/providers"
	"github.com/haasonsaas/quill/internal/config"
)

// buildProviders constructs every configured provider, default first so the
// gateway falls back to it.
func buildProviders(ctx context.Context, cfg *config.Config) ([]agent.LLMProvider, error) {
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		if name != cfg.LLM.DefaultProvider {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok {
		names = append([]string{cfg.LLM.DefaultProvider}, names...)
	}

	policy := cfg.RetryPolicy()
	out := make([]agent.LLMProvider, 0, len(names))
	for _, name := range names {
		pc := cfg.LLM.Providers[name]
		var (
			p   agent.LLMProvider
			err error
		)
		switch name {
		case "anthropic":
			p, err = providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				Retry:        policy,
			})
		case "openai":
			p, err = providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				Retry:        policy,
			})
		case "google":
			p, err = providers.NewGoogleProvider(ctx, providers.GoogleConfig{
				APIKey:       pc.APIKey,
				DefaultModel: pc.DefaultModel,
				Retry:        policy,
			})
		case "bedrock":
			p, err = providers.NewBedrockProvider(ctx, providers.BedrockConfig{
				Region:          pc.Region,
				AccessKeyID:     pc.AccessKeyID,
				SecretAccessKey: pc.SecretAccessKey,
				SessionToken:    pc.SessionToken,
				DefaultModel:    pc.DefaultModel,
				Retry:           policy,
			})
		default:
			return nil, fmt.Errorf("unsupported llm provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		slog.Info("llm provider registered", "provider", name, "default", name == cfg.LLM.DefaultProvider)
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}
	return withFailover(cfg, out), nil
}

// withFailover wraps every provider that names fallbacks. Fallbacks are the
// unwrapped providers so chains never nest.
func withFailover(cfg *config.Config, built []agent.LLMProvider) []agent.LLMProvider {
	byName := make(map[string]agent.LLMProvider, len(built))
	for _, p := range built {
		byName[p.Name()] = p
	}
	fcfg := cfg.FailoverConfig()
	fcfg.ShouldFailover = providers.ShouldFailover

	out := make([]agent.LLMProvider, len(built))
	for i, p := range built {
		out[i] = p
		names := cfg.LLM.Providers[p.Name()].Fallbacks
		if len(names) == 0 {
			continue
		}
		fallbacks := make([]agent.LLMProvider, 0, len(names))
		for _, name := range names {
			if fb, ok := byName[name]; ok {
				fallbacks = append(fallbacks, fb)
			}
		}
		slog.Info("llm provider failover enabled", "provider", p.Name(), "fallbacks", names)
		out[i] = agent.NewFailoverProvider(p, fallbacks, fcfg)
	}
	return out
}
