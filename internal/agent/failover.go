package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FailoverConfig configures a FailoverProvider.
type FailoverConfig struct {
	// CircuitBreakerThreshold is the number of consecutive failures before a
	// provider is skipped. Default: 3.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long an open circuit stays open.
	// Default: 30s.
	CircuitBreakerTimeout time.Duration

	// ShouldFailover decides whether err warrants trying the next provider.
	// Default: every error except cancellation.
	ShouldFailover func(error) bool

	// Now overrides the clock.
	Now func() time.Time
}

func (c FailoverConfig) normalized() FailoverConfig {
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 3
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 30 * time.Second
	}
	if c.ShouldFailover == nil {
		c.ShouldFailover = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ProviderState tracks the health of one wrapped provider.
type ProviderState struct {
	Name          string
	Failures      int
	LastFailure   time.Time
	CircuitOpen   bool
	CircuitOpenAt time.Time
}

func (s *ProviderState) available(cfg FailoverConfig) bool {
	return !s.CircuitOpen || cfg.Now().Sub(s.CircuitOpenAt) > cfg.CircuitBreakerTimeout
}

// FailoverProvider presents a primary provider plus fallbacks as one
// LLMProvider registered under the primary's name. Only the call that opens
// the stream fails over; once chunks flow the choice is final.
//
// The requested model belongs to the primary vendor, so fallbacks receive an
// empty model and use their own default.
type FailoverProvider struct {
	providers []LLMProvider
	cfg       FailoverConfig

	mu        sync.Mutex
	states    map[string]*ProviderState
	failovers int64
}

// NewFailoverProvider wraps primary with fallbacks tried in order.
func NewFailoverProvider(primary LLMProvider, fallbacks []LLMProvider, cfg FailoverConfig) *FailoverProvider {
	return &FailoverProvider{
		providers: append([]LLMProvider{primary}, fallbacks...),
		cfg:       cfg.normalized(),
		states:    make(map[string]*ProviderState),
	}
}

// Name implements LLMProvider.
func (f *FailoverProvider) Name() string {
	return f.providers[0].Name()
}

// SupportsTools implements LLMProvider. Tools are only declared when the
// primary supports them.
func (f *FailoverProvider) SupportsTools() bool {
	return f.providers[0].SupportsTools()
}

// Complete implements LLMProvider with failover support.
func (f *FailoverProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	var lastErr error
	for i, p := range f.providers {
		if !f.available(p.Name()) {
			continue
		}
		attempt := req
		if i > 0 {
			clone := *req
			clone.Model = ""
			if !p.SupportsTools() {
				clone.Tools = nil
			}
			attempt = &clone
		}

		ch, err := p.Complete(ctx, attempt)
		if err == nil {
			f.recordSuccess(p.Name())
			return ch, nil
		}
		lastErr = err
		f.recordFailure(p.Name())
		if ctx.Err() != nil || !f.cfg.ShouldFailover(err) {
			return nil, err
		}
		if i < len(f.providers)-1 {
			f.mu.Lock()
			f.failovers++
			f.mu.Unlock()
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: every circuit is open", ErrNoProvider)
	}
	return nil, lastErr
}

func (f *FailoverProvider) available(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	return !ok || state.available(f.cfg)
}

func (f *FailoverProvider) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.states[name]; ok {
		state.Failures = 0
		state.CircuitOpen = false
	}
}

func (f *FailoverProvider) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	if !ok {
		state = &ProviderState{Name: name}
		f.states[name] = state
	}
	now := f.cfg.Now()
	state.Failures++
	state.LastFailure = now
	if state.Failures >= f.cfg.CircuitBreakerThreshold && !state.CircuitOpen {
		state.CircuitOpen = true
		state.CircuitOpenAt = now
	}
}

// Failovers returns how many times a request moved to the next provider.
func (f *FailoverProvider) Failovers() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failovers
}

// ProviderStates returns a snapshot of provider health.
func (f *FailoverProvider) ProviderStates() []ProviderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ProviderState, 0, len(f.states))
	for _, p := range f.providers {
		if s, ok := f.states[p.Name()]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// ResetCircuitBreakers closes every circuit.
func (f *FailoverProvider) ResetCircuitBreakers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.states {
		s.Failures = 0
		s.CircuitOpen = false
	}
}
