// Package provider implements the ordered provider-chain executor (spec
// §4.3): a capability (script text or TTS audio) is backed by multiple
// third-party services tried in priority order, with per-outcome
// handling so a quota-exhausted or flaky provider never blocks the
// whole chain.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/airwaveops/radiod/internal/log"
)

// Outcome classifies what happened on one provider invocation.
type Outcome int

const (
	// OutcomeOK means the call succeeded; the chain returns immediately.
	OutcomeOK Outcome = iota
	// OutcomeQuotaExceeded means the provider's quota is exhausted; move
	// to the next provider without retrying this one.
	OutcomeQuotaExceeded
	// OutcomeRateLimited means the provider asked for a bounded backoff
	// before retrying the same provider.
	OutcomeRateLimited
	// OutcomeTransient means a network error or 5xx; retried in-provider
	// with exponential backoff up to a small cap.
	OutcomeTransient
	// OutcomePermanent means a 4xx/auth failure; move to the next
	// provider, this one will not succeed on retry.
	OutcomePermanent
)

// Result is what a Call returns: either a payload (OutcomeOK) or a
// classification of why it didn't produce one.
type Result struct {
	Outcome    Outcome
	Payload    any
	RetryAfter time.Duration // meaningful only for OutcomeRateLimited
	Err        error
}

// Call invokes a single provider. Implementations never retry
// internally beyond what their Outcome classification implies the chain
// should orchestrate — Call itself is a single attempt.
type Call func(ctx context.Context) Result

// Provider is one entry in an ordered chain.
type Provider struct {
	Name     string
	Priority int
	Invoke   Call
}

// ErrAllProvidersFailed is returned when every provider in the chain was
// exhausted without a success.
var ErrAllProvidersFailed = errors.New("provider: all providers failed")

// ChainConfig bounds in-provider retry behavior (spec §4.3).
type ChainConfig struct {
	TransientMaxRetries int // ~3
	TransientBaseDelay  time.Duration
	RateLimitBudget     time.Duration // if retryAfter would exceed this, treat as quotaExceeded
}

func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		TransientMaxRetries: 3,
		TransientBaseDelay:  200 * time.Millisecond,
		RateLimitBudget:     5 * time.Second,
	}
}

// Chain executes an ordered list of providers until one succeeds.
// Providers are never reordered based on past outcomes within a chain
// run or across runs — quota windows reset, and a provider that failed
// ten minutes ago may succeed now.
type Chain struct {
	cfg       ChainConfig
	providers []Provider
	limiters  map[string]*rate.Limiter
}

// NewChain builds a chain from providers, sorting a copy of them by
// Priority (ascending, 0 = first to try).
func NewChain(cfg ChainConfig, providers []Provider) *Chain {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &Chain{
		cfg:       cfg,
		providers: sorted,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Execute runs the chain, returning the first successful payload or
// ErrAllProvidersFailed.
func (c *Chain) Execute(ctx context.Context) (any, error) {
	logger := log.WithContext(ctx, log.WithComponent("provider"))

	for _, p := range c.providers {
		payload, ok, err := c.runProvider(ctx, p)
		if ok {
			return payload, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("provider chain: %s: %w", p.Name, ctx.Err())
		}
		logger.Debug().Str("provider", p.Name).Err(err).Msg("provider did not produce a usable result, trying next")
	}
	return nil, ErrAllProvidersFailed
}

func (c *Chain) runProvider(ctx context.Context, p Provider) (payload any, ok bool, err error) {
	limiter := c.limiterFor(p.Name)
	retries := 0
	waited := time.Duration(0)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, false, err
		}

		res := p.Invoke(ctx)
		switch res.Outcome {
		case OutcomeOK:
			return res.Payload, true, nil

		case OutcomeQuotaExceeded:
			return nil, false, res.Err

		case OutcomeRateLimited:
			if waited+res.RetryAfter > c.cfg.RateLimitBudget {
				return nil, false, fmt.Errorf("rate limit budget exceeded: %w", res.Err)
			}
			waited += res.RetryAfter
			if err := sleepCtx(ctx, res.RetryAfter); err != nil {
				return nil, false, err
			}
			continue

		case OutcomeTransient:
			retries++
			if retries > c.cfg.TransientMaxRetries {
				return nil, false, res.Err
			}
			backoff := c.cfg.TransientBaseDelay * time.Duration(1<<uint(retries-1))
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, false, err
			}
			continue

		case OutcomePermanent:
			return nil, false, res.Err

		default:
			return nil, false, fmt.Errorf("provider: unknown outcome %d", res.Outcome)
		}
	}
}

func (c *Chain) limiterFor(name string) *rate.Limiter {
	l, ok := c.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Every(200*time.Millisecond), 3)
		c.limiters[name] = l
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
