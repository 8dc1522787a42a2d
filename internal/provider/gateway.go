// Package provider gives the orchestrator a uniform invocation interface
// over heterogeneous model backends: a local inference server or a
// cloud-hosted API. It is the only place in the system that talks to a
// model provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dispatchcore/dispatch/internal/vault"
	"github.com/dispatchcore/dispatch/pkg/models"
)

// Request carries a task payload and tier-appropriate parameters to a
// model provider.
type Request struct {
	// Payload is the text sent to the model.
	Payload string
	// System is an optional system instruction.
	System string
	// MaxTokens overrides the tier's configured response cap when positive.
	MaxTokens int
}

// Response carries model output plus usage metadata.
type Response struct {
	// Text is the model's output.
	Text string
	// ModelID is the model that produced the output.
	ModelID string
	// InputTokens and OutputTokens are usage counts as reported by the
	// provider; zero when the provider doesn't report them.
	InputTokens  int64
	OutputTokens int64
}

// Gateway is the invocation contract consumed by the router policy and
// the orchestrator.
type Gateway interface {
	Invoke(ctx context.Context, tier models.Tier, req Request) (*Response, error)
}

// invoker performs a single provider call with an already-resolved
// credential. One implementation per provider kind.
type invoker interface {
	invoke(ctx context.Context, cfg models.ProviderConfig, credential string, req Request) (*Response, error)
}

// Service resolves per-tier provider configuration, applies timeout and
// retry policy, and dispatches to the provider-kind invoker. A tier is
// never silently swapped: an unreachable specialist is a failure, not a
// downgrade to the router.
type Service struct {
	vault   vault.Client
	tracker *TokenTracker

	mu      sync.RWMutex
	configs map[models.Tier]models.ProviderConfig

	invokers map[models.ProviderKind]invoker

	// backoffBase is the first retry delay; each retry doubles it.
	backoffBase time.Duration
}

// New creates a gateway over the given tier configurations.
func New(configs map[models.Tier]models.ProviderConfig, vaultClient vault.Client) *Service {
	return &Service{
		vault:   vaultClient,
		tracker: NewTokenTracker(),
		configs: configs,
		invokers: map[models.ProviderKind]invoker{
			models.ProviderLocal:     &ollamaInvoker{},
			models.ProviderRemoteAPI: &anthropicInvoker{},
		},
		backoffBase: 500 * time.Millisecond,
	}
}

// Reload swaps the tier configurations. Called on explicit configuration
// reload; in-flight invocations keep the configuration they started with.
func (s *Service) Reload(configs map[models.Tier]models.ProviderConfig) {
	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	log.Printf("[gateway] provider configuration reloaded")
}

// Tracker returns the usage tracker aggregating token counts across calls.
func (s *Service) Tracker() *TokenTracker {
	return s.tracker
}

// Invoke calls the given tier's provider with retry and timeout policy:
// transient failures retry up to the tier's bound with exponential
// backoff, credential failures fail immediately, and each attempt is
// bounded by the tier's timeout.
func (s *Service) Invoke(ctx context.Context, tier models.Tier, req Request) (*Response, error) {
	s.mu.RLock()
	cfg, ok := s.configs[tier]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	inv, ok := s.invokers[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s has unsupported kind %q", ErrUnknownTier, tier, cfg.Kind)
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := s.attempt(ctx, inv, cfg, req)
		if err == nil {
			s.tracker.Add(resp.InputTokens, resp.OutputTokens)
			return resp, nil
		}

		if errors.Is(err, ErrCredential) || isCredentialError(err) {
			return nil, fmt.Errorf("%w: tier %s: %v", ErrCredential, tier, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}

		lastErr = err
		if attempt < maxAttempts {
			delay := s.backoffBase << (attempt - 1)
			log.Printf("[gateway] tier %s attempt %d/%d failed (%v), retrying in %s",
				tier, attempt, maxAttempts, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w: tier %s failed after %d attempts: %v",
		ErrProviderUnavailable, tier, maxAttempts, lastErr)
}

// attempt performs one bounded provider call, resolving the credential
// fresh so rotated secrets take effect without a restart. The resolved
// value lives only for the duration of the call.
func (s *Service) attempt(ctx context.Context, inv invoker, cfg models.ProviderConfig, req Request) (*Response, error) {
	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var credential string
	if cfg.Kind == models.ProviderRemoteAPI && !cfg.UseBedrock {
		var err error
		credential, err = s.vault.Resolve(callCtx, cfg.CredentialRef)
		if err != nil {
			if errors.Is(err, vault.ErrUnavailable) {
				// The vault being down is a transient infrastructure
				// failure, not a bad credential.
				return nil, &transientError{fmt.Errorf("resolve %s: %w", cfg.CredentialRef, err)}
			}
			return nil, fmt.Errorf("%w: resolve %s: %v", ErrCredential, cfg.CredentialRef, err)
		}
	}

	return inv.invoke(callCtx, cfg, credential, req)
}

// TokenTracker tracks token usage across provider calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from a provider call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of successful provider calls.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
