package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Chain implements Provider by trying multiple providers in order.
// The first successful provider wins; if all fail, returns an aggregate error.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain that tries providers in order.
// At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text, voice string) (*AudioResult, error) {
	var errs []error
	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text, voice)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i, "chars", len(text))
			}
			return result, nil
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &ChainError{Errors: errs}
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Engines holds providers by name with a preferred order.
type Engines struct {
	mu     sync.RWMutex
	byName map[string]Provider
	order  []string
	logger *slog.Logger
}

// NewEngines returns an empty registry.
func NewEngines(logger *slog.Logger) *Engines {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engines{
		byName: make(map[string]Provider),
		logger: logger.With("component", "tts.engines"),
	}
}

// Register adds p under name. Registration order is the preferred order.
func (e *Engines) Register(name string, p Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byName[name]; !ok {
		e.order = append(e.order, name)
	}
	e.byName[name] = p
}

// Names returns registered engines in preferred order.
func (e *Engines) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.order...)
}

// Synthesize uses the named engine, or the preferred order with fallback
// when engine is empty. The voice only applies to a named engine since
// voice identifiers are engine specific.
func (e *Engines) Synthesize(ctx context.Context, engine, text, voice string) (*AudioResult, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	e.mu.RLock()
	if engine != "" {
		p, ok := e.byName[engine]
		e.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
		}
		return p.Synthesize(ctx, text, voice)
	}
	providers := make([]Provider, 0, len(e.order))
	for _, name := range e.order {
		providers = append(providers, e.byName[name])
	}
	e.mu.RUnlock()

	chain, err := NewChain(e.logger, providers...)
	if err != nil {
		return nil, err
	}
	return chain.Synthesize(ctx, text, "")
}

// Close closes every engine.
func (e *Engines) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var lastErr error
	for _, p := range e.byName {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ Provider = (*Chain)(nil)
