package inference

import (
	"context"
	"log/slog"
	"strings"
)

// Chain tries multiple providers in order until one succeeds.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

// try calls fn on every capable provider until one succeeds.
func try[T any](ctx context.Context, c *Chain, op string, capable func(Capabilities) bool, unsupported error, fn func(Provider) (T, error)) (T, error) {
	var zero T
	var errs []error
	for i, p := range c.providers {
		if !capable(p.Capabilities()) {
			continue
		}
		out, err := fn(p)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "op", op, "provider_index", i)
			}
			return out, nil
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "op", op, "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	if len(errs) == 0 {
		return zero, unsupported
	}
	return zero, &ChainError{Errors: errs}
}

// Chat tries each provider until one succeeds.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return try(ctx, c, "chat", func(cp Capabilities) bool { return cp.Chat }, ErrProviderUnavailable,
		func(p Provider) (*ChatResponse, error) { return p.Chat(ctx, req) })
}

// Stream tries each provider until one opens a stream.
func (c *Chain) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	return try(ctx, c, "stream", func(cp Capabilities) bool { return cp.Streaming }, ErrProviderUnavailable,
		func(p Provider) (Stream, error) { return p.Stream(ctx, req) })
}

// Vision tries each provider that supports vision.
func (c *Chain) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	return try(ctx, c, "vision", func(cp Capabilities) bool { return cp.Vision }, ErrVisionNotSupported,
		func(p Provider) (*VisionResponse, error) { return p.Vision(ctx, req) })
}

// Embed tries each provider that supports embeddings.
func (c *Chain) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	return try(ctx, c, "embed", func(cp Capabilities) bool { return cp.Embeddings }, ErrEmbeddingsNotSupported,
		func(p Provider) (*EmbedResponse, error) { return p.Embed(ctx, req) })
}

// Capabilities returns combined capabilities of all providers.
func (c *Chain) Capabilities() Capabilities {
	var caps Capabilities
	for _, p := range c.providers {
		pc := p.Capabilities()
		caps.Chat = caps.Chat || pc.Chat
		caps.Vision = caps.Vision || pc.Vision
		caps.Streaming = caps.Streaming || pc.Streaming
		caps.Embeddings = caps.Embeddings || pc.Embeddings
	}
	return caps
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

// OwnModel wraps p so chat requests use p's configured model rather than
// the caller's. A chain falling back across vendors wraps its fallbacks.
func OwnModel(p Provider) Provider {
	return ownModel{p}
}

type ownModel struct {
	Provider
}

func (o ownModel) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r := *req
	r.Model = ""
	return o.Provider.Chat(ctx, &r)
}

func (o ownModel) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	r := *req
	r.Model = ""
	return o.Provider.Stream(ctx, &r)
}

// Router sends chat requests to a provider chosen by model name prefix.
// Vision and embeddings always go to the default provider.
type Router struct {
	routes   []route
	fallback Provider
}

type route struct {
	prefix   string
	provider Provider
}

// NewRouter returns a router that uses fallback for unmatched models.
func NewRouter(fallback Provider) *Router {
	return &Router{fallback: fallback}
}

// Route sends models starting with prefix to p. Earlier routes win.
func (r *Router) Route(prefix string, p Provider) *Router {
	r.routes = append(r.routes, route{prefix: prefix, provider: p})
	return r
}

// For returns the provider serving model.
func (r *Router) For(model string) Provider {
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			return rt.provider
		}
	}
	return r.fallback
}

// Chat routes by the request's model.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return r.For(req.Model).Chat(ctx, req)
}

// Stream routes by the request's model.
func (r *Router) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	return r.For(req.Model).Stream(ctx, req)
}

// Vision uses the default provider.
func (r *Router) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	return r.fallback.Vision(ctx, req)
}

// Embed uses the default provider.
func (r *Router) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	return r.fallback.Embed(ctx, req)
}

// Capabilities reports the default provider's capabilities.
func (r *Router) Capabilities() Capabilities {
	return r.fallback.Capabilities()
}

// Close closes every distinct provider.
func (r *Router) Close() error {
	seen := map[Provider]bool{}
	var lastErr error
	for _, p := range append([]Provider{r.fallback}, r.providers()...) {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (r *Router) providers() []Provider {
	out := make([]Provider, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.provider
	}
	return out
}

var (
	_ Provider = (*Chain)(nil)
	_ Provider = (*Router)(nil)
)
