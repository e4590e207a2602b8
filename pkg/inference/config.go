package inference

import (
	"log/slog"
	"net/http"
	"time"
)

// Config is shared by Client and Anthropic. Each reads only the fields it
// has a use for.
type Config struct {
	BaseURL string
	APIKey  string

	// Model answers chat requests that name no model. VisionModel
	// captions video frames; EmbedModel indexes knowledge notes.
	Model       string
	VisionModel string
	EmbedModel  string

	MaxTokens   int
	Temperature float64

	// Timeout bounds vision and embedding calls. StreamTimeout bounds a
	// whole chat answer.
	Timeout       time.Duration
	StreamTimeout time.Duration

	// MaxRetries is the number of extra attempts after a Retryable error.
	// The wait grows by RetryDelay per attempt.
	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

// WithBaseURL points the client at another OpenAI-compatible server, such as
// a local "http://localhost:11434/v1".
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the model used when a request names none.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

func WithVisionModel(model string) Option {
	return func(c *Config) { c.VisionModel = model }
}

func WithEmbedModel(model string) Option {
	return func(c *Config) { c.EmbedModel = model }
}

// WithMaxTokens caps answers that do not set their own limit.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithRetry sets how often and how patiently Retryable failures are retried.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient replaces the client used for vision and embedding calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Config) { c.HTTPClient = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig targets api.openai.com with the models used for chat, video
// captions and knowledge embeddings.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://api.openai.com/v1",
		Model:         "gpt-4o-mini",
		VisionModel:   "gpt-4o-mini",
		EmbedModel:    "text-embedding-3-small",
		MaxTokens:     1024,
		Temperature:   0.7,
		Timeout:       30 * time.Second,
		StreamTimeout: 2 * time.Minute,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Apply runs opts over c in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
