package tts

import (
	"log/slog"
	"net/http"
	"time"
)

// Config carries the settings of every engine. OpenAI reads the key, base
// URL and model; Polly the region; Google one of its three credentials and
// the language. All of them take VoiceID as their default voice.
type Config struct {
	APIKey          string
	AccessToken     string
	CredentialsFile string
	BaseURL         string

	VoiceID      string
	ModelID      string
	LanguageCode string
	Region       string

	// Timeout bounds a single sentence.
	Timeout time.Duration

	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures an engine.
type Option func(*Config)

func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithAccessToken authenticates Google requests with a bearer token.
func WithAccessToken(token string) Option {
	return func(c *Config) { c.AccessToken = token }
}

// WithCredentialsFile authenticates Google requests with a service account.
func WithCredentialsFile(path string) Option {
	return func(c *Config) { c.CredentialsFile = path }
}

func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice sets the voice used when a request names none.
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

// WithLanguage sets the language code Google voices are selected by.
func WithLanguage(code string) Option {
	return func(c *Config) { c.LanguageCode = code }
}

// WithRegion sets the AWS region Polly is called in.
func WithRegion(region string) Option {
	return func(c *Config) { c.Region = region }
}

// WithRetry sets how often Retryable failures are retried by the OpenAI
// engine. The wait grows by delay per attempt.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Config) { c.HTTPClient = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig gives each sentence 30 seconds and two retries.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply runs opts over c in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
