package inference

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrProviderUnavailable is returned by an empty chain, or when no
	// provider in it can chat.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrNoChoices is returned when a completion comes back without an
	// answer to stream or caption.
	ErrNoChoices = errors.New("inference: no choices returned")

	ErrVisionNotSupported     = errors.New("inference: vision not supported by provider")
	ErrEmbeddingsNotSupported = errors.New("inference: embeddings not supported by provider")
)

// APIError is a non-2xx answer from the OpenAI-compatible endpoint or the
// Anthropic Messages API.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "inference: %s answered %d", e.Provider, e.StatusCode)
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *APIError) IsRateLimited() bool  { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// Retryable reports whether err is worth another attempt against the same
// provider: a rate limit, a request timeout or a server failure. Anything
// else moves a chain on to its next provider.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch code := apiErr.StatusCode; {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	default:
		return code >= 500
	}
}

// ProviderError tags a transport or decoding failure with the provider
// that hit it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return "inference: " + e.Provider + ": " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError returns err tagged with provider, or nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError is returned when every capable provider of a Chain failed.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("inference: %d providers failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ChainError) Unwrap() []error { return e.Errors }
