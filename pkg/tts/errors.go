package tts

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoAPIKey = errors.New("tts: API key required")

	// ErrEmptyText is returned for text that is blank once trimmed. The
	// brain never synthesizes it; answers fall back to silence.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrEmptyAudio is returned when an engine answers without samples.
	ErrEmptyAudio = errors.New("tts: provider returned no audio")

	ErrProviderUnavailable = errors.New("tts: no providers available")

	// ErrUnknownEngine is returned for a speech_engine that was never
	// registered with Engines.
	ErrUnknownEngine = errors.New("tts: unknown engine")
)

// APIError is a failed synthesis call. Polly and Google errors are mapped
// onto HTTP status codes so every engine reports failures the same way.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("tts: %s answered %d", e.Provider, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Retryable reports whether a synthesis error may clear on its own:
// throttling or a failure on the engine's side.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// ProviderError tags a failure with the engine that hit it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return "tts: " + e.Provider + ": " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError returns err tagged with provider, or nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError lists what every engine of a Chain answered.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "tts: every engine failed: " + strings.Join(msgs, "; ")
}

func (e *ChainError) Unwrap() []error { return e.Errors }
