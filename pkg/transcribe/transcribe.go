// Package transcribe converts recorded speech into text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-hyperion/internal/httpc"
)

// DefaultThreshold is the confidence below which a transcription is
// treated as not understood.
const DefaultThreshold = 0.4

// InputRate is the sample rate of speech received from clients.
const InputRate = 16000

var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("transcribe: API key required")
	// ErrNoAudio is returned for an empty recording.
	ErrNoAudio = errors.New("transcribe: no audio")
)

// Result is a transcription.
type Result struct {
	Text       string
	Language   string
	Confidence float64
}

// Understood reports whether the result clears threshold.
func (r Result) Understood(threshold float64) bool {
	return strings.TrimSpace(r.Text) != "" && r.Confidence >= threshold
}

// Transcriber turns PCM16 samples at rate Hz into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, rate int) (Result, error)
}

// Whisper calls an OpenAI-compatible /audio/transcriptions endpoint.
type Whisper struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures Whisper.
type Option func(*Whisper)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(w *Whisper) { w.baseURL = strings.TrimSuffix(url, "/") }
}

// WithModel selects the transcription model.
func WithModel(model string) Option {
	return func(w *Whisper) { w.model = model }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Whisper) { w.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Whisper) { w.logger = l }
}

// NewWhisper returns a Whisper transcriber.
func NewWhisper(apiKey string, opts ...Option) (*Whisper, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	w := &Whisper{
		baseURL: "https://api.openai.com/v1",
		apiKey:  apiKey,
		model:   "whisper-1",
		client:  httpc.NewClient(60 * time.Second),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "transcribe.whisper")
	return w, nil
}

// Transcribe uploads the samples as a WAV file.
func (w *Whisper) Transcribe(ctx context.Context, samples []int16, rate int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrNoAudio
	}
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "speech.wav")
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: form file: %w", err)
	}
	if err := WriteWAV(part, samples, rate); err != nil {
		return Result{}, fmt.Errorf("transcribe: encode wav: %w", err)
	}
	_ = mw.WriteField("model", w.model)
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("transcribe: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: request: %w", err)
	}
	if err := httpc.Check(resp); err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	var out verboseJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("transcribe: decode: %w", err)
	}

	result := Result{
		Text:       strings.TrimSpace(out.Text),
		Language:   out.Language,
		Confidence: out.confidence(),
	}
	w.logger.Debug("transcribed",
		"chars", len(result.Text),
		"language", result.Language,
		"confidence", result.Confidence,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

type verboseJSON struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// confidence averages exp(avg_logprob) * (1 - no_speech_prob) over
// segments. Responses without segments are trusted.
func (v verboseJSON) confidence() float64 {
	if len(v.Segments) == 0 {
		if strings.TrimSpace(v.Text) == "" {
			return 0
		}
		return 1
	}
	var sum float64
	for _, s := range v.Segments {
		sum += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
	}
	return sum / float64(len(v.Segments))
}

// WriteWAV writes mono PCM16 samples as a RIFF/WAVE file.
func WriteWAV(w io.Writer, samples []int16, rate int) error {
	dataLen := uint32(2 * len(samples))
	header := []any{
		[]byte("RIFF"), 36 + dataLen, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), uint16(1),
		uint32(rate), uint32(2 * rate), uint16(2), uint16(16),
		[]byte("data"), dataLen,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, samples)
}

// Mock is a Transcriber returning a fixed result.
type Mock struct {
	Result Result
	Err    error
	Calls  int
}

// Transcribe returns the configured result.
func (m *Mock) Transcribe(ctx context.Context, samples []int16, rate int) (Result, error) {
	m.Calls++
	return m.Result, m.Err
}

var (
	_ Transcriber = (*Whisper)(nil)
	_ Transcriber = (*Mock)(nil)
)
