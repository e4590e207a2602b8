package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

const (
	providerGoogle = "google"
	googleRate     = 24000
)

// Google implements Provider for Cloud Text-to-Speech.
type Google struct {
	svc    *texttospeech.Service
	config *Config
	logger *slog.Logger
}

// NewGoogle creates a Cloud Text-to-Speech provider. Exactly one of the
// API key, access token or credentials file authenticates requests.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = "en-US-Neural2-D"
	cfg.LanguageCode = "en-US"
	cfg.Apply(opts...)

	var clientOpts []option.ClientOption
	switch {
	case cfg.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	case cfg.AccessToken != "":
		clientOpts = append(clientOpts, option.WithTokenSource(
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, WrapError(providerGoogle, ErrNoAPIKey)
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		svc:    svc,
		config: cfg,
		logger: cfg.Logger.With("component", "tts.google"),
	}, nil
}

// Synthesize requests 24kHz LINEAR16 audio for text.
func (g *Google) Synthesize(ctx context.Context, text, voice string) (*AudioResult, error) {
	start := time.Now()
	if voice == "" {
		voice = g.config.VoiceID
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.svc.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			Name:         voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: googleRate,
		},
	}).Context(ctx).Do()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return nil, &APIError{StatusCode: gErr.Code, Message: gErr.Message, Provider: providerGoogle}
		}
		return nil, WrapError(providerGoogle, err)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	audio := StripWAV(raw)
	if len(audio) == 0 {
		return nil, WrapError(providerGoogle, ErrEmptyAudio)
	}
	if len(audio)%2 != 0 {
		audio = audio[:len(audio)-1]
	}

	g.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "voice", voice)
	return newResult(audio, googleRate, text, start), nil
}

// Close releases resources.
func (g *Google) Close() error { return nil }

var _ Provider = (*Google)(nil)
