package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

const (
	providerPolly = "polly"

	// pollyRate is the highest PCM rate Polly offers.
	pollyRate = 16000
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Polly implements Provider for Amazon Polly neural voices.
type Polly struct {
	mu     sync.Mutex
	client synthClient
	config *Config
	logger *slog.Logger
}

// NewPolly creates a Polly provider. Credentials come from the default AWS
// chain and are resolved on first use.
func NewPolly(opts ...Option) (*Polly, error) {
	return NewPollyWithClient(nil, opts...)
}

// NewPollyWithClient creates a Polly provider around an existing client.
func NewPollyWithClient(client synthClient, opts ...Option) (*Polly, error) {
	cfg := DefaultConfig()
	cfg.Region = "us-east-1"
	cfg.VoiceID = "Joanna"
	cfg.Apply(opts...)

	return &Polly{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "tts.polly"),
	}, nil
}

// Synthesize requests 16kHz PCM for text.
func (p *Polly) Synthesize(ctx context.Context, text, voice string) (*AudioResult, error) {
	start := time.Now()
	if voice == "" {
		voice = p.config.VoiceID
	}

	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, WrapError(providerPolly, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       pollytypes.EngineNeural,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   ptr(strconv.Itoa(pollyRate)),
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		return nil, normalizePollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, WrapError(providerPolly, ErrEmptyAudio)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, WrapError(providerPolly, fmt.Errorf("read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerPolly, ErrEmptyAudio)
	}
	if len(audio)%2 != 0 {
		audio = audio[:len(audio)-1]
	}

	result := newResult(audio, pollyRate, text, start)
	p.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "voice", voice)
	return result, nil
}

// Close releases resources.
func (p *Polly) Close() error { return nil }

func (p *Polly) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.config.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

// normalizePollyError maps Polly faults onto APIError status codes.
func normalizePollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return WrapError(providerPolly, err)
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return WrapError(providerPolly, err)
	}

	status := http.StatusInternalServerError
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException":
		status = http.StatusTooManyRequests
	case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
		"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException",
		"ValidationException":
		status = http.StatusBadRequest
	case "UnrecognizedClientException", "AccessDeniedException":
		status = http.StatusForbidden
	}
	if apiErr.ErrorFault() == smithy.FaultServer && status == http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	return &APIError{
		StatusCode: status,
		Message:    apiErr.ErrorMessage(),
		Code:       apiErr.ErrorCode(),
		Provider:   providerPolly,
	}
}

func ptr[T any](v T) *T { return &v }

var _ Provider = (*Polly)(nil)
