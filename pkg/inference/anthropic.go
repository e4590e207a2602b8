package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const providerAnthropic = "anthropic"

// Anthropic serves chat and vision through the Claude Messages API.
type Anthropic struct {
	client anthropic.Client
	config *Config
	logger *slog.Logger
}

// NewAnthropic creates a Claude provider. BaseURL is only honored when it
// was set explicitly.
func NewAnthropic(opts ...Option) (*Anthropic, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.Model = "claude-sonnet-4-5"
	cfg.VisionModel = cfg.Model
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerAnthropic, ErrNoAPIKey)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.StreamTimeout),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Anthropic{
		client: anthropic.NewClient(reqOpts...),
		config: cfg,
		logger: cfg.Logger.With("component", "inference.anthropic"),
	}, nil
}

// Chat generates a complete response.
func (a *Anthropic) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	msg, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return nil, a.wrap(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &ChatResponse{
		Message:      NewAssistantMessage(text.String()),
		FinishReason: finishReason(msg.StopReason),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Model:     string(msg.Model),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream generates a response incrementally.
func (a *Anthropic) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	s := a.client.Messages.NewStreaming(ctx, a.params(req))
	if err := s.Err(); err != nil {
		s.Close()
		return nil, a.wrap(err)
	}
	return &anthropicStream{stream: s, wrap: a.wrap}, nil
}

// Vision captions a JPEG frame.
func (a *Anthropic) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = a.config.VisionModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 300
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(req.Image)),
				anthropic.NewTextBlock(req.Prompt),
			),
		},
	})
	if err != nil {
		return nil, a.wrap(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &VisionResponse{
		Content: text.String(),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Model:     string(msg.Model),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Embed is not offered by the Messages API.
func (a *Anthropic) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	return nil, WrapError(providerAnthropic, ErrEmbeddingsNotSupported)
}

// Capabilities returns what this provider supports.
func (a *Anthropic) Capabilities() Capabilities {
	return Capabilities{Chat: true, Vision: true, Streaming: true}
}

// Close releases resources.
func (a *Anthropic) Close() error { return nil }

// params maps a chat request onto the Messages API. System messages are
// joined into the system prompt.
func (a *Anthropic) params(req *ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = int64(a.config.MaxTokens)
	}

	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System:    system,
		Messages:  msgs,
	}
	temp := req.Temperature
	if temp == 0 {
		temp = a.config.Temperature
	}
	if temp > 0 {
		p.Temperature = anthropic.Float(temp)
	}
	return p
}

func (a *Anthropic) wrap(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Provider:   providerAnthropic,
		}
	}
	return WrapError(providerAnthropic, err)
}

func finishReason(r anthropic.StopReason) string {
	if r == anthropic.StopReasonMaxTokens {
		return FinishLength
	}
	return FinishStop
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	wrap   func(error) error
	finish string
	done   bool
}

// Recv returns the next text delta. Non-text events are skipped.
func (s *anthropicStream) Recv() (*StreamChunk, error) {
	if s.done {
		return &StreamChunk{Done: true, FinishReason: s.finish}, nil
	}
	for s.stream.Next() {
		switch ev := s.stream.Current().AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				return &StreamChunk{Delta: d.Text}, nil
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				s.finish = finishReason(ev.Delta.StopReason)
			}
		case anthropic.MessageStopEvent:
			s.done = true
			return &StreamChunk{Done: true, FinishReason: s.orStop()}, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return nil, s.wrap(fmt.Errorf("read stream: %w", err))
	}
	s.done = true
	return &StreamChunk{Done: true, FinishReason: s.orStop()}, nil
}

func (s *anthropicStream) orStop() string {
	if s.finish == "" {
		s.finish = FinishStop
	}
	return s.finish
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

var _ Provider = (*Anthropic)(nil)
