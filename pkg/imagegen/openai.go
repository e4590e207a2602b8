package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultOpenAISize is used when the request leaves width or height unset.
const DefaultOpenAISize = 512

// OpenAI generates images with the OpenAI images API.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ImageModelDallE2)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger.With("component", "imagegen.openai"),
	}, nil
}

// Generate requests req.N() base64 images. Steps and guidance are not
// supported by this API and are ignored.
func (o *OpenAI) Generate(ctx context.Context, req Request) ([]image.Image, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	w, h := req.Width, req.Height
	if w == 0 {
		w = DefaultOpenAISize
	}
	if h == 0 {
		h = w
	}

	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          openai.ImageModel(o.model),
		N:              openai.Int(int64(req.N())),
		Size:           openai.ImageGenerateParamsSize(fmt.Sprintf("%dx%d", w, h)),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("imagegen: openai status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("imagegen: openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoImages
	}

	images := make([]image.Image, 0, len(resp.Data))
	for i, d := range resp.Data {
		raw, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("imagegen: image %d: %w", i, err)
		}
		img, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("imagegen: image %d: %w", i, err)
		}
		images = append(images, img)
	}
	o.logger.Debug("generated images", "count", len(images), "size", fmt.Sprintf("%dx%d", w, h))
	return images, nil
}

var _ Generator = (*OpenAI)(nil)
