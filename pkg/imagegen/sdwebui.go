package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-hyperion/internal/httpc"
)

// SDWebUI drives a Stable Diffusion WebUI txt2img endpoint. Unlike the
// OpenAI backend it honours steps and guidance scale.
type SDWebUI struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewSDWebUI creates a backend for the WebUI at baseURL.
func NewSDWebUI(baseURL string, client *http.Client, logger *slog.Logger) *SDWebUI {
	if client == nil {
		client = httpc.NewClient(5 * time.Minute)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SDWebUI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "imagegen.sdwebui"),
	}
}

type txt2imgRequest struct {
	Prompt    string  `json:"prompt"`
	BatchSize int     `json:"batch_size"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Steps     int     `json:"steps,omitempty"`
	CFGScale  float64 `json:"cfg_scale,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Generate runs one txt2img batch.
func (s *SDWebUI) Generate(ctx context.Context, req Request) ([]image.Image, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	start := time.Now()

	var out txt2imgResponse
	err := httpc.PostJSON(ctx, s.client, s.baseURL+"/sdapi/v1/txt2img", nil, txt2imgRequest{
		Prompt:    req.Prompt,
		BatchSize: req.N(),
		Width:     req.Width,
		Height:    req.Height,
		Steps:     req.Steps,
		CFGScale:  req.GuidanceScale,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("imagegen: sdwebui: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, ErrNoImages
	}

	images := make([]image.Image, 0, len(out.Images))
	for i, b64 := range out.Images {
		// Some WebUI versions prefix a data URL header.
		if _, after, ok := strings.Cut(b64, ","); ok && strings.HasPrefix(b64, "data:") {
			b64 = after
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("imagegen: image %d: %w", i, err)
		}
		img, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("imagegen: image %d: %w", i, err)
		}
		images = append(images, img)
	}
	s.logger.Debug("generated images", "count", len(images), "elapsed", time.Since(start))
	return images, nil
}

var _ Generator = (*SDWebUI)(nil)
