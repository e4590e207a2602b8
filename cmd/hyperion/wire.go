package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-hyperion/internal/config"
	"github.com/teslashibe/go-hyperion/internal/httpc"
	"github.com/teslashibe/go-hyperion/pkg/brain"
	"github.com/teslashibe/go-hyperion/pkg/clock"
	"github.com/teslashibe/go-hyperion/pkg/command"
	"github.com/teslashibe/go-hyperion/pkg/imagegen"
	"github.com/teslashibe/go-hyperion/pkg/inference"
	"github.com/teslashibe/go-hyperion/pkg/knowledge"
	"github.com/teslashibe/go-hyperion/pkg/memory"
	"github.com/teslashibe/go-hyperion/pkg/persona"
	"github.com/teslashibe/go-hyperion/pkg/scheduler"
	"github.com/teslashibe/go-hyperion/pkg/transcribe"
	"github.com/teslashibe/go-hyperion/pkg/tts"
	"github.com/teslashibe/go-hyperion/pkg/webfetch"
)

const backendTimeout = 2 * time.Minute

// buildBrain creates every backend the configuration enables.
func buildBrain(ctx context.Context, cfg config.Config, logger *slog.Logger) (*brain.Brain, error) {
	httpClient := httpc.NewClient(backendTimeout)

	chat, embedder, err := buildChat(cfg, logger)
	if err != nil {
		return nil, err
	}

	personas, err := persona.NewManager(cfg.PromptsDir(), cfg.Name, cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("personas: %w", err)
	}
	sentences, err := persona.LoadSentences(cfg.SentencesDir())
	if err != nil {
		return nil, fmt.Errorf("sentences: %w", err)
	}
	catalog, err := command.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}

	histories := memory.NewHistories(cfg.HistoryDir())
	if cfg.Clear {
		for _, p := range personas.List() {
			if err := histories.Wipe(p); err != nil {
				logger.Warn("history not cleared", "prompt", p, "error", err)
			}
		}
		logger.Info("histories cleared")
	}

	clk := clock.New(
		clock.WithServer(cfg.NTP.Server),
		clock.WithRetries(cfg.NTP.Retries),
		clock.WithTimeout(cfg.NTP.Timeout),
		clock.WithLogger(logger),
	)
	if !cfg.NTP.Disable {
		if err := clk.Sync(ctx); err != nil {
			logger.Warn("clock not synchronized", "error", err)
		}
	}

	var transcriber transcribe.Transcriber
	if cfg.OpenAI.APIKey != "" {
		w, err := transcribe.NewWhisper(cfg.OpenAI.APIKey,
			transcribe.WithBaseURL(cfg.OpenAI.BaseURL),
			transcribe.WithModel(cfg.OpenAI.TranscriptionModel),
			transcribe.WithHTTPClient(httpClient),
			transcribe.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		transcriber = w
	} else {
		logger.Warn("no transcriber configured, speech requests will not be understood")
	}

	index, err := buildKnowledge(cfg, embedder, logger)
	if err != nil {
		return nil, err
	}

	return brain.New(brain.Config{
		Name:                cfg.Name,
		Chat:                chat,
		Transcriber:         transcriber,
		Speech:              buildSpeech(ctx, cfg, httpClient, logger),
		Images:              buildImages(cfg, httpClient, logger),
		Knowledge:           index,
		Fetcher:             webfetch.New(httpClient, logger),
		Personas:            personas,
		Histories:           histories,
		Sentences:           sentences,
		Catalog:             catalog,
		Clock:               clk,
		Scheduler:           scheduler.New(logger.With("component", "scheduler")),
		Model:               cfg.Model,
		Models:              cfg.Models,
		NoMemory:            cfg.NoMemory,
		MaxContextTokens:    cfg.MaxContextTokens,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Workers:             cfg.Workers,
		Logger:              logger,
	})
}

// buildChat routes "claude" models to Anthropic and everything else to the
// OpenAI-compatible client. With both configured, each falls back to the
// other's own default model. The OpenAI client also serves vision and
// embeddings when configured.
func buildChat(cfg config.Config, logger *slog.Logger) (inference.Provider, knowledge.Embedder, error) {
	var openai, anthropic inference.Provider
	if cfg.OpenAI.APIKey != "" {
		c, err := inference.NewClient(
			inference.WithAPIKey(cfg.OpenAI.APIKey),
			inference.WithBaseURL(cfg.OpenAI.BaseURL),
			inference.WithModel(cfg.OpenAI.ChatModel),
			inference.WithVisionModel(cfg.OpenAI.VisionModel),
			inference.WithEmbedModel(cfg.OpenAI.EmbedModel),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		openai = c
	}
	if cfg.Anthropic.APIKey != "" {
		c, err := inference.NewAnthropic(
			inference.WithAPIKey(cfg.Anthropic.APIKey),
			inference.WithModel(cfg.Anthropic.Model),
			inference.WithMaxTokens(int(cfg.Anthropic.MaxTokens)),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		anthropic = c
	}

	switch {
	case openai != nil && anthropic != nil:
		gpt, err := inference.NewChain(logger, openai, inference.OwnModel(anthropic))
		if err != nil {
			return nil, nil, err
		}
		claude, err := inference.NewChain(logger, anthropic, inference.OwnModel(openai))
		if err != nil {
			return nil, nil, err
		}
		return inference.NewRouter(gpt).Route("claude", claude), openai, nil
	case openai != nil:
		return openai, openai, nil
	case anthropic != nil:
		return anthropic, nil, nil
	}
	return nil, nil, brain.ErrNoChat
}

// buildSpeech registers the synthesis engines in the configured order.
// Engines that cannot be created are skipped.
func buildSpeech(ctx context.Context, cfg config.Config, httpClient *http.Client, logger *slog.Logger) *tts.Engines {
	engines := tts.NewEngines(logger)
	for _, name := range cfg.SpeechEngines {
		name = strings.TrimSpace(name)
		var (
			p   tts.Provider
			err error
		)
		switch name {
		case "openai":
			if cfg.OpenAI.APIKey == "" {
				continue
			}
			p, err = tts.NewOpenAI(
				tts.WithAPIKey(cfg.OpenAI.APIKey),
				tts.WithBaseURL(cfg.OpenAI.BaseURL),
				tts.WithModel(cfg.OpenAI.TTSModel),
				tts.WithVoice(cfg.OpenAI.TTSVoice),
				tts.WithHTTPClient(httpClient),
				tts.WithLogger(logger),
			)
		case "polly":
			if cfg.AWS.Region == "" {
				continue
			}
			p, err = tts.NewPolly(
				tts.WithRegion(cfg.AWS.Region),
				tts.WithVoice(cfg.AWS.PollyVoice),
				tts.WithLogger(logger),
			)
		case "google":
			g := cfg.Google
			if g.APIKey == "" && g.AccessToken == "" && g.CredentialsFile == "" {
				continue
			}
			opts := []tts.Option{tts.WithVoice(g.Voice), tts.WithLanguage(g.LanguageCode), tts.WithLogger(logger)}
			switch {
			case g.APIKey != "":
				opts = append(opts, tts.WithAPIKey(g.APIKey))
			case g.AccessToken != "":
				opts = append(opts, tts.WithAccessToken(g.AccessToken))
			default:
				opts = append(opts, tts.WithCredentialsFile(g.CredentialsFile))
			}
			p, err = tts.NewGoogle(ctx, opts...)
		default:
			logger.Warn("unknown speech engine", "engine", name)
			continue
		}
		if err != nil {
			logger.Warn("speech engine disabled", "engine", name, "error", err)
			continue
		}
		engines.Register(name, p)
	}
	if len(engines.Names()) == 0 {
		logger.Warn("no speech engine configured, answers will be silent")
	}
	return engines
}

func buildImages(cfg config.Config, httpClient *http.Client, logger *slog.Logger) imagegen.Generator {
	switch cfg.ImageBackend {
	case "sdwebui":
		return imagegen.NewSDWebUI(cfg.SDWebUI.URL, httpClient, logger)
	case "openai":
		g, err := imagegen.NewOpenAI(imagegen.OpenAIConfig{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.ImageModel,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err == nil {
			return g
		}
		logger.Warn("image generation disabled", "error", err)
	default:
		logger.Warn("unknown image backend", "backend", cfg.ImageBackend)
	}
	return nil
}

// buildKnowledge serves every index from Weaviate when configured, with the
// local note store reachable as the "local" index. Without Weaviate the
// local store serves every index.
func buildKnowledge(cfg config.Config, embedder knowledge.Embedder, logger *slog.Logger) (knowledge.Index, error) {
	var local *knowledge.Local
	if embedder != nil {
		l, err := knowledge.NewLocal(cfg.KnowledgePath(), embedder, cfg.OpenAI.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("knowledge: %w", err)
		}
		local = l
	}

	if cfg.Weaviate.Host == "" {
		if local == nil {
			logger.Warn("no knowledge index configured")
			return nil, nil
		}
		return knowledge.NewRouter(local), nil
	}

	w, err := knowledge.NewWeaviate(knowledge.WeaviateConfig{
		Host:   cfg.Weaviate.Host,
		Scheme: cfg.Weaviate.Scheme,
		APIKey: cfg.Weaviate.APIKey,
		Limit:  cfg.Weaviate.Limit,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	r := knowledge.NewRouter(w)
	if local != nil {
		r.Route("local", local)
	}
	return r, nil
}
