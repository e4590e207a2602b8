// Package server exposes the brain over HTTP and websocket.
//
// Answers are streamed back as a sequence of binary frames (see
// pkg/protocol) with content type application/octet-stream. Websocket
// sessions on /ws receive the same frames plus interrupts and pushed
// reminders.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/teslashibe/go-hyperion/pkg/brain"
	"github.com/teslashibe/go-hyperion/pkg/session"
)

// Commands accepted as a chat message to freeze the brain.
const (
	FreezeCommand   = "!FREEZE"
	UnfreezeCommand = "!UNFREEZE"
)

// Config configures the server.
type Config struct {
	Version string
	Debug   bool
	Logger  *slog.Logger
}

// Server is the HTTP front of a brain.
type Server struct {
	app    *fiber.App
	brain  *brain.Brain
	hub    *session.Hub
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	chats    atomic.Uint64
	speeches atomic.Uint64
	frames   atomic.Uint64
	dropped  atomic.Uint64
}

// New builds the fiber app for b. Websocket sessions are managed by hub,
// which also becomes the brain's notifier.
func New(b *brain.Brain, hub *session.Hub, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		brain:  b,
		hub:    hub,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "server"),
		ctx:    ctx,
		cancel: cancel,
	}
	b.SetNotifier(hub)
	hub.OnChat(s.wsChat)
	hub.OnSpeech(s.wsSpeech)

	app := fiber.New(fiber.Config{
		AppName:               "hyperion",
		DisableStartupMessage: true,
		BodyLimit:             32 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,SID,preprompt,model,engine,voice,indexes",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	app.Get("/state", s.handleState)
	app.Get("/name", s.handleName)
	app.Get("/models", s.handleModels)
	app.Get("/model", s.handleModel)
	app.Post("/model", s.handleSetModel)
	app.Get("/prompts", s.handlePrompts)
	app.Get("/prompt", s.handlePrompt)
	app.Post("/prompt", s.handleSetPrompt)

	app.Post("/chat", s.handleChat)
	app.Post("/speech", s.handleSpeech)
	app.Post("/video", s.handleVideo)

	hub.RegisterRoutes(app)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr, "version", s.cfg.Version)
	return s.app.Listen(addr)
}

// Shutdown ends open answer streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Stats contains request counters.
type Stats struct {
	Chats         uint64 `json:"chats"`
	Speeches      uint64 `json:"speeches"`
	Frames        uint64 `json:"frames"`
	DroppedFrames uint64 `json:"dropped_frames"`
	Sessions      session.Stats
}

// GetStats returns request counters.
func (s *Server) GetStats() Stats {
	return Stats{
		Chats:         s.chats.Load(),
		Speeches:      s.speeches.Load(),
		Frames:        s.frames.Load(),
		DroppedFrames: s.dropped.Load(),
		Sessions:      s.hub.GetStats(),
	}
}
