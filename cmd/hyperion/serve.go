package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-hyperion/internal/config"
	"github.com/teslashibe/go-hyperion/internal/log"
	"github.com/teslashibe/go-hyperion/pkg/server"
	"github.com/teslashibe/go-hyperion/pkg/session"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant server",
	RunE:  runServe,
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("env-file", ".env", "Environment file to load")
	f.Int("port", config.DefaultPort, "HTTP server port")
	f.String("name", config.DefaultName, "Assistant name")
	f.String("model", "", "Default chat model")
	f.String("prompt", config.DefaultPrompt, "Default persona prompt")
	f.Bool("no-memory", false, "Do not keep conversation history")
	f.Bool("clear", false, "Delete persona histories at startup")
	f.Bool("debug", false, "Enable debug logging")
}

// applyFlags overrides loaded settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("name") {
		cfg.Name, _ = f.GetString("name")
	}
	if f.Changed("model") {
		cfg.Model, _ = f.GetString("model")
	}
	if f.Changed("prompt") {
		cfg.Prompt, _ = f.GetString("prompt")
	}
	if f.Changed("no-memory") {
		cfg.NoMemory, _ = f.GetBool("no-memory")
	}
	if f.Changed("clear") {
		cfg.Clear, _ = f.GetBool("clear")
	}
	if f.Changed("debug") {
		cfg.Debug, _ = f.GetBool("debug")
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.LogLevel, cfg.LogFormat)
	logger := log.L()
	logger.Info("starting", "name", cfg.Name, "version", version, "model", cfg.Model, "prompt", cfg.Prompt)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := buildBrain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	hub := session.NewHub(cfg.Name, log.Component("session"))
	srv := server.New(b, hub, server.Config{Version: version, Debug: cfg.Debug, Logger: log.Component("server")})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("goodbye")
	return nil
}
