// hyperion-chat: interactive text client for a hyperion server.
//
// Each line typed is posted to /chat; the answer frames are printed as
// they stream in and their audio is written as raw 24 kHz PCM to --pcm.
// A websocket session receives interrupts and pushed reminders.
//
// Lines starting with ':' are client commands: :models, :model NAME,
// :prompts, :prompt NAME, :state, :quit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-hyperion/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "hyperion-chat",
	Short:         "Interactive client for a hyperion server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.String("server", "localhost:9999", "Server host:port")
	f.String("user", os.Getenv("USER"), "Speaker name sent with every request")
	f.String("pcm", "", "File receiving answer audio, '-' for stdout")
	f.String("images", "", "Directory receiving generated images")
	f.String("preprompt", "", "Persona for this client's requests")
	f.String("model", "", "Chat model for this client's requests")
	f.String("engine", "", "Speech engine")
	f.String("voice", "", "Speech voice")
	f.StringSlice("indexes", nil, "Knowledge indexes to query")
	f.Bool("debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	debug, _ := f.GetBool("debug")
	level := "warn"
	if debug {
		level = "debug"
	}
	log.Init(level, "text")

	opts := clientOptions{}
	opts.server, _ = f.GetString("server")
	opts.user, _ = f.GetString("user")
	opts.preprompt, _ = f.GetString("preprompt")
	opts.model, _ = f.GetString("model")
	opts.engine, _ = f.GetString("engine")
	opts.voice, _ = f.GetString("voice")
	opts.indexes, _ = f.GetStringSlice("indexes")
	opts.images, _ = f.GetString("images")
	if opts.user == "" {
		return errors.New("--user is required")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          opts.user + "> ",
		HistoryFile:     filepath.Join(os.TempDir(), "hyperion-chat.history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	pcmPath, _ := f.GetString("pcm")
	pcm, closePCM, err := openPCM(pcmPath)
	if err != nil {
		return err
	}
	defer closePCM()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient(opts, rl.Stdout(), pcm, log.L())
	if err := c.connect(ctx); err != nil {
		fmt.Fprintln(rl.Stdout(), "⚠️  websocket unavailable, no interrupts or reminders:", err)
	}
	defer c.close()

	name, err := c.get(ctx, "/name")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	fmt.Fprintf(rl.Stdout(), "Connected to %s. Type :quit to leave.\n", name)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := c.command(ctx, line); quit {
				return nil
			}
			continue
		}
		if err := c.chat(ctx, line); err != nil {
			fmt.Fprintln(rl.Stdout(), "⚠️ ", err)
		}
	}
}

func openPCM(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
