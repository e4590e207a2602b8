package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-hyperion/internal/httpc"
	"github.com/teslashibe/go-hyperion/pkg/playback"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
)

type clientOptions struct {
	server    string
	user      string
	preprompt string
	model     string
	engine    string
	voice     string
	indexes   []string
	images    string
}

type client struct {
	opts   clientOptions
	http   *http.Client
	logger *slog.Logger

	mu     sync.Mutex // guards out, pcm and saved
	out    io.Writer
	pcm    io.Writer
	saved  int
	player *playback.Player

	ws  *websocket.Conn
	sid string
}

func newClient(opts clientOptions, out, pcm io.Writer, logger *slog.Logger) *client {
	c := &client{
		opts:   opts,
		http:   httpc.NewClient(0),
		logger: logger,
		out:    out,
		pcm:    pcm,
	}
	c.player = playback.NewPlayer(&playback.Gate{}, c.show, logger)
	return c
}

// connect opens the websocket session used for interrupts and pushes.
func (c *client) connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.opts.server, Path: "/ws", RawQuery: url.Values{"user": {c.opts.user}}.Encode()}
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dctx, u.String(), nil)
	if err != nil {
		return err
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return err
	}
	ws.SetReadDeadline(time.Time{})
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypeHello {
		ws.Close()
		return fmt.Errorf("unexpected greeting %q", data)
	}
	hello, err := msg.GetHelloData()
	if err != nil {
		ws.Close()
		return err
	}

	c.ws = ws
	c.sid = hello.SessionID
	c.logger.Debug("session opened", "sid", c.sid)
	go c.listen()
	return nil
}

func (c *client) listen() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("session closed", "error", err)
			return
		}
		if kind == websocket.BinaryMessage {
			if err := c.player.Feed(data); err != nil {
				c.logger.Warn("bad pushed frame", "error", err)
			}
			continue
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeInterrupt:
			in, err := msg.GetInterruptData()
			if err != nil {
				continue
			}
			c.player.Gate().Interrupt(in.Timestamp)
			c.println("🤫 interrupted")
		case protocol.TypeError:
			var e protocol.ErrorData
			msg.ParseData(&e)
			c.println("⚠️  " + e.Message)
		}
	}
}

func (c *client) close() {
	if c.ws != nil {
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
	}
}

func (c *client) endpoint(path string) string {
	return "http://" + c.opts.server + path
}

// chat posts message and plays the streamed answer.
func (c *client) chat(ctx context.Context, message string) error {
	form := url.Values{"user": {c.opts.user}, "message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setHeaders(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		c.println("✅ accepted")
		return nil
	default:
		return httpc.Check(resp)
	}
	return c.player.Play(ctx, resp.Body)
}

func (c *client) setHeaders(h http.Header) {
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set("SID", c.sid)
	set("preprompt", c.opts.preprompt)
	set("model", c.opts.model)
	set("engine", c.opts.engine)
	set("voice", c.opts.voice)
	set("indexes", strings.Join(c.opts.indexes, ","))
}

// show prints one answer frame, saves its image and writes its audio.
func (c *client) show(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if text := strings.TrimSpace(f.Answer); text != "" {
		fmt.Fprintf(c.out, "[%d] %s\n", f.Index, text)
	}
	if len(f.Image) > 0 && c.opts.images != "" {
		c.saved++
		path := filepath.Join(c.opts.images, fmt.Sprintf("hyperion-%d-%d.jpg", int64(f.Timestamp), c.saved))
		if err := os.WriteFile(path, f.Image, 0644); err != nil {
			fmt.Fprintln(c.out, "⚠️  image not saved:", err)
		} else {
			fmt.Fprintln(c.out, "🖼  saved", path)
		}
	}
	if len(f.PCM) > 0 {
		if _, err := c.pcm.Write(protocol.PCMBytes(f.PCM)); err != nil {
			return fmt.Errorf("audio output: %w", err)
		}
	}
	return nil
}

func (c *client) println(s string) {
	c.mu.Lock()
	fmt.Fprintln(c.out, s)
	c.mu.Unlock()
}

func (c *client) get(ctx context.Context, path string) (string, error) {
	resp, err := httpc.Get(ctx, c.http, c.endpoint(path), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

func (c *client) post(ctx context.Context, path, key, value string) (string, error) {
	form := url.Values{key: {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := httpc.Check(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

// command runs a ':' client command and reports whether to quit.
func (c *client) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)

	var (
		out string
		err error
	)
	switch name {
	case "quit", "q", "exit":
		return true
	case "models", "prompts", "state", "model", "prompt":
		if arg != "" && (name == "model" || name == "prompt") {
			out, err = c.post(ctx, "/"+name, name, arg)
		} else {
			out, err = c.get(ctx, "/"+name)
		}
	default:
		err = fmt.Errorf("unknown command :%s", name)
	}
	if err != nil {
		c.println("⚠️  " + err.Error())
		return false
	}
	c.println(out)
	return false
}
