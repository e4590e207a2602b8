package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-hyperion/pkg/brain"
	"github.com/teslashibe/go-hyperion/pkg/persona"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
	"github.com/teslashibe/go-hyperion/pkg/session"
)

// State is the body of GET /state.
type State struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Frozen   bool   `json:"frozen"`
	Asleep   bool   `json:"asleep"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.cfg.Version,
		"sessions": s.hub.Count(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	stats := s.GetStats()
	return c.SendString(fmt.Sprintf(`# HELP hyperion_sessions Connected websocket sessions
# TYPE hyperion_sessions gauge
hyperion_sessions %d

# HELP hyperion_chat_requests Total chat requests
# TYPE hyperion_chat_requests counter
hyperion_chat_requests %d

# HELP hyperion_speech_requests Total speech requests
# TYPE hyperion_speech_requests counter
hyperion_speech_requests %d

# HELP hyperion_video_frames Total video frames received
# TYPE hyperion_video_frames counter
hyperion_video_frames %d

# HELP hyperion_video_frames_dropped Video frames dropped while captioning
# TYPE hyperion_video_frames_dropped counter
hyperion_video_frames_dropped %d

# HELP hyperion_ws_messages_received Total websocket messages received
# TYPE hyperion_ws_messages_received counter
hyperion_ws_messages_received %d
`, stats.Sessions.Sessions, stats.Chats, stats.Speeches, stats.Frames, stats.DroppedFrames, stats.Sessions.MessagesReceived))
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(State{
		Name:     s.brain.Name(),
		Model:    s.brain.Model(),
		Prompt:   s.brain.Prompt(),
		Frozen:   s.brain.Frozen(),
		Asleep:   s.brain.Asleep(),
		Sessions: s.hub.Count(),
	})
}

func (s *Server) handleName(c *fiber.Ctx) error {
	return c.SendString(s.brain.Name())
}

func (s *Server) handleModels(c *fiber.Ctx) error {
	return c.JSON(s.brain.Models())
}

func (s *Server) handleModel(c *fiber.Ctx) error {
	return c.SendString(s.brain.Model())
}

func (s *Server) handleSetModel(c *fiber.Ctx) error {
	model := strings.TrimSpace(c.FormValue("model"))
	if err := s.brain.SetModel(model); err != nil {
		if errors.Is(err, brain.ErrUnknownModel) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	s.logger.Info("model changed", "model", model, "request_id", requestID(c))
	return c.SendString(model)
}

func (s *Server) handlePrompts(c *fiber.Ctx) error {
	return c.JSON(s.brain.Prompts())
}

func (s *Server) handlePrompt(c *fiber.Ctx) error {
	return c.SendString(s.brain.Prompt())
}

func (s *Server) handleSetPrompt(c *fiber.Ctx) error {
	prompt := strings.TrimSpace(c.FormValue("prompt"))
	if err := s.brain.SetPrompt(prompt); err != nil {
		if errors.Is(err, persona.ErrUnknownPrompt) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	s.logger.Info("prompt changed", "prompt", prompt, "request_id", requestID(c))
	return c.SendString(prompt)
}

// request reads the per-request overrides carried in headers.
func request(c *fiber.Ctx) brain.Request {
	req := brain.Request{
		SessionID: c.Get("SID"),
		Preprompt: c.Get("preprompt"),
		Model:     c.Get("model"),
		Engine:    c.Get("engine"),
		Voice:     c.Get("voice"),
	}
	for _, idx := range strings.Split(c.Get("indexes"), ",") {
		if idx = strings.TrimSpace(idx); idx != "" {
			req.Indexes = append(req.Indexes, idx)
		}
	}
	return req
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	message := c.FormValue("message")
	switch strings.TrimSpace(message) {
	case FreezeCommand:
		s.brain.Freeze()
		return c.SendStatus(fiber.StatusAccepted)
	case UnfreezeCommand:
		s.brain.Unfreeze()
		return c.SendStatus(fiber.StatusAccepted)
	}

	req := request(c)
	req.User = c.FormValue("user")
	req.Message = message
	if req.User == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user is required")
	}

	stream, err := s.brain.HandleChat(s.ctx, req)
	if err != nil {
		return err
	}
	s.chats.Add(1)
	s.logger.Debug("chat", "id", stream.ID(), "user", req.User, "request_id", requestID(c))
	return s.stream(c, stream)
}

func (s *Server) handleSpeech(c *fiber.Ctx) error {
	if s.brain.Frozen() {
		return c.SendStatus(fiber.StatusTeapot)
	}
	raw, err := formFile(c, "speech")
	if err != nil {
		return err
	}
	samples, err := protocol.PCMSamples(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	req := request(c)
	req.User = c.FormValue("speaker")
	req.Speech = samples
	stream, err := s.brain.HandleSpeech(s.ctx, req)
	if errors.Is(err, brain.ErrEmptyRequest) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	s.speeches.Add(1)
	s.logger.Debug("speech", "id", stream.ID(), "speaker", req.User, "samples", len(samples), "request_id", requestID(c))
	return s.stream(c, stream)
}

func (s *Server) handleVideo(c *fiber.Ctx) error {
	frame, err := formFile(c, "frame")
	if err != nil {
		return err
	}
	s.frames.Add(1)
	accepted := s.brain.HandleFrame(frame)
	if !accepted {
		s.dropped.Add(1)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": accepted})
}

// stream writes the answer frames as a chunked body. The writer runs after
// the handler returns, so it must not touch c.
func (s *Server) stream(c *fiber.Ctx, stream *brain.Stream) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set("X-Request-Id", stream.ID())
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stream.Close()
		for {
			frame, ok := stream.Next(s.ctx)
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				s.logger.Debug("client went away", "id", stream.ID(), "error", err)
				return
			}
		}
	})
	return nil
}

func formFile(c *fiber.Ctx, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, field+" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

// wsChat answers a chat message received on a websocket session.
func (s *Server) wsChat(sess *session.Session, data *protocol.ChatData) {
	stream, err := s.brain.HandleChat(s.ctx, brain.Request{
		SessionID: sess.ID,
		User:      data.User,
		Message:   data.Message,
		Preprompt: data.Preprompt,
		Model:     data.Model,
		Engine:    data.Engine,
		Voice:     data.Voice,
		Indexes:   data.Indexes,
		Silent:    data.Silent,
	})
	if err != nil {
		s.logger.Warn("ws chat rejected", "sid", sess.ID, "error", err)
		return
	}
	s.chats.Add(1)
	s.relay(sess, stream)
}

// wsSpeech answers a speech message received on a websocket session.
func (s *Server) wsSpeech(sess *session.Session, data *protocol.SpeechData) {
	if s.brain.Frozen() {
		return
	}
	samples, err := data.Samples()
	if err != nil {
		s.reject(sess, err)
		return
	}
	stream, err := s.brain.HandleSpeech(s.ctx, brain.Request{
		SessionID: sess.ID,
		User:      data.Speaker,
		Speech:    samples,
		Preprompt: data.Preprompt,
		Model:     data.Model,
	})
	if err != nil {
		s.reject(sess, err)
		return
	}
	s.speeches.Add(1)
	s.relay(sess, stream)
}

func (s *Server) relay(sess *session.Session, stream *brain.Stream) {
	defer stream.Close()
	for {
		frame, ok := stream.Next(s.ctx)
		if !ok {
			return
		}
		if err := sess.SendFrame(frame); err != nil {
			s.logger.Debug("session went away", "sid", sess.ID, "error", err)
			return
		}
	}
}

func (s *Server) reject(sess *session.Session, err error) {
	s.logger.Warn("ws request rejected", "sid", sess.ID, "error", err)
	if msg, err := protocol.NewErrorMessage(err.Error()); err == nil {
		sess.Send(msg)
	}
}
