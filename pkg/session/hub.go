// Package session tracks the websocket sessions clients keep open with the
// server. Sessions receive interrupts and pushed reminders, and may send
// chat and speech requests of their own.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-hyperion/pkg/protocol"
)

// ErrNoSession is returned when addressing an unknown session id.
var ErrNoSession = errors.New("session: not connected")

// Session is one connected client.
type Session struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	user     string
	lastSeen time.Time
}

// User returns the identity bound to the session.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetUser binds the session to user.
func (s *Session) SetUser(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Send writes a JSON control message.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// SendFrame writes one encoded answer frame.
func (s *Session) SendFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Hub manages websocket sessions.
type Hub struct {
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	onChat   func(s *Session, data *protocol.ChatData)
	onSpeech func(s *Session, data *protocol.SpeechData)

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	rejected         atomic.Uint64
}

// NewHub creates a hub announcing itself as name.
func NewHub(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:     name,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// OnChat sets the callback for chat requests.
func (h *Hub) OnChat(callback func(s *Session, data *protocol.ChatData)) {
	h.mu.Lock()
	h.onChat = callback
	h.mu.Unlock()
}

// OnSpeech sets the callback for speech requests.
func (h *Hub) OnSpeech(callback func(s *Session, data *protocol.SpeechData)) {
	h.mu.Lock()
	h.onSpeech = callback
	h.mu.Unlock()
}

// RegisterRoutes mounts GET /ws on app. The optional "user" query
// parameter binds the session to a user for pushes.
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.handle))
}

func (h *Hub) handle(c *websocket.Conn) {
	s := &Session{
		ID:        uuid.New().String(),
		Conn:      c,
		Connected: time.Now(),
		user:      c.Query("user"),
		lastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("session opened", "sid", s.ID, "user", s.user, "total", count)

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.ID)
		count := len(h.sessions)
		h.mu.Unlock()
		h.logger.Info("session closed", "sid", s.ID, "total", count)
	}()

	if hello, err := protocol.NewHelloMessage(s.ID, h.name); err == nil {
		if err := s.Send(hello); err != nil {
			return
		}
		h.messagesSent.Add(1)
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("session read ended", "sid", s.ID, "error", err)
			return
		}
		s.touch()
		h.messagesReceived.Add(1)
		h.handleMessage(s, data)
	}
}

func (h *Hub) handleMessage(s *Session, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		h.rejected.Add(1)
		h.logger.Warn("rejected client message", "sid", s.ID, "error", err)
		if reply, err2 := protocol.NewErrorMessage(err.Error()); err2 == nil {
			s.Send(reply)
		}
		return
	}

	h.mu.RLock()
	chatCb := h.onChat
	speechCb := h.onSpeech
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeChat:
		chat, err := msg.GetChatData()
		if err != nil {
			return
		}
		if s.User() == "" {
			s.SetUser(chat.User)
		}
		if chatCb != nil {
			go chatCb(s, chat)
		}

	case protocol.TypeSpeech:
		speech, err := msg.GetSpeechData()
		if err != nil {
			return
		}
		if s.User() == "" {
			s.SetUser(speech.Speaker)
		}
		if speechCb != nil {
			go speechCb(s, speech)
		}

	case protocol.TypePing:
		var ping protocol.PingData
		msg.ParseData(&ping)
		if pong, err := protocol.NewMessage(protocol.TypePong, ping); err == nil {
			s.Send(pong)
			h.messagesSent.Add(1)
		}
	}
}

// Get returns a session by id, nil if unknown.
func (h *Hub) Get(sid string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sid]
}

// Interrupt tells session sid to drop answers older than ts.
func (h *Hub) Interrupt(sid string, ts float64) error {
	s := h.Get(sid)
	if s == nil {
		return ErrNoSession
	}
	msg, err := protocol.NewInterruptMessage(ts)
	if err != nil {
		return err
	}
	h.messagesSent.Add(1)
	return s.Send(msg)
}

// Push sends frame to every session of user and returns how many
// received it.
func (h *Hub) Push(user string, frame []byte) int {
	h.mu.RLock()
	var targets []*Session
	for _, s := range h.sessions {
		if s.User() == user {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.SendFrame(frame); err != nil {
			h.logger.Warn("push failed", "sid", s.ID, "error", err)
			continue
		}
		sent++
	}
	h.messagesSent.Add(uint64(sent))
	return sent
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats contains hub statistics.
type Stats struct {
	Sessions         int    `json:"sessions"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Rejected         uint64 `json:"rejected"`
}

// GetStats returns hub statistics.
func (h *Hub) GetStats() Stats {
	return Stats{
		Sessions:         h.Count(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		Rejected:         h.rejected.Load(),
	}
}
