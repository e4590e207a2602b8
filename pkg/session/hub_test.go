package session

import (
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-hyperion/pkg/protocol"
)

func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/ws"
}

func dial(t *testing.T, url string) (*websocket.Conn, protocol.HelloData) {
	t.Helper()
	var (
		ws  *websocket.Conn
		err error
	)
	for i := 0; i < 20; i++ {
		ws, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	msg := readJSON(t, ws)
	if msg.Type != protocol.TypeHello {
		t.Fatalf("first message = %s, want hello", msg.Type)
	}
	hello, _ := msg.GetHelloData()
	return ws, *hello
}

func readJSON(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("message kind = %d, want text", kind)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionLifecycle(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	url := startHub(t, hub)

	ws, hello := dial(t, url+"?user=ada")
	if hello.Name != "Hyperion" || hello.SessionID == "" {
		t.Errorf("hello = %+v", hello)
	}
	waitFor(t, func() bool { return hub.Count() == 1 })
	if s := hub.Get(hello.SessionID); s == nil || s.User() != "ada" {
		t.Fatalf("session = %+v", s)
	}

	ws.Close()
	waitFor(t, func() bool { return hub.Count() == 0 })
}

func TestInterrupt(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	ws, hello := dial(t, startHub(t, hub))

	if err := hub.Interrupt(hello.SessionID, 1234.5); err != nil {
		t.Fatal(err)
	}
	msg := readJSON(t, ws)
	data, err := msg.GetInterruptData()
	if msg.Type != protocol.TypeInterrupt || err != nil || data.Timestamp != 1234.5 {
		t.Errorf("interrupt = %s %+v %v", msg.Type, data, err)
	}

	if err := hub.Interrupt("nope", 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("unknown sid err = %v", err)
	}
}

func TestPush(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	url := startHub(t, hub)

	ada1, _ := dial(t, url+"?user=ada")
	ada2, _ := dial(t, url+"?user=ada")
	dial(t, url+"?user=bob")
	waitFor(t, func() bool { return hub.Count() == 3 })

	frame := protocol.Encode(protocol.Frame{Speaker: "Hyperion", Answer: "Reminder"})
	if n := hub.Push("ada", frame); n != 2 {
		t.Fatalf("Push() = %d, want 2", n)
	}
	for _, ws := range []*websocket.Conn{ada1, ada2} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := ws.ReadMessage()
		if err != nil || kind != websocket.BinaryMessage {
			t.Fatalf("read = %d, %v", kind, err)
		}
		f, _, err := protocol.Decode(data)
		if err != nil || f.Answer != "Reminder" {
			t.Errorf("frame = %+v, %v", f, err)
		}
	}
}

func TestChatCallback(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	got := make(chan *protocol.ChatData, 1)
	var sess *Session
	hub.OnChat(func(s *Session, data *protocol.ChatData) {
		sess = s
		got <- data
	})
	ws, _ := dial(t, startHub(t, hub))

	msg, _ := protocol.NewMessage(protocol.TypeChat, protocol.ChatData{User: "ada", Message: "hello"})
	raw, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, raw)

	select {
	case data := <-got:
		if data.Message != "hello" || sess.User() != "ada" {
			t.Errorf("chat = %+v, user %q", data, sess.User())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat callback not called")
	}
}

func TestRejectsInvalidMessage(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	ws, _ := dial(t, startHub(t, hub))

	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":{"message":"no user"}}`))
	if msg := readJSON(t, ws); msg.Type != protocol.TypeError {
		t.Errorf("reply = %s, want error", msg.Type)
	}
	if hub.GetStats().Rejected != 1 {
		t.Errorf("stats = %+v", hub.GetStats())
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	ws, _ := dial(t, startHub(t, hub))

	msg, _ := protocol.NewMessage(protocol.TypePing, protocol.PingData{ID: "p1"})
	raw, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, raw)

	if resp := readJSON(t, ws); resp.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", resp.Type)
	}
}

func TestUpgradeRequired(t *testing.T) {
	hub := NewHub("Hyperion", nil)
	app := fiber.New()
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
