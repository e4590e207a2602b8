package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-hyperion/internal/log"
	"github.com/teslashibe/go-hyperion/pkg/brain"
	"github.com/teslashibe/go-hyperion/pkg/inference"
	"github.com/teslashibe/go-hyperion/pkg/persona"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
	"github.com/teslashibe/go-hyperion/pkg/session"
	"github.com/teslashibe/go-hyperion/pkg/transcribe"
	"github.com/teslashibe/go-hyperion/pkg/tts"
)

type testServer struct {
	*Server
	transcriber *transcribe.Mock
	chat        *inference.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"base":   "system::You are {name}.\n",
		"pirate": "system::You are {name}, a pirate.\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	personas, err := persona.NewManager(dir, "Hyperion", "base")
	if err != nil {
		t.Fatal(err)
	}

	ts := &testServer{
		transcriber: &transcribe.Mock{Result: transcribe.Result{Text: "hi", Language: "en", Confidence: 0.9}},
		chat:        inference.NewMock("Hello there. ", "How are you?"),
	}
	engines := tts.NewEngines(log.Discard())
	engines.Register("mock", tts.NewMock())

	b, err := brain.New(brain.Config{
		Name:        "Hyperion",
		Chat:        ts.chat,
		Transcriber: ts.transcriber,
		Speech:      engines,
		Personas:    personas,
		Model:       "gpt-4o-mini",
		Models:      []string{"gpt-4o-mini", "claude-sonnet-4"},
		Logger:      log.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)

	hub := session.NewHub("Hyperion", log.Discard())
	ts.Server = New(b, hub, Config{Version: "test", Logger: log.Discard()})
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := ts.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("Test(%s %s): %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func form(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func upload(t *testing.T, path, field string, data []byte, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		w.WriteField(k, v)
	}
	part, err := w.CreateFormFile(field, field+".bin")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeAll(t *testing.T, body []byte) []protocol.Frame {
	t.Helper()
	var (
		dec    protocol.Decoder
		frames []protocol.Frame
	)
	dec.Write(body)
	for {
		f, ok, err := dec.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	if dec.Buffered() != 0 {
		t.Errorf("%d trailing bytes", dec.Buffered())
	}
	return frames
}

func answers(frames []protocol.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Answer
	}
	return out
}

func TestInfoRoutes(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		path string
		want string
	}{
		{"/name", "Hyperion"},
		{"/model", "gpt-4o-mini"},
		{"/prompt", "base"},
		{"/models", `["gpt-4o-mini","claude-sonnet-4"]`},
		{"/prompts", `["base","pirate"]`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := ts.do(t, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if string(body) != tt.want {
				t.Errorf("body = %s, want %s", body, tt.want)
			}
		})
	}
}

func TestHealthAndState(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	_, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/state", nil))
	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatal(err)
	}
	if state.Name != "Hyperion" || state.Model != "gpt-4o-mini" || state.Frozen || state.Asleep {
		t.Errorf("state = %+v", state)
	}

	_, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(string(body), "hyperion_chat_requests 0") {
		t.Errorf("metrics = %s", body)
	}
}

func TestSetModel(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, form("/model", url.Values{"model": {"gpt-5-turbo"}}))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("unknown model status = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.do(t, form("/model", url.Values{"model": {"claude-sonnet-4"}}))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/model", nil)); string(body) != "claude-sonnet-4" {
		t.Errorf("model = %s", body)
	}
}

func TestSetPrompt(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, form("/prompt", url.Values{"prompt": {"ghost"}}))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("unknown prompt status = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.do(t, form("/prompt", url.Values{"prompt": {"pirate"}}))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/prompt", nil)); string(body) != "pirate" {
		t.Errorf("prompt = %s", body)
	}
}

func TestChatStream(t *testing.T) {
	ts := newTestServer(t)

	req := form("/chat", url.Values{"user": {"ada"}, "message": {"hi"}})
	req.Header.Set("SID", "sid-1")
	req.Header.Set("model", "claude-sonnet-4")
	resp, body := ts.do(t, req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != fiber.MIMEOctetStream {
		t.Errorf("content type = %q", ct)
	}

	frames := decodeAll(t, body)
	if got := answers(frames); !slices.Equal(got, []string{"Hello there.", "How are you?"}) {
		t.Errorf("answers = %q", got)
	}
	for _, f := range frames {
		if f.Speaker != "ada" || len(f.PCM) == 0 {
			t.Errorf("frame = speaker %q, %d pcm bytes", f.Speaker, len(f.PCM))
		}
	}
	if m := ts.chat.LastRequest().Model; m != "claude-sonnet-4" {
		t.Errorf("model header ignored, got %q", m)
	}
}

func TestChatRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, form("/chat", url.Values{"message": {"hi"}}))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFreeze(t *testing.T) {
	ts := newTestServer(t)
	speech := protocol.PCMBytes(make([]int16, 1600))

	resp, _ := ts.do(t, form("/chat", url.Values{"user": {"ada"}, "message": {FreezeCommand}}))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("freeze status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, upload(t, "/speech", "speech", speech, map[string]string{"speaker": "ada"}))
	if resp.StatusCode != fiber.StatusTeapot {
		t.Errorf("frozen speech status = %d, want 418", resp.StatusCode)
	}

	resp, _ = ts.do(t, form("/chat", url.Values{"user": {"ada"}, "message": {UnfreezeCommand}}))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("unfreeze status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, upload(t, "/speech", "speech", speech, map[string]string{"speaker": "ada"}))
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("speech status = %d, want 200", resp.StatusCode)
	}
}

func TestSpeechStream(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, upload(t, "/speech", "speech", protocol.PCMBytes(make([]int16, 1600)), map[string]string{"speaker": "ada"}))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d %s", resp.StatusCode, body)
	}
	frames := decodeAll(t, body)
	if len(frames) != 2 || frames[0].Request != "hi" {
		t.Errorf("frames = %+v", frames)
	}
	if ts.transcriber.Calls != 1 {
		t.Errorf("transcriber calls = %d", ts.transcriber.Calls)
	}
}

func TestSpeechRejectsBadAudio(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"missing file", func() *http.Request { return form("/speech", url.Values{"speaker": {"ada"}}) }},
		{"odd length", func() *http.Request {
			return upload(t, "/speech", "speech", []byte{1, 2, 3}, map[string]string{"speaker": "ada"})
		}},
		{"empty", func() *http.Request {
			return upload(t, "/speech", "speech", nil, map[string]string{"speaker": "ada"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, tt.req())
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestVideoFrame(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, upload(t, "/video", "frame", []byte{0xff, 0xd8, 0xff, 0xd9}, nil))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d %s", resp.StatusCode, body)
	}
	if got := ts.GetStats().Frames; got != 1 {
		t.Errorf("frames = %d", got)
	}
}

func TestWebsocketChat(t *testing.T) {
	ts := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go ts.App().Listener(ln)
	t.Cleanup(func() { ts.App().Shutdown() })

	var ws *websocket.Conn
	for i := 0; i < 20; i++ {
		ws, _, err = websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws?user=ada", nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("hello: %v", err)
	}

	msg, _ := protocol.NewMessage(protocol.TypeChat, protocol.ChatData{User: "ada", Message: "hi"})
	data, _ := msg.Bytes()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}

	var dec protocol.Decoder
	var got []string
	for len(got) < 2 {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read error: %v (got %q)", err, got)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		dec.Write(data)
		for {
			f, ok, err := dec.Next()
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				break
			}
			got = append(got, f.Answer)
		}
	}
	if !slices.Equal(got, []string{"Hello there.", "How are you?"}) {
		t.Errorf("answers = %q", got)
	}
}
