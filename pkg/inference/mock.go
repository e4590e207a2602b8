package inference

import (
	"context"
	"sync"
)

// Mock implements Provider for testing.
type Mock struct {
	ChatFunc   func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	StreamFunc func(ctx context.Context, req *ChatRequest) (Stream, error)
	VisionFunc func(ctx context.Context, req *VisionRequest) (*VisionResponse, error)
	EmbedFunc  func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)

	mu       sync.Mutex
	calls    []string
	requests []*ChatRequest
}

// NewMock creates a mock that answers every chat with reply, streamed as
// the given deltas when more than one is supplied.
func NewMock(deltas ...string) *Mock {
	if len(deltas) == 0 {
		deltas = []string{"Mock response."}
	}
	return &Mock{
		StreamFunc: func(ctx context.Context, req *ChatRequest) (Stream, error) {
			return NewMockStream(FinishStop, deltas...), nil
		},
		VisionFunc: func(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
			return &VisionResponse{Content: "A person waving at the camera."}, nil
		},
		EmbedFunc: func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
			out := make([][]float64, len(req.Input))
			for i, s := range req.Input {
				out[i] = bagOfLetters(s)
			}
			return &EmbedResponse{Embeddings: out}, nil
		},
	}
}

// Chat calls ChatFunc, or collects the mock stream.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.record("Chat", req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.StreamFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	s, err := m.StreamFunc(ctx, req)
	if err != nil {
		return nil, err
	}
	text, finish, err := Collect(s)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Message: NewAssistantMessage(text), FinishReason: finish}, nil
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	m.record("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Vision calls VisionFunc and records the call.
func (m *Mock) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	m.record("Vision", nil)
	if m.VisionFunc != nil {
		return m.VisionFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrVisionNotSupported)
}

// Embed calls EmbedFunc and records the call.
func (m *Mock) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	m.record("Embed", nil)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrEmbeddingsNotSupported)
}

// Capabilities reflects which functions are set.
func (m *Mock) Capabilities() Capabilities {
	return Capabilities{
		Chat:       m.ChatFunc != nil || m.StreamFunc != nil,
		Vision:     m.VisionFunc != nil,
		Streaming:  m.StreamFunc != nil,
		Embeddings: m.EmbedFunc != nil,
	}
}

// Close does nothing.
func (m *Mock) Close() error { return nil }

func (m *Mock) record(method string, req *ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	if req != nil {
		m.requests = append(m.requests, req)
	}
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent chat request, or nil.
func (m *Mock) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, req *ChatRequest) (Stream, error) {
			return nil, err
		},
		VisionFunc: func(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
			return nil, err
		},
		EmbedFunc: func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
			return nil, err
		},
	}
}

// MockStream replays fixed deltas.
type MockStream struct {
	deltas []string
	finish string
	i      int
	closed bool
}

// NewMockStream returns a stream yielding deltas then finishing with finish.
func NewMockStream(finish string, deltas ...string) *MockStream {
	return &MockStream{deltas: deltas, finish: finish}
}

// Recv returns the next delta.
func (s *MockStream) Recv() (*StreamChunk, error) {
	if s.i >= len(s.deltas) {
		return &StreamChunk{Done: true, FinishReason: s.finish}, nil
	}
	d := s.deltas[s.i]
	s.i++
	return &StreamChunk{Delta: d}, nil
}

// Close marks the stream closed.
func (s *MockStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool { return s.closed }

// bagOfLetters is a deterministic 26-dimensional letter histogram.
func bagOfLetters(s string) []float64 {
	v := make([]float64, 26)
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			v[r-'a']++
		case r >= 'A' && r <= 'Z':
			v[r-'A']++
		}
	}
	return v
}

var _ Provider = (*Mock)(nil)
