// Package inference provides the language and vision models behind the
// conversation pipeline.
//
// Chat completions are streamed so the pipeline can speak the first
// sentence while the rest is still being generated. Providers speak either
// the OpenAI-compatible HTTP API (Client: OpenAI, Ollama, vLLM, Groq...) or
// the Anthropic Messages API (Anthropic). A Router selects a provider by
// model name and a Chain falls back between providers.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	stream, _ := client.Stream(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{inference.NewUserMessage("Hello!")},
//	})
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Recv()
//	    if err != nil || chunk.Done {
//	        break
//	    }
//	    fmt.Print(chunk.Delta)
//	}
package inference

import "context"

// Finish reasons reported by providers.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Provider is the unified inference interface.
type Provider interface {
	// Chat generates a complete response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream generates a response incrementally.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Vision captions a JPEG image.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Embed generates vector embeddings for text.
	Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)

	// Capabilities returns what features this provider supports.
	Capabilities() Capabilities

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a streaming chat response.
type Stream interface {
	// Recv returns the next chunk. A chunk with Done set ends the stream.
	Recv() (*StreamChunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	// Delta is the incremental text content.
	Delta string

	// FinishReason is FinishStop or FinishLength on the last chunk.
	FinishReason string

	// Done is true when the stream is complete.
	Done bool
}

// Capabilities describes what features a provider supports.
type Capabilities struct {
	Chat       bool
	Vision     bool
	Streaming  bool
	Embeddings bool
}

// ChatRequest for chat completions.
type ChatRequest struct {
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64
}

// ChatResponse from chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// VisionRequest asks a model about one JPEG frame.
type VisionRequest struct {
	Image     []byte
	Prompt    string
	Model     string
	MaxTokens int
}

// VisionResponse from image analysis.
type VisionResponse struct {
	Content   string
	Usage     Usage
	Model     string
	LatencyMs int64
}

// EmbedRequest for text embeddings.
type EmbedRequest struct {
	Input []string
	Model string
}

// EmbedResponse with one vector per input.
type EmbedResponse struct {
	Embeddings [][]float64
	Usage      Usage
	LatencyMs  int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Collect drains a stream into its full text and finish reason.
func Collect(s Stream) (string, string, error) {
	defer s.Close()
	var text []byte
	for {
		chunk, err := s.Recv()
		if err != nil {
			return string(text), "", err
		}
		text = append(text, chunk.Delta...)
		if chunk.Done {
			return string(text), chunk.FinishReason, nil
		}
	}
}
