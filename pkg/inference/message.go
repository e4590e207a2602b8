package inference

import "unicode/utf8"

// Role defines message roles in a conversation.
type Role string

const (
	// RoleSystem is for persona instructions and injected context.
	RoleSystem Role = "system"

	// RoleUser is for user messages.
	RoleUser Role = "user"

	// RoleAssistant is for assistant responses.
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name optionally identifies the speaker within a role.
	Name string `json:"name,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// CountTokens approximates the token count of a conversation, including a
// small per-message overhead.
func CountTokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += EstimateTokens(m.Content) + 4
	}
	return n
}

// Fit drops the oldest messages until the conversation fits budget. The
// first keep messages (the persona prompt) and the final message are never
// dropped. A budget <= 0 disables trimming.
func Fit(msgs []Message, keep, budget int) []Message {
	if budget <= 0 || CountTokens(msgs) <= budget {
		return msgs
	}
	if keep > len(msgs)-1 {
		keep = len(msgs) - 1
	}
	if keep < 0 {
		keep = 0
	}
	head := msgs[:keep]
	tail := msgs[keep:]
	for len(tail) > 1 && CountTokens(head)+CountTokens(tail) > budget {
		tail = tail[1:]
	}
	out := make([]Message, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}
