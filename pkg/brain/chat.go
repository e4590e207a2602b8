package brain

import (
	"context"
	"strings"
	"time"

	"github.com/teslashibe/go-hyperion/pkg/envelope"
	"github.com/teslashibe/go-hyperion/pkg/inference"
	"github.com/teslashibe/go-hyperion/pkg/memory"
	"github.com/teslashibe/go-hyperion/pkg/persona"
)

const (
	chatTimeout = 3 * time.Minute
	videoPrefix = "[VIDEO STREAM] "
)

var sentenceEnds = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// answer hands a request to the chat pool. Empty requests get a "deaf"
// placeholder right away.
func (b *Brain) answer(e envelope.Envelope) {
	if b.Frozen() {
		return
	}
	if strings.TrimSpace(e.TextRequest) == "" {
		b.chat.Dispatch(e.WithText(b.cfg.Sentences.RandomDeaf()))
		b.chat.Dispatch(e.Terminate(b.now()))
		return
	}
	if err := b.chatPool.Submit(b.ctx, func() { b.complete(e) }); err != nil {
		b.logger.Error("chat not submitted", "id", e.ID, "error", err)
		b.chat.Dispatch(b.errorAnswer(e, 0))
		b.chat.Dispatch(e.Terminate(b.now()))
	}
}

// complete streams the model's answer, dispatching one envelope per
// sentence, and always ends with a termination.
func (b *Brain) complete(e envelope.Envelope) {
	defer func() { b.chat.Dispatch(e.Terminate(b.now())) }()

	ctx, cancel := context.WithTimeout(b.ctx, chatTimeout)
	defer cancel()

	t0 := b.now()
	if b.cfg.Fetcher != nil {
		e.TextRequest = b.cfg.Fetcher.Inline(ctx, e.TextRequest)
	}
	b.logger.Info("chat request", "id", e.ID, "user", e.User, "text", e.TextRequest)

	msgs, history, err := b.buildContext(e)
	if err != nil {
		b.logger.Error("chat context failed", "id", e.ID, "error", err)
		b.chat.Dispatch(b.errorAnswer(e, 0))
		return
	}

	stream, err := b.cfg.Chat.Stream(ctx, &inference.ChatRequest{Messages: msgs, Model: b.modelFor(e)})
	if err != nil {
		b.logger.Error("chat completion failed", "id", e.ID, "error", err)
		b.chat.Dispatch(b.errorAnswer(e, 0))
		return
	}
	defer stream.Close()

	var sentence, full strings.Builder
	num := 0
	for {
		chunk, err := stream.Recv()
		if err != nil {
			b.logger.Error("chat stream broken", "id", e.ID, "error", err)
			b.chat.Dispatch(b.errorAnswer(e, num))
			return
		}
		if chunk.Done {
			if chunk.FinishReason == inference.FinishLength {
				b.logger.Warn("answer truncated by token limit", "id", e.ID)
				b.chat.Dispatch(b.errorAnswer(e, num))
			} else if strings.TrimSpace(sentence.String()) != "" {
				b.dispatchSentence(e, sentence.String(), num, t0)
			}
			break
		}

		sentence.WriteString(chunk.Delta)
		full.WriteString(chunk.Delta)
		if end := sentenceEnd(sentence.String()); end > 0 {
			s := sentence.String()
			b.dispatchSentence(e, s[:end], num, t0)
			sentence.Reset()
			sentence.WriteString(s[end:])
			num++
		}
	}

	if history != nil {
		if err := history.Append(inference.NewAssistantMessage(full.String())); err != nil {
			b.logger.Warn("history not saved", "error", err)
		}
	}
}

func (b *Brain) dispatchSentence(e envelope.Envelope, sentence string, num int, t0 float64) {
	out := e.WithText(strings.TrimSpace(sentence))
	out.NumAnswer = num
	out.Timestamp = t0
	b.logger.Debug("sentence", "id", e.ID, "num", num, "text", out.TextAnswer)
	b.chat.Dispatch(out)
}

func (b *Brain) errorAnswer(e envelope.Envelope, num int) envelope.Envelope {
	out := e.WithText(b.cfg.Sentences.RandomError())
	out.NumAnswer = num
	return out
}

// sentenceEnd returns the index just past the furthest of the first
// sentence terminators found in s, or 0 when there is none.
func sentenceEnd(s string) int {
	end := -1
	for _, sep := range sentenceEnds {
		if i := strings.Index(s, sep); i > end {
			end = i
		}
	}
	return end + 1
}

func (b *Brain) modelFor(e envelope.Envelope) string {
	if e.Model != "" {
		return e.Model
	}
	return b.Model()
}

// buildContext assembles persona preprompt, history, fresh video context
// and the new user line, trimmed to the token budget. The user line is
// recorded in the persona's history, which is returned for the answer.
func (b *Brain) buildContext(e envelope.Envelope) ([]inference.Message, *memory.History, error) {
	prompt := b.cfg.Personas.Resolve(e.Preprompt)
	pre, err := b.cfg.Personas.Preprompt(prompt)
	if err != nil {
		return nil, nil, err
	}
	line := inference.NewUserMessage(e.TextRequest)
	line.Name = persona.SanitizeName(e.User)

	var (
		tail    []inference.Message
		history *memory.History
	)
	if !b.cfg.NoMemory {
		history, err = b.cfg.Histories.For(prompt)
		if err != nil {
			return nil, nil, err
		}
		tail = history.All()
	}
	if caption, ok := b.videoContext(); ok {
		tail = append(tail, inference.NewSystemMessage(videoPrefix+caption))
	}
	tail = append(tail, line)
	if history != nil {
		if err := history.Append(line); err != nil {
			b.logger.Warn("history not saved", "error", err)
		}
	}

	msgs := append(pre, tail...)
	return inference.Fit(msgs, len(pre), b.cfg.MaxContextTokens), history, nil
}
