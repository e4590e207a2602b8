// Package envelope defines the request envelope threaded through every
// pipeline stage.
//
// An Envelope carries one conversation turn: the routing identifier, the
// request payload, and the answer fields filled by successive stages.
// Envelopes are passed by value between stages; Copy deep-copies the
// reference fields so a branch never aliases another stage's buffers.
package envelope

import (
	"maps"
	"slices"
)

// TerminationPriority sorts termination envelopes after all content.
const TerminationPriority = 999

// Kind tags which payload an envelope carries.
type Kind int

const (
	KindText Kind = iota
	KindAudio
	KindImage
	KindTermination
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	case KindImage:
		return "image"
	case KindTermination:
		return "termination"
	default:
		return "unknown"
	}
}

// Envelope is the message exchanged between stages.
type Envelope struct {
	// ID identifies the conversation turn and keys its identified sink.
	ID string
	// User is the originator's name.
	User string
	// SessionID binds the envelope to a transport session for interrupts and pushes.
	SessionID string

	Priority    int
	Termination bool
	// Silent suppresses speech synthesis for control messages.
	Silent bool
	// Push delivers the answer to the user's sessions instead of the identified sink.
	Push bool

	TextRequest  string
	AudioRequest []int16
	// RequestLang is the language detected by transcription.
	RequestLang string

	TextAnswer  string
	HasText     bool
	AudioAnswer []int16
	HasAudio    bool
	ImageAnswer []byte

	NumAnswer   int
	CommandArgs map[string]any

	// Per-request overrides.
	Preprompt    string
	Model        string
	SpeechEngine string
	Voice        string
	Indexes      []string

	// Timestamp is seconds since the Unix epoch on the shared clock.
	Timestamp float64
}

// New creates a content envelope with default priority.
func New(id, user string, ts float64) Envelope {
	return Envelope{
		ID:          id,
		User:        user,
		Priority:    1,
		CommandArgs: map[string]any{},
		Timestamp:   ts,
	}
}

// NewTermination creates the end-of-stream envelope for id.
func NewTermination(id, user string, ts float64) Envelope {
	e := New(id, user, ts)
	e.Termination = true
	e.Priority = TerminationPriority
	return e
}

// Terminate returns a termination envelope that keeps e's routing fields.
func (e Envelope) Terminate(ts float64) Envelope {
	t := NewTermination(e.ID, e.User, ts)
	t.SessionID = e.SessionID
	return t
}

// Copy returns a deep copy of e.
func (e Envelope) Copy() Envelope {
	c := e
	c.AudioRequest = slices.Clone(e.AudioRequest)
	c.AudioAnswer = slices.Clone(e.AudioAnswer)
	c.ImageAnswer = slices.Clone(e.ImageAnswer)
	c.Indexes = slices.Clone(e.Indexes)
	c.CommandArgs = maps.Clone(e.CommandArgs)
	if c.CommandArgs == nil {
		c.CommandArgs = map[string]any{}
	}
	return c
}

// WithText returns a copy of e answering text.
func (e Envelope) WithText(text string) Envelope {
	c := e.Copy()
	c.TextAnswer = text
	c.HasText = true
	return c
}

// Control returns a silent copy of e carrying a control tag such as "<CMD>".
func (e Envelope) Control(tag string, priority int) Envelope {
	c := e.WithText(tag)
	c.Silent = true
	c.Priority = priority
	return c
}

// SetAudio attaches synthesized samples.
func (e *Envelope) SetAudio(samples []int16) {
	e.AudioAnswer = samples
	e.HasAudio = true
}

// Kind reports the variant carried by e.
func (e Envelope) Kind() Kind {
	switch {
	case e.Termination:
		return KindTermination
	case len(e.ImageAnswer) > 0:
		return KindImage
	case e.HasAudio:
		return KindAudio
	default:
		return KindText
	}
}

// IsBareTermination reports a termination carrying no answer at all.
// Sink streamers stop on it.
func (e Envelope) IsBareTermination() bool {
	return e.Termination && !e.HasText && !e.HasAudio
}

// Less orders envelopes by priority. Ties keep arrival order in the queue.
func Less(a, b Envelope) bool {
	return a.Priority < b.Priority
}

// StringArg reads a string command argument.
func (e Envelope) StringArg(key string) string {
	s, _ := e.CommandArgs[key].(string)
	return s
}
