package command

import (
	"sort"
	"strings"
	"time"
)

// DefaultWindow is how long a partial command may stay buffered.
const DefaultWindow = 30 * time.Second

// Outcome is the result of feeding one chunk to the Interpreter.
type Outcome int

const (
	// Forward means Text is ordinary content and should flow downstream.
	Forward Outcome = iota
	// Buffered means the chunk was held back as the start of a command.
	Buffered
	// Matched means Text contains a complete command described by Match.
	Matched
)

func (o Outcome) String() string {
	switch o {
	case Forward:
		return "forward"
	case Buffered:
		return "buffered"
	case Matched:
		return "matched"
	default:
		return "unknown"
	}
}

// Match is a complete command found in an answer.
type Match struct {
	Spec Spec
	Raw  string
}

// Name is the matched command's name.
func (m Match) Name() string { return m.Spec.Name }

// Replace substitutes the raw command in text with the quoted sentence.
// An empty sentence removes the command.
func (m Match) Replace(text, sentence string) string {
	repl := ""
	if sentence != "" {
		repl = `"` + sentence + `"`
	}
	return strings.Replace(text, m.Raw, repl, 1)
}

// Step is one transition of the interpreter.
type Step struct {
	Outcome Outcome
	Text    string
	Match   Match
}

// Stale is a buffer that outlived the window.
type Stale struct {
	ID   string
	Text string
}

type pending struct {
	text  string
	since time.Time
}

// Interpreter finds commands embedded in streamed answers. Chunks that
// open a command without closing it are held per conversation until the
// command completes, turns out ill-formed, or the window elapses.
//
// An Interpreter is owned by a single goroutine and is not safe for
// concurrent use.
type Interpreter struct {
	catalog *Catalog
	window  time.Duration
	buffers map[string]pending
}

// NewInterpreter returns an interpreter over the catalog's commands.
// A zero window uses DefaultWindow.
func NewInterpreter(c *Catalog, window time.Duration) *Interpreter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Interpreter{
		catalog: c,
		window:  window,
		buffers: make(map[string]pending),
	}
}

// Feed advances the state of conversation id with the next chunk.
func (in *Interpreter) Feed(id, chunk string, now time.Time) Step {
	prev, buffering := in.buffers[id]
	text := chunk
	since := now
	if buffering {
		text = prev.text + chunk
		since = prev.since
		if now.Sub(prev.since) > in.window {
			delete(in.buffers, id)
			if m, ok := in.match(text); ok {
				return Step{Outcome: Matched, Text: text, Match: m}
			}
			return Step{Outcome: Forward, Text: text}
		}
	}

	if m, ok := in.match(text); ok {
		delete(in.buffers, id)
		return Step{Outcome: Matched, Text: text, Match: m}
	}

	if !in.opened(text) {
		delete(in.buffers, id)
		return Step{Outcome: Forward, Text: text}
	}

	switch strings.Count(text, `"`) {
	case 1:
		in.buffers[id] = pending{text: text, since: since}
		return Step{Outcome: Buffered}
	default:
		// Zero quotes: ill-formed. Two or more without a match: not a command.
		delete(in.buffers, id)
		return Step{Outcome: Forward, Text: text}
	}
}

// Flush releases whatever is buffered for id.
func (in *Interpreter) Flush(id string) (string, bool) {
	p, ok := in.buffers[id]
	if !ok {
		return "", false
	}
	delete(in.buffers, id)
	return p.text, true
}

// Expire releases every buffer older than the window, oldest first.
func (in *Interpreter) Expire(now time.Time) []Stale {
	var out []Stale
	var since []time.Time
	for id, p := range in.buffers {
		if now.Sub(p.since) > in.window {
			out = append(out, Stale{ID: id, Text: p.text})
			since = append(since, p.since)
			delete(in.buffers, id)
		}
	}
	sort.Sort(byAge{out, since})
	return out
}

// Buffering reports whether a partial command is held for id.
func (in *Interpreter) Buffering(id string) bool {
	_, ok := in.buffers[id]
	return ok
}

func (in *Interpreter) match(text string) (Match, bool) {
	for _, s := range in.catalog.Interpreted {
		if raw := s.find(text); raw != "" {
			return Match{Spec: s, Raw: raw}, true
		}
	}
	return Match{}, false
}

func (in *Interpreter) opened(text string) bool {
	for _, s := range in.catalog.Interpreted {
		if s.opened(text) {
			return true
		}
	}
	return false
}

type byAge struct {
	items []Stale
	since []time.Time
}

func (b byAge) Len() int           { return len(b.items) }
func (b byAge) Less(i, j int) bool { return b.since[i].Before(b.since[j]) }
func (b byAge) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
	b.since[i], b.since[j] = b.since[j], b.since[i]
}
