// Package playback consumes answer streams on the client side.
//
// A Gate remembers the last interrupt received from the server and rejects
// frames stamped before it, so a barge-in mutes answers that are still in
// flight. A Player decodes frames from a stream and hands the accepted ones
// to a handler.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-hyperion/pkg/clock"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
)

// ErrTruncated is returned when a stream ends inside a frame.
var ErrTruncated = errors.New("playback: stream ended mid-frame")

const readSize = 32 * 1024

// Gate filters frames by the last interrupt time.
type Gate struct {
	mu   sync.RWMutex
	mark float64
}

// Interrupt records an interrupt at ts, in seconds on the shared clock.
func (g *Gate) Interrupt(ts float64) {
	g.mu.Lock()
	g.mark = ts
	g.mu.Unlock()
}

// Mark returns the last interrupt time, 0 if none.
func (g *Gate) Mark() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mark
}

// Accept reports whether a frame stamped ts may still be played.
func (g *Gate) Accept(ts float64) bool {
	return clock.Gt(ts, g.Mark())
}

// Handler receives each accepted frame.
type Handler func(f protocol.Frame) error

// Player decodes answer streams.
type Player struct {
	gate   *Gate
	handle Handler
	logger *slog.Logger

	played  atomic.Uint64
	dropped atomic.Uint64
}

// NewPlayer creates a player. A nil gate accepts everything.
func NewPlayer(gate *Gate, handle Handler, logger *slog.Logger) *Player {
	if gate == nil {
		gate = &Gate{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{gate: gate, handle: handle, logger: logger.With("component", "playback")}
}

// Gate returns the player's interrupt gate.
func (p *Player) Gate() *Gate { return p.gate }

// Play reads r until EOF, handing every accepted frame to the handler.
// It stops early when ctx is done or the handler fails.
func (p *Player) Play(ctx context.Context, r io.Reader) error {
	var dec protocol.Decoder
	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			if herr := p.drain(&dec); herr != nil {
				return herr
			}
		}
		if errors.Is(err, io.EOF) {
			if dec.Buffered() > 0 {
				return fmt.Errorf("%w: %d bytes pending", ErrTruncated, dec.Buffered())
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("playback: read: %w", err)
		}
	}
}

// Feed decodes one message worth of bytes, as received on a websocket.
func (p *Player) Feed(data []byte) error {
	var dec protocol.Decoder
	dec.Write(data)
	if err := p.drain(&dec); err != nil {
		return err
	}
	if dec.Buffered() > 0 {
		return fmt.Errorf("%w: %d bytes pending", ErrTruncated, dec.Buffered())
	}
	return nil
}

func (p *Player) drain(dec *protocol.Decoder) error {
	for {
		f, ok, err := dec.Next()
		if err != nil {
			return fmt.Errorf("playback: decode: %w", err)
		}
		if !ok {
			return nil
		}
		if !p.gate.Accept(f.Timestamp) {
			p.dropped.Add(1)
			p.logger.Debug("frame muted", "ts", f.Timestamp, "mark", p.gate.Mark(), "answer", f.Answer)
			continue
		}
		p.played.Add(1)
		if p.handle != nil {
			if err := p.handle(f); err != nil {
				return err
			}
		}
	}
}

// Played returns how many frames reached the handler.
func (p *Player) Played() uint64 { return p.played.Load() }

// Dropped returns how many frames the gate rejected.
func (p *Player) Dropped() uint64 { return p.dropped.Load() }
