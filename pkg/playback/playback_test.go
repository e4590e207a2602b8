package playback

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"testing/iotest"

	"github.com/teslashibe/go-hyperion/internal/log"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
)

func TestGate(t *testing.T) {
	tests := []struct {
		name string
		mark float64
		ts   float64
		want bool
	}{
		{"no interrupt", 0, 100, true},
		{"after interrupt", 100, 100.5, true},
		{"within tolerance", 100, 99.9, true},
		{"stale", 100, 99.5, false},
		{"much older", 100, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Gate
			if tt.mark != 0 {
				g.Interrupt(tt.mark)
			}
			if got := g.Accept(tt.ts); got != tt.want {
				t.Errorf("Accept(%v) with mark %v = %v, want %v", tt.ts, tt.mark, got, tt.want)
			}
		})
	}
}

func stream(frames ...protocol.Frame) []byte {
	var out []byte
	for _, f := range frames {
		out = protocol.AppendFrame(out, f)
	}
	return out
}

func collect(gate *Gate) (*Player, *[]string) {
	var got []string
	p := NewPlayer(gate, func(f protocol.Frame) error {
		got = append(got, f.Answer)
		return nil
	}, log.Discard())
	return p, &got
}

func TestPlayByteAtATime(t *testing.T) {
	data := stream(
		protocol.Frame{Timestamp: 10, Speaker: "ada", Answer: "Première phrase.", PCM: make([]int16, 32)},
		protocol.Frame{Timestamp: 11, Index: 1, Speaker: "ada", Answer: "Second.", Image: []byte{0xff, 0xd8}},
	)
	p, got := collect(nil)
	if err := p.Play(context.Background(), iotest.OneByteReader(bytes.NewReader(data))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !slices.Equal(*got, []string{"Première phrase.", "Second."}) {
		t.Errorf("answers = %q", *got)
	}
	if p.Played() != 2 || p.Dropped() != 0 {
		t.Errorf("played %d dropped %d", p.Played(), p.Dropped())
	}
}

func TestPlayMutesInterrupted(t *testing.T) {
	gate := &Gate{}
	gate.Interrupt(100)
	p, got := collect(gate)

	data := stream(
		protocol.Frame{Timestamp: 90, Answer: "old"},
		protocol.Frame{Timestamp: 101, Answer: "new"},
	)
	if err := p.Play(context.Background(), bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(*got, []string{"new"}) || p.Dropped() != 1 {
		t.Errorf("answers = %q, dropped %d", *got, p.Dropped())
	}
}

func TestPlayTruncated(t *testing.T) {
	data := stream(protocol.Frame{Timestamp: 1, Answer: "whole"}, protocol.Frame{Timestamp: 2, Answer: "cut"})
	p, got := collect(nil)
	err := p.Play(context.Background(), bytes.NewReader(data[:len(data)-2]))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if !slices.Equal(*got, []string{"whole"}) {
		t.Errorf("answers = %q", *got)
	}
}

func TestPlayHandlerError(t *testing.T) {
	boom := errors.New("speaker unplugged")
	p := NewPlayer(nil, func(protocol.Frame) error { return boom }, log.Discard())
	err := p.Play(context.Background(), bytes.NewReader(stream(protocol.Frame{Answer: "a"}, protocol.Frame{Answer: "b"})))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if p.Played() != 1 {
		t.Errorf("played = %d, want 1", p.Played())
	}
}

func TestPlayCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := collect(nil)
	if err := p.Play(ctx, bytes.NewReader(stream(protocol.Frame{Answer: "a"}))); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestFeed(t *testing.T) {
	p, got := collect(nil)
	if err := p.Feed(stream(protocol.Frame{Timestamp: 5, Answer: "pushed"})); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(*got, []string{"pushed"}) {
		t.Errorf("answers = %q", *got)
	}
	if err := p.Feed([]byte("TIM")); !errors.Is(err, ErrTruncated) {
		t.Errorf("partial feed err = %v", err)
	}
}
