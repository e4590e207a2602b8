package command

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	return c
}

func TestDefaultCatalog(t *testing.T) {
	c := mustCatalog(t)
	for _, name := range []string{Draw, Query, Schedule, Quiet, Wipe} {
		if _, ok := c.Spec(name); !ok {
			t.Errorf("missing command %q", name)
		}
	}
	if s, ok := c.Trigger(ActionWake); !ok || s != "wake up" {
		t.Errorf("Trigger(wake) = %q, %v", s, ok)
	}
}

func TestLoadCatalogFallsBack(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Interpreted) == 0 {
		t.Error("expected built-in commands")
	}
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "interpreted: ["},
		{"bad regexp", "interpreted:\n  - {name: x, verb: /x, pattern: '('}"},
		{"missing verb", "interpreted:\n  - {name: x, pattern: 'x'}"},
		{"action without sentences", "user:\n  - {action: sleep}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDraw(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    DrawArgs
		wantErr bool
	}{
		{"sentence only", `/draw "a cat"`, DrawArgs{Sentence: "a cat"}, false},
		{"without verb", `"a cat"`, DrawArgs{Sentence: "a cat"}, false},
		{"short flags", `/draw -b 2 -m "two dogs"`, DrawArgs{Batch: 2, Mosaic: true, Sentence: "two dogs"}, false},
		{"long flags", `/draw --width=512 --height 768 --steps 30 --guidance-scale 7.5 "a boat"`,
			DrawArgs{Width: 512, Height: 768, Steps: 30, GuidanceScale: 7.5, Sentence: "a boat"}, false},
		{"sentence starting with a dash", `/draw -b 2 "-a cat in space"`, DrawArgs{Batch: 2, Sentence: "-a cat in space"}, false},
		{"sentence shaped like a flag", `/draw "--mosaic"`, DrawArgs{Sentence: "--mosaic"}, false},
		{"no sentence", `/draw -b 2`, DrawArgs{}, true},
		{"two sentences", `/draw "a" "b"`, DrawArgs{}, true},
		{"unknown flag", `/draw -x "a"`, DrawArgs{}, true},
		{"bad int", `/draw -b two "a"`, DrawArgs{}, true},
		{"negative", `/draw -b -1 "a"`, DrawArgs{}, true},
		{"unterminated quote", `/draw "a cat`, DrawArgs{}, true},
		{"help", `/draw --help "a"`, DrawArgs{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDraw(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDraw() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidArguments) {
					t.Errorf("error %v does not wrap ErrInvalidArguments", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseDraw() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDrawArgsMap(t *testing.T) {
	in := DrawArgs{Batch: 2, Width: 64, Height: 32, Steps: 10, GuidanceScale: 3, Mosaic: true, Sentence: "x"}
	m := in.Map()
	if m["num_inference_steps"] != 10 {
		t.Errorf("steps key = %v", m["num_inference_steps"])
	}
	if out := DrawArgsFrom(m); out != in {
		t.Errorf("DrawArgsFrom = %+v, want %+v", out, in)
	}
}

func TestParseQuery(t *testing.T) {
	got, err := ParseQuery(`/query "opening hours"`)
	if err != nil {
		t.Fatal(err)
	}
	if got.Query != "opening hours" {
		t.Errorf("query = %q", got.Query)
	}
	if _, err := ParseQuery(`/query`); err == nil {
		t.Error("expected error for missing query")
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantDelay time.Duration
		wantCron  string
		wantErr   bool
	}{
		{"minutes", `/schedule -m 5 "stretch"`, 5 * time.Minute, "", false},
		{"mixed", `/schedule --hours 1 --seconds 30 "tea"`, time.Hour + 30*time.Second, "", false},
		{"fractional day", `/schedule -d 0.5 "call mom"`, 12 * time.Hour, "", false},
		{"weeks", `/schedule -w 1 "review"`, 7 * 24 * time.Hour, "", false},
		{"cron", `/schedule -c "0 9 * * *" "coffee"`, 0, "0 9 * * *", false},
		{"no sentence", `/schedule -m 5`, 0, "", true},
		{"negative", `/schedule -m -5 "x"`, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Delay() != tt.wantDelay {
				t.Errorf("Delay() = %v, want %v", got.Delay(), tt.wantDelay)
			}
			if got.Cron != tt.wantCron {
				t.Errorf("Cron = %q, want %q", got.Cron, tt.wantCron)
			}
		})
	}
}

func TestInterpreterCommandAcrossChunks(t *testing.T) {
	in := NewInterpreter(mustCatalog(t), 0)
	now := time.Unix(1000, 0)

	step := in.Feed("c1", `Sure, /draw "a cat`, now)
	if step.Outcome != Buffered {
		t.Fatalf("first chunk outcome = %v, want buffered", step.Outcome)
	}
	if !in.Buffering("c1") {
		t.Fatal("expected c1 to be buffering")
	}

	step = in.Feed("c1", ` sleeping"`, now.Add(time.Second))
	if step.Outcome != Matched {
		t.Fatalf("second chunk outcome = %v, want matched", step.Outcome)
	}
	if step.Match.Name() != Draw {
		t.Errorf("matched %q", step.Match.Name())
	}
	if step.Match.Raw != `/draw "a cat sleeping"` {
		t.Errorf("raw = %q", step.Match.Raw)
	}
	if got := step.Match.Replace(step.Text, "a cat sleeping"); got != `Sure, "a cat sleeping"` {
		t.Errorf("Replace() = %q", got)
	}
	if in.Buffering("c1") {
		t.Error("buffer should be cleared after a match")
	}
}

func TestInterpreterExpire(t *testing.T) {
	in := NewInterpreter(mustCatalog(t), 0)
	t0 := time.Unix(1000, 0)
	in.Feed("old", `/draw "a cat`, t0)
	in.Feed("new", `/query "wea`, t0.Add(20*time.Second))

	if stale := in.Expire(t0.Add(29 * time.Second)); len(stale) != 0 {
		t.Fatalf("expired too early: %v", stale)
	}
	stale := in.Expire(t0.Add(31 * time.Second))
	if len(stale) != 1 || stale[0].ID != "old" || stale[0].Text != `/draw "a cat` {
		t.Fatalf("Expire() = %+v", stale)
	}
	if in.Buffering("old") {
		t.Error("old buffer should be gone")
	}
	if !in.Buffering("new") {
		t.Error("new buffer should survive")
	}
}

func TestInterpreterStaleBufferResumesForwarding(t *testing.T) {
	in := NewInterpreter(mustCatalog(t), 0)
	t0 := time.Unix(1000, 0)
	in.Feed("c1", `/draw "a cat`, t0)

	step := in.Feed("c1", " and more", t0.Add(DefaultWindow+time.Second))
	if step.Outcome != Forward || step.Text != `/draw "a cat and more` {
		t.Errorf("step = %+v", step)
	}
	if in.Buffering("c1") {
		t.Error("buffer should be discarded")
	}
}

func TestInterpreterFeed(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    Outcome
		text    string
		command string
	}{
		{"plain text", []string{"Hello there. "}, Forward, "Hello there. ", ""},
		{"ill-formed", []string{"I could /draw it. "}, Forward, "I could /draw it. ", ""},
		{"quotes without match", []string{`Try /draw"a cat" now`}, Forward, `Try /draw"a cat" now`, ""},
		{"buffered then broken", []string{`/draw"a`, ` cat`, `" now`}, Forward, `/draw"a cat" now`, ""},
		{"single chunk draw", []string{`Ok! /draw -b 2 "two cats"`}, Matched, `Ok! /draw -b 2 "two cats"`, Draw},
		{"schedule with cron", []string{`/schedule -c "0 9 * * *" "coffee"`}, Matched, `/schedule -c "0 9 * * *" "coffee"`, Schedule},
		{"query", []string{`Let me check. /query "hours"`}, Matched, `Let me check. /query "hours"`, Query},
		{"quiet", []string{"Fine. /quiet"}, Matched, "Fine. /quiet", Quiet},
		{"wipe", []string{"/wipe done"}, Matched, "/wipe done", Wipe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInterpreter(mustCatalog(t), 0)
			now := time.Unix(1000, 0)
			var step Step
			for _, c := range tt.chunks {
				step = in.Feed("id", c, now)
			}
			if step.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", step.Outcome, tt.want)
			}
			if step.Text != tt.text {
				t.Errorf("text = %q, want %q", step.Text, tt.text)
			}
			if step.Match.Name() != tt.command {
				t.Errorf("command = %q, want %q", step.Match.Name(), tt.command)
			}
		})
	}
}

func TestInterpreterBuffersPerConversation(t *testing.T) {
	in := NewInterpreter(mustCatalog(t), 0)
	now := time.Unix(1000, 0)
	in.Feed("a", `/draw "half`, now)

	step := in.Feed("b", "unrelated text", now)
	if step.Outcome != Forward || step.Text != "unrelated text" {
		t.Errorf("b step = %+v", step)
	}
	text, ok := in.Flush("a")
	if !ok || text != `/draw "half` {
		t.Errorf("Flush(a) = %q, %v", text, ok)
	}
	if _, ok := in.Flush("a"); ok {
		t.Error("second flush should be empty")
	}
}

func TestDetector(t *testing.T) {
	d := NewDetector(mustCatalog(t))
	tests := []struct {
		name   string
		text   string
		want   Action
		args   string
		detect bool
	}{
		{"sleep", "Please go to sleep now", ActionSleep, "", true},
		{"sleep mode", "enter SLEEP MODE", ActionSleep, "", true},
		{"wake", "WAKE UP!", ActionWake, "", true},
		{"wipe", "Forget everything I said", ActionWipe, "", true},
		{"quiet", "shut up please", ActionQuiet, "", true},
		{"draw", `can you /draw -b 2 "a dog"`, ActionDraw, `-b 2 "a dog"`, true},
		{"draw keeps case", `/DRAW "A Big Dog"`, ActionDraw, `"A Big Dog"`, true},
		{"draw after widening rune", `İstanbul at night: /draw "Blue Mosque"`, ActionDraw, `"Blue Mosque"`, true},
		{"catalog order", "wake up and go to sleep", ActionSleep, "", true},
		{"nothing", "what time is it", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.Detect(tt.text)
			if ok != tt.detect {
				t.Fatalf("Detect() ok = %v, want %v", ok, tt.detect)
			}
			if got.Action != tt.want {
				t.Errorf("action = %q, want %q", got.Action, tt.want)
			}
			if tt.args != "" && got.Args != tt.args {
				t.Errorf("args = %q, want %q", got.Args, tt.args)
			}
		})
	}
}
