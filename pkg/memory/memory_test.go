package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-hyperion/pkg/inference"
)

func TestHistoryPersists(t *testing.T) {
	dir := t.TempDir()
	hs := NewHistories(dir)

	h, err := hs.For("base")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Append(inference.NewUserMessage("hi"), inference.NewAssistantMessage("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "base.json")); err != nil {
		t.Fatalf("history file missing: %v", err)
	}

	reloaded, err := NewHistories(dir).For("base")
	if err != nil {
		t.Fatal(err)
	}
	msgs := reloaded.All()
	if len(msgs) != 2 || msgs[1].Content != "hello" || msgs[0].Role != inference.RoleUser {
		t.Errorf("reloaded = %+v", msgs)
	}
}

func TestHistoriesArePerPersona(t *testing.T) {
	hs := NewHistories("")
	a, _ := hs.For("a")
	b, _ := hs.For("b")
	a.Append(inference.NewUserMessage("x"))

	if b.Len() != 0 {
		t.Error("personas share history")
	}
	again, _ := hs.For("a")
	if again != a {
		t.Error("For must return the same history")
	}
}

func TestWipe(t *testing.T) {
	dir := t.TempDir()
	hs := NewHistories(dir)
	h, _ := hs.For("base")
	h.Append(inference.NewUserMessage("secret"))

	if err := hs.Wipe("base"); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 0 {
		t.Error("history not emptied")
	}
	if _, err := os.Stat(filepath.Join(dir, "base.json")); !os.IsNotExist(err) {
		t.Errorf("history file still present: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		keep int
		want []string
	}{
		{"keep newest two", 2, []string{"b", "c"}},
		{"keep more than present", 5, []string{"a", "b", "c"}},
		{"keep none", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Append(inference.NewUserMessage("a"), inference.NewUserMessage("b"), inference.NewUserMessage("c"))
			if err := h.Truncate(tt.keep); err != nil {
				t.Fatal(err)
			}
			got := h.All()
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, m := range got {
				if m.Content != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, m.Content, tt.want[i])
				}
			}
		})
	}
}

func TestJSONStoreMissingFile(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "nope.json"))
	data, err := s.Load()
	if err != nil || data != nil {
		t.Errorf("Load() = %v, %v", data, err)
	}
	if err := s.Remove(); err != nil {
		t.Errorf("Remove() = %v", err)
	}
}
