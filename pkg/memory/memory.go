// Package memory persists conversation history per persona.
//
// Each persona owns one History backed by its own JSON file. The chat
// stage reads the whole history into its context and appends every
// completed exchange; a memory wipe truncates it.
package memory

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/teslashibe/go-hyperion/pkg/inference"
)

// History is one persona's list of past messages.
type History struct {
	Messages []inference.Message `json:"messages"`

	store Store
	mu    sync.RWMutex
}

// New creates an in-memory history (no persistence).
func New() *History {
	return &History{}
}

// NewWithStore creates a history backed by store and loads it.
func NewWithStore(store Store) (*History, error) {
	h := &History{store: store}
	if err := h.Load(); err != nil {
		return nil, err
	}
	return h, nil
}

// Load reads the history from its store.
func (h *History) Load() error {
	if h.store == nil {
		return nil
	}
	data, err := h.store.Load()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	var loaded History
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("memory: parse history: %w", err)
	}
	h.mu.Lock()
	h.Messages = loaded.Messages
	h.mu.Unlock()
	return nil
}

// save persists the history. Caller holds mu.
func (h *History) save() error {
	if h.store == nil {
		return nil
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return h.store.Save(data)
}

// Append adds msgs and persists the history.
func (h *History) Append(msgs ...inference.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Messages = append(h.Messages, msgs...)
	return h.save()
}

// All returns a copy of the messages, oldest first.
func (h *History) All() []inference.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.Messages)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Messages)
}

// Truncate keeps only the newest n messages.
func (h *History) Truncate(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if len(h.Messages) > n {
		h.Messages = slices.Clone(h.Messages[len(h.Messages)-n:])
	}
	return h.save()
}

// Clear empties the history and deletes its backing data.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Messages = nil
	if h.store == nil {
		return nil
	}
	return h.store.Remove()
}

// Close releases the store.
func (h *History) Close() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

// Histories hands out one History per persona, each stored as
// <dir>/<persona>.json. An empty dir keeps everything in memory.
type Histories struct {
	dir string

	mu    sync.Mutex
	byKey map[string]*History
}

// NewHistories creates a history set rooted at dir.
func NewHistories(dir string) *Histories {
	return &Histories{dir: dir, byKey: make(map[string]*History)}
}

// For returns persona's history, loading it on first use.
func (hs *Histories) For(persona string) (*History, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if h, ok := hs.byKey[persona]; ok {
		return h, nil
	}
	h := New()
	if hs.dir != "" {
		var err error
		h, err = NewWithStore(NewJSONStore(filepath.Join(hs.dir, persona+".json")))
		if err != nil {
			return nil, fmt.Errorf("memory: open %s: %w", persona, err)
		}
	}
	hs.byKey[persona] = h
	return h, nil
}

// Wipe clears persona's history.
func (hs *Histories) Wipe(persona string) error {
	h, err := hs.For(persona)
	if err != nil {
		return err
	}
	return h.Clear()
}
