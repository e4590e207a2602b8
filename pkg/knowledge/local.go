package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-hyperion/pkg/inference"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, req *inference.EmbedRequest) (*inference.EmbedResponse, error)
}

// Note is one stored passage with its embedding.
type Note struct {
	ID        string    `json:"id"`
	Index     string    `json:"index"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Local is a JSON file of notes searched by cosine similarity.
type Local struct {
	path     string
	embedder Embedder
	model    string
	limit    int

	mu    sync.RWMutex
	notes map[string]*Note
}

type localData struct {
	Version   int     `json:"version"`
	UpdatedAt string  `json:"updated_at"`
	Notes     []*Note `json:"notes"`
}

const localVersion = 1

// NewLocal opens the store at path, loading it if present.
func NewLocal(path string, embedder Embedder, model string) (*Local, error) {
	l := &Local{
		path:     path,
		embedder: embedder,
		model:    model,
		limit:    DefaultLimit,
		notes:    make(map[string]*Note),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("knowledge: create directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := l.load(); err != nil {
			return nil, fmt.Errorf("knowledge: load %s: %w", path, err)
		}
	}
	return l, nil
}

func (l *Local) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	var stored localData
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	for _, n := range stored.Notes {
		l.notes[n.ID] = n
	}
	return nil
}

// save writes the store atomically. Caller holds mu.
func (l *Local) save() error {
	notes := make([]*Note, 0, len(l.notes))
	for _, n := range l.notes {
		notes = append(notes, n)
	}
	slices.SortFunc(notes, func(a, b *Note) int { return a.CreatedAt.Compare(b.CreatedAt) })

	data, err := json.MarshalIndent(localData{
		Version:   localVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Notes:     notes,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Add embeds content and stores it under index.
func (l *Local) Add(ctx context.Context, index, content string) (*Note, error) {
	vec, err := l.embed(ctx, content)
	if err != nil {
		return nil, err
	}
	n := &Note{
		ID:        uuid.New().String(),
		Index:     index,
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes[n.ID] = n
	if err := l.save(); err != nil {
		delete(l.notes, n.ID)
		return nil, fmt.Errorf("knowledge: save: %w", err)
	}
	return n, nil
}

// Delete removes a note.
func (l *Local) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.notes[id]; !ok {
		return fmt.Errorf("knowledge: note not found: %s", id)
	}
	delete(l.notes, id)
	return l.save()
}

// Count returns the number of notes in index, or in all indexes when
// index is empty.
func (l *Local) Count(index string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, note := range l.notes {
		if index == "" || note.Index == index {
			n++
		}
	}
	return n
}

// Query implements Index.
func (l *Local) Query(ctx context.Context, index, query string) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if l.Count(index) == 0 {
		return nil, nil
	}
	vec, err := l.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	var scored []Passage
	for _, n := range l.notes {
		if n.Index != index {
			continue
		}
		scored = append(scored, Passage{Index: index, Content: n.Content, Score: Cosine(vec, n.Embedding)})
	}
	l.mu.RUnlock()

	slices.SortFunc(scored, func(a, b Passage) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(scored) > l.limit {
		scored = scored[:l.limit]
	}
	return scored, nil
}

func (l *Local) embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := l.embedder.Embed(ctx, &inference.EmbedRequest{Input: []string{text}, Model: l.model})
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("knowledge: embed: empty response")
	}
	return resp.Embeddings[0], nil
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Index = (*Local)(nil)
