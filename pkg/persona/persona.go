// Package persona loads the prompt files that give the assistant its
// character and tracks which one is active.
//
// A prompt file is a sequence of context lines:
//
//	system::You are {name}. Today is {date}.
//	user::alice::Hi!
//	assistant::Hello alice.
//
// Lines without a role prefix continue the previous line. {name} is
// replaced by the assistant name and {date} by the current time.
package persona

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-hyperion/pkg/inference"
)

// DateLayout formats {date}.
const DateLayout = "2006-01-02 15:04:05"

var (
	// ErrUnknownPrompt is returned for a prompt without a file.
	ErrUnknownPrompt = errors.New("persona: unknown prompt")
	// ErrMalformed is returned when a file does not start with a role line.
	ErrMalformed = errors.New("persona: malformed prompt file")
)

var roles = []inference.Role{inference.RoleSystem, inference.RoleUser, inference.RoleAssistant}

var invalidName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeName makes s usable as a message author name: runs of
// characters outside [a-zA-Z0-9_-] become "_", capped at 64 bytes.
func SanitizeName(s string) string {
	s = invalidName.ReplaceAllString(strings.TrimSpace(s), "_")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// Parse reads prompt lines from content.
func Parse(content string) ([]inference.Message, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if hasRole(line) {
			lines = append(lines, line)
			continue
		}
		if line == "" {
			continue
		}
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: text before the first role line", ErrMalformed)
		}
		lines[len(lines)-1] += " " + line
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	msgs := make([]inference.Message, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, "::", 3)
		msg := inference.Message{Role: inference.Role(parts[0])}
		if len(parts) == 3 {
			msg.Name = SanitizeName(parts[1])
			msg.Content = parts[2]
		} else {
			msg.Content = parts[1]
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func hasRole(line string) bool {
	for _, r := range roles {
		if strings.HasPrefix(line, string(r)+"::") {
			return true
		}
	}
	return false
}

// Manager owns the prompt directory and the active prompt.
type Manager struct {
	dir  string
	name string
	now  func() time.Time

	mu      sync.RWMutex
	current string
	cache   map[string][]inference.Message
}

// NewManager creates a manager for the prompt files in dir, with initial
// as the active prompt. name substitutes {name}.
func NewManager(dir, name, initial string) (*Manager, error) {
	m := &Manager{
		dir:   dir,
		name:  name,
		now:   time.Now,
		cache: make(map[string][]inference.Message),
	}
	if _, err := m.load(initial); err != nil {
		return nil, err
	}
	m.current = initial
	return m, nil
}

// List returns the available prompt names, sorted.
func (m *Manager) List() []string {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	slices.Sort(names)
	return names
}

// Current returns the active prompt name.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set activates prompt. Unknown prompts are rejected.
func (m *Manager) Set(prompt string) error {
	if !slices.Contains(m.List(), prompt) {
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, prompt)
	}
	if _, err := m.load(prompt); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = prompt
	m.mu.Unlock()
	return nil
}

// Resolve returns prompt, or the active prompt when it is empty.
func (m *Manager) Resolve(prompt string) string {
	if prompt == "" {
		return m.Current()
	}
	return prompt
}

// Preprompt returns the context lines of prompt (the active one when
// empty) with placeholders substituted.
func (m *Manager) Preprompt(prompt string) ([]inference.Message, error) {
	msgs, err := m.load(m.Resolve(prompt))
	if err != nil {
		return nil, err
	}
	r := strings.NewReplacer("{name}", m.name, "{date}", m.now().Format(DateLayout))
	out := slices.Clone(msgs)
	for i := range out {
		out[i].Content = r.Replace(out[i].Content)
	}
	return out, nil
}

func (m *Manager) load(prompt string) ([]inference.Message, error) {
	m.mu.RLock()
	msgs, ok := m.cache[prompt]
	m.mu.RUnlock()
	if ok {
		return msgs, nil
	}

	path, err := m.path(prompt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", prompt, err)
	}
	msgs, err = Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("persona: %s: %w", prompt, err)
	}

	m.mu.Lock()
	m.cache[prompt] = msgs
	m.mu.Unlock()
	return msgs, nil
}

func (m *Manager) path(prompt string) (string, error) {
	if prompt == "" || strings.ContainsAny(prompt, `/\`) || strings.HasPrefix(prompt, ".") {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, prompt)
	}
	p := filepath.Join(m.dir, prompt)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	matches, _ := filepath.Glob(filepath.Join(m.dir, prompt+".*"))
	if len(matches) > 0 {
		return matches[0], nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPrompt, prompt)
}
