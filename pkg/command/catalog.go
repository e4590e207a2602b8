// Package command recognizes commands in conversation text.
//
// Two recognizers live here. The Interpreter scans the assistant's streamed
// answer for embedded commands such as /draw "a cat", buffering partial
// matches across chunk boundaries. The Detector matches trigger sentences
// in the user's own request (sleep, wake, wipe, quiet, draw). Both are
// driven by a Catalog loaded from YAML.
package command

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Names of the interpreted commands.
const (
	Draw     = "draw"
	Query    = "query"
	Schedule = "schedule"
	Quiet    = "quiet"
	Wipe     = "wipe"
)

// Action is a user-side command.
type Action string

// User actions.
const (
	ActionSleep Action = "sleep"
	ActionWake  Action = "wake"
	ActionWipe  Action = "wipe"
	ActionQuiet Action = "quiet"
	ActionDraw  Action = "draw"
)

// Spec describes one interpreted command.
type Spec struct {
	Name    string `yaml:"name"`
	Verb    string `yaml:"verb"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// Trigger lists the sentences that fire a user action.
type Trigger struct {
	Action    Action   `yaml:"action"`
	Sentences []string `yaml:"sentences"`
}

// Catalog is the full command vocabulary.
type Catalog struct {
	Interpreted []Spec    `yaml:"interpreted"`
	User        []Trigger `yaml:"user"`
}

// DefaultCatalog returns the built-in vocabulary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, falling back to the built-in one when
// path does not exist.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultCatalog()
	}
	if err != nil {
		return nil, fmt.Errorf("command: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and compiles a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("command: parse catalog: %w", err)
	}
	for i := range c.Interpreted {
		s := &c.Interpreted[i]
		if s.Name == "" || s.Verb == "" || s.Pattern == "" {
			return nil, fmt.Errorf("command: interpreted command %d is incomplete", i)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("command: compile %s: %w", s.Name, err)
		}
		s.re = re
	}
	for _, t := range c.User {
		if len(t.Sentences) == 0 {
			return nil, fmt.Errorf("command: user action %s has no sentences", t.Action)
		}
	}
	return &c, nil
}

// Spec returns the interpreted command called name.
func (c *Catalog) Spec(name string) (Spec, bool) {
	for _, s := range c.Interpreted {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Trigger returns the first sentence configured for action.
func (c *Catalog) Trigger(action Action) (string, bool) {
	for _, t := range c.User {
		if t.Action == action {
			return t.Sentences[0], true
		}
	}
	return "", false
}

// find returns the leftmost complete occurrence of the command in text.
func (s Spec) find(text string) string {
	return s.re.FindString(text)
}

// opened reports whether the command verb appears in text.
func (s Spec) opened(text string) bool {
	return strings.Contains(text, s.Verb)
}
