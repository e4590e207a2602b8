package command

import (
	"strings"
	"unicode/utf8"
)

// Detection is a user action found in a request.
type Detection struct {
	Action Action
	// Args is the text following the trigger, used by ActionDraw.
	Args string
}

// Detector matches the user's requests against trigger sentences.
type Detector struct {
	catalog *Catalog
}

// NewDetector returns a detector over the catalog's user actions.
func NewDetector(c *Catalog) *Detector {
	return &Detector{catalog: c}
}

// Detect returns the first action, in catalog order, with a trigger
// sentence whose every word appears in text. Matching is case-insensitive
// and words may occur anywhere, in any order.
func (d *Detector) Detect(text string) (Detection, bool) {
	lower := strings.ToLower(text)
	for _, t := range d.catalog.User {
		for _, sentence := range t.Sentences {
			if !containsAll(lower, strings.Fields(strings.ToLower(sentence))) {
				continue
			}
			return Detection{Action: t.Action, Args: after(text, sentence)}, true
		}
	}
	return Detection{}, false
}

func containsAll(text string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

// after returns what follows sentence in text, or the whole text when the
// sentence does not appear contiguously. The match folds case on the
// original text, so offsets hold when lowercasing changes byte lengths.
func after(text, sentence string) string {
	for i := range text {
		if n, ok := hasPrefixFold(text[i:], sentence); ok {
			return strings.TrimSpace(text[i+n:])
		}
	}
	return strings.TrimSpace(text)
}

// hasPrefixFold reports whether s starts with prefix under case folding and
// returns the length of the matching bytes of s.
func hasPrefixFold(s, prefix string) (int, bool) {
	n := 0
	for _, want := range prefix {
		if n >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[n:])
		if got != want && !strings.EqualFold(string(got), string(want)) {
			return 0, false
		}
		n += size
	}
	return n, n > 0
}
