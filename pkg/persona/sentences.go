package persona

import (
	"bufio"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// Sentences holds the canned replies used when a real answer is not
// available.
type Sentences struct {
	// Deaf answers an empty transcription.
	Deaf []string
	// Error answers a failed or truncated completion.
	Error []string
}

// DefaultSentences are used when no sentence files are found.
var DefaultSentences = Sentences{
	Deaf:  []string{"Sorry, I did not catch that.", "Could you repeat, please?"},
	Error: []string{"Sorry, something went wrong on my side.", "I lost my train of thought."},
}

// LoadSentences reads the "deaf" and "error" files in dir, one sentence
// per line. A missing file keeps the default list.
func LoadSentences(dir string) (Sentences, error) {
	s := DefaultSentences
	for name, dst := range map[string]*[]string{"deaf": &s.Deaf, "error": &s.Error} {
		lines, err := readLines(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Sentences{}, err
		}
		if len(lines) > 0 {
			*dst = lines
		}
	}
	return s, nil
}

// RandomDeaf picks a deaf placeholder.
func (s Sentences) RandomDeaf() string { return pick(s.Deaf, DefaultSentences.Deaf) }

// RandomError picks an error placeholder.
func (s Sentences) RandomError() string { return pick(s.Error, DefaultSentences.Error) }

func pick(list, fallback []string) string {
	if len(list) == 0 {
		list = fallback
	}
	return list[rand.IntN(len(list))]
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, sc.Err()
}
