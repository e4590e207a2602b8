// Package knowledge answers /query commands from named document indexes.
//
// An index is either a Weaviate class queried with nearText or a local
// JSON note store searched by embedding similarity. Router dispatches a
// query to the backend that owns the index name.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultLimit is the number of passages returned per query.
const DefaultLimit = 3

var (
	// ErrUnknownIndex is returned when no backend owns the index.
	ErrUnknownIndex = errors.New("knowledge: unknown index")
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("knowledge: empty query")
)

// Passage is one retrieved piece of text.
type Passage struct {
	Index   string
	Content string
	Score   float64
}

// Index retrieves passages relevant to query from the named index.
type Index interface {
	Query(ctx context.Context, index, query string) ([]Passage, error)
}

// Format renders passages as context text, one per paragraph.
func Format(passages []Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		if c := strings.TrimSpace(p.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// QueryAll runs query against each index and concatenates the results.
// Failing indexes are skipped; the joined errors are returned alongside
// whatever succeeded.
func QueryAll(ctx context.Context, idx Index, indexes []string, query string) ([]Passage, error) {
	var (
		out  []Passage
		errs []error
	)
	for _, name := range indexes {
		ps, err := idx.Query(ctx, name, query)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, ps...)
	}
	return out, errors.Join(errs...)
}

// Router dispatches queries by index name.
type Router struct {
	routes   map[string]Index
	fallback Index
}

// NewRouter creates a router. fallback, when non-nil, serves every index
// without an explicit route.
func NewRouter(fallback Index) *Router {
	return &Router{routes: make(map[string]Index), fallback: fallback}
}

// Route binds index to backend.
func (r *Router) Route(index string, backend Index) *Router {
	r.routes[index] = backend
	return r
}

// Query implements Index.
func (r *Router) Query(ctx context.Context, index, query string) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if b, ok := r.routes[index]; ok {
		return b.Query(ctx, index, query)
	}
	if r.fallback != nil {
		return r.fallback.Query(ctx, index, query)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
}

var _ Index = (*Router)(nil)
