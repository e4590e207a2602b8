package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/teslashibe/go-hyperion/pkg/inference"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"length mismatch", []float64{1}, []float64{1, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalAddAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	ctx := context.Background()
	emb := inference.NewMock()

	l, err := NewLocal(path, emb, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []string{"zebras zigzag", "apples and bananas"} {
		if _, err := l.Add(ctx, "zoo", c); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.Add(ctx, "other", "zzz elsewhere"); err != nil {
		t.Fatal(err)
	}

	got, err := l.Query(ctx, "zoo", "zzz")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "zebras zigzag" {
		t.Errorf("Query() = %+v", got)
	}

	// Reopening loads the persisted notes.
	reopened, err := NewLocal(path, emb, "")
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Count("") != 3 || reopened.Count("zoo") != 2 {
		t.Errorf("reopened counts = %d/%d", reopened.Count(""), reopened.Count("zoo"))
	}
}

func TestLocalEmptyIndex(t *testing.T) {
	emb := inference.NewMock()
	l, _ := NewLocal(filepath.Join(t.TempDir(), "k.json"), emb, "")
	got, err := l.Query(context.Background(), "none", "anything")
	if err != nil || len(got) != 0 {
		t.Errorf("Query() = %v, %v", got, err)
	}
	if emb.CallCount("Embed") != 0 {
		t.Error("empty index must not embed the query")
	}
}

func TestWeaviateQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/graphql":
			var body struct {
				Query string `json:"query"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if !strings.Contains(body.Query, "Docs") || !strings.Contains(body.Query, "nearText") {
				t.Errorf("query = %s", body.Query)
			}
			fmt.Fprint(w, `{"data":{"Get":{"Docs":[{"content":"Paris is in France"},{"content":"Lyon too"}]}}}`)
		case "/v1/meta":
			fmt.Fprint(w, `{"version":"1.25.0"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	wv, err := NewWeaviate(WeaviateConfig{Host: strings.TrimPrefix(server.URL, "http://")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := wv.Query(context.Background(), "docs", "where is Paris")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "Paris is in France" || got[0].Index != "docs" {
		t.Errorf("Query() = %+v", got)
	}
}

func TestWeaviateGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"errors":[{"message":"class Missing not found"}]}`)
	}))
	defer server.Close()

	wv, _ := NewWeaviate(WeaviateConfig{Host: strings.TrimPrefix(server.URL, "http://")})
	if _, err := wv.Query(context.Background(), "missing", "x"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

type stubIndex struct {
	name string
	err  error
}

func (s stubIndex) Query(ctx context.Context, index, query string) ([]Passage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []Passage{{Index: index, Content: s.name + ":" + query}}, nil
}

func TestRouter(t *testing.T) {
	r := NewRouter(nil).Route("docs", stubIndex{name: "weaviate"})

	got, err := r.Query(context.Background(), "docs", "q")
	if err != nil || got[0].Content != "weaviate:q" {
		t.Errorf("Query() = %v, %v", got, err)
	}
	if _, err := r.Query(context.Background(), "notes", "q"); !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("unknown index err = %v", err)
	}
	if _, err := r.Query(context.Background(), "docs", " "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty query err = %v", err)
	}

	withFallback := NewRouter(stubIndex{name: "local"})
	got, _ = withFallback.Query(context.Background(), "notes", "q")
	if got[0].Content != "local:q" {
		t.Errorf("fallback = %v", got)
	}
}

func TestQueryAll(t *testing.T) {
	r := NewRouter(nil).
		Route("a", stubIndex{name: "a"}).
		Route("b", stubIndex{err: errors.New("down")})

	got, err := QueryAll(context.Background(), r, []string{"a", "b"}, "q")
	if len(got) != 1 || err == nil {
		t.Errorf("QueryAll() = %v, %v", got, err)
	}
	if Format(got) != "a:q" {
		t.Errorf("Format() = %q", Format(got))
	}
}
