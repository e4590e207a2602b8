package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// ContentField is the property holding passage text in every class.
const ContentField = "content"

// WeaviateConfig configures the Weaviate backend.
type WeaviateConfig struct {
	Host   string
	Scheme string
	APIKey string
	Limit  int
	Logger *slog.Logger
}

// Weaviate queries one class per index with nearText.
type Weaviate struct {
	client *weaviate.Client
	limit  int
	logger *slog.Logger
}

// NewWeaviate creates the Weaviate backend.
func NewWeaviate(cfg WeaviateConfig) (*Weaviate, error) {
	if cfg.Host == "" {
		return nil, errors.New("knowledge: weaviate host required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wc := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if cfg.APIKey != "" {
		wc.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("knowledge: weaviate client: %w", err)
	}
	return &Weaviate{
		client: client,
		limit:  cfg.Limit,
		logger: cfg.Logger.With("component", "knowledge.weaviate"),
	}, nil
}

// ClassName maps an index name to its Weaviate class.
func ClassName(index string) string {
	r := []rune(index)
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Query implements Index.
func (w *Weaviate) Query(ctx context.Context, index, query string) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	class := ClassName(index)
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})

	result, err := w.client.GraphQL().Get().
		WithClassName(class).
		WithFields(graphql.Field{Name: ContentField}).
		WithNearText(nearText).
		WithLimit(w.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query %s: %w", class, err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("knowledge: query %s: %s", class, strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal response: %w", err)
	}
	var typed struct {
		Get map[string][]map[string]any `json:"Get"`
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, fmt.Errorf("knowledge: unmarshal response: %w", err)
	}

	hits := typed.Get[class]
	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		content, _ := h[ContentField].(string)
		passages = append(passages, Passage{Index: index, Content: content})
	}
	w.logger.Debug("query answered", "class", class, "hits", len(passages))
	return passages, nil
}

var _ Index = (*Weaviate)(nil)
