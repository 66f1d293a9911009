package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Search modes for WeaviateBase.
const (
	// SearchBM25 ranks by keyword relevance and needs no vectorizer module.
	SearchBM25 = "bm25"

	// SearchNearText ranks by semantic similarity and needs a text
	// vectorizer configured on the Weaviate server.
	SearchNearText = "near_text"
)

// WeaviateConfig configures a WeaviateBase.
type WeaviateConfig struct {
	Host   string
	Scheme string

	// Class is the Weaviate class holding documents. Default "StoryFact".
	Class string

	// Search is SearchBM25 (default) or SearchNearText.
	Search string

	// Vectorizer is set on the class when it is created. Default "none".
	Vectorizer string

	Logger *slog.Logger
}

// WeaviateBase is a Base on a Weaviate class shared by all jobs and
// filtered by job_id.
type WeaviateBase struct {
	client *weaviate.Client
	cfg    WeaviateConfig
	logger *slog.Logger
}

// NewWeaviateBase connects to Weaviate and ensures the class exists.
func NewWeaviateBase(ctx context.Context, cfg WeaviateConfig) (*WeaviateBase, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Class == "" {
		cfg.Class = "StoryFact"
	}
	if cfg.Search == "" {
		cfg.Search = SearchBM25
	}
	if cfg.Vectorizer == "" {
		cfg.Vectorizer = "none"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	b := &WeaviateBase{client: client, cfg: cfg, logger: logger}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *WeaviateBase) ensureSchema(ctx context.Context) error {
	if _, err := b.client.Schema().ClassGetter().WithClassName(b.cfg.Class).Do(ctx); err == nil {
		return nil
	}

	b.logger.Info("creating knowledge base class", "class", b.cfg.Class)
	class := &models.Class{
		Class:       b.cfg.Class,
		Description: "Facts established by a story generation job.",
		Vectorizer:  b.cfg.Vectorizer,
		Properties: []*models.Property{
			{Name: "job_id", DataType: []string{"text"}, Description: "Owning job"},
			{Name: "kind", DataType: []string{"text"}, Description: "Document kind"},
			{Name: "chapter", DataType: []string{"int"}, Description: "Chapter number, 0 if none"},
			{Name: "text", DataType: []string{"text"}, Description: "Document text"},
		},
	}
	if err := b.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", b.cfg.Class, err)
	}
	return nil
}

func jobFilter(jobID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"job_id"}).
		WithOperator(filters.Equal).
		WithValueString(jobID)
}

// Add implements Base.
func (b *WeaviateBase) Add(ctx context.Context, jobID string, docs ...Document) error {
	for _, doc := range docs {
		_, err := b.client.Data().Creator().
			WithClassName(b.cfg.Class).
			WithProperties(map[string]interface{}{
				"job_id":  jobID,
				"kind":    doc.Kind,
				"chapter": doc.Chapter,
				"text":    doc.Text,
			}).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("store document: %w", err)
		}
	}
	return nil
}

// weaviateHit is one object of a Get response.
type weaviateHit struct {
	Kind       string `json:"kind"`
	Chapter    int    `json:"chapter"`
	Text       string `json:"text"`
	Additional struct {
		Score    json.Number `json:"score"`
		Distance float64     `json:"distance"`
	} `json:"_additional"`
}

// Retrieve implements Base.
func (b *WeaviateBase) Retrieve(ctx context.Context, jobID, query string, k int) ([]Snippet, error) {
	if k <= 0 || query == "" {
		return nil, nil
	}

	get := b.client.GraphQL().Get().
		WithClassName(b.cfg.Class).
		WithWhere(jobFilter(jobID)).
		WithLimit(k)

	if b.cfg.Search == SearchNearText {
		get = get.
			WithFields(
				graphql.Field{Name: "kind"},
				graphql.Field{Name: "chapter"},
				graphql.Field{Name: "text"},
				graphql.Field{Name: "_additional { distance }"},
			).
			WithNearText(b.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query}))
	} else {
		get = get.
			WithFields(
				graphql.Field{Name: "kind"},
				graphql.Field{Name: "chapter"},
				graphql.Field{Name: "text"},
				graphql.Field{Name: "_additional { score }"},
			).
			WithBM25(b.client.GraphQL().Bm25ArgBuilder().WithQuery(query))
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search knowledge base: %s", result.Errors[0].Message)
	}

	raw, err := json.Marshal(result.Data["Get"])
	if err != nil {
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var byClass map[string][]weaviateHit
	if err := json.Unmarshal(raw, &byClass); err != nil {
		return nil, fmt.Errorf("unmarshal weaviate response: %w", err)
	}

	hits := byClass[b.cfg.Class]
	out := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		score := 1 - h.Additional.Distance
		if b.cfg.Search != SearchNearText {
			score, _ = h.Additional.Score.Float64()
		}
		out = append(out, Snippet{
			Document: Document{Kind: h.Kind, Chapter: h.Chapter, Text: h.Text},
			Score:    score,
		})
	}
	return out, nil
}

// Delete implements Base.
func (b *WeaviateBase) Delete(ctx context.Context, jobID string) error {
	_, err := b.client.Batch().ObjectsBatchDeleter().
		WithClassName(b.cfg.Class).
		WithOutput("minimal").
		WithWhere(jobFilter(jobID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete job documents: %w", err)
	}
	return nil
}
