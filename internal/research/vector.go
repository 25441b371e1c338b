package research

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/planner/internal/research")

// ErrInvalidConfig indicates invalid vector provider configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// VectorProvider serves facts from a chromem-go collection by semantic
// similarity to the concern.
type VectorProvider struct {
	collection *chromem.Collection
	k          int
	now        func() time.Time
}

// OpenDB opens a persistent chromem database at path, or an in-memory
// database when path is empty.
func OpenDB(path string) (*chromem.DB, error) {
	if path == "" {
		return chromem.NewDB(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating research db directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening research db %s: %w", path, err)
	}
	return db, nil
}

// NewVectorProvider creates a provider over the named collection, creating
// it if needed. k is the number of facts returned per fetch.
func NewVectorProvider(db *chromem.DB, collection string, embed chromem.EmbeddingFunc, k int) (*VectorProvider, error) {
	if db == nil || embed == nil {
		return nil, fmt.Errorf("%w: db and embedding func required", ErrInvalidConfig)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	c, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}
	return &VectorProvider{collection: c, k: k, now: time.Now}, nil
}

// Index adds facts for a domain to the collection.
func (v *VectorProvider) Index(ctx context.Context, domain plan.DomainID, facts []plan.SourcedFact) error {
	ctx, span := tracer.Start(ctx, "VectorProvider.Index")
	defer span.End()
	span.SetAttributes(attribute.Int("fact_count", len(facts)))

	if len(facts) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(facts))
	for i, f := range facts {
		docs[i] = chromem.Document{
			ID:      f.ID,
			Content: f.Text,
			Metadata: map[string]string{
				"domain": string(domain),
				"source": f.Source,
				"url":    f.URL,
			},
		}
	}
	if err := v.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding research documents: %w", err)
	}
	return nil
}

// Fetch implements Provider.
func (v *VectorProvider) Fetch(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error) {
	ctx, span := tracer.Start(ctx, "VectorProvider.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("domain", string(domain)))

	count := v.collection.Count()
	if count == 0 {
		return nil, ErrNoCoverage
	}
	// chromem requires nResults <= doc count
	k := v.k
	if k > count {
		k = count
	}
	var where map[string]string
	if domain != "" {
		where = map[string]string{"domain": string(domain)}
	}
	query := concern
	if domain != "" {
		query = string(domain) + " " + concern
	}

	results, err := v.collection.Query(ctx, query, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying research collection: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoCoverage
	}

	facts := make([]plan.SourcedFact, len(results))
	for i, r := range results {
		facts[i] = plan.SourcedFact{
			ID:     r.ID,
			Source: r.Metadata["source"],
			Text:   r.Content,
			URL:    r.Metadata["url"],
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(facts)))
	return &plan.ResearchBundle{
		Facts:       facts,
		CacheStatus: plan.CacheLive,
		Coverage:    float64(len(facts)) / float64(v.k),
		FetchedAt:   v.now(),
	}, nil
}

// EmbeddingConfig configures an OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// NewEmbeddingFunc builds a chromem embedding function backed by langchaingo.
// The endpoint may be OpenAI or any OpenAI-compatible server such as TEI.
func NewEmbeddingFunc(cfg EmbeddingConfig) (chromem.EmbeddingFunc, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: base URL and model required", ErrInvalidConfig)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token, use placeholder for TEI
		apiKey = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}, nil
}
