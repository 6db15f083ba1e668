package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/repository"
)

// VectorSearcher runs similarity queries against one model's collection.
// *repository.QdrantRepository is the production implementation.
type VectorSearcher interface {
	Model() string
	Dimension() int
	Search(ctx context.Context, vector []float32, topK int, contentTypes []domain.ContentType, scoreThreshold float32) ([]repository.SearchResult, error)
}

// SearchBinding pairs a query embedder with the searcher over its own
// collection. Queries embedded by one model are only ever matched
// against that model's vectors.
type SearchBinding struct {
	Name     string
	Provider EmbeddingProvider
	Index    VectorSearcher
}

// SearchBindings adapts the registry's model set for the vector store.
func (r *EmbeddingRegistry) SearchBindings() map[string]SearchBinding {
	out := make(map[string]SearchBinding, len(r.order))
	for _, b := range r.Bindings() {
		out[b.Name] = SearchBinding{Name: b.Name, Provider: b.Provider, Index: b.Vectors}
	}
	return out
}

// VectorStoreOptions tunes search behavior.
type VectorStoreOptions struct {
	DefaultModel     string
	DefaultThreshold float32 // applied when the request carries no threshold
	MaxResultLimit   int     // upper bound on max_results; default 100
	DefaultResults   int     // max_results when the request omits it; default 10
}

// VectorStore is the public face of the embedding pipeline: enqueue
// content for embedding and search the stored vectors.
type VectorStore struct {
	queue    *repository.JobRepository
	bindings map[string]SearchBinding
	opts     VectorStoreOptions
}

// NewVectorStore creates a VectorStore over the given model bindings.
func NewVectorStore(queue *repository.JobRepository, bindings map[string]SearchBinding, opts VectorStoreOptions) (*VectorStore, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("vector store requires at least one model binding")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("vector store requires a default model")
	}
	if _, ok := bindings[opts.DefaultModel]; !ok {
		return nil, fmt.Errorf("default model %q has no binding", opts.DefaultModel)
	}
	for name, b := range bindings {
		if b.Provider.Dimensions() != b.Index.Dimension() {
			return nil, fmt.Errorf("model %q: provider dimension %d does not match collection dimension %d",
				name, b.Provider.Dimensions(), b.Index.Dimension())
		}
	}
	if opts.MaxResultLimit <= 0 {
		opts.MaxResultLimit = 100
	}
	if opts.DefaultResults <= 0 {
		opts.DefaultResults = 10
	}
	return &VectorStore{queue: queue, bindings: bindings, opts: opts}, nil
}

// QueueForEmbedding validates and enqueues one content item. Returns
// whether the item is now queued (an existing active job counts).
func (s *VectorStore) QueueForEmbedding(ctx context.Context, rawContentType string, contentID int64, priority int) (bool, error) {
	contentType, err := domain.ParseContentType(rawContentType)
	if err != nil {
		return false, err
	}
	if contentID <= 0 {
		return false, domain.NewValidationError("content_id", "must be positive")
	}
	if priority < 0 || priority > 10 {
		return false, domain.NewValidationError("priority", "must be between 0 and 10")
	}
	return s.queue.Enqueue(ctx, contentType, contentID, priority)
}

// SearchRequest is a similarity search over stored content vectors.
// MaxResults of 0 means "use the default"; a non-nil SimilarityThreshold
// overrides the configured default.
type SearchRequest struct {
	Query               string   `json:"query"`
	ContentTypes        []string `json:"content_types,omitempty"`
	MaxResults          int      `json:"max_results,omitempty"`
	SimilarityThreshold *float32 `json:"similarity_threshold,omitempty"`
	Model               string   `json:"model,omitempty"`
}

// SearchResult is one scored chunk hit.
type SearchResult struct {
	ContentType  string  `json:"content_type"`
	ContentID    int64   `json:"content_id"`
	ChunkIndex   int     `json:"chunk_index"`
	ChunkType    string  `json:"chunk_type"`
	SectionTitle string  `json:"section_title,omitempty"`
	Snippet      string  `json:"snippet,omitempty"`
	Score        float32 `json:"score"`
}

// SearchResponse echoes the effective search parameters alongside hits.
type SearchResponse struct {
	Query               string         `json:"query"`
	Model               string         `json:"model"`
	ContentTypes        []string       `json:"content_types,omitempty"`
	MaxResults          int            `json:"max_results"`
	SimilarityThreshold float32        `json:"similarity_threshold"`
	Count               int            `json:"count"`
	Results             []SearchResult `json:"results"`
	TookMs              int64          `json:"took_ms"`
}

// SearchSimilarContent embeds the query with the requested (or default)
// model and searches that model's collection. Out-of-range parameters
// are rejected, not clamped: a caller asking for 500 results gets a
// validation error rather than silently different behavior.
func (s *VectorStore) SearchSimilarContent(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewValidationError("query", "must not be blank")
	}

	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = s.opts.DefaultResults
	}
	if maxResults < 1 || maxResults > s.opts.MaxResultLimit {
		return nil, domain.NewValidationError("max_results",
			fmt.Sprintf("must be between 1 and %d", s.opts.MaxResultLimit))
	}

	threshold := s.opts.DefaultThreshold
	if req.SimilarityThreshold != nil {
		t := *req.SimilarityThreshold
		if t < 0 || t > 1 {
			return nil, domain.NewValidationError("similarity_threshold", "must be between 0 and 1")
		}
		threshold = t
	}

	contentTypes := make([]domain.ContentType, 0, len(req.ContentTypes))
	for _, raw := range req.ContentTypes {
		ct, err := domain.ParseContentType(raw)
		if err != nil {
			return nil, err
		}
		contentTypes = append(contentTypes, ct)
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.opts.DefaultModel
	}
	binding, ok := s.bindings[modelName]
	if !ok {
		return nil, domain.NewValidationError("model", fmt.Sprintf("unknown embedding model %q", modelName))
	}

	start := time.Now()

	vector, err := binding.Provider.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) != binding.Index.Dimension() {
		return nil, fmt.Errorf("query vector dimension %d does not match model %s collection (%d)",
			len(vector), modelName, binding.Index.Dimension())
	}

	hits, err := binding.Index.Search(ctx, vector, maxResults, contentTypes, threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload == nil {
			continue
		}
		results = append(results, SearchResult{
			ContentType:  hit.Payload.ContentType,
			ContentID:    hit.Payload.ContentID,
			ChunkIndex:   hit.Payload.ChunkIndex,
			ChunkType:    hit.Payload.ChunkType,
			SectionTitle: hit.Payload.SectionTitle,
			Snippet:      hit.Payload.Snippet,
			Score:        hit.Score,
		})
	}

	tookMs := time.Since(start).Milliseconds()
	logger.With(logger.Fields{logger.FieldModel: modelName}).
		WithCount(len(results)).WithDuration(tookMs).
		Debug(ctx, "Search completed")

	return &SearchResponse{
		Query:               req.Query,
		Model:               modelName,
		ContentTypes:        req.ContentTypes,
		MaxResults:          maxResults,
		SimilarityThreshold: threshold,
		Count:               len(results),
		Results:             results,
		TookMs:              tookMs,
	}, nil
}
