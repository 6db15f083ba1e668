package service

import (
	"context"
	"strings"
	"testing"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/repository"
)

func newTestStore(t *testing.T) (*VectorStore, *fakeProvider, *fakeIndex) {
	t.Helper()
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db, repository.QueueSettings{})

	provider := &fakeProvider{name: "m1", dims: 8}
	index := newFakeIndex("m1", 8)

	store, err := NewVectorStore(jobs, map[string]SearchBinding{
		"m1": {Name: "m1", Provider: provider, Index: index},
	}, VectorStoreOptions{DefaultModel: "m1", DefaultThreshold: 0.7})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, provider, index
}

func TestQueueForEmbeddingValidation(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		contentType string
		contentID   int64
		priority    int
	}{
		{"unknown content type", "meme", 1, 5},
		{"zero content id", "post", 0, 5},
		{"negative content id", "post", -4, 5},
		{"priority out of range", "post", 1, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.QueueForEmbedding(ctx, tt.contentType, tt.contentID, tt.priority)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !domain.IsValidation(err) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}

	queued, err := store.QueueForEmbedding(ctx, "post", 42, 5)
	if err != nil {
		t.Fatalf("valid enqueue failed: %v", err)
	}
	if !queued {
		t.Error("expected item to be queued")
	}
}

func TestSearchValidation(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	bad := func(v float32) *float32 { return &v }

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"blank query", SearchRequest{Query: "   "}},
		{"max results too large", SearchRequest{Query: "q", MaxResults: 101}},
		{"max results negative", SearchRequest{Query: "q", MaxResults: -1}},
		{"threshold above one", SearchRequest{Query: "q", SimilarityThreshold: bad(1.5)}},
		{"threshold negative", SearchRequest{Query: "q", SimilarityThreshold: bad(-0.1)}},
		{"unknown content type", SearchRequest{Query: "q", ContentTypes: []string{"meme"}}},
		{"unknown model", SearchRequest{Query: "q", Model: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.SearchSimilarContent(ctx, &tt.req)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !domain.IsValidation(err) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestSearchDefaultsAndResults(t *testing.T) {
	store, provider, index := newTestStore(t)
	ctx := context.Background()

	index.UpsertChunk(ctx, make([]float32, 8), &repository.ChunkPayload{
		ContentType: "post", ContentID: 42, ChunkIndex: 0, ChunkType: "document",
		Snippet: "pointers hold addresses",
	})

	resp, err := store.SearchSimilarContent(ctx, &SearchRequest{Query: "go pointers"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if resp.Model != "m1" {
		t.Errorf("expected default model m1, got %s", resp.Model)
	}
	if resp.MaxResults != 10 {
		t.Errorf("expected default max_results 10, got %d", resp.MaxResults)
	}
	if resp.SimilarityThreshold != 0.7 {
		t.Errorf("expected default threshold 0.7, got %v", resp.SimilarityThreshold)
	}
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got count=%d len=%d", resp.Count, len(resp.Results))
	}
	if resp.Results[0].ContentID != 42 || resp.Results[0].ContentType != "post" {
		t.Errorf("unexpected hit: %+v", resp.Results[0])
	}

	if len(provider.queries) != 1 || provider.queries[0] != "go pointers" {
		t.Errorf("query should go through the provider's query path: %v", provider.queries)
	}
}

func TestSearchContentTypeFilter(t *testing.T) {
	store, _, index := newTestStore(t)
	ctx := context.Background()

	index.UpsertChunk(ctx, make([]float32, 8), &repository.ChunkPayload{ContentType: "post", ContentID: 1, ChunkIndex: 0})
	index.UpsertChunk(ctx, make([]float32, 8), &repository.ChunkPayload{ContentType: "lesson", ContentID: 2, ChunkIndex: 0})

	resp, err := store.SearchSimilarContent(ctx, &SearchRequest{Query: "q", ContentTypes: []string{"lesson"}})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].ContentType != "lesson" {
		t.Errorf("content type filter not applied: %+v", resp.Results)
	}
}

func TestSearchRoutesToRequestedModel(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db, repository.QueueSettings{})
	ctx := context.Background()

	providerA := &fakeProvider{name: "model-a", dims: 8}
	providerB := &fakeProvider{name: "model-b", dims: 16}
	indexA := newFakeIndex("model-a", 8)
	indexB := newFakeIndex("model-b", 16)

	store, err := NewVectorStore(jobs, map[string]SearchBinding{
		"model-a": {Name: "model-a", Provider: providerA, Index: indexA},
		"model-b": {Name: "model-b", Provider: providerB, Index: indexB},
	}, VectorStoreOptions{DefaultModel: "model-a"})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	// Same logical content lives in both collections, different dimensions.
	indexA.UpsertChunk(ctx, make([]float32, 8), &repository.ChunkPayload{ContentType: "post", ContentID: 1, ChunkIndex: 0})
	indexB.UpsertChunk(ctx, make([]float32, 16), &repository.ChunkPayload{ContentType: "post", ContentID: 1, ChunkIndex: 0})

	resp, err := store.SearchSimilarContent(ctx, &SearchRequest{Query: "q", Model: "model-b"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if resp.Model != "model-b" {
		t.Errorf("expected model-b, got %s", resp.Model)
	}
	if len(providerB.queries) != 1 {
		t.Error("query must be embedded by the requested model")
	}
	if len(providerA.queries) != 0 {
		t.Error("the default model must not be touched when another model is named")
	}
}

func TestNewVectorStoreRejectsDimensionMismatch(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db, repository.QueueSettings{})

	provider := &fakeProvider{name: "m1", dims: 8}
	index := newFakeIndex("m1", 16)

	_, err := NewVectorStore(jobs, map[string]SearchBinding{
		"m1": {Name: "m1", Provider: provider, Index: index},
	}, VectorStoreOptions{DefaultModel: "m1"})
	if err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
	if !strings.Contains(err.Error(), "dimension") {
		t.Errorf("unexpected error: %v", err)
	}
}
