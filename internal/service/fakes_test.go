package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/baifan1366/studify-pipeline/internal/config"
	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	return db
}

func seedContent(t *testing.T, db *gorm.DB, items ...domain.ContentItem) {
	t.Helper()
	for i := range items {
		if err := db.Create(&items[i]).Error; err != nil {
			t.Fatalf("failed to seed content: %v", err)
		}
	}
}

// fakeProvider produces deterministic vectors and can be told to fail
// on texts containing a marker substring.
type fakeProvider struct {
	name       string
	dims       int
	failSubstr string

	mu      sync.Mutex
	queries []string
	batches int
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Dimensions() int { return p.dims }

func (p *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if p.failSubstr != "" && strings.Contains(text, p.failSubstr) {
			return nil, fmt.Errorf("upstream rejected text")
		}
		vec := make([]float32, p.dims)
		for j := range vec {
			vec[j] = float32(len(text)%7) + float32(j)*0.01
		}
		out[i] = vec
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	return p.Embed(ctx, query)
}

func (p *fakeProvider) PreWarm(ctx context.Context) error { return nil }

type storedPoint struct {
	vector  []float32
	payload repository.ChunkPayload
}

// fakeIndex is an in-memory stand-in for one model's vector collection,
// implementing both the writer and searcher sides.
type fakeIndex struct {
	model string
	dims  int

	mu     sync.Mutex
	points map[string]storedPoint
}

func newFakeIndex(model string, dims int) *fakeIndex {
	return &fakeIndex{model: model, dims: dims, points: make(map[string]storedPoint)}
}

func (f *fakeIndex) Model() string  { return f.model }
func (f *fakeIndex) Dimension() int { return f.dims }

func (f *fakeIndex) UpsertChunk(ctx context.Context, vector []float32, payload *repository.ChunkPayload) (string, error) {
	if len(vector) != f.dims {
		return "", fmt.Errorf("vector dimension %d does not match collection (%d)", len(vector), f.dims)
	}
	payload.Model = f.model
	id := fmt.Sprintf("%s/%s/%d/%d", f.model, payload.ContentType, payload.ContentID, payload.ChunkIndex)

	f.mu.Lock()
	f.points[id] = storedPoint{vector: vector, payload: *payload}
	f.mu.Unlock()
	return id, nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int, contentTypes []domain.ContentType, scoreThreshold float32) ([]repository.SearchResult, error) {
	if len(vector) != f.dims {
		return nil, fmt.Errorf("query vector dimension %d does not match collection (%d)", len(vector), f.dims)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var results []repository.SearchResult
	for id, pt := range f.points {
		if len(contentTypes) > 0 && !containsType(contentTypes, pt.payload.ContentType) {
			continue
		}
		payload := pt.payload
		results = append(results, repository.SearchResult{ID: id, Score: 0.9, Payload: &payload})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

func (f *fakeIndex) DeleteByContent(ctx context.Context, contentType domain.ContentType, contentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, pt := range f.points {
		if pt.payload.ContentType == string(contentType) && pt.payload.ContentID == contentID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func containsType(types []domain.ContentType, raw string) bool {
	for _, ct := range types {
		if string(ct) == raw {
			return true
		}
	}
	return false
}
