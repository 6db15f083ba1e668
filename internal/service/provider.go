package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/baifan1366/studify-pipeline/internal/logger"
)

// EmbeddingProvider is one embedding model endpoint. Every provider
// declares its name and fixed vector dimension so callers can enforce
// that vectors from different models are never compared.
type EmbeddingProvider interface {
	// Name returns the model tag stamped on vectors this provider produces.
	Name() string

	// Dimensions returns the fixed length of produced vectors.
	Dimensions() int

	// Embed generates an embedding for a single passage.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple passages, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding optimized for search queries.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// PreWarm sends a trivial payload to lift the endpoint out of a cold
	// start. Best-effort: an error means the endpoint stayed cold, not
	// that it is unusable.
	PreWarm(ctx context.Context) error
}

// PermanentError marks an upstream rejection that retrying cannot fix
// (4xx validation failures). It propagates to the caller, which records
// it on the job or record instead of re-queueing.
type PermanentError struct {
	Status  int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent upstream error (status %d): %s", e.Status, e.Message)
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

const (
	defaultMaxAttempts   = 3
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultWarmupTimeout = 30 * time.Second
)

// HTTPProviderConfig holds configuration for an HTTP embedding endpoint.
type HTTPProviderConfig struct {
	Name        string
	Model       string
	BaseURL     string
	APIKey      string
	Dimensions  int
	MaxAttempts int           // retry ceiling for transient failures; default 3
	Backoff     time.Duration // base of the exponential backoff; default 500ms
	Timeout     time.Duration // per-request timeout; default 30s
}

// HTTPProvider calls an OpenAI-compatible embeddings endpoint (also the
// wire format served by text-embeddings-inference). Transient failures
// (network errors, 5xx, 429) are retried with exponential backoff up to
// a small ceiling; other 4xx responses become PermanentError.
type HTTPProvider struct {
	client      *resty.Client
	name        string
	model       string
	dimensions  int
	maxAttempts int
	backoff     time.Duration
}

// NewHTTPProvider creates an HTTPProvider for the given endpoint.
func NewHTTPProvider(cfg *HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.Name == "" || cfg.Model == "" || cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding provider requires name, model and base_url")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding provider %q: dimensions must be positive", cfg.Name)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWarmupTimeout
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &HTTPProvider{
		client:      client,
		name:        cfg.Name,
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}, nil
}

// Name returns the provider's model tag.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Dimensions returns the fixed vector dimension.
func (p *HTTPProvider) Dimensions() int {
	return p.dimensions
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed generates an embedding for a single passage.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple passages.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return p.call(ctx, texts)
}

// EmbedQuery generates an embedding for a search query. The endpoints
// served here use the same representation for queries and passages, so
// this is the single-input path with query semantics kept explicit for
// callers.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return p.Embed(ctx, query)
}

// PreWarm sends a trivial payload so the first real request does not
// pay cold-start latency.
func (p *HTTPProvider) PreWarm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWarmupTimeout)
	defer cancel()

	_, err := p.call(ctx, []string{"warmup"})
	return err
}

// call performs the embeddings request with retry on transient failures.
func (p *HTTPProvider) call(ctx context.Context, texts []string) ([][]float32, error) {
	req := embedRequest{
		Model:      p.model,
		Input:      texts,
		Dimensions: p.dimensions,
	}

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff << (attempt - 1)
			logger.CtxDebug(ctx, "Retrying embedding call: model=%s, attempt=%d, delay=%s", p.name, attempt+1, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var resp embedResponse
		httpResp, err := p.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&resp).
			SetError(&resp).
			Post("/embeddings")

		if err != nil {
			lastErr = fmt.Errorf("embedding request failed: %w", err)
			continue
		}

		status := httpResp.StatusCode()
		switch {
		case status == 200:
			return p.collect(resp, len(texts))
		case status >= 500 || status == 429:
			lastErr = fmt.Errorf("embedding endpoint %s returned status %d", p.name, status)
			continue
		default:
			msg := resp.Error.Message
			if msg == "" {
				msg = httpResp.String()
			}
			return nil, &PermanentError{Status: status, Message: msg}
		}
	}

	return nil, fmt.Errorf("embedding call exhausted %d attempts: %w", p.maxAttempts, lastErr)
}

// collect orders the response vectors by index and verifies shape.
func (p *HTTPProvider) collect(resp embedResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), want)
	}

	embeddings := make([][]float32, want)
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= want {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		if len(item.Embedding) != p.dimensions {
			return nil, fmt.Errorf("embedding dimension %d does not match model %s (%d)", len(item.Embedding), p.name, p.dimensions)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}
