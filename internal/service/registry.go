package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/baifan1366/studify-pipeline/internal/config"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/repository"
)

// ModelBinding pairs an embedding provider with the vector collection
// that stores its output. The pair is constructed together and never
// split, which is what keeps cross-model vector mixing structurally
// impossible: a query embedded by model A can only be searched against
// model A's collection.
type ModelBinding struct {
	Name     string
	Provider EmbeddingProvider
	Vectors  *repository.QdrantRepository
}

// EmbeddingRegistry holds all configured model bindings and knows which
// one is the default for callers that do not name a model.
type EmbeddingRegistry struct {
	bindings    map[string]*ModelBinding
	order       []string
	defaultName string
	log         *logger.Logger
}

// NewEmbeddingRegistry builds providers and their vector repositories
// from configuration. The first config marked is_default (or the first
// config overall) becomes the default model.
func NewEmbeddingRegistry(qdrantCfg *config.QdrantConfig, embeddings []config.EmbeddingConfig, log *logger.Logger) (*EmbeddingRegistry, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("at least one embedding model must be configured")
	}

	reg := &EmbeddingRegistry{
		bindings: make(map[string]*ModelBinding, len(embeddings)),
		log:      log,
	}

	for i := range embeddings {
		cfg := embeddings[i].Clone()
		cfg.ResolveEnvVars()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, exists := reg.bindings[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate embedding model name %q", cfg.Name)
		}

		provider, err := NewHTTPProvider(&HTTPProviderConfig{
			Name:       cfg.Name,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}

		vectors, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            qdrantCfg.Host,
			Port:            qdrantCfg.Port,
			APIKey:          qdrantCfg.APIKey,
			UseTLS:          qdrantCfg.UseTLS,
			Collection:      cfg.Collection,
			VectorDimension: cfg.Dimensions,
			Model:           cfg.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant for model %q: %w", cfg.Name, err)
		}

		reg.bindings[cfg.Name] = &ModelBinding{
			Name:     cfg.Name,
			Provider: provider,
			Vectors:  vectors,
		}
		reg.order = append(reg.order, cfg.Name)

		if cfg.IsDefault && reg.defaultName == "" {
			reg.defaultName = cfg.Name
		}
	}

	if reg.defaultName == "" {
		reg.defaultName = reg.order[0]
	}

	return reg, nil
}

// Get returns the binding for a model name, or the default binding when
// name is empty.
func (r *EmbeddingRegistry) Get(name string) (*ModelBinding, error) {
	if name == "" {
		name = r.defaultName
	}
	binding, ok := r.bindings[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding model %q", name)
	}
	return binding, nil
}

// Default returns the default model binding.
func (r *EmbeddingRegistry) Default() *ModelBinding {
	return r.bindings[r.defaultName]
}

// DefaultName returns the name of the default model.
func (r *EmbeddingRegistry) DefaultName() string {
	return r.defaultName
}

// Bindings returns all bindings in configuration order.
func (r *EmbeddingRegistry) Bindings() []*ModelBinding {
	out := make([]*ModelBinding, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.bindings[name])
	}
	return out
}

// Names returns the configured model names in order.
func (r *EmbeddingRegistry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// EnsureCollections creates or verifies every model's collection.
func (r *EmbeddingRegistry) EnsureCollections(ctx context.Context) error {
	for _, name := range r.order {
		if err := r.bindings[name].Vectors.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("collection for model %q: %w", name, err)
		}
	}
	return nil
}

// PreWarmAll warms every configured endpoint concurrently. Warmup
// failures are logged but not returned: a cold endpoint still works,
// just slower on its first call.
func (r *EmbeddingRegistry) PreWarmAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range r.order {
		binding := r.bindings[name]
		g.Go(func() error {
			if err := binding.Provider.PreWarm(ctx); err != nil {
				r.log.WithField(logger.FieldModel, binding.Name).WithError(err).
					Warn("Embedding endpoint warmup failed")
				return nil
			}
			r.log.WithField(logger.FieldModel, binding.Name).Info("Embedding endpoint warmed up")
			return nil
		})
	}
	_ = g.Wait()
}

// Close releases every vector connection.
func (r *EmbeddingRegistry) Close() {
	for _, name := range r.order {
		if err := r.bindings[name].Vectors.Close(); err != nil {
			r.log.WithField(logger.FieldModel, name).WithError(err).Warn("Failed to close qdrant connection")
		}
	}
}
