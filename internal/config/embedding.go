package config

import (
	"fmt"
	"os"
)

// EmbeddingConfig defines one embedding model endpoint. Each configured
// model gets its own vector collection; vectors from different models
// are never mixed in a similarity computation, so the dimension and
// collection are pinned here.
type EmbeddingConfig struct {
	Name       string `mapstructure:"name"`         // Unique identifier, also the model tag on stored vectors
	Provider   string `mapstructure:"provider"`     // "openai-compatible" or "tei" (text-embeddings-inference)
	Model      string `mapstructure:"model"`        // Model name/ID sent to the endpoint
	APIKey     string `mapstructure:"api_key"`      // API key (direct value)
	APIKeyEnv  string `mapstructure:"api_key_env"`  // Environment variable holding the API key
	BaseURL    string `mapstructure:"base_url"`     // Endpoint base URL
	BaseURLEnv string `mapstructure:"base_url_env"` // Environment variable holding the base URL
	Dimensions int    `mapstructure:"dimensions"`   // Fixed vector dimension for this model
	Collection string `mapstructure:"collection"`   // Qdrant collection for this model's vectors
	IsDefault  bool   `mapstructure:"is_default"`   // Default model for enqueue/search when none is named
}

// ResolveEnvVars loads APIKey/BaseURL from their *Env variables when the
// direct values are unset. Direct values always win.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// Validate checks the embedding configuration has all required fields.
func (c *EmbeddingConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("embedding config: name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("embedding %q: model is required", c.Name)
	}
	if c.BaseURL == "" && c.BaseURLEnv == "" {
		return fmt.Errorf("embedding %q: base_url is required", c.Name)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Name)
	}
	if c.Collection == "" {
		return fmt.Errorf("embedding %q: collection is required", c.Name)
	}

	switch c.Provider {
	case "openai-compatible", "tei":
	default:
		return fmt.Errorf("embedding %q: unknown provider %q", c.Name, c.Provider)
	}

	return nil
}

// Clone creates a copy of the embedding configuration.
func (c *EmbeddingConfig) Clone() *EmbeddingConfig {
	cp := *c
	return &cp
}
