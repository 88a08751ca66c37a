// Package embedding generates vector embeddings from text.
package embedding

import "context"

// Provider generates vector embeddings from text. Version identifies the
// model producing the vectors; index and query embeddings must come from the
// same version or retrieval fails fast instead of silently degrading recall.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Version() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New constructs the provider named by cfg.Provider, defaulting to "api".
func New(cfg Config) Provider {
	if cfg.Provider == "local" {
		return NewLocalProvider(cfg)
	}
	return NewAPIProvider(cfg)
}
