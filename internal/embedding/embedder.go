// Package embedding provides text embedding providers (OpenAI, ONNX, mock) and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrUnavailable marks failures of the embedding backend itself (network, quota, timeout),
// as opposed to invalid input.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Config selects and configures a provider.
type Config struct {
	Provider   string // openai, onnx or mock
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	BatchSize  int
	CacheSize  int
	ModelPath  string
	MaxTokens  int
}

// New builds the configured provider, wrapped in an LRU cache when CacheSize > 0.
func New(cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "openai", "":
		e, err = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.BatchSize)
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, onnx, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
