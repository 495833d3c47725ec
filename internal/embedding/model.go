// Package embedding provides text embedding generation with swappable models.
package embedding

import (
	"fmt"
	"sync"
)

// Model represents a text embedding model.
type Model interface {
	// Name returns the human-readable model name.
	Name() string

	// Version returns a short version string for storage.
	Version() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Embed generates an embedding for a single text.
	Embed(text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(texts []string) ([][]float32, error)

	// Close releases model resources.
	Close() error
}

// ModelMetadata describes an embedding model for UI/config.
type ModelMetadata struct {
	Name        string `json:"name"`        // Human-readable name
	Version     string `json:"version"`     // Short ID for storage
	Description string `json:"description"` // Brief description
	Dimensions  int    `json:"dimensions"`  // Vector size
	Default     bool   `json:"default"`     // Is this the default model?
}

// ModelFactory creates a new instance of an embedding model.
type ModelFactory func() (Model, error)

// ModelRegistry provides model lookup by version.
type ModelRegistry struct {
	models       map[string]ModelFactory
	metadata     map[string]ModelMetadata
	defaultModel string
	mu           sync.RWMutex
}

// NewModelRegistry creates a new model registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models:   make(map[string]ModelFactory),
		metadata: make(map[string]ModelMetadata),
	}
}

// Register adds a model factory to the registry.
func (r *ModelRegistry) Register(meta ModelMetadata, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[meta.Version] = factory
	r.metadata[meta.Version] = meta

	if meta.Default {
		r.defaultModel = meta.Version
	}
}

// Get creates a new instance of the model with the given version.
func (r *ModelRegistry) Get(version string) (Model, error) {
	r.mu.RLock()
	factory, ok := r.models[version]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown model version: %s", version)
	}

	return factory()
}

// Default returns the default model version.
func (r *ModelRegistry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// List returns metadata for all registered models.
func (r *ModelRegistry) List() []ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ModelMetadata, 0, len(r.metadata))
	for _, meta := range r.metadata {
		list = append(list, meta)
	}
	return list
}

// defaultRegistry is the process-wide model registry.
var defaultRegistry = NewModelRegistry()

// RegisterModel registers a model with the default registry.
func RegisterModel(meta ModelMetadata, factory ModelFactory) {
	defaultRegistry.Register(meta, factory)
}

// GetModel creates a model instance from the default registry.
func GetModel(version string) (Model, error) {
	return defaultRegistry.Get(version)
}

// DefaultModelVersion returns the default registered model version.
func DefaultModelVersion() string {
	return defaultRegistry.Default()
}
