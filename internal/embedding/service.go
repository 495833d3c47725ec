package embedding

import "fmt"

// Service provides thread-safe text embedding generation with model
// abstraction. The model is chosen from the registry by provider name;
// construction happens once, behind the connection manager's init gate.
type Service struct {
	model Model
}

// NewService creates a new embedding service using the default model.
func NewService() (*Service, error) {
	return NewServiceWithModel(DefaultModelVersion())
}

// NewServiceWithModel creates a new embedding service using the specified
// model version. "local" is accepted as an alias for the built-in model.
func NewServiceWithModel(version string) (*Service, error) {
	switch version {
	case "", "local":
		version = LocalModelVersion
	}

	model, err := GetModel(version)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", version, err)
	}

	return &Service{model: model}, nil
}

// Name returns the human-readable model name.
func (s *Service) Name() string {
	return s.model.Name()
}

// Version returns the short version string for storage.
func (s *Service) Version() string {
	return s.model.Version()
}

// Dimensions returns the embedding vector size.
func (s *Service) Dimensions() int {
	return s.model.Dimensions()
}

// Embed generates an embedding for a single text.
func (s *Service) Embed(text string) ([]float32, error) {
	return s.model.Embed(text)
}

// EmbedBatch generates embeddings for multiple texts.
func (s *Service) EmbedBatch(texts []string) ([][]float32, error) {
	return s.model.EmbedBatch(texts)
}

// Close releases model resources.
func (s *Service) Close() error {
	return s.model.Close()
}
