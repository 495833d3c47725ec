package embedding

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	// LocalModelVersion is the version string for the built-in model.
	LocalModelVersion = "local-hash-v1"
	// LocalModelName is the human-readable name of the built-in model.
	LocalModelName = "feature-hash-384"
	// LocalDim is the dimension produced by the built-in model.
	LocalDim = 384
)

// localModel is a deterministic feature-hashing embedder. It projects token
// unigrams and bigrams onto a fixed 384-dimensional space with signed FNV
// hashing and L2-normalizes the result. No network, no model files; the cost
// of first use is negligible, which keeps lazy loading trivially safe.
//
// It is not a neural encoder, but it preserves enough lexical similarity for
// tool-history recall and is the fallback whenever no embedding API is
// configured.
type localModel struct{}

func init() {
	RegisterModel(ModelMetadata{
		Name:        LocalModelName,
		Version:     LocalModelVersion,
		Dimensions:  LocalDim,
		Description: "Deterministic local feature-hashing embedder",
		Default:     true,
	}, func() (Model, error) { return &localModel{}, nil })
}

func (m *localModel) Name() string    { return LocalModelName }
func (m *localModel) Version() string { return LocalModelVersion }
func (m *localModel) Dimensions() int { return LocalDim }
func (m *localModel) Close() error    { return nil }

// Embed generates a 384-dimensional L2-normalized vector for text.
// Empty input yields the zero vector.
func (m *localModel) Embed(text string) ([]float32, error) {
	vec := make([]float32, LocalDim)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	for i, tok := range tokens {
		addFeature(vec, tok)
		if i+1 < len(tokens) {
			addFeature(vec, tok+" "+tokens[i+1])
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (m *localModel) EmbedBatch(texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(t)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// addFeature hashes a token into a bucket with a sign bit, the standard
// hashing-trick construction.
func addFeature(vec []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()

	bucket := int(sum % LocalDim)
	sign := float32(1)
	if (sum>>63)&1 == 1 {
		sign = -1
	}
	vec[bucket] += sign
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
