package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalModelDeterministic(t *testing.T) {
	m := &localModel{}

	a, err := m.Embed("Tool: gmail_search | User: alice | Response: 3 hits")
	require.NoError(t, err)
	b, err := m.Embed("Tool: gmail_search | User: alice | Response: 3 hits")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, LocalDim)
}

func TestLocalModelNormalized(t *testing.T) {
	m := &localModel{}

	vec, err := m.Embed("quarterly revenue report for the sales team")
	require.NoError(t, err)

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)
}

func TestLocalModelEmptyInput(t *testing.T) {
	m := &localModel{}

	vec, err := m.Embed("")
	require.NoError(t, err)
	assert.Len(t, vec, LocalDim)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestLocalModelDistinguishesTexts(t *testing.T) {
	m := &localModel{}

	a, err := m.Embed("database migration failed with timeout")
	require.NoError(t, err)
	b, err := m.Embed("calendar event created successfully")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestLocalModelSimilarityOrdering(t *testing.T) {
	m := &localModel{}

	base, _ := m.Embed("search emails from alice about budget")
	near, _ := m.Embed("search emails from alice about planning")
	far, _ := m.Embed("kubernetes pod restart loop")

	assert.Greater(t, cosine(base, near), cosine(base, far))
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Inputs are already L2-normalized.
	return dot
}

func TestServiceModelSelection(t *testing.T) {
	tests := []struct {
		name    string
		version string
	}{
		{"empty defaults to local", ""},
		{"local alias", "local"},
		{"explicit version", LocalModelVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewServiceWithModel(tt.version)
			require.NoError(t, err)
			assert.Equal(t, LocalModelVersion, svc.Version())
			assert.Equal(t, LocalDim, svc.Dimensions())
			assert.NoError(t, svc.Close())
		})
	}

	_, err := NewServiceWithModel("no-such-model")
	assert.Error(t, err)
}

func TestRegistryDefault(t *testing.T) {
	assert.Equal(t, LocalModelVersion, DefaultModelVersion())

	models := defaultRegistry.List()
	require.NotEmpty(t, models)

	var found bool
	for _, meta := range models {
		if meta.Version == LocalModelVersion {
			found = true
			assert.True(t, meta.Default)
		}
	}
	assert.True(t, found)
}
