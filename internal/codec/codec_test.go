package codec

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThresholdFallback(t *testing.T) {
	assert.Equal(t, DefaultThreshold, New(0).Threshold())
	assert.Equal(t, DefaultThreshold, New(-5).Threshold())
	assert.Equal(t, 100, New(100).Threshold())
}

func TestShouldCompress(t *testing.T) {
	c := New(10)
	assert.False(t, c.ShouldCompress([]byte("short")))
	assert.False(t, c.ShouldCompress([]byte("exactly10b")))
	assert.True(t, c.ShouldCompress([]byte("longer than ten bytes")))
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	c := New(0)

	original := map[string]any{
		"message": strings.Repeat("hello world ", 200),
		"count":   float64(42),
		"nested":  map[string]any{"ok": true},
	}
	serialized, err := json.Marshal(original)
	require.NoError(t, err)

	t.Run("raw gzip bytes", func(t *testing.T) {
		compressed, err := c.Compress(serialized)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(serialized))

		decoded, err := c.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("base64 text", func(t *testing.T) {
		encoded, err := c.CompressToText(serialized)
		require.NoError(t, err)

		decoded, err := c.Decompress(encoded)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})
}

func TestDecompressPlainJSON(t *testing.T) {
	// Records written before compression was enabled store plain JSON.
	c := New(0)
	decoded, err := c.Decompress(`{"legacy":true}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"legacy": true}, decoded)
}

func TestDecompressCorruptedInput(t *testing.T) {
	c := New(0)

	tests := []struct {
		name  string
		input any
		stage string
	}{
		{"not gzip not json", "@@@not-anything@@@", "detect"},
		{"truncated gzip", []byte{0x1f, 0x8b, 0x01}, "gzip"},
		{"unsupported type", 42, "input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decompress(tt.input)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tt.stage, decodeErr.Stage)
		})
	}
}
