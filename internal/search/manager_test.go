package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/store"
)

func testReadManager(t *testing.T) *Manager {
	t.Helper()
	st := store.NewManager(connection.NewManager())
	t.Cleanup(st.Close)
	return &Manager{store: st, metrics: &Metrics{}}
}

// A corrupt stored payload flags that one record instead of failing the read.
func TestDecodePointFlagsCorruptPayload(t *testing.T) {
	m := testReadManager(t)

	record := m.decodePoint("p1", map[string]any{
		"tool_name":       "web_fetch",
		"user_identifier": "alice",
		"timestamp":       "2026-02-01T10:00:00Z",
		"compressed":      true,
		"compressed_data": "%%%not-gzip-not-base64%%%",
	})

	assert.NotEmpty(t, record.DecodeError)
	assert.Nil(t, record.DecodedResponse)
	// Metadata survives the decode failure.
	assert.Equal(t, "p1", record.ID)
	assert.Equal(t, "web_fetch", record.ToolName)
	assert.Equal(t, "alice", record.UserIdentifier)
}

func TestDecodePointRoundTrip(t *testing.T) {
	m := testReadManager(t)

	encoded, err := m.store.Codec().CompressToText([]byte(`{"hits":3}`))
	require.NoError(t, err)

	record := m.decodePoint("p2", map[string]any{
		"tool_name":       "gmail_search",
		"compressed":      true,
		"compressed_data": encoded,
	})

	assert.Empty(t, record.DecodeError)
	assert.Equal(t, map[string]any{"hits": float64(3)}, record.DecodedResponse)
}

func TestDecodePointStructuredPassThrough(t *testing.T) {
	m := testReadManager(t)

	record := m.decodePoint("p3", map[string]any{
		"tool_name":         "jira",
		"compressed":        false,
		"response_data":     map[string]any{"status": "done"},
		"execution_time_ms": float64(42),
	})

	assert.Empty(t, record.DecodeError)
	assert.Equal(t, map[string]any{"status": "done"}, record.DecodedResponse)
	assert.Equal(t, int64(42), record.ExecutionTimeMS)
}

// With the store disabled, Search reports enabled=false instead of erroring.
func TestSearchDisabledBackend(t *testing.T) {
	original := config.Get()
	cfg := config.Default()
	cfg.Disabled = true
	config.Replace(cfg)
	defer config.Replace(original)

	conn := connection.NewManager()
	st := store.NewManager(conn)
	defer st.Close()
	m := NewManager(conn, st)
	defer m.Close()

	result, err := m.Search(context.Background(), "deploy logs", 5, "")
	require.NoError(t, err)
	assert.False(t, result.Enabled)
	assert.Empty(t, result.Results)
	assert.Equal(t, "deploy logs", result.Query)
}
