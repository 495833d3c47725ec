package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyh/toolvault/internal/codec"
	"github.com/tobyh/toolvault/pkg/models"
)

func testManager(queueSize int) *Manager {
	// No workers: jobs stay queued so drop behavior is observable.
	return &Manager{
		codec:      codec.New(100),
		collection: "tool_responses",
		queue:      make(chan ingestJob, queueSize),
		doneCh:     make(chan struct{}),
	}
}

// Store must never block the caller, even with a full queue and no backend.
func TestStoreNeverBlocks(t *testing.T) {
	m := testManager(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.Store(Metadata{ToolName: "web_fetch"}, map[string]any{"i": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Store blocked with a full queue")
	}

	stats := m.Stats()
	assert.Equal(t, int64(48), stats["dropped"])
	assert.Equal(t, 2, stats["queue_len"])
}

// A write landing after shutdown must be dropped, never panic.
func TestStoreAfterCloseDrops(t *testing.T) {
	m := testManager(4)
	close(m.doneCh) // no workers to signal completion
	m.Close()

	assert.NotPanics(t, func() {
		m.Store(Metadata{ToolName: "late_tool"}, map[string]any{"x": 1})
	})
	assert.Equal(t, int64(1), m.Stats()["dropped"])
}

func TestBuildPayloadStructured(t *testing.T) {
	m := testManager(1)

	job := ingestJob{
		meta:     Metadata{ToolName: "calendar", UserIdentifier: "alice", SessionID: "s1", ExecutionTimeMS: 12},
		result:   map[string]any{"events": []any{"standup"}},
		received: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	payload, summary, err := m.buildPayload(job)
	require.NoError(t, err)

	assert.False(t, payload.Compressed)
	assert.Equal(t, models.PayloadStructured, payload.PayloadType)
	assert.Equal(t, map[string]any{"events": []any{"standup"}}, payload.ResponseData)
	assert.Empty(t, payload.CompressedData)
	assert.Equal(t, "calendar", payload.ToolName)
	assert.Equal(t, "2026-03-01T09:30:00Z", payload.Timestamp)
	assert.Contains(t, summary, "standup")
}

func TestBuildPayloadCompressed(t *testing.T) {
	m := testManager(1)

	job := ingestJob{
		meta:     Metadata{ToolName: "web_fetch"},
		result:   map[string]any{"body": strings.Repeat("lorem ipsum ", 100)},
		received: time.Now(),
	}

	payload, _, err := m.buildPayload(job)
	require.NoError(t, err)

	assert.True(t, payload.Compressed)
	assert.Equal(t, models.PayloadCompressed, payload.PayloadType)
	assert.Nil(t, payload.ResponseData)
	assert.NotEmpty(t, payload.CompressedData)

	// The stored text must decode back to the sanitized response.
	decoded, err := m.codec.Decompress(payload.CompressedData)
	require.NoError(t, err)
	obj, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, obj["body"], "lorem ipsum")
}

// Embedded-JSON strings and content envelopes are normalized before storage.
func TestBuildPayloadSanitizes(t *testing.T) {
	m := testManager(1)

	job := ingestJob{
		meta:     Metadata{ToolName: "api_call"},
		result:   map[string]any{"content": `{"status":"done"}`},
		received: time.Now(),
	}

	payload, _, err := m.buildPayload(job)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "done"}, payload.ResponseData)
}

// Secret-shaped values are redacted during ingestion.
func TestBuildPayloadRedactsSecrets(t *testing.T) {
	m := testManager(1)

	job := ingestJob{
		meta:     Metadata{ToolName: "env_dump"},
		result:   map[string]any{"key": "sk-abc123def456ghi789jkl012mno345pqr678"},
		received: time.Now(),
	}

	payload, summary, err := m.buildPayload(job)
	require.NoError(t, err)

	obj, ok := payload.ResponseData.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, obj["key"], "[REDACTED]")
	assert.NotContains(t, summary, "sk-abc123def456ghi789jkl012mno345pqr678")
}

func TestEmbeddingText(t *testing.T) {
	text := embeddingText(Metadata{ToolName: "gmail_search", UserIdentifier: "bob"}, `{"hits":3}`)
	assert.Equal(t, `Tool: gmail_search | User: bob | Response: {"hits":3}`, text)
}

func TestPayloadToMap(t *testing.T) {
	p := models.Payload{
		ToolName:        "jira",
		UserIdentifier:  "carol",
		SessionID:       "s9",
		Timestamp:       "2026-01-01T00:00:00Z",
		ExecutionTimeMS: 88,
		Compressed:      true,
		CompressedData:  "H4sIdata",
		PayloadType:     models.PayloadCompressed,
	}

	out := payloadToMap(p)
	assert.Equal(t, "jira", out["tool_name"])
	assert.Equal(t, "carol", out["user_identifier"])
	assert.Equal(t, "s9", out["session_identifier"])
	assert.Equal(t, "H4sIdata", out["compressed_data"])
	assert.NotContains(t, out, "response_data")

	p.Compressed = false
	p.CompressedData = ""
	p.ResponseData = map[string]any{"x": 1}
	p.PayloadType = models.PayloadStructured

	out = payloadToMap(p)
	assert.Equal(t, map[string]any{"x": 1}, out["response_data"])
	assert.NotContains(t, out, "compressed_data")
}
