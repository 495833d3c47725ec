package qdrant

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantState string
		wantError string
	}{
		{"string ok", `"ok"`, "ok", ""},
		{"string accepted", `"Accepted"`, "accepted", ""},
		{"error object", `{"error":"collection not found"}`, "error", "collection not found"},
		{"empty object", `{}`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s status
			require.NoError(t, json.Unmarshal([]byte(tt.input), &s))
			assert.Equal(t, tt.wantState, s.State)
			assert.Equal(t, tt.wantError, s.Error)
		})
	}
}

func TestEnvelopeDecodes(t *testing.T) {
	raw := `{"status":"ok","result":{"id":"p1","payload":{"tool_name":"jira"}}}`

	var rsp envelope[Point]
	require.NoError(t, json.Unmarshal([]byte(raw), &rsp))
	assert.Equal(t, "ok", rsp.Status.State)
	assert.Equal(t, "p1", rsp.Result.ID)
	assert.Equal(t, "jira", rsp.Result.Payload["tool_name"])
}

func TestFilterChaining(t *testing.T) {
	f := (&Filter{}).
		Match("tool_name", "gmail_search").
		RangeLt("timestamp", "2026-01-01T00:00:00Z")

	require.Len(t, f.Must, 2)
	assert.Equal(t, "tool_name", f.Must[0].Key)
	assert.Equal(t, "gmail_search", f.Must[0].Match.Value)
	assert.Equal(t, map[string]any{"lt": "2026-01-01T00:00:00Z"}, f.Must[1].Range)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"must": [
			{"key":"tool_name","match":{"value":"gmail_search"}},
			{"key":"timestamp","range":{"lt":"2026-01-01T00:00:00Z"}}
		]
	}`, string(data))
}

func TestFilterEmpty(t *testing.T) {
	var f *Filter
	assert.True(t, f.Empty())
	assert.True(t, (&Filter{}).Empty())
	assert.False(t, (&Filter{}).Match("k", "v").Empty())
}
