package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantMode    Mode
		wantID      string
		wantText    string
		wantFilters map[string]string
	}{
		{
			name:     "empty query returns recent",
			raw:      "",
			wantMode: ModeRecent,
		},
		{
			name:     "whitespace only returns recent",
			raw:      "   \t ",
			wantMode: ModeRecent,
		},
		{
			name:     "id lookup",
			raw:      "id:3f2b9c7e-1a2b-4c5d-8e9f-000011112222",
			wantMode: ModeID,
			wantID:   "3f2b9c7e-1a2b-4c5d-8e9f-000011112222",
		},
		{
			name:     "id wins over surrounding tokens",
			raw:      "tool:gmail_search id:abc123 extra words",
			wantMode: ModeID,
			wantID:   "abc123",
		},
		{
			name:     "plain text is semantic",
			raw:      "failed database migrations",
			wantMode: ModeSemantic,
			wantText: "failed database migrations",
		},
		{
			name:        "filters only",
			raw:         "tool:gmail_search user:alice@example.com",
			wantMode:    ModeFiltered,
			wantFilters: map[string]string{"tool_name": "gmail_search", "user_identifier": "alice@example.com"},
		},
		{
			name:        "filters plus free text",
			raw:         "tool:gmail_search user:alice@example.com meeting notes",
			wantMode:    ModeFilteredSemantic,
			wantText:    "meeting notes",
			wantFilters: map[string]string{"tool_name": "gmail_search", "user_identifier": "alice@example.com"},
		},
		{
			name:        "service aliases to tool_name",
			raw:         "service:slack",
			wantMode:    ModeFiltered,
			wantFilters: map[string]string{"tool_name": "slack"},
		},
		{
			name:        "session alias",
			raw:         "session:sess-42",
			wantMode:    ModeFiltered,
			wantFilters: map[string]string{"session_identifier": "sess-42"},
		},
		{
			name:     "unknown alias folds into text",
			raw:      "color:blue widgets",
			wantMode: ModeSemantic,
			wantText: "color:blue widgets",
		},
		{
			name:     "empty filter value folds into text",
			raw:      "tool: something",
			wantMode: ModeSemantic,
			wantText: "tool: something",
		},
		{
			name:        "uppercase alias accepted",
			raw:         "TOOL:jira",
			wantMode:    ModeFiltered,
			wantFilters: map[string]string{"tool_name": "jira"},
		},
		{
			name:     "timestamps with colons stay semantic",
			raw:      "error at 12:30:05",
			wantMode: ModeSemantic,
			wantText: "error at 12:30:05",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ParseQuery(tt.raw)

			assert.Equal(t, tt.wantMode, q.Mode)
			assert.Equal(t, tt.wantID, q.ID)
			assert.Equal(t, tt.wantText, q.Text)
			assert.Equal(t, tt.raw, q.Raw)
			if tt.wantFilters == nil {
				assert.Empty(t, q.Filters)
			} else {
				assert.Equal(t, tt.wantFilters, q.Filters)
			}
		})
	}
}

func TestParseQueryMalformedNeverErrors(t *testing.T) {
	// Degenerate inputs must always resolve to some mode.
	for _, raw := range []string{":", "::", ":value", "a:b:c", "id:"} {
		q := ParseQuery(raw)
		assert.NotEmpty(t, q.Mode, "query %q", raw)
	}
}

func TestBuildFilterDeterministic(t *testing.T) {
	filters := map[string]string{
		"user_identifier":    "alice",
		"tool_name":          "gmail_search",
		"session_identifier": "s1",
	}

	first := buildFilter(filters)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, buildFilter(filters))
	}
	assert.Len(t, first.Must, 3)
}
