package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/pkg/models"
)

func TestHealthScoreBounds(t *testing.T) {
	tests := []struct {
		name          string
		fragmentation float64
		coverage      float64
		expected      float64
	}{
		{"perfect", 0, 1, 1},
		{"worst", 1, 0, 0},
		{"half", 0.5, 0.5, 0.5},
		{"fragmented but covered", 0.2, 1, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, healthScore(tt.fragmentation, tt.coverage), 1e-9)
		})
	}
}

// The score must never improve when fragmentation grows, and never degrade
// when coverage grows.
func TestHealthScoreMonotonic(t *testing.T) {
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}

	for _, coverage := range steps {
		prev := healthScore(0, coverage)
		for _, frag := range steps[1:] {
			score := healthScore(frag, coverage)
			assert.LessOrEqual(t, score, prev,
				"score increased with fragmentation %v at coverage %v", frag, coverage)
			prev = score
		}
	}

	for _, frag := range steps {
		prev := healthScore(frag, 0)
		for _, coverage := range steps[1:] {
			score := healthScore(frag, coverage)
			assert.GreaterOrEqual(t, score, prev,
				"score decreased with coverage %v at fragmentation %v", coverage, frag)
			prev = score
		}
	}
}

func TestChooseStrategy(t *testing.T) {
	m := &Manager{}

	tests := []struct {
		name     string
		snapshot models.HealthSnapshot
		force    bool
		lastN    int64
		expected string
	}{
		{
			name:     "forced always rebuilds",
			snapshot: models.HealthSnapshot{Fragmentation: 0, Coverage: 1},
			force:    true,
			expected: StrategyRebuild,
		},
		{
			name:     "severe fragmentation rebuilds",
			snapshot: models.HealthSnapshot{Fragmentation: 0.6, NeedsReindex: true},
			expected: StrategyRebuild,
		},
		{
			name:     "doubling since last reindex rebuilds",
			snapshot: models.HealthSnapshot{TotalPoints: 2500, NeedsReindex: true},
			lastN:    1000,
			expected: StrategyRebuild,
		},
		{
			name:     "moderate degradation standard",
			snapshot: models.HealthSnapshot{Fragmentation: 0.3, NeedsReindex: true},
			expected: StrategyStandard,
		},
		{
			name:     "healthy collection optimizes",
			snapshot: models.HealthSnapshot{Fragmentation: 0.05, Coverage: 0.95},
			expected: StrategyOptimize,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.mu.Lock()
			m.lastReindexCount = tt.lastN
			m.mu.Unlock()

			got := m.ChooseStrategy(&tt.snapshot, tt.force)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSettingsForProfile(t *testing.T) {
	low := settingsForProfile(config.ProfileLowLatency)
	assert.Equal(t, 1000, low.indexingThreshold)
	assert.False(t, low.vectorsOnDisk)

	large := settingsForProfile(config.ProfileLargeScale)
	assert.Equal(t, 50000, large.indexingThreshold)
	assert.True(t, large.vectorsOnDisk)

	// Unknown profiles fall back to balanced.
	balanced := settingsForProfile("whatever")
	assert.Equal(t, 20000, balanced.indexingThreshold)
	assert.Equal(t, settingsForProfile(config.ProfileBalanced), balanced)
}

func TestPayloadIndexesCoverFilterFields(t *testing.T) {
	fields := make(map[string]bool, len(payloadIndexes))
	for _, idx := range payloadIndexes {
		fields[idx.field] = true
	}
	// Every filterable alias target and the recency sort key must be indexed.
	for _, field := range []string{"user_identifier", "session_identifier", "tool_name", "timestamp"} {
		assert.True(t, fields[field], "missing payload index for %s", field)
	}
}
