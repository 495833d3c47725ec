package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testScheduler(base time.Duration) *Scheduler {
	return &Scheduler{
		log:          zerolog.Nop(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		triggerCh:    make(chan bool, 1),
		interval:     base,
		baseInterval: base,
		state:        StateIdle,
	}
}

func TestAdaptIntervalLengthensAfterHealthyStreak(t *testing.T) {
	s := testScheduler(6 * time.Hour)

	// The first healthy check still counts as an unproven streak and
	// shortens; the next three hold the baseline; the fifth doubles it.
	s.adaptInterval(true)
	assert.Equal(t, 3*time.Hour, s.currentInterval())
	for i := 0; i < 3; i++ {
		s.adaptInterval(true)
		assert.Equal(t, 6*time.Hour, s.currentInterval(), "check %d", i+2)
	}
	s.adaptInterval(true)
	assert.Equal(t, 12*time.Hour, s.currentInterval())

	// Checks six through nine hold; the next full streak doubles again,
	// capped at 24h.
	for i := 0; i < 4; i++ {
		s.adaptInterval(true)
		assert.Equal(t, 12*time.Hour, s.currentInterval(), "check %d", i+6)
	}
	s.adaptInterval(true)
	assert.Equal(t, 24*time.Hour, s.currentInterval())
	for i := 0; i < 5; i++ {
		s.adaptInterval(true)
	}
	assert.Equal(t, 24*time.Hour, s.currentInterval())
}

func TestAdaptIntervalShortensOnDegradation(t *testing.T) {
	s := testScheduler(8 * time.Hour)

	// An unhealthy check breaks the streak and halves the interval.
	s.adaptInterval(false)
	assert.Equal(t, 4*time.Hour, s.currentInterval())
	s.adaptInterval(false)
	assert.Equal(t, 2*time.Hour, s.currentInterval())

	// Never below the floor.
	s.adaptInterval(false)
	assert.Equal(t, 2*time.Hour, s.currentInterval())
}

func TestAdaptIntervalRecoversToBaseline(t *testing.T) {
	s := testScheduler(6 * time.Hour)

	s.adaptInterval(false)
	assert.Equal(t, 3*time.Hour, s.currentInterval())

	// Two healthy checks in a row restore the baseline.
	s.adaptInterval(true)
	assert.Equal(t, 2*time.Hour, s.currentInterval()) // streak 1: still short
	s.adaptInterval(true)
	assert.Equal(t, 6*time.Hour, s.currentInterval())
}

// A tick that fired while a trigger was being handled must not survive the
// reset and cause an immediate extra check.
func TestResetTimerDrainsFiredTick(t *testing.T) {
	timer := time.NewTimer(time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	resetTimer(timer, time.Hour)

	select {
	case <-timer.C:
		t.Fatal("stale tick fired after reset")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTriggerNowDropsWhenPending(t *testing.T) {
	s := testScheduler(6 * time.Hour)

	assert.True(t, s.TriggerNow(false))
	// Nothing is draining the channel: a second trigger is dropped, not
	// queued.
	assert.False(t, s.TriggerNow(true))
}

func TestStatsShape(t *testing.T) {
	s := testScheduler(6 * time.Hour)
	s.healthyStreak = 3
	s.checksRun = 7
	s.reindexesRun = 2

	stats := s.Stats()
	assert.Equal(t, string(StateIdle), stats["state"])
	assert.Equal(t, 6.0, stats["interval_hours"])
	assert.Equal(t, 3, stats["healthy_streak"])
	assert.Equal(t, int64(7), stats["checks_run"])
	assert.Equal(t, int64(2), stats["reindexes_run"])
	assert.NotContains(t, stats, "last_check")
	assert.NotContains(t, stats, "last_snapshot")
}
