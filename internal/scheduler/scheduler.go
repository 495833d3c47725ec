// Package scheduler runs periodic health checks over the vector collection
// and reindexes when needed, adapting its own check interval to the observed
// health history.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/store"
	"github.com/tobyh/toolvault/pkg/models"
)

// State of the scheduler loop.
type State string

const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateHealthy    State = "healthy"
	StateReindexing State = "reindexing"
	StateStopped    State = "stopped"
)

const (
	// minInterval is the floor for the adaptive check interval.
	minInterval = 2 * time.Hour
	// maxInterval is the cap for the adaptive check interval.
	maxInterval = 24 * time.Hour

	// healthyStreakToLengthen doubles the interval once reached.
	healthyStreakToLengthen = 5
	// healthyStreakToShorten halves the interval below this streak.
	healthyStreakToShorten = 2

	// checkTimeout bounds one health check plus reindex run.
	checkTimeout = 10 * time.Minute
)

// Scheduler periodically evaluates collection health and runs reindex
// strategies. It is the sole writer of maintenance state; at most one
// reindex runs at a time, and a check firing mid-reindex is skipped.
type Scheduler struct {
	log           zerolog.Logger
	store         *store.Manager
	stopCh        chan struct{}
	doneCh        chan struct{}
	triggerCh     chan bool // payload: force
	lastSnapshot  *models.HealthSnapshot
	lastCheckAt   time.Time
	interval      time.Duration
	baseInterval  time.Duration
	healthyStreak int
	checksRun     int64
	reindexesRun  int64
	state         State
	running       bool
	mu            sync.Mutex
}

// New creates a scheduler around the storage manager.
func New(storeMgr *store.Manager, log zerolog.Logger) *Scheduler {
	base := time.Duration(config.Get().SchedulerBaseHours) * time.Hour
	if base < minInterval {
		base = minInterval
	}
	if base > maxInterval {
		base = maxInterval
	}
	return &Scheduler{
		log:          log.With().Str("component", "scheduler").Logger(),
		store:        storeMgr,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		triggerCh:    make(chan bool, 1),
		interval:     base,
		baseInterval: base,
		state:        StateIdle,
	}
}

// Start begins the scheduler loop. It blocks until Stop is called or the
// context is cancelled; callers run it in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.state = StateStopped
		s.mu.Unlock()
		close(s.doneCh)
	}()

	s.log.Info().
		Dur("interval", s.currentInterval()).
		Msg("Starting reindex scheduler")

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler shutting down: context cancelled")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Scheduler shutting down: stop signal")
			return
		case force := <-s.triggerCh:
			s.runCheck(ctx, force)
			resetTimer(timer, s.currentInterval())
		case <-timer.C:
			s.runCheck(ctx, false)
			timer.Reset(s.currentInterval())
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
}

// Wait blocks until the scheduler loop has exited.
func (s *Scheduler) Wait() {
	<-s.doneCh
}

// TriggerNow requests an immediate check, bypassing the timer. With force,
// the health gate is bypassed too and a complete rebuild runs regardless.
// One trigger can be pending at a time; while it waits to be picked up,
// further triggers are dropped.
func (s *Scheduler) TriggerNow(force bool) bool {
	select {
	case s.triggerCh <- force:
		return true
	default:
		return false
	}
}

// runCheck performs one Checking -> {Healthy, Reindexing} -> Idle cycle and
// adapts the interval from the healthy-streak history.
func (s *Scheduler) runCheck(ctx context.Context, force bool) {
	s.mu.Lock()
	if s.state == StateReindexing {
		// Never overlap reindex executions; skip, don't queue.
		s.mu.Unlock()
		s.log.Debug().Msg("Check fired mid-reindex, skipping")
		return
	}
	s.state = StateChecking
	s.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	snapshot, err := s.store.AnalyzeHealth(checkCtx)

	s.mu.Lock()
	s.checksRun++
	s.lastCheckAt = time.Now()
	s.mu.Unlock()

	if err != nil {
		// Store unavailable: treat as a no-op tick, keep the interval.
		s.log.Warn().Err(err).Msg("Health check failed")
		s.setState(StateIdle)
		return
	}

	s.mu.Lock()
	s.lastSnapshot = snapshot
	s.mu.Unlock()

	if !snapshot.NeedsReindex && !force {
		s.setState(StateHealthy)
		s.adaptInterval(true)
		s.setState(StateIdle)
		return
	}

	s.setState(StateReindexing)
	strategy := s.store.ChooseStrategy(snapshot, force)
	if err := s.store.Reindex(checkCtx, strategy); err != nil {
		s.log.Error().Err(err).Str("strategy", strategy).Msg("Reindex failed")
	} else {
		s.mu.Lock()
		s.reindexesRun++
		s.mu.Unlock()
	}
	s.adaptInterval(false)
	s.setState(StateIdle)
}

// adaptInterval applies the adaptive rule: a long healthy streak doubles the
// interval (capped), a broken streak halves it (floored), anything in
// between reverts to the baseline.
func (s *Scheduler) adaptInterval(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if healthy {
		s.healthyStreak++
	} else {
		s.healthyStreak = 0
	}

	previous := s.interval
	switch {
	case s.healthyStreak >= healthyStreakToLengthen:
		// Double once per full streak, not on every check past the
		// threshold, so a long quiet stretch ramps gradually to the cap.
		if s.healthyStreak%healthyStreakToLengthen == 0 {
			s.interval = min(s.interval*2, maxInterval)
		}
	case s.healthyStreak < healthyStreakToShorten:
		s.interval = max(s.interval/2, minInterval)
	default:
		s.interval = s.baseInterval
	}

	if s.interval != previous {
		s.log.Info().
			Dur("from", previous).
			Dur("to", s.interval).
			Int("healthy_streak", s.healthyStreak).
			Msg("Adapted check interval")
	}
}

// resetTimer drains a fired-but-unread tick before resetting, so a trigger
// handled just as the timer fired does not cause an immediate second check.
func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stats returns scheduler statistics for status endpoints.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]any{
		"state":          string(s.state),
		"interval_hours": s.interval.Hours(),
		"base_hours":     s.baseInterval.Hours(),
		"healthy_streak": s.healthyStreak,
		"checks_run":     s.checksRun,
		"reindexes_run":  s.reindexesRun,
		"running":        s.running,
	}
	if !s.lastCheckAt.IsZero() {
		stats["last_check"] = s.lastCheckAt
	}
	if s.lastSnapshot != nil {
		stats["last_snapshot"] = s.lastSnapshot
	}
	return stats
}
