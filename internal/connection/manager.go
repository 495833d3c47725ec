// Package connection owns discovery and lazy initialization of the vector
// store client and the embedding model.
//
// Both resources are process-wide singletons constructed on first need, never
// at process start. A singleflight gate ensures concurrent first callers
// await one in-flight initialization instead of duplicating it.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/embedding"
	"github.com/tobyh/toolvault/internal/vector/qdrant"
	"github.com/tobyh/toolvault/pkg/models"
)

// State is the lifecycle state of the managed connection.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrDisabled is returned when the semantic store is unavailable or
// explicitly disabled; dependents degrade to no-op on it.
var ErrDisabled = errors.New("semantic store disabled")

const (
	probeTimeout    = 2 * time.Second
	discoverMaxTime = 15 * time.Second

	// failureCooldown throttles re-discovery after a failed initialization
	// so every read does not pay the full probe cost while the store is down.
	failureCooldown = 30 * time.Second
)

// Manager resolves a reachable vector-store endpoint and owns the client
// handle and embedding model singletons.
type Manager struct {
	client   *qdrant.Client
	embedder *embedding.Service
	lastErr  error
	failedAt time.Time
	endpoint string
	group    singleflight.Group
	mu       sync.RWMutex
	state    State
}

// NewManager creates an uninitialized manager. Nothing is dialed or loaded
// until the first dependent asks for the client or the embedder.
func NewManager() *Manager {
	return &Manager{state: StateUninitialized}
}

// Handles returns the store client and embedding service, initializing them
// on first call. Subsequent concurrent initializers await the in-flight one.
// A failed initialization is retried on the next call rather than latched
// forever, but the failed state is reported through Status in between.
func (m *Manager) Handles(ctx context.Context) (*qdrant.Client, *embedding.Service, error) {
	cfg := config.Get()
	if cfg.Disabled {
		return nil, nil, ErrDisabled
	}

	m.mu.RLock()
	if m.state == StateReady {
		client, embedder := m.client, m.embedder
		m.mu.RUnlock()
		return client, embedder, nil
	}
	if m.state == StateFailed && time.Since(m.failedAt) < failureCooldown {
		m.mu.RUnlock()
		return nil, nil, ErrDisabled
	}
	m.mu.RUnlock()

	_, err, _ := m.group.Do("init", func() (any, error) {
		return nil, m.initialize(ctx, cfg)
	})
	if err != nil {
		return nil, nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client, m.embedder, nil
}

// Client returns only the store client, initializing on first need.
func (m *Manager) Client(ctx context.Context) (*qdrant.Client, error) {
	client, _, err := m.Handles(ctx)
	return client, err
}

// Embedder returns only the embedding service, initializing on first need.
func (m *Manager) Embedder(ctx context.Context) (*embedding.Service, error) {
	_, embedder, err := m.Handles(ctx)
	return embedder, err
}

func (m *Manager) initialize(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	m.mu.Unlock()

	endpoint, err := m.discover(ctx, cfg)
	if err != nil {
		m.fail(fmt.Errorf("discover endpoint: %w", err))
		return ErrDisabled
	}

	apiKey := ""
	if endpoint == cfg.CloudURL {
		apiKey = cfg.CloudAPIKey
	}
	client := qdrant.NewClient(qdrant.Config{
		BaseURL: endpoint,
		APIKey:  apiKey,
		Timeout: time.Duration(cfg.RequestSecs) * time.Second,
	})

	embedder, err := embedding.NewServiceWithModel(cfg.EmbeddingProvider)
	if err != nil {
		m.fail(fmt.Errorf("load embedding model: %w", err))
		return ErrDisabled
	}

	m.mu.Lock()
	m.client = client
	m.embedder = embedder
	m.endpoint = endpoint
	m.state = StateReady
	m.lastErr = nil
	m.mu.Unlock()

	log.Info().
		Str("endpoint", endpoint).
		Str("model", embedder.Name()).
		Int("dimensions", embedder.Dimensions()).
		Msg("Semantic store connected")
	return nil
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.state = StateFailed
	m.lastErr = err
	m.failedAt = time.Now()
	m.mu.Unlock()
	log.Warn().Err(err).Msg("Semantic store unavailable, dependents will no-op")
}

// discover resolves a reachable endpoint: explicit URL, then cloud URL with
// key, then local port probing. Each candidate gets a short ping with
// bounded exponential retry so a store that is still starting up is not
// missed.
func (m *Manager) discover(ctx context.Context, cfg *config.Config) (string, error) {
	var candidates []candidate
	if cfg.StoreURL != "" {
		candidates = append(candidates, candidate{url: cfg.StoreURL, apiKey: ""})
	}
	if cfg.CloudURL != "" && cfg.CloudAPIKey != "" {
		candidates = append(candidates, candidate{url: cfg.CloudURL, apiKey: cfg.CloudAPIKey})
	}
	for _, port := range cfg.ProbePorts {
		candidates = append(candidates, candidate{url: fmt.Sprintf("http://localhost:%d", port)})
	}
	if len(candidates) == 0 {
		return "", errors.New("no endpoint candidates configured")
	}

	operation := func() (string, error) {
		for _, cand := range candidates {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := qdrant.NewClient(qdrant.Config{
				BaseURL: cand.url,
				APIKey:  cand.apiKey,
				Timeout: probeTimeout,
			}).Ping(probeCtx)
			cancel()
			if err == nil {
				return cand.url, nil
			}
			log.Debug().Str("endpoint", cand.url).Err(err).Msg("Endpoint probe failed")
		}
		return "", errors.New("no reachable endpoint")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(discoverMaxTime),
	)
}

type candidate struct {
	url    string
	apiKey string
}

// Status reports the current connection and model state.
func (m *Manager) Status() models.StatusInfo {
	cfg := config.Get()

	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.StatusInfo{
		Enabled:     !cfg.Disabled && m.state != StateFailed,
		Connected:   m.state == StateReady,
		Endpoint:    m.endpoint,
		ModelLoaded: m.embedder != nil,
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the error from the most recent failed initialization.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Reset clears a failed state so the next caller retries discovery.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.state == StateFailed {
		m.state = StateUninitialized
		m.lastErr = nil
	}
	m.mu.Unlock()
}

// Close releases the embedding model.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.embedder != nil {
		return m.embedder.Close()
	}
	return nil
}
