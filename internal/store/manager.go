// Package store builds and writes tool-response records and keeps the
// backing collection healthy.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tobyh/toolvault/internal/codec"
	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/privacy"
	"github.com/tobyh/toolvault/internal/sanitize"
	"github.com/tobyh/toolvault/internal/vector/qdrant"
	"github.com/tobyh/toolvault/pkg/models"

	"github.com/goccy/go-json"
)

const (
	// ingestTimeout bounds one background write end to end.
	ingestTimeout = 30 * time.Second

	// summaryMaxLen caps the response excerpt used in the embedding text.
	summaryMaxLen = 500
)

// Metadata describes the originating tool call for one record.
type Metadata struct {
	ToolName        string
	UserIdentifier  string
	SessionID       string
	ExecutionTimeMS int64
}

type ingestJob struct {
	result   any
	meta     Metadata
	received time.Time
}

// Manager builds and writes records, analyzes collection health, runs
// reindex strategies and enforces retention.
type Manager struct {
	conn       *connection.Manager
	codec      *codec.Codec
	queue      chan ingestJob
	doneCh     chan struct{}
	collection string

	// Reindex bookkeeping, written only by health/reindex calls
	// (the scheduler serializes those).
	lastReindexAt    time.Time
	lastReindexCount int64

	dropped int64
	stored  int64
	closed  bool
	mu      sync.Mutex

	ensureMu sync.Mutex
	ensured  bool

	closeOnce sync.Once
}

// NewManager creates a storage manager and starts its ingest workers.
func NewManager(conn *connection.Manager) *Manager {
	cfg := config.Get()
	m := &Manager{
		conn:       conn,
		codec:      codec.New(cfg.CompressionThreshold),
		collection: cfg.Collection,
		queue:      make(chan ingestJob, cfg.IngestQueue),
		doneCh:     make(chan struct{}),
	}

	workers := cfg.IngestWorkers
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.workerLoop()
		}()
	}
	go func() {
		wg.Wait()
		close(m.doneCh)
	}()

	return m
}

// Collection returns the default collection name.
func (m *Manager) Collection() string { return m.collection }

// Codec exposes the payload codec for the read side.
func (m *Manager) Codec() *codec.Codec { return m.codec }

// Store enqueues one tool response for asynchronous persistence and returns
// immediately. It never blocks and never fails the originating operation: a
// full queue, or a manager already closed, drops the write with a log entry.
func (m *Manager) Store(meta Metadata, result any) {
	job := ingestJob{meta: meta, result: result, received: time.Now()}

	// The enqueue happens under mu so Close cannot close the channel
	// between the closed check and the send.
	m.mu.Lock()
	if m.closed {
		m.dropped++
		m.mu.Unlock()
		log.Warn().
			Str("tool", meta.ToolName).
			Msg("Store closed, dropping tool response")
		return
	}
	select {
	case m.queue <- job:
		m.mu.Unlock()
	default:
		m.dropped++
		m.mu.Unlock()
		log.Warn().
			Str("tool", meta.ToolName).
			Msg("Ingest queue full, dropping tool response")
	}
}

// Close stops accepting writes and waits for in-flight jobs to drain.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.queue)
		<-m.doneCh
	})
}

// Stats returns write-side counters.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"stored":     m.stored,
		"dropped":    m.dropped,
		"queue_len":  len(m.queue),
		"queue_cap":  cap(m.queue),
		"collection": m.collection,
	}
}

func (m *Manager) workerLoop() {
	for job := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		if err := m.persist(ctx, job); err != nil {
			// Ingestion is a side channel: all errors end here.
			log.Warn().
				Err(err).
				Str("tool", job.meta.ToolName).
				Msg("Failed to persist tool response")
		} else {
			m.mu.Lock()
			m.stored++
			m.mu.Unlock()
		}
		cancel()
	}
}

// persist runs the full ingestion pipeline for one job: sanitize, compress,
// embed, upsert.
func (m *Manager) persist(ctx context.Context, job ingestJob) error {
	client, embedder, err := m.conn.Handles(ctx)
	if err != nil {
		return err
	}

	if err := m.ensureCollection(ctx, client, embedder.Dimensions()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	payload, summary, err := m.buildPayload(job)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	text := embeddingText(job.meta, summary)
	vector, err := embedder.Embed(text)
	if err != nil {
		return fmt.Errorf("embed record: %w", err)
	}

	point := qdrant.Point{
		ID:      uuid.New().String(),
		Vector:  vector,
		Payload: payloadToMap(payload),
	}
	if err := client.Upsert(ctx, m.collection, []qdrant.Point{point}); err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

// buildPayload sanitizes the response and applies the compression decision.
// The returned summary is the serialized sanitized response, capped for the
// embedding text.
func (m *Manager) buildPayload(job ingestJob) (models.Payload, string, error) {
	sanitized := privacy.RedactAny(sanitize.Normalize(job.result))

	serialized, err := json.Marshal(sanitized)
	if err != nil {
		return models.Payload{}, "", fmt.Errorf("serialize response: %w", err)
	}

	payload := models.Payload{
		ToolName:        job.meta.ToolName,
		UserIdentifier:  job.meta.UserIdentifier,
		SessionID:       job.meta.SessionID,
		Timestamp:       job.received.UTC().Format(time.RFC3339),
		ExecutionTimeMS: job.meta.ExecutionTimeMS,
	}

	if m.codec.ShouldCompress(serialized) {
		encoded, err := m.codec.CompressToText(serialized)
		if err != nil {
			return models.Payload{}, "", fmt.Errorf("compress response: %w", err)
		}
		payload.Compressed = true
		payload.CompressedData = encoded
		payload.PayloadType = models.PayloadCompressed
	} else {
		payload.ResponseData = sanitized
		payload.PayloadType = models.PayloadStructured
	}

	summary := string(serialized)
	if len(summary) > summaryMaxLen {
		summary = summary[:summaryMaxLen]
	}
	return payload, summary, nil
}

// embeddingText is the canonical text projection of a record.
func embeddingText(meta Metadata, summary string) string {
	return fmt.Sprintf("Tool: %s | User: %s | Response: %s",
		meta.ToolName, meta.UserIdentifier, summary)
}

// payloadToMap flattens the payload envelope into the point payload shape.
func payloadToMap(p models.Payload) map[string]any {
	out := map[string]any{
		"tool_name":          p.ToolName,
		"user_identifier":    p.UserIdentifier,
		"session_identifier": p.SessionID,
		"timestamp":          p.Timestamp,
		"execution_time_ms":  p.ExecutionTimeMS,
		"compressed":         p.Compressed,
		"payload_type":       string(p.PayloadType),
	}
	if p.Compressed {
		out["compressed_data"] = p.CompressedData
	} else {
		out["response_data"] = p.ResponseData
	}
	return out
}
