// Package search provides the multi-mode query engine over stored tool
// responses.
package search

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tobyh/toolvault/internal/codec"
	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/store"
	"github.com/tobyh/toolvault/internal/vector/qdrant"
	"github.com/tobyh/toolvault/pkg/models"
)

// Search configuration constants.
const (
	defaultCacheTTL      = 30 * time.Second // Short TTL for freshness
	defaultCacheMaxSize  = 200              // Max cached results
	cacheCleanupInterval = time.Minute      // Cleanup expired cache entries

	defaultSearchLimit = 10
	maxSearchLimit     = 100

	// candidateMultiplier over-fetches filtered candidates before ranking.
	candidateMultiplier = 3

	// analyticsSampleSize bounds the best-effort analytics scan.
	analyticsSampleSize = 500
)

// Metrics tracks search performance statistics.
type Metrics struct {
	TotalSearches  int64
	VectorSearches int64
	FilterSearches int64
	IDLookups      int64
	CacheHits      int64
	SearchErrors   int64
}

// Snapshot returns the current counters as a map for status endpoints.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"total_searches":  atomic.LoadInt64(&m.TotalSearches),
		"vector_searches": atomic.LoadInt64(&m.VectorSearches),
		"filter_searches": atomic.LoadInt64(&m.FilterSearches),
		"id_lookups":      atomic.LoadInt64(&m.IDLookups),
		"cache_hits":      atomic.LoadInt64(&m.CacheHits),
		"search_errors":   atomic.LoadInt64(&m.SearchErrors),
	}
}

// Result is the outcome of one search call. Enabled is false when the
// semantic store is unavailable; the query then carries no results but is
// not an error.
type Result struct {
	Query    string                 `json:"query"`
	Results  []models.DecodedRecord `json:"results"`
	Total    int                    `json:"total"`
	Enabled  bool                   `json:"enabled"`
	NotFound bool                   `json:"not_found,omitempty"`
}

type cachedResult struct {
	result    *Result
	expiresAt time.Time
}

// Manager executes parsed queries against the vector store.
type Manager struct {
	conn        *connection.Manager
	store       *store.Manager
	metrics     *Metrics
	resultCache map[string]*cachedResult
	cancel      context.CancelFunc
	searchGroup singleflight.Group
	cacheTTL    time.Duration
	cacheMu     sync.RWMutex
}

// NewManager creates a search manager and starts its cache janitor.
func NewManager(conn *connection.Manager, storeMgr *store.Manager) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		conn:        conn,
		store:       storeMgr,
		metrics:     &Metrics{},
		resultCache: make(map[string]*cachedResult),
		cacheTTL:    defaultCacheTTL,
		cancel:      cancel,
	}
	go m.cleanupCacheLoop(ctx)
	return m
}

// Close stops background goroutines.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Metrics returns the search metrics for monitoring.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Search parses the query string, dispatches by mode and returns decoded,
// ranked results. Backend unreachability yields Enabled=false, not an error.
func (m *Manager) Search(ctx context.Context, rawQuery string, limit int, collection string) (*Result, error) {
	atomic.AddInt64(&m.metrics.TotalSearches, 1)

	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if collection == "" {
		collection = m.store.Collection()
	}

	cacheKey := m.cacheKey(rawQuery, limit, collection)
	if cached, ok := m.getFromCache(cacheKey); ok {
		return cached, nil
	}

	value, err, _ := m.searchGroup.Do(cacheKey, func() (any, error) {
		return m.executeSearch(ctx, rawQuery, limit, collection)
	})
	if err != nil {
		atomic.AddInt64(&m.metrics.SearchErrors, 1)
		return nil, err
	}

	result := value.(*Result)
	m.putInCache(cacheKey, result)
	return result, nil
}

func (m *Manager) executeSearch(ctx context.Context, rawQuery string, limit int, collection string) (*Result, error) {
	client, err := m.conn.Client(ctx)
	if errors.Is(err, connection.ErrDisabled) {
		return &Result{Query: rawQuery, Enabled: false}, nil
	}
	if err != nil {
		return nil, err
	}

	query := ParseQuery(rawQuery)
	result := &Result{Query: rawQuery, Enabled: true}

	switch query.Mode {
	case ModeID:
		atomic.AddInt64(&m.metrics.IDLookups, 1)
		record, found, err := m.fetchPoint(ctx, client, collection, query.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			result.NotFound = true
			return result, nil
		}
		result.Results = []models.DecodedRecord{*record}

	case ModeSemantic:
		atomic.AddInt64(&m.metrics.VectorSearches, 1)
		records, err := m.semanticSearch(ctx, client, collection, query.Text, nil, limit)
		if err != nil {
			return nil, err
		}
		result.Results = records

	case ModeFilteredSemantic:
		atomic.AddInt64(&m.metrics.VectorSearches, 1)
		records, err := m.semanticSearch(ctx, client, collection, query.Text, query.Filters, limit)
		if err != nil {
			return nil, err
		}
		result.Results = records

	case ModeFiltered:
		atomic.AddInt64(&m.metrics.FilterSearches, 1)
		records, err := m.filteredScan(ctx, client, collection, query.Filters, limit)
		if err != nil {
			return nil, err
		}
		result.Results = records

	default: // ModeRecent
		atomic.AddInt64(&m.metrics.FilterSearches, 1)
		records, err := m.filteredScan(ctx, client, collection, nil, limit)
		if err != nil {
			return nil, err
		}
		result.Results = records
	}

	result.Total = len(result.Results)
	return result, nil
}

// semanticSearch embeds the text and ranks candidates by vector distance,
// optionally restricted to an equality filter.
func (m *Manager) semanticSearch(ctx context.Context, client *qdrant.Client, collection, text string, filters map[string]string, limit int) ([]models.DecodedRecord, error) {
	embedder, err := m.conn.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	vector, err := embedder.Embed(text)
	if err != nil {
		return nil, err
	}

	req := qdrant.SearchRequest{
		Vector:         vector,
		Limit:          limit,
		ScoreThreshold: config.Get().SearchMinScore,
	}
	if len(filters) > 0 {
		req.Limit = limit * candidateMultiplier
		req.Filter = buildFilter(filters)
	}

	points, err := client.Search(ctx, collection, req)
	if err != nil {
		return nil, err
	}

	records := make([]models.DecodedRecord, 0, len(points))
	for _, point := range points {
		record := m.decodePoint(point.ID, point.Payload)
		record.Score = point.Score
		records = append(records, record)
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// filteredScan returns filter-matching records ordered by recency.
func (m *Manager) filteredScan(ctx context.Context, client *qdrant.Client, collection string, filters map[string]string, limit int) ([]models.DecodedRecord, error) {
	var filter *qdrant.Filter
	if len(filters) > 0 {
		filter = buildFilter(filters)
	}

	points, err := client.Scroll(ctx, collection, filter, limit, "timestamp")
	if err != nil {
		return nil, err
	}

	records := make([]models.DecodedRecord, 0, len(points))
	for _, point := range points {
		records = append(records, m.decodePoint(point.ID, point.Payload))
	}
	return records, nil
}

// Fetch returns the full decoded record for an ID, from the default
// collection.
func (m *Manager) Fetch(ctx context.Context, id string) (*models.DecodedRecord, bool, error) {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return nil, false, err
	}
	return m.fetchPoint(ctx, client, m.store.Collection(), id)
}

// FetchFrom returns the full decoded record for a collection+ID pair.
func (m *Manager) FetchFrom(ctx context.Context, collection, id string) (*models.DecodedRecord, bool, error) {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return nil, false, err
	}
	return m.fetchPoint(ctx, client, collection, id)
}

func (m *Manager) fetchPoint(ctx context.Context, client *qdrant.Client, collection, id string) (*models.DecodedRecord, bool, error) {
	point, err := client.Retrieve(ctx, collection, id)
	if errors.Is(err, qdrant.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	record := m.decodePoint(point.ID, point.Payload)
	return &record, true, nil
}

// decodePoint turns a raw stored payload into a decoded record. Decode
// failures flag the single record instead of aborting the read.
func (m *Manager) decodePoint(id string, payload map[string]any) models.DecodedRecord {
	record := models.DecodedRecord{
		ID:             id,
		ToolName:       stringField(payload, "tool_name"),
		UserIdentifier: stringField(payload, "user_identifier"),
		SessionID:      stringField(payload, "session_identifier"),
		Timestamp:      stringField(payload, "timestamp"),
	}
	if v, ok := payload["execution_time_ms"].(float64); ok {
		record.ExecutionTimeMS = int64(v)
	}

	compressed, _ := payload["compressed"].(bool)
	if !compressed {
		record.DecodedResponse = payload["response_data"]
		return record
	}

	decoded, err := m.store.Codec().Decompress(stringField(payload, "compressed_data"))
	if err != nil {
		var decodeErr *codec.DecodeError
		if errors.As(err, &decodeErr) {
			record.DecodeError = decodeErr.Error()
		} else {
			record.DecodeError = err.Error()
		}
		log.Warn().Str("id", id).Err(err).Msg("Failed to decode stored payload")
		return record
	}
	record.DecodedResponse = decoded
	return record
}

// Analytics aggregates usage over a bounded sample of recent records.
// Best-effort: concurrent writes are not reconciled.
func (m *Manager) Analytics(ctx context.Context) (*models.Analytics, error) {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	points, err := client.Scroll(ctx, m.store.Collection(), nil, analyticsSampleSize, "timestamp")
	if err != nil {
		return nil, err
	}

	analytics := &models.Analytics{
		ToolCounts: make(map[string]int64),
		UserCounts: make(map[string]int64),
	}

	var totalExecMS, compressedCount int64
	for _, point := range points {
		analytics.ToolCounts[stringField(point.Payload, "tool_name")]++
		analytics.UserCounts[stringField(point.Payload, "user_identifier")]++
		if v, ok := point.Payload["execution_time_ms"].(float64); ok {
			totalExecMS += int64(v)
		}
		if compressed, _ := point.Payload["compressed"].(bool); compressed {
			compressedCount++
		}
	}

	analytics.SampledRecords = int64(len(points))
	if len(points) > 0 {
		analytics.AvgExecutionMS = float64(totalExecMS) / float64(len(points))
		analytics.CompressedShare = float64(compressedCount) / float64(len(points))
	}
	return analytics, nil
}

// ClearCache drops all cached search results.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	m.resultCache = make(map[string]*cachedResult)
	m.cacheMu.Unlock()
}

func (m *Manager) cacheKey(query string, limit int, collection string) string {
	h := fnv.New64a()
	h.Write([]byte(query))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(limit)))
	h.Write([]byte{'|'})
	h.Write([]byte(collection))
	return strconv.FormatUint(h.Sum64(), 36)
}

func (m *Manager) getFromCache(key string) (*Result, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	if cached, ok := m.resultCache[key]; ok {
		if time.Now().Before(cached.expiresAt) {
			atomic.AddInt64(&m.metrics.CacheHits, 1)
			return cached.result, true
		}
	}
	return nil, false
}

func (m *Manager) putInCache(key string, result *Result) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	// Random-order eviction keeps the map bounded; entries are short-lived
	// anyway.
	if len(m.resultCache) >= defaultCacheMaxSize {
		for k := range m.resultCache {
			delete(m.resultCache, k)
			break
		}
	}
	m.resultCache[key] = &cachedResult{
		result:    result,
		expiresAt: time.Now().Add(m.cacheTTL),
	}
}

func (m *Manager) cleanupCacheLoop(ctx context.Context) {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.cacheMu.Lock()
			for key, cached := range m.resultCache {
				if now.After(cached.expiresAt) {
					delete(m.resultCache, key)
				}
			}
			m.cacheMu.Unlock()
		}
	}
}

func stringField(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// buildFilter turns parsed equality filters into a backend filter with
// deterministic condition order.
func buildFilter(filters map[string]string) *qdrant.Filter {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filter := &qdrant.Filter{}
	for _, k := range keys {
		filter.Match(k, filters[k])
	}
	return filter
}
