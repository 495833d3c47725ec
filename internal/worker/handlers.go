package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/store"
	"github.com/tobyh/toolvault/pkg/models"
)

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns 200 regardless of backend state so supervisors and
// hooks can distinguish "worker down" from "store down".
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleStatus reports connection, ingest and search state in one place.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connection": s.conn.Status(),
		"ingest":     s.store.Stats(),
		"search":     s.search.Metrics().Snapshot(),
		"scheduler":  s.scheduler.Stats(),
	})
}

// IngestRequest is the body for POST /api/ingest.
type IngestRequest struct {
	Response        any    `json:"response"`
	ToolName        string `json:"tool_name"`
	UserIdentifier  string `json:"user_identifier"`
	SessionID       string `json:"session_identifier"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// handleIngest enqueues one tool response. The reply is always 202: writes
// are asynchronous and never surface persistence errors to the caller.
func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	s.store.Store(store.Metadata{
		ToolName:        req.ToolName,
		UserIdentifier:  req.UserIdentifier,
		SessionID:       req.SessionID,
		ExecutionTimeMS: req.ExecutionTimeMS,
	}, req.Response)

	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// handleSearch runs the multi-mode query engine over the query string.
func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	collection := r.URL.Query().Get("collection")

	result, err := s.search.Search(r.Context(), query, limit, collection)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRecent is a convenience alias for an empty search query.
func (s *Service) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := s.search.Search(r.Context(), "", limit, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": result.Results,
		"count":   result.Total,
		"enabled": result.Enabled,
	})
}

func (s *Service) handleRecord(w http.ResponseWriter, r *http.Request) {
	s.respondRecord(w, r, s.store.Collection(), chi.URLParam(r, "id"))
}

func (s *Service) handleCollectionRecord(w http.ResponseWriter, r *http.Request) {
	s.respondRecord(w, r, chi.URLParam(r, "name"), chi.URLParam(r, "id"))
}

func (s *Service) respondRecord(w http.ResponseWriter, r *http.Request, collection, id string) {
	record, found, err := s.search.FetchFrom(r.Context(), collection, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"exists": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exists":           true,
		"payload":          record,
		"decoded_response": record.DecodedResponse,
	})
}

func (s *Service) handleCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.CollectionInfos(r.Context())
	if errors.Is(err, connection.ErrDisabled) {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "collections": []models.CollectionInfo{}})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "collections": infos})
}

func (s *Service) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	client, err := s.conn.Client(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "semantic store unavailable")
		return
	}
	detail, err := client.GetCollection(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.CollectionInfo{
		Name:           name,
		DistanceMetric: detail.Distance,
		VectorSize:     detail.VectorSize,
		PointCount:     detail.PointsCount,
		IndexedCount:   detail.IndexedVectorsCount,
	})
}

func (s *Service) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.search.Analytics(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// ReindexRequest is the body for POST /api/admin/reindex.
type ReindexRequest struct {
	Force bool `json:"force"`
}

// handleReindex asks the scheduler for an immediate health check. Forced
// rebuilds are throttled; repeated triggers inside the cooldown get 429.
func (s *Service) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Force && !s.reindexLimiter.CanRebuild() {
		writeError(w, http.StatusTooManyRequests, "rebuild triggered too recently")
		return
	}

	if !s.scheduler.TriggerNow(req.Force) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"triggered": false,
			"reason":    "maintenance already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retention := time.Duration(config.Get().RetentionDays) * 24 * time.Hour

	removed, err := s.store.Cleanup(r.Context(), retention)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed":        removed,
		"retention_days": config.Get().RetentionDays,
	})
}

func (s *Service) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.search.ClearCache()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Service) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Stats())
}

// handleReset clears a failed connection state so the next operation
// retries endpoint discovery immediately.
func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	s.conn.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.conn.State().String()})
}
