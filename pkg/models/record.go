// Package models contains domain models for toolvault.
package models

import "time"

// PayloadType classifies how a record's response body is stored.
type PayloadType string

const (
	// PayloadStructured means response_data holds the sanitized object as-is.
	PayloadStructured PayloadType = "structured"
	// PayloadCompressed means compressed_data holds base64 gzip bytes.
	PayloadCompressed PayloadType = "compressed"
)

// Payload is the fixed metadata envelope stored with every record.
// Exactly one of ResponseData / CompressedData is set, depending on Compressed.
type Payload struct {
	ResponseData    any         `json:"response_data,omitempty"`
	CompressedData  string      `json:"compressed_data,omitempty"`
	ToolName        string      `json:"tool_name"`
	UserIdentifier  string      `json:"user_identifier"`
	SessionID       string      `json:"session_identifier"`
	Timestamp       string      `json:"timestamp"`
	PayloadType     PayloadType `json:"payload_type"`
	ExecutionTimeMS int64       `json:"execution_time_ms"`
	Compressed      bool        `json:"compressed"`
}

// Record is one stored tool-response entry: a point in the vector store.
// Created once at ingestion, immutable thereafter, removed only by retention.
type Record struct {
	Payload Payload   `json:"payload"`
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
}

// DecodedRecord is a record with its response body decompressed and
// de-sanitized for the read side. DecodeError is set when the stored
// payload could not be decoded; the record is still returned.
type DecodedRecord struct {
	DecodedResponse any     `json:"decoded_response,omitempty"`
	ID              string  `json:"id"`
	ToolName        string  `json:"tool_name"`
	UserIdentifier  string  `json:"user_identifier"`
	SessionID       string  `json:"session_identifier,omitempty"`
	Timestamp       string  `json:"timestamp"`
	DecodeError     string  `json:"decode_error,omitempty"`
	ExecutionTimeMS int64   `json:"execution_time_ms,omitempty"`
	Score           float64 `json:"score,omitempty"`
}

// HealthSnapshot is a point-in-time assessment of collection index quality.
// Computed on demand each scheduler tick; never persisted.
type HealthSnapshot struct {
	Reasons       []string  `json:"reasons"`
	CheckedAt     time.Time `json:"checked_at"`
	TotalPoints   int64     `json:"total_points"`
	IndexedPoints int64     `json:"indexed_points"`
	Fragmentation float64   `json:"fragmentation"`
	Coverage      float64   `json:"coverage"`
	HealthScore   float64   `json:"health_score"`
	NeedsReindex  bool      `json:"needs_reindex"`
}

// CollectionInfo describes a named vector collection.
type CollectionInfo struct {
	Name           string `json:"name"`
	DistanceMetric string `json:"distance_metric,omitempty"`
	VectorSize     int    `json:"vector_size,omitempty"`
	PointCount     int64  `json:"point_count"`
	IndexedCount   int64  `json:"indexed_count"`
}

// StatusInfo reports connection and model state of the semantic store.
type StatusInfo struct {
	Endpoint    string `json:"endpoint,omitempty"`
	Enabled     bool   `json:"enabled"`
	Connected   bool   `json:"connected"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Analytics is a best-effort usage aggregate over stored records.
type Analytics struct {
	ToolCounts      map[string]int64 `json:"per_tool_counts"`
	UserCounts      map[string]int64 `json:"per_user_counts"`
	AvgExecutionMS  float64          `json:"average_execution_time_ms"`
	CompressedShare float64          `json:"compressed_share"`
	SampledRecords  int64            `json:"sampled_records"`
}
