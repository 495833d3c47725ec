package qdrant

import (
	"strings"

	"github.com/goccy/go-json"
)

// envelope is the standard Qdrant REST response wrapper.
type envelope[T any] struct {
	Status status `json:"status"`
	Result T      `json:"result"`
}

// status is either the string "ok" or an object carrying an error.
type status struct {
	State string `json:"status"`
	Error string `json:"error,omitempty"`
}

func (s *status) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

// Point is a stored vector point with its payload.
type Point struct {
	Payload map[string]any `json:"payload"`
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
}

// ScoredPoint is a search result with its similarity score.
type ScoredPoint struct {
	Payload map[string]any `json:"payload"`
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Vector  []float32      `json:"vector,omitempty"`
}

// CollectionDetail describes one collection as reported by the backend.
type CollectionDetail struct {
	Name                string
	Distance            string
	Status              string
	PointsCount         int64
	IndexedVectorsCount int64
	VectorSize          int
}

// FieldSchema configures a payload index for one field.
type FieldSchema struct {
	// Type is the field schema type: "keyword", "integer", "float", "datetime".
	Type string
	// Tenant colocates points sharing this key; keyword fields only.
	Tenant bool
	// Principal marks the primary range field (timestamps).
	Principal bool
	// OnDisk places the index on disk to bound memory use.
	OnDisk bool
	// RangeOnly restricts integer/float indexes to range lookups.
	RangeOnly bool
}

// Filter is a Qdrant filter expression.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition is a single filter clause.
type Condition struct {
	Key   string         `json:"key"`
	Match *MatchValue    `json:"match,omitempty"`
	Range map[string]any `json:"range,omitempty"`
}

// MatchValue is an equality match on a payload field.
type MatchValue struct {
	Value any `json:"value"`
}

// Match appends an equality condition and returns the filter for chaining.
func (f *Filter) Match(key string, value any) *Filter {
	f.Must = append(f.Must, Condition{Key: key, Match: &MatchValue{Value: value}})
	return f
}

// RangeLt appends a less-than range condition.
func (f *Filter) RangeLt(key string, value any) *Filter {
	f.Must = append(f.Must, Condition{Key: key, Range: map[string]any{"lt": value}})
	return f
}

// Empty reports whether the filter carries no conditions.
func (f *Filter) Empty() bool {
	return f == nil || len(f.Must) == 0
}
