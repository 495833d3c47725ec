// Package qdrant provides a REST client for Qdrant-compatible vector stores.
package qdrant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a requested point or collection does not exist.
var ErrNotFound = errors.New("qdrant: not found")

// Config holds configuration for the Qdrant client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client speaks the Qdrant REST API over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a new Qdrant REST client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// BaseURL returns the endpoint this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// do executes one REST call and decodes the envelope into rsp.
func (c *Client) do(ctx context.Context, method, path string, req, rsp any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("api-key", c.apiKey)
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("qdrant http %d: %s", response.StatusCode, string(payload))
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the endpoint is reachable and speaks the expected API.
func (c *Client) Ping(ctx context.Context) error {
	var rsp envelope[json.RawMessage]
	return c.do(ctx, http.MethodGet, "/collections", nil, &rsp)
}

// ListCollections returns the names of all collections.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var rsp envelope[struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}]
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &rsp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rsp.Result.Collections))
	for _, col := range rsp.Result.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// GetCollection returns point counts and vector configuration for a collection.
func (c *Client) GetCollection(ctx context.Context, name string) (*CollectionDetail, error) {
	var rsp envelope[struct {
		Status              string `json:"status"`
		PointsCount         int64  `json:"points_count"`
		IndexedVectorsCount int64  `json:"indexed_vectors_count"`
		Config              struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}]
	path := fmt.Sprintf("/collections/%s", url.PathEscape(name))
	if err := c.do(ctx, http.MethodGet, path, nil, &rsp); err != nil {
		return nil, err
	}
	return &CollectionDetail{
		Name:                name,
		Status:              rsp.Result.Status,
		PointsCount:         rsp.Result.PointsCount,
		IndexedVectorsCount: rsp.Result.IndexedVectorsCount,
		VectorSize:          rsp.Result.Config.Params.Vectors.Size,
		Distance:            rsp.Result.Config.Params.Vectors.Distance,
	}, nil
}

// CollectionExists reports whether the collection is present.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetCollection(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateCollectionOptions configures a new collection.
type CreateCollectionOptions struct {
	Distance          string
	VectorSize        int
	OnDisk            bool
	IndexingThreshold int
	SegmentNumber     int
}

// CreateCollection creates a collection with the given vector parameters.
func (c *Client) CreateCollection(ctx context.Context, name string, opts CreateCollectionOptions) error {
	distance := opts.Distance
	if distance == "" {
		distance = "Cosine"
	}
	req := map[string]any{
		"vectors": map[string]any{
			"size":     opts.VectorSize,
			"distance": distance,
			"on_disk":  opts.OnDisk,
		},
	}
	optimizers := map[string]any{}
	if opts.IndexingThreshold > 0 {
		optimizers["indexing_threshold"] = opts.IndexingThreshold
	}
	if opts.SegmentNumber > 0 {
		optimizers["default_segment_number"] = opts.SegmentNumber
	}
	if len(optimizers) > 0 {
		req["optimizers_config"] = optimizers
	}

	path := fmt.Sprintf("/collections/%s", url.PathEscape(name))
	var rsp envelope[json.RawMessage]
	if err := c.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}
	if !strings.EqualFold(rsp.Status.State, "ok") && rsp.Status.Error != "" {
		return errors.New(rsp.Status.Error)
	}
	return nil
}

// UpdateOptimizers patches the collection's optimizer configuration.
// Used by the complete-rebuild reindex strategy to re-apply current
// thresholds and consolidate segments.
func (c *Client) UpdateOptimizers(ctx context.Context, name string, indexingThreshold, segmentNumber int) error {
	req := map[string]any{
		"optimizers_config": map[string]any{
			"indexing_threshold":     indexingThreshold,
			"default_segment_number": segmentNumber,
		},
	}
	path := fmt.Sprintf("/collections/%s", url.PathEscape(name))
	var rsp envelope[json.RawMessage]
	return c.do(ctx, http.MethodPatch, path, req, &rsp)
}

// CreatePayloadIndex creates (or re-creates) an index on a payload field.
func (c *Client) CreatePayloadIndex(ctx context.Context, collection, field string, schema FieldSchema) error {
	fieldSchema := map[string]any{
		"type": schema.Type,
	}
	switch schema.Type {
	case "keyword":
		if schema.Tenant {
			fieldSchema["is_tenant"] = true
		}
		fieldSchema["on_disk"] = schema.OnDisk
	case "integer", "float", "datetime":
		if schema.Principal {
			fieldSchema["is_principal"] = true
		}
		if schema.RangeOnly {
			fieldSchema["range"] = true
			fieldSchema["lookup"] = false
		}
		fieldSchema["on_disk"] = schema.OnDisk
	}

	req := map[string]any{
		"field_name":   field,
		"field_schema": fieldSchema,
	}
	path := fmt.Sprintf("/collections/%s/index?wait=true", url.PathEscape(collection))
	var rsp envelope[json.RawMessage]
	if err := c.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}
	if !strings.EqualFold(rsp.Status.State, "ok") && rsp.Status.Error != "" {
		return errors.New(rsp.Status.Error)
	}
	return nil
}

// DeletePayloadIndex drops an index on a payload field. Missing indexes are
// not an error; rebuild strategies call this blindly before re-creating.
func (c *Client) DeletePayloadIndex(ctx context.Context, collection, field string) error {
	path := fmt.Sprintf("/collections/%s/index/%s?wait=true", url.PathEscape(collection), url.PathEscape(field))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Upsert writes points into the collection, waiting for durability.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	req := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(collection))
	var rsp envelope[json.RawMessage]
	if err := c.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}
	if !strings.EqualFold(rsp.Status.State, "ok") && rsp.Status.Error != "" {
		return errors.New(rsp.Status.Error)
	}
	return nil
}

// Retrieve fetches a single point by ID, including its payload.
func (c *Client) Retrieve(ctx context.Context, collection, id string) (*Point, error) {
	path := fmt.Sprintf("/collections/%s/points/%s", url.PathEscape(collection), url.PathEscape(id))
	var rsp envelope[Point]
	if err := c.do(ctx, http.MethodGet, path, nil, &rsp); err != nil {
		return nil, err
	}
	if rsp.Result.ID == "" {
		return nil, ErrNotFound
	}
	return &rsp.Result, nil
}

// SearchRequest parameterizes a vector similarity search.
type SearchRequest struct {
	Filter         *Filter
	Vector         []float32
	Limit          int
	ScoreThreshold float64
}

// Search runs a similarity query and returns scored points with payloads.
func (c *Client) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        req.Limit,
		"with_payload": true,
	}
	if !req.Filter.Empty() {
		body["filter"] = req.Filter
	}
	if req.ScoreThreshold > 0 {
		body["score_threshold"] = req.ScoreThreshold
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(collection))
	var rsp envelope[[]ScoredPoint]
	if err := c.do(ctx, http.MethodPost, path, body, &rsp); err != nil {
		return nil, err
	}
	return rsp.Result, nil
}

// Scroll pages through points matching a filter, newest first when orderBy
// names an indexed range field.
func (c *Client) Scroll(ctx context.Context, collection string, filter *Filter, limit int, orderBy string) ([]Point, error) {
	if limit <= 0 {
		limit = 50
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if !filter.Empty() {
		body["filter"] = filter
	}
	if orderBy != "" {
		body["order_by"] = map[string]any{"key": orderBy, "direction": "desc"}
	}

	path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(collection))
	var rsp envelope[struct {
		Points []Point `json:"points"`
	}]
	if err := c.do(ctx, http.MethodPost, path, body, &rsp); err != nil {
		return nil, err
	}
	return rsp.Result.Points, nil
}

// Count returns the number of points matching the filter (all points when
// the filter is empty).
func (c *Client) Count(ctx context.Context, collection string, filter *Filter) (int64, error) {
	body := map[string]any{"exact": true}
	if !filter.Empty() {
		body["filter"] = filter
	}
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(collection))
	var rsp envelope[struct {
		Count int64 `json:"count"`
	}]
	if err := c.do(ctx, http.MethodPost, path, body, &rsp); err != nil {
		return 0, err
	}
	return rsp.Result.Count, nil
}

// DeleteByFilter removes all points matching the filter and returns how many
// matched before deletion. The count is best-effort: concurrent writes
// between count and delete are not reconciled.
func (c *Client) DeleteByFilter(ctx context.Context, collection string, filter *Filter) (int64, error) {
	count, err := c.Count(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	body := map[string]any{"filter": filter}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(collection))
	var rsp envelope[json.RawMessage]
	if err := c.do(ctx, http.MethodPost, path, body, &rsp); err != nil {
		return 0, err
	}
	if !strings.EqualFold(rsp.Status.State, "ok") && rsp.Status.Error != "" {
		return 0, errors.New(rsp.Status.Error)
	}

	log.Debug().Str("collection", collection).Int64("count", count).Msg("Deleted points by filter")
	return count, nil
}
