// Package mcp provides the MCP (Model Context Protocol) server for toolvault.
package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/search"
	"github.com/tobyh/toolvault/internal/store"
	"github.com/tobyh/toolvault/pkg/models"
)

// Server exposes the tool-response store over stdio JSON-RPC.
type Server struct {
	stdin     io.Reader
	stdout    io.Writer
	conn      *connection.Manager
	storeMgr  *store.Manager
	searchMgr *search.Manager
	version   string
}

// NewServer creates a new MCP server.
func NewServer(conn *connection.Manager, storeMgr *store.Manager, searchMgr *search.Manager, version string) *Server {
	return &Server{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		conn:      conn,
		storeMgr:  storeMgr,
		searchMgr: searchMgr,
		version:   version,
	}
}

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	JSONRPC string `json:"jsonrpc"`
}

// Error represents a JSON-RPC error.
type Error struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ToolCallParams represents parameters for tools/call method.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool represents an MCP tool definition.
type Tool struct {
	InputSchema map[string]any `json:"inputSchema"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

// Run starts the MCP server loop.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		resp := s.handleRequest(ctx, &req)
		s.sendResponse(resp)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    -32601,
				Message: "Method not found",
			},
		}
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "toolvault",
				"version": s.version,
			},
		},
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	tools := []Tool{
		{
			Name:        "semantic_search",
			Description: "Search stored tool responses. Supports id:<uuid> lookups, field filters (tool:, user:, session:, service:) mixed with free text, and plain semantic queries. Empty query returns recent records.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]any{
					"query":      map[string]any{"type": "string", "description": "Query string, e.g. 'tool:gmail_search user:alice meeting notes'"},
					"limit":      map[string]any{"type": "number", "default": 10, "minimum": 1, "maximum": 100},
					"collection": map[string]any{"type": "string", "description": "Collection override; defaults to the configured collection"},
				},
			},
		},
		{
			Name:        "get_record",
			Description: "Fetch one stored tool response by ID with its payload decompressed.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"id"},
				"properties": map[string]any{
					"id":         map[string]any{"type": "string", "description": "Record UUID"},
					"collection": map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "store_status",
			Description: "Report connection state, ingest counters and search metrics of the semantic store.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "list_collections",
			Description: "List collections in the vector store with their point and index counts.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "usage_analytics",
			Description: "Aggregate per-tool and per-user usage over a sample of recent records.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "trigger_reindex",
			Description: "Run a collection health check and reindex if needed. With strategy 'complete_rebuild' the health gate is bypassed.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"strategy": map[string]any{"type": "string", "enum": []string{"standard", "complete_rebuild", "optimize"}},
				},
			},
		},
		{
			Name:        "cleanup",
			Description: "Delete records older than the configured retention period.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"older_than_days": map[string]any{"type": "number", "minimum": 1, "description": "Override the configured retention"},
				},
			},
		},
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"tools": tools,
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    -32602,
				Message: "Invalid params",
				Data:    err.Error(),
			},
		}
	}

	result, err := s.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    -32000,
				Message: "Tool error",
				Data:    err.Error(),
			},
		}
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": result,
				},
			},
		},
	}
}

// callTool dispatches to the appropriate tool handler. Every handler
// returns its result serialized as JSON text.
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "semantic_search":
		return s.handleSearch(ctx, args)
	case "get_record":
		return s.handleGetRecord(ctx, args)
	case "store_status":
		return marshalResult(map[string]any{
			"connection": s.conn.Status(),
			"ingest":     s.storeMgr.Stats(),
			"search":     s.searchMgr.Metrics().Snapshot(),
		})
	case "list_collections":
		return s.handleListCollections(ctx)
	case "usage_analytics":
		analytics, err := s.searchMgr.Analytics(ctx)
		if err != nil {
			return "", err
		}
		return marshalResult(analytics)
	case "trigger_reindex":
		return s.handleReindex(ctx, args)
	case "cleanup":
		return s.handleCleanup(ctx, args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) handleSearch(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query      string `json:"query"`
		Collection string `json:"collection"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := s.searchMgr.Search(ctx, params.Query, params.Limit, params.Collection)
	if err != nil {
		return "", err
	}
	return marshalResult(result)
}

func (s *Server) handleGetRecord(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ID         string `json:"id"`
		Collection string `json:"collection"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if params.ID == "" {
		return "", fmt.Errorf("id is required")
	}
	if params.Collection == "" {
		params.Collection = s.storeMgr.Collection()
	}

	record, found, err := s.searchMgr.FetchFrom(ctx, params.Collection, params.ID)
	if err != nil {
		return "", err
	}
	if !found {
		return marshalResult(map[string]any{"found": false, "id": params.ID})
	}
	return marshalResult(record)
}

func (s *Server) handleListCollections(ctx context.Context) (string, error) {
	infos, err := s.storeMgr.CollectionInfos(ctx)
	if errors.Is(err, connection.ErrDisabled) {
		return marshalResult(map[string]any{"enabled": false, "collections": []models.CollectionInfo{}})
	}
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"enabled": true, "collections": infos})
}

func (s *Server) handleReindex(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Strategy string `json:"strategy"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	snapshot, err := s.storeMgr.AnalyzeHealth(ctx)
	if err != nil {
		return "", err
	}

	strategy := params.Strategy
	if strategy == "" {
		strategy = s.storeMgr.ChooseStrategy(snapshot, false)
	}
	if err := s.storeMgr.Reindex(ctx, strategy); err != nil {
		return "", err
	}
	return marshalResult(map[string]any{
		"strategy": strategy,
		"health":   snapshot,
	})
}

func (s *Server) handleCleanup(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	days := params.OlderThanDays
	if days <= 0 {
		days = config.Get().RetentionDays
	}

	removed, err := s.storeMgr.Cleanup(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{
		"removed":         removed,
		"older_than_days": days,
	})
}

func marshalResult(v any) (string, error) {
	output, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(output), nil
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		return
	}
	fmt.Fprintln(s.stdout, string(data))
}

// sendError sends a JSON-RPC error response.
func (s *Server) sendError(id any, code int, message string, data any) {
	s.sendResponse(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
