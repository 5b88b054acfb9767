package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/ucw/internal/coherence"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// analyticEngine is the subset of coherence.Engine used by the MCP server.
// Using an interface keeps the MCP package loosely coupled and testable.
type analyticEngine interface {
	Scan(ctx context.Context, opts coherence.ScanOptions) (*coherence.ScanResult, error)
	Moments(ctx context.Context, opts coherence.MomentsOptions) ([]coherence.MomentGroup, error)
	Search(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.ScoredEvent, error)
	DetectEmergence(ctx context.Context, opts coherence.EmergenceOptions) ([]*types.CoherenceMoment, error)
	Status(ctx context.Context) (*coherence.StatusReport, error)
}

// Server implements the Model Context Protocol (MCP) for UCW. It provides
// JSON-RPC 2.0 based tools for AI assistants to query the capture log and
// run coherence analysis.
type Server struct {
	store     storage.Store
	analytics analyticEngine
	info      MCPServerInfo
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithServerInfo overrides the name and version reported in the initialize
// response.
func WithServerInfo(info MCPServerInfo) ServerOption {
	return func(s *Server) {
		s.info = info
	}
}

// NewServer creates an MCP server over the event store and analytic engine.
func NewServer(store storage.Store, analytics analyticEngine, opts ...ServerOption) *Server {
	s := &Server{
		store:     store,
		analytics: analytics,
		info:      MCPServerInfo{Name: "ucw", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleRequest processes a single JSON-RPC request and returns the response
// bytes. Protocol-lifecycle methods (initialize, ping, tools/list) never
// touch the store, so a slow or failing backend cannot stall the handshake.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		// Notification — no response body required; return empty object.
		result = map[string]interface{}{}
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers and scripts)
	case "ucw_capture_stats":
		result, err = s.handleCaptureStats(ctx, req.Params)
	case "ucw_timeline":
		result, err = s.handleTimeline(ctx, req.Params)
	case "coherence_scan":
		result, err = s.handleScan(ctx, req.Params)
	case "coherence_moments":
		result, err = s.handleMoments(ctx, req.Params)
	case "coherence_search":
		result, err = s.handleSearch(ctx, req.Params)
	case "coherence_status":
		result, err = s.handleStatus(ctx, req.Params)
	case "detect_emergence":
		result, err = s.handleDetectEmergence(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, errorCode(err), err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// errorCode maps handler errors to JSON-RPC codes: bad input is the caller's
// fault, everything else is a server error.
func errorCode(err error) int {
	if errors.Is(err, storage.ErrInvalidInput) {
		return ErrCodeInvalidParams
	}
	return ErrCodeServerError
}

// CaptureStats returns capture counters for one session or all-time.
func (s *Server) CaptureStats(ctx context.Context, args CaptureStatsArgs) (*CaptureStatsResult, error) {
	stats, err := s.store.Stats(ctx, args.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return &CaptureStatsResult{Stats: stats}, nil
}

// Timeline returns events in chronological order with filters.
func (s *Server) Timeline(ctx context.Context, args TimelineArgs) (*TimelineResult, error) {
	page, err := s.store.Timeline(ctx, storage.TimelineOptions{
		SessionID:    args.SessionID,
		SinceNS:      args.SinceNS,
		UntilNS:      args.UntilNS,
		Method:       args.Method,
		Topic:        args.Topic,
		Intent:       args.Intent,
		GutSignal:    args.GutSignal,
		MinCoherence: args.MinCoherence,
		Page:         args.Page,
		Limit:        args.Limit,
		Descending:   args.Descending,
	})
	if err != nil {
		return nil, fmt.Errorf("timeline query failed: %w", err)
	}
	return &TimelineResult{
		Events:  page.Items,
		Total:   page.Total,
		Page:    page.Page,
		HasMore: page.HasMore,
	}, nil
}

// Scan returns counts grouped by topic, intent, and gut signal.
func (s *Server) Scan(ctx context.Context, args ScanArgs) (*coherence.ScanResult, error) {
	return s.analytics.Scan(ctx, coherence.ScanOptions{
		SessionID: args.SessionID,
		SinceNS:   args.SinceNS,
		UntilNS:   args.UntilNS,
	})
}

// Moments returns high-potential events, optionally grouped.
func (s *Server) Moments(ctx context.Context, args MomentsArgs) (*MomentsResult, error) {
	groups, err := s.analytics.Moments(ctx, coherence.MomentsOptions{
		Threshold: args.Threshold,
		SessionID: args.SessionID,
		SinceNS:   args.SinceNS,
		UntilNS:   args.UntilNS,
		Group:     args.Group,
	})
	if err != nil {
		return nil, err
	}
	return &MomentsResult{Groups: groups, Total: len(groups)}, nil
}

// Search embeds the query and returns events ranked by cosine similarity.
func (s *Server) Search(ctx context.Context, args SearchArgs) (*SearchResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}
	scored, err := s.analytics.Search(ctx, args.Query, storage.SearchOptions{
		Limit:         args.Limit,
		MinSimilarity: args.MinSimilarity,
		SessionID:     args.SessionID,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(scored))
	for n, sc := range scored {
		hits[n] = SearchHit{Event: sc.Event, Similarity: sc.Similarity}
	}
	return &SearchResult{Query: args.Query, Hits: hits, Total: len(hits)}, nil
}

// Status reports engine health counts.
func (s *Server) Status(ctx context.Context) (*coherence.StatusReport, error) {
	return s.analytics.Status(ctx)
}

// DetectEmergence runs spike detection over the window and persists any
// detected moments unless the caller asked for a dry run.
func (s *Server) DetectEmergence(ctx context.Context, args DetectEmergenceArgs) (*DetectEmergenceResult, error) {
	moments, err := s.analytics.DetectEmergence(ctx, coherence.EmergenceOptions{
		SessionID:  args.SessionID,
		SinceNS:    args.SinceNS,
		UntilNS:    args.UntilNS,
		Multiplier: args.Multiplier,
		Persist:    !args.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return &DetectEmergenceResult{
		Moments:   moments,
		Total:     len(moments),
		Persisted: !args.DryRun && len(moments) > 0,
	}, nil
}

// ---------------------------------------------------------------------------
// JSON-RPC handler shims
// ---------------------------------------------------------------------------

func (s *Server) handleCaptureStats(ctx context.Context, params interface{}) (interface{}, error) {
	var args CaptureStatsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.CaptureStats(ctx, args)
}

func (s *Server) handleTimeline(ctx context.Context, params interface{}) (interface{}, error) {
	var args TimelineArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.Timeline(ctx, args)
}

func (s *Server) handleScan(ctx context.Context, params interface{}) (interface{}, error) {
	var args ScanArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.Scan(ctx, args)
}

func (s *Server) handleMoments(ctx context.Context, params interface{}) (interface{}, error) {
	var args MomentsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.Moments(ctx, args)
}

func (s *Server) handleSearch(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.Search(ctx, args)
}

func (s *Server) handleStatus(ctx context.Context, params interface{}) (interface{}, error) {
	return s.Status(ctx)
}

func (s *Server) handleDetectEmergence(ctx context.Context, params interface{}) (interface{}, error) {
	var args DetectEmergenceArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DetectEmergence(ctx, args)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: s.info,
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope. Tool failures come back
// as isError content, not protocol errors, so the client can show them.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "ucw_capture_stats":
		result, handlerErr = s.handleCaptureStats(ctx, rawParams)
	case "ucw_timeline":
		result, handlerErr = s.handleTimeline(ctx, rawParams)
	case "coherence_scan":
		result, handlerErr = s.handleScan(ctx, rawParams)
	case "coherence_moments":
		result, handlerErr = s.handleMoments(ctx, rawParams)
	case "coherence_search":
		result, handlerErr = s.handleSearch(ctx, rawParams)
	case "coherence_status":
		result, handlerErr = s.handleStatus(ctx, rawParams)
	case "detect_emergence":
		result, handlerErr = s.handleDetectEmergence(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	sessionProp := map[string]interface{}{"type": "string", "description": "Restrict to one capture session. Omit for all sessions."}
	sinceProp := map[string]interface{}{"type": "integer", "description": "Inclusive nanosecond lower bound on event timestamps"}
	untilProp := map[string]interface{}{"type": "integer", "description": "Exclusive nanosecond upper bound on event timestamps"}

	return []MCPTool{
		{
			Name:        "ucw_capture_stats",
			Description: "Capture statistics: event, turn, and byte counts, enrichment progress, and topic/intent/gut-signal distributions. Scoped to one session or all-time.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": sessionProp,
				},
			},
		},
		{
			Name:        "ucw_timeline",
			Description: "Chronological event timeline with filters: session, time range, method, topic, intent, gut signal, and minimum coherence potential. Paginated.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id":    sessionProp,
					"since_ns":      sinceProp,
					"until_ns":      untilProp,
					"method":        map[string]interface{}{"type": "string", "description": "Exact protocol method name, e.g. tools/call"},
					"topic":         map[string]interface{}{"type": "string", "description": "Light-layer topic label"},
					"intent":        map[string]interface{}{"type": "string", "description": "Light-layer intent: search, create, analyze, retrieve, execute, unknown"},
					"gut_signal":    map[string]interface{}{"type": "string", "description": "Instinct gut signal: routine, interesting, breakthrough_potential"},
					"min_coherence": map[string]interface{}{"type": "number", "description": "Minimum coherence potential in [0,1]"},
					"limit":         map[string]interface{}{"type": "integer", "description": "Page size (default 50, max 500)"},
					"page":          map[string]interface{}{"type": "integer", "description": "1-indexed page number"},
					"descending":    map[string]interface{}{"type": "boolean", "description": "Newest first when true"},
				},
			},
		},
		{
			Name:        "coherence_scan",
			Description: "Counts grouped by topic, intent, and gut signal over a time window.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": sessionProp,
					"since_ns":   sinceProp,
					"until_ns":   untilProp,
				},
			},
		},
		{
			Name:        "coherence_moments",
			Description: "Events whose coherence potential exceeds a threshold, optionally grouped into moments when they co-occur in time and share topics or concepts.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"threshold":  map[string]interface{}{"type": "number", "description": "Minimum coherence potential (default 0.7)"},
					"session_id": sessionProp,
					"since_ns":   sinceProp,
					"until_ns":   untilProp,
					"group":      map[string]interface{}{"type": "boolean", "description": "Cluster related events into moments"},
				},
			},
		},
		{
			Name:        "coherence_search",
			Description: "Semantic search: embeds the query and returns stored events ranked by cosine similarity, descending. Requires embeddings to be enabled.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query":          map[string]interface{}{"type": "string", "description": "Free-text search query (required)"},
					"limit":          map[string]interface{}{"type": "integer", "description": "Max results (default 10, max 100)"},
					"min_similarity": map[string]interface{}{"type": "number", "description": "Drop results below this cosine similarity in [0,1]"},
					"session_id":     sessionProp,
				},
			},
		},
		{
			Name:        "coherence_status",
			Description: "Engine health: event, session, and moment counts, signal distributions, embedding availability, and enrichment queue depth.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "detect_emergence",
			Description: "Scan a time window for spikes in emergence-indicator density and persist the detected coherence moments. Set dry_run to preview without persisting.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": sessionProp,
					"since_ns":   sinceProp,
					"until_ns":   untilProp,
					"multiplier": map[string]interface{}{"type": "number", "description": "Spike threshold as a multiple of the baseline density (default 2.0)"},
					"dry_run":    map[string]interface{}{"type": "boolean", "description": "Report candidate moments without persisting them"},
				},
			},
		},
	}
}

// unmarshalParams converts the loosely-typed params value into a concrete
// args struct by round-tripping through JSON.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	})
}
