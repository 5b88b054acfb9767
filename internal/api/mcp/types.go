// Package mcp implements the Model Context Protocol (MCP) server for UCW.
// It exposes JSON-RPC 2.0 tools for inspecting captured events, sessions,
// and coherence analysis over the shared event store.
package mcp

import (
	"github.com/scrypster/ucw/internal/coherence"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// CaptureStatsArgs contains arguments for the ucw_capture_stats tool.
type CaptureStatsArgs struct {
	// SessionID scopes the stats to one session. Empty means all-time.
	SessionID string `json:"session_id,omitempty"`
}

// CaptureStatsResult contains the result of ucw_capture_stats.
type CaptureStatsResult struct {
	Stats *storage.CaptureStats `json:"stats"`
}

// TimelineArgs contains arguments for the ucw_timeline tool.
type TimelineArgs struct {
	SessionID string `json:"session_id,omitempty"` // Restrict to one session
	SinceNS   int64  `json:"since_ns,omitempty"`   // Inclusive lower bound
	UntilNS   int64  `json:"until_ns,omitempty"`   // Exclusive upper bound
	Method    string `json:"method,omitempty"`     // Exact protocol method
	Topic     string `json:"topic,omitempty"`      // Light-layer topic label
	Intent    string `json:"intent,omitempty"`     // Light-layer intent label
	GutSignal string `json:"gut_signal,omitempty"` // Instinct gut signal

	// MinCoherence filters to events at or above this coherence potential.
	MinCoherence float64 `json:"min_coherence,omitempty"`

	Limit      int  `json:"limit,omitempty"`      // Page size (default 50, max 500)
	Page       int  `json:"page,omitempty"`       // 1-indexed page number
	Descending bool `json:"descending,omitempty"` // Newest first when true
}

// TimelineResult contains the result of ucw_timeline.
type TimelineResult struct {
	Events  []types.CognitiveEvent `json:"events"`
	Total   int                    `json:"total"`
	Page    int                    `json:"page"`
	HasMore bool                   `json:"has_more"`
}

// ScanArgs contains arguments for the coherence_scan tool.
type ScanArgs struct {
	SessionID string `json:"session_id,omitempty"`
	SinceNS   int64  `json:"since_ns,omitempty"`
	UntilNS   int64  `json:"until_ns,omitempty"`
}

// MomentsArgs contains arguments for the coherence_moments tool.
type MomentsArgs struct {
	// Threshold is the minimum coherence potential (default 0.7).
	Threshold float64 `json:"threshold,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	SinceNS   int64  `json:"since_ns,omitempty"`
	UntilNS   int64  `json:"until_ns,omitempty"`

	// Group clusters qualifying events that co-occur in time and share
	// topics or concepts.
	Group bool `json:"group,omitempty"`
}

// MomentsResult contains the result of coherence_moments.
type MomentsResult struct {
	Groups []coherence.MomentGroup `json:"groups"`
	Total  int                     `json:"total"`
}

// SearchArgs contains arguments for the coherence_search tool.
type SearchArgs struct {
	Query         string  `json:"query"` // Free text (required)
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
}

// SearchHit pairs an event with its similarity to the query.
type SearchHit struct {
	Event      *types.CognitiveEvent `json:"event"`
	Similarity float64               `json:"similarity"`
}

// SearchResult contains the result of coherence_search.
type SearchResult struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
	Total int         `json:"total"`
}

// DetectEmergenceArgs contains arguments for the detect_emergence tool.
type DetectEmergenceArgs struct {
	SessionID string `json:"session_id,omitempty"`
	SinceNS   int64  `json:"since_ns,omitempty"`
	UntilNS   int64  `json:"until_ns,omitempty"`

	// Multiplier overrides the configured spike multiplier when > 0.
	Multiplier float64 `json:"multiplier,omitempty"`

	// DryRun reports candidate moments without persisting them.
	DryRun bool `json:"dry_run,omitempty"`
}

// DetectEmergenceResult contains the result of detect_emergence.
type DetectEmergenceResult struct {
	Moments   []*types.CoherenceMoment `json:"moments"`
	Total     int                      `json:"total"`
	Persisted bool                     `json:"persisted"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
