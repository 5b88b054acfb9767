// Package protocol parses line-delimited JSON-RPC 2.0 frames on the
// intercepted channel and classifies them as request, response, or
// notification.
//
// The codec never owns the frame: callers keep the raw bytes and store them
// verbatim whether or not parsing succeeds. A parse failure is reported as a
// typed *MalformedMessage carrying the original bytes and the standard
// JSON-RPC error code for the failure class.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/scrypster/ucw/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
)

// RPCError is the error member of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is a parsed JSON-RPC 2.0 frame. ID, Params, and Result are kept as
// raw JSON so the codec stays shape-agnostic about payloads.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// MalformedMessage is returned when a frame cannot be parsed or violates the
// JSON-RPC 2.0 structure. The original bytes are retained so the frame can
// still be captured.
type MalformedMessage struct {
	Raw    []byte
	Code   int    // ErrCodeParseError or ErrCodeInvalidRequest
	Reason string
}

func (e *MalformedMessage) Error() string {
	return fmt.Sprintf("malformed message (code %d): %s", e.Code, e.Reason)
}

var jsonNull = []byte("null")

// HasID reports whether the frame carries a non-null id member.
func (m *Message) HasID() bool {
	return m.ID != nil && !bytes.Equal(bytes.TrimSpace(m.ID), jsonNull)
}

// CorrelationKey returns the id member in its compact JSON form, used as the
// key linking a response back to its request. Per JSON-RPC semantics the
// string id "1" and the number id 1 are distinct keys. Empty when the frame
// has no usable id.
func (m *Message) CorrelationKey() string {
	if !m.HasID() {
		return ""
	}
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, m.ID); err != nil {
		return string(bytes.TrimSpace(m.ID))
	}
	return compact.String()
}

// Stage classifies the frame. Parse guarantees exactly one classification
// holds for any Message it returns.
func (m *Message) Stage() types.Stage {
	if m.Method != "" && m.HasID() {
		return types.StageRequest
	}
	if m.Method != "" {
		return types.StageNotification
	}
	return types.StageResponse
}

// ErrorText returns the response error message, or "" for non-error frames.
func (m *Message) ErrorText() string {
	if m.Error == nil {
		return ""
	}
	return fmt.Sprintf("%s (code %d)", m.Error.Message, m.Error.Code)
}

// Parse decodes and validates a single frame. On failure it returns a nil
// Message and a *MalformedMessage; the caller still captures the raw bytes.
func Parse(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &MalformedMessage{
			Raw:    raw,
			Code:   ErrCodeParseError,
			Reason: err.Error(),
		}
	}

	if m.JSONRPC != "2.0" {
		return nil, &MalformedMessage{
			Raw:    raw,
			Code:   ErrCodeInvalidRequest,
			Reason: fmt.Sprintf("unsupported jsonrpc version %q", m.JSONRPC),
		}
	}

	if m.Method == "" {
		// Without a method this must be a response: an id plus exactly one
		// of result or error.
		if m.ID == nil {
			return nil, &MalformedMessage{
				Raw:    raw,
				Code:   ErrCodeInvalidRequest,
				Reason: "frame has neither method nor id",
			}
		}
		hasResult := m.Result != nil
		hasError := m.Error != nil
		if hasResult == hasError {
			return nil, &MalformedMessage{
				Raw:    raw,
				Code:   ErrCodeInvalidRequest,
				Reason: "response must carry exactly one of result or error",
			}
		}
	}

	return &m, nil
}
