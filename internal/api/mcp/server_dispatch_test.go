package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ucw/internal/api/mcp"
)

// dispatch runs one JSON-RPC request through the server and unmarshals the
// response envelope.
func dispatch(t *testing.T, srv *mcp.Server, request string) map[string]interface{} {
	t.Helper()
	resp, err := srv.HandleRequest(context.Background(), []byte(request))
	require.NoError(t, err)
	require.NotNil(t, resp)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(resp, &envelope))
	return envelope
}

func TestHandleRequest_ParseError(t *testing.T) {
	srv, _ := newTestServer(t)
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0", truncated`)

	rpcErr := envelope["error"].(map[string]interface{})
	assert.Equal(t, float64(mcp.ErrCodeParseError), rpcErr["code"])
}

func TestHandleRequest_InvalidVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	envelope := dispatch(t, srv, `{"jsonrpc":"1.0","method":"ping","id":1}`)

	rpcErr := envelope["error"].(map[string]interface{})
	assert.Equal(t, float64(mcp.ErrCodeInvalidRequest), rpcErr["code"])
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"no_such_method","id":1}`)

	rpcErr := envelope["error"].(map[string]interface{})
	assert.Equal(t, float64(mcp.ErrCodeMethodNotFound), rpcErr["code"])
	assert.Contains(t, rpcErr["message"], "no_such_method")
}

func TestHandleRequest_Initialize(t *testing.T) {
	srv, _ := newTestServer(t)
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}},"id":1}`)

	result := envelope["result"].(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	info := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "ucw", info["name"])
}

func TestHandleRequest_PingAndInitialized(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, method := range []string{"ping", "initialized", "notifications/initialized"} {
		envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"`+method+`","id":1}`)
		assert.NotContains(t, envelope, "error", method)
	}
}

func TestHandleRequest_ToolsListNamesAllSeven(t *testing.T) {
	srv, _ := newTestServer(t)
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"tools/list","id":1}`)

	result := envelope["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})
	require.Len(t, tools, 7)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{
		"ucw_capture_stats", "ucw_timeline", "coherence_scan", "coherence_moments",
		"coherence_search", "coherence_status", "detect_emergence",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestHandleRequest_ToolsCallWrapsResult(t *testing.T) {
	srv, store := newTestServer(t)
	seedSession(t, store, "sess_call")

	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"ucw_capture_stats","arguments":{}},"id":1}`)

	result := envelope["result"].(map[string]interface{})
	content := result["content"].([]interface{})
	require.Len(t, content, 1)
	block := content[0].(map[string]interface{})
	assert.Equal(t, "text", block["type"])
	assert.Contains(t, block["text"], `"event_count"`)
	assert.Nil(t, result["isError"])
}

func TestHandleRequest_ToolsCallUnknownToolIsError(t *testing.T) {
	srv, _ := newTestServer(t)
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"no_such_tool","arguments":{}},"id":1}`)

	// Unknown tools come back as isError content, not protocol errors.
	result := envelope["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
}

func TestHandleRequest_ToolFailureIsErrorContent(t *testing.T) {
	srv, _ := newTestServer(t)
	// coherence_search without an embedder fails inside the tool.
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"coherence_search","arguments":{"query":"database design"}},"id":1}`)

	result := envelope["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
	content := result["content"].([]interface{})
	block := content[0].(map[string]interface{})
	assert.Contains(t, block["text"], "embeddings disabled")
}

func TestHandleRequest_InvalidParamsCode(t *testing.T) {
	srv, _ := newTestServer(t)
	// Native method with a type-mismatched param surfaces invalid params.
	envelope := dispatch(t, srv, `{"jsonrpc":"2.0","method":"ucw_timeline","params":{"limit":"not a number"},"id":1}`)

	rpcErr := envelope["error"].(map[string]interface{})
	assert.Equal(t, float64(mcp.ErrCodeInvalidParams), rpcErr["code"])
}

func TestStdioTransport_ServesLineDelimitedRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	in := strings.NewReader(
		`{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"t","version":"0"}},"id":1}` + "\n" +
			`{"jsonrpc":"2.0","method":"tools/list","id":2}` + "\n")
	var out bytes.Buffer

	transport := mcp.NewStdioTransport(srv, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var envelope map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &envelope))
		assert.Contains(t, envelope, "result")
	}
}
