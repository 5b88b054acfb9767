package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ucw/pkg/types"
)

func TestParse_Request(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"read_file"}}`)

	m, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, types.StageRequest, m.Stage())
	assert.Equal(t, "tools/call", m.Method)
	assert.Equal(t, "7", m.CorrelationKey())
	assert.True(t, m.HasID())
}

func TestParse_Notification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	m, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, types.StageNotification, m.Stage())
	assert.False(t, m.HasID())
	assert.Empty(t, m.CorrelationKey())
}

func TestParse_ResultResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"abc","result":{"ok":true}}`)

	m, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, types.StageResponse, m.Stage())
	assert.Equal(t, `"abc"`, m.CorrelationKey())
	assert.Empty(t, m.ErrorText())
}

func TestParse_ErrorResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found"}}`)

	m, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, types.StageResponse, m.Stage())
	assert.Equal(t, "Method not found (code -32601)", m.ErrorText())
}

func TestParse_NullResultIsValidResponse(t *testing.T) {
	// result: null is a legal success response and must not be confused with
	// an absent result member.
	raw := []byte(`{"jsonrpc":"2.0","id":1,"result":null}`)

	m, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, types.StageResponse, m.Stage())
}

func TestParse_Malformed(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		wantCode int
	}{
		{"invalid json", `{"jsonrpc":"2.0",`, ErrCodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, ErrCodeInvalidRequest},
		{"missing version", `{"id":1,"method":"ping"}`, ErrCodeInvalidRequest},
		{"neither method nor id", `{"jsonrpc":"2.0","params":{}}`, ErrCodeInvalidRequest},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, ErrCodeInvalidRequest},
		{"neither result nor error", `{"jsonrpc":"2.0","id":1}`, ErrCodeInvalidRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse([]byte(tc.raw))
			require.Error(t, err)
			assert.Nil(t, m)

			var malformed *MalformedMessage
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, tc.wantCode, malformed.Code)
			assert.Equal(t, []byte(tc.raw), malformed.Raw)
		})
	}
}

func TestCorrelationKey_DistinguishesStringFromNumber(t *testing.T) {
	numeric, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	quoted, err := Parse([]byte(`{"jsonrpc":"2.0","id":"1","method":"ping"}`))
	require.NoError(t, err)

	assert.NotEqual(t, numeric.CorrelationKey(), quoted.CorrelationKey())
}
