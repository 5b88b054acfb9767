// transport.go carries JSON-RPC 2.0 between the Server and the MCP host
// over stdio, the same channel ucw-proxy intercepts on the capture side.
//
// Framing rules:
//   - one newline-terminated request per line on stdin
//   - one newline-terminated response per line on stdout
//   - every diagnostic goes to stderr; a stray byte on stdout corrupts the
//     frame stream
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport drives a Server from line-delimited JSON-RPC on an
// io.Reader, writing response frames to an io.Writer. Its logger targets
// stderr so analytic tool traffic never leaks into the frame stream.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport wraps srv for stdio serving:
//
//	t := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "ucw-mcp: ", log.LstdFlags),
	}
}

// Serve handles requests one line at a time until stdin closes or ctx is
// cancelled. Requests are processed in arrival order; the analytic tools
// are read-mostly and gain nothing from transport-level concurrency.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Timeline and search results can run large; match the interceptor's
	// frame ceiling.
	const maxBuf = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, maxBuf), maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, stopping transport")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed, stopping transport")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			// The dispatcher normally answers with a JSON-RPC error frame
			// itself; anything that escapes still has to produce a frame.
			t.logger.Printf("handler error: %v", err)
			resp = t.internalErrorResponse(line, err)
		}

		if err := t.writeResponse(resp); err != nil {
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}

		// A shutdown signal may have landed while the handler was busy
		// with a slow store query.
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, stopping transport")
			return ctx.Err()
		default:
		}
	}
}

// writeResponse emits one response frame with its trailing newline.
func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// internalErrorResponse makes a best-effort error frame for failures the
// dispatcher did not answer, recovering the request ID from the raw bytes
// when possible so the client can still correlate it.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		// Keep the frame stream moving even if marshalling itself broke.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
