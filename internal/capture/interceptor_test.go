package capture

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/ucw/pkg/types"
)

func newTestInterceptor(t *testing.T, sink Sink) *Interceptor {
	t.Helper()
	c, _ := newTestCorrelator(t, Config{}, sink)
	i, err := NewInterceptor(InterceptorConfig{Command: []string{"unused"}}, c)
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}
	return i
}

func TestRelay_PassthroughByteFidelity(t *testing.T) {
	// Mixed line endings and a trailing frame with no newline must all come
	// out byte-identical, whatever capture does with them.
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call"}` + "\n" +
		`{"jsonrpc":"2.0","id":1,"result":{}}` + "\r\n" +
		`not json at all` + "\n" +
		`{"jsonrpc":"2.0","method":"ping"}` // no trailing newline

	sink := &fakeSink{}
	i := newTestInterceptor(t, sink)

	var out bytes.Buffer
	if err := i.relay(context.Background(), strings.NewReader(input), &out, types.DirectionInbound); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if out.String() != input {
		t.Errorf("forwarded bytes differ from input:\ngot  %q\nwant %q", out.String(), input)
	}
	if got := len(sink.captured()); got != 4 {
		t.Errorf("captured %d events, want 4", got)
	}
}

func TestRelay_CaptureFailureDoesNotStopForwarding(t *testing.T) {
	input := strings.Repeat(`{"jsonrpc":"2.0","method":"ping"}`+"\n", 10)

	sink := &fakeSink{fail: true}
	i := newTestInterceptor(t, sink)

	var out bytes.Buffer
	if err := i.relay(context.Background(), strings.NewReader(input), &out, types.DirectionInbound); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if out.String() != input {
		t.Error("forwarding degraded when the sink failed")
	}
	if got := i.correlator.CaptureLoss(); got != 10 {
		t.Errorf("capture loss = %d, want 10", got)
	}
}

func TestRelay_FrameLargerThanLimitStopsWithError(t *testing.T) {
	sink := &fakeSink{}
	c, _ := newTestCorrelator(t, Config{}, sink)
	i, err := NewInterceptor(InterceptorConfig{Command: []string{"unused"}, MaxFrameBytes: 128}, c)
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}

	input := `{"jsonrpc":"2.0","method":"x","params":"` + strings.Repeat("a", 1024) + `"}` + "\n"
	var out bytes.Buffer
	if err := i.relay(context.Background(), strings.NewReader(input), &out, types.DirectionInbound); err == nil {
		t.Error("oversized frame did not surface an error")
	}
}

func TestInterceptor_RoundTripThroughHost(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	sink := &fakeSink{}
	sessions := &fakeSessions{}
	c, err := NewCorrelator(Config{}, sessions, sink)
	if err != nil {
		t.Fatalf("NewCorrelator: %v", err)
	}
	clientIn, proxyIn := io.Pipe()
	var proxyOut bytes.Buffer
	i, err := NewInterceptor(InterceptorConfig{
		Command: []string{"cat"},
		Stdin:   clientIn,
		Stdout:  &proxyOut,
	}, c)
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- i.Run(context.Background()) }()

	frames := `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n"
	if _, err := io.WriteString(proxyIn, frames); err != nil {
		t.Fatalf("write: %v", err)
	}
	proxyIn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("interceptor did not finish")
	}

	// cat echoes everything, so both directions captured each frame once.
	if proxyOut.String() != frames {
		t.Errorf("host output not forwarded verbatim:\ngot  %q\nwant %q", proxyOut.String(), frames)
	}
	if got := len(sink.captured()); got != 4 {
		t.Errorf("captured %d events, want 4 (2 inbound, 2 outbound)", got)
	}
	if sessions.closed == "" {
		t.Error("session not closed after host exit")
	}
}
