package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/scrypster/ucw/pkg/types"
)

const defaultMaxFrameBytes = 4 * 1024 * 1024

// InterceptorConfig holds interceptor settings.
type InterceptorConfig struct {
	// Command is the host process to spawn, argv style.
	Command []string

	// MaxFrameBytes bounds a single newline-delimited frame.
	MaxFrameBytes int

	// Stdin and Stdout are the client-facing streams. Default os.Stdin and
	// os.Stdout; overridable for tests.
	Stdin  io.Reader
	Stdout io.Writer
}

// Interceptor sits between a client and a spawned host process, relaying
// every byte unmodified in both directions. Each complete frame is handed to
// the correlator after it has been forwarded, so capture can never stall or
// corrupt the conversation.
type Interceptor struct {
	config     InterceptorConfig
	correlator *Correlator

	// OnEvent, when set, is invoked with each captured event after it has
	// been handed to the sink. Used by the live monitor.
	OnEvent func(*types.CognitiveEvent)
}

// NewInterceptor creates an interceptor over the given correlator.
func NewInterceptor(config InterceptorConfig, correlator *Correlator) (*Interceptor, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("host command is required")
	}
	if correlator == nil {
		return nil, fmt.Errorf("correlator is required")
	}
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = defaultMaxFrameBytes
	}
	if config.Stdin == nil {
		config.Stdin = os.Stdin
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	return &Interceptor{config: config, correlator: correlator}, nil
}

// Run spawns the host process and relays both directions until the client
// closes stdin, the host exits, or the context is cancelled. The session is
// opened before the first byte moves and closed after the host exits.
func (i *Interceptor) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, i.config.Command[0], i.config.Command[1:]...)
	cmd.Stderr = os.Stderr

	hostIn, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open host stdin: %w", err)
	}
	hostOut, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open host stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start host %q: %w", i.config.Command[0], err)
	}
	if err := i.correlator.Start(ctx); err != nil {
		// Keep forwarding even when the session cannot be recorded.
		log.Printf("ERROR: capture disabled for this connection: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Client EOF reaches the host as a closed stdin.
		defer hostIn.Close()
		if err := i.relay(ctx, i.config.Stdin, hostIn, types.DirectionInbound); err != nil {
			log.Printf("ERROR: inbound relay: %v", err)
		}
	}()

	relayErr := i.relay(ctx, hostOut, i.config.Stdout, types.DirectionOutbound)

	waitErr := cmd.Wait()
	wg.Wait()

	if err := i.correlator.Close(context.Background()); err != nil {
		log.Printf("ERROR: %v", err)
	}

	if relayErr != nil {
		return fmt.Errorf("outbound relay: %w", relayErr)
	}
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("host process: %w", waitErr)
	}
	return nil
}

// relay copies frames from src to dst, forwarding each one before capture.
// Returns nil on clean EOF.
func (i *Interceptor) relay(ctx context.Context, src io.Reader, dst io.Writer, direction types.Direction) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), i.config.MaxFrameBytes)
	scanner.Split(scanFrames)

	for scanner.Scan() {
		// The scanner reuses its buffer; the event keeps the frame.
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		if _, err := dst.Write(frame); err != nil {
			return fmt.Errorf("forward failed: %w", err)
		}

		event := i.correlator.Observe(ctx, frame, direction)
		if i.OnEvent != nil {
			i.OnEvent(event)
		}
	}
	return scanner.Err()
}

// scanFrames splits on newlines but keeps the delimiter in the token, so the
// forwarded bytes are exactly the received bytes. A trailing frame with no
// newline is still emitted at EOF.
func scanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if n := bytes.IndexByte(data, '\n'); n >= 0 {
		return n + 1, data[:n+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
