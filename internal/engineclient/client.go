// Package engineclient implements the line-protocol client to the audio
// engine's local control socket (spec §4.2). Each operation dials a
// fresh connection, writes one request line, reads lines until the
// literal sentinel "END", and closes; there is no persistent session.
package engineclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/radioerr"
)

// ErrUnavailable wraps every failure to reach the engine: connection
// refused after the retry budget is exhausted, or a request/operation
// timeout.
var ErrUnavailable = radioerr.Unavailable

// Config configures the client's dial and retry behavior.
type Config struct {
	SocketPath   string
	DialTimeout  time.Duration // per-attempt dial timeout
	OpTimeout    time.Duration // total request/response deadline
	MaxRetryWait time.Duration // bound on cumulative backoff wait (spec: ~2s)
}

func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:   socketPath,
		DialTimeout:  500 * time.Millisecond,
		OpTimeout:    2 * time.Second,
		MaxRetryWait: 2 * time.Second,
	}
}

// Client talks to the audio engine over its Unix domain control socket.
// It holds no persistent connection; cb wraps every operation so that a
// prolonged engine outage fails fast instead of piling up dial attempts.
type Client struct {
	cfg Config
	cb  *gobreaker.CircuitBreaker[string]
	log zerolog.Logger
}

// New constructs a Client. dial is exercised lazily; construction never
// touches the filesystem or the network.
func New(cfg Config) *Client {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "engine-socket",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 4 && counts.TotalFailures == counts.Requests
		},
	})
	return &Client{cfg: cfg, cb: cb, log: log.WithComponent("engineclient")}
}

// do sends a single request line and returns the response lines with the
// END sentinel already stripped, per spec §4.2's contract that a naive
// line count would misreport an empty queue as size 1.
func (c *Client) do(ctx context.Context, reqLine string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	raw, err := c.cb.Execute(func() (string, error) {
		lines, err := c.dialAndExchange(ctx, reqLine)
		if err != nil {
			return "", err
		}
		return strings.Join(lines, "\n"), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: engine circuit open", ErrUnavailable)
		}
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}

func (c *Client) dialAndExchange(ctx context.Context, reqLine string) ([]string, error) {
	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(reqLine + "\n")); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", ErrUnavailable, err)
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "END" {
			return lines, nil
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return nil, fmt.Errorf("%w: connection closed before END sentinel", ErrUnavailable)
}

// dialWithRetry retries connection-refused errors with exponential
// backoff bounded by cfg.MaxRetryWait (spec §4.2: "retry with exponential
// backoff up to a bounded total wait, ≈2 seconds").
func (c *Client) dialWithRetry(ctx context.Context) (net.Conn, error) {
	backoff := 50 * time.Millisecond
	deadline := time.Now().Add(c.cfg.MaxRetryWait)

	var lastErr error
	for {
		dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "unix", c.cfg.SocketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if !isConnRefused(err) {
			return nil, fmt.Errorf("%w: dial engine socket: %v", ErrUnavailable, err)
		}
		if time.Now().Add(backoff).After(deadline) {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: engine socket refused after retries: %v", ErrUnavailable, lastErr)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// QueueLength returns the number of pending entries in the named queue.
func (c *Client) QueueLength(ctx context.Context, queue string) (int, error) {
	lines, err := c.do(ctx, queue+".queue")
	if err != nil {
		return 0, err
	}
	return queueLenFromLines(lines), nil
}

// QueueList returns the request IDs currently queued, in engine order.
func (c *Client) QueueList(ctx context.Context, queue string) ([]string, error) {
	lines, err := c.do(ctx, queue+".queue")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		ids = append(ids, parseQueueLine(l))
	}
	return ids, nil
}

func parseQueueLine(line string) string {
	// Engine queue listing lines are "<rid> <uri>"; the request id is the
	// first whitespace-delimited field.
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		return line[:idx]
	}
	return line
}

// RequestMetadata returns the metadata map the engine holds for rid.
func (c *Client) RequestMetadata(ctx context.Context, rid string) (map[string]string, error) {
	lines, err := c.do(ctx, fmt.Sprintf("request.metadata %s", rid))
	if err != nil {
		return nil, err
	}
	return parseMetadataLines(lines), nil
}

// CurrentMetadata reads the primary mount's <source>.metadata.
func (c *Client) CurrentMetadata(ctx context.Context, source string) (map[string]string, error) {
	lines, err := c.do(ctx, source+".metadata")
	if err != nil {
		return nil, err
	}
	return parseMetadataLines(lines), nil
}

func parseMetadataLines(lines []string) map[string]string {
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		k, v, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Push enqueues the file at path onto queue and returns its assigned
// request id.
func (c *Client) Push(ctx context.Context, queue, path string) (string, error) {
	lines, err := c.do(ctx, fmt.Sprintf("%s.push %s", queue, path))
	if err != nil {
		return "", err
	}
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("%w: engine push returned no request id", ErrUnavailable)
	}
	return strings.TrimSpace(lines[0]), nil
}

// Skip advances the named queue past its current track.
func (c *Client) Skip(ctx context.Context, queue string) error {
	_, err := c.do(ctx, queue+".skip")
	return err
}

// Clear empties the named queue.
func (c *Client) Clear(ctx context.Context, queue string) error {
	_, err := c.do(ctx, queue+".clear")
	return err
}

// queueLenFromLines exists for tests that want to exercise the sentinel
// filtering contract directly without a live socket.
func queueLenFromLines(lines []string) int {
	n := 0
	for _, l := range lines {
		if l != "" {
			n++
		}
	}
	return n
}
