package pushfanout

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/snapshot"
)

func testConfig() config.PushFanOutConfig {
	return config.PushFanOutConfig{
		ListenAddr:        "127.0.0.1:0",
		AllowedOrigins:    []string{"http://allowed.example"},
		KeepaliveEvery:    50 * time.Millisecond,
		ClientSendTimeout: 200 * time.Millisecond,
		ClientBufferLen:   4,
	}
}

func readSSELine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line != "" {
			return line
		}
	}
}

// INV-PUSHFANOUT-001: a connecting client immediately receives the
// cached latest snapshot, then any subsequent broadcast.
func TestStream_SendsLatestThenBroadcast_INV_PUSHFANOUT_001(t *testing.T) {
	snapPath := filepath.Join(t.TempDir(), "now_playing.json")
	require.NoError(t, snapshot.Write(snapPath, snapshot.Snapshot{
		SystemStatus: snapshot.StatusOnline,
		Current:      snapshot.Track{Title: "seed"},
	}))

	srv := New(testConfig(), snapPath)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r := bufio.NewReader(resp.Body)
	line := readSSELine(t, r)
	require.Contains(t, line, "seed")

	require.NoError(t, waitForClient(srv, time.Second))
	srv.hub.Broadcast([]byte(`{"current":{"title":"live"}}`))

	line = readSSELine(t, r)
	require.Contains(t, line, "live")
}

func waitForClient(srv *Server, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if srv.hub.ClientCount() > 0 {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return context.DeadlineExceeded
}

func TestStream_RejectsDisallowedOrigin(t *testing.T) {
	srv := New(testConfig(), filepath.Join(t.TempDir(), "now_playing.json"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStream_AllowsMissingOrigin(t *testing.T) {
	srv := New(testConfig(), filepath.Join(t.TempDir(), "now_playing.json"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// INV-PUSHFANOUT-002: an empty /notify body triggers a re-read of the
// on-disk snapshot rather than broadcasting the (empty) body.
func TestNotify_EmptyBodyRereadsDisk_INV_PUSHFANOUT_002(t *testing.T) {
	snapPath := filepath.Join(t.TempDir(), "now_playing.json")
	require.NoError(t, snapshot.Write(snapPath, snapshot.Snapshot{
		SystemStatus: snapshot.StatusOnline,
		Current:      snapshot.Track{Title: "from-disk"},
	}))

	srv := New(testConfig(), snapPath)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/notify", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Contains(t, string(srv.hub.Latest()), "from-disk")
}

// INV-PUSHFANOUT-003: a /notify body carrying system_status is
// broadcast verbatim, without consulting the on-disk snapshot.
func TestNotify_WithSystemStatusBroadcastsVerbatim_INV_PUSHFANOUT_003(t *testing.T) {
	srv := New(testConfig(), filepath.Join(t.TempDir(), "now_playing.json"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := strings.NewReader(`{"system_status":"restarting","message":"bye"}`)
	resp, err := http.Post(ts.URL+"/notify", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.JSONEq(t, `{"system_status":"restarting","message":"bye"}`, string(srv.hub.Latest()))
}

// INV-PUSHFANOUT-004: Shutdown broadcasts a restarting notice before
// the listener closes.
func TestShutdown_BroadcastsRestarting_INV_PUSHFANOUT_004(t *testing.T) {
	srv := New(testConfig(), filepath.Join(t.TempDir(), "now_playing.json"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	require.Contains(t, string(srv.hub.Latest()), "restarting")
}

// Run must leave no goroutine behind once Shutdown returns.
func TestRunShutdown_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := New(testConfig(), filepath.Join(t.TempDir(), "now_playing.json"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()
	time.Sleep(50 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run() didn't return after Shutdown()")
	}
}
