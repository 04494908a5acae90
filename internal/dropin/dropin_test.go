package dropin

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airwaveops/radiod/internal/engineclient"
	"github.com/airwaveops/radiod/internal/scheduler"
	"github.com/airwaveops/radiod/internal/store"
)

type fakeEngine struct {
	ln     net.Listener
	pushed chan string
}

func startFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	ln, err := net.Listen("unix", filepath.Join(t.TempDir(), "engine.sock"))
	require.NoError(t, err)
	fe := &fakeEngine{ln: ln, pushed: make(chan string, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				if !scanner.Scan() {
					return
				}
				fe.pushed <- scanner.Text()
				fmt.Fprintf(conn, "req-1\nEND\n")
			}()
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return fe
}

type fakeForceBreaker struct {
	calls chan struct{}
}

func (f *fakeForceBreaker) ForceBreak(ctx context.Context) scheduler.TaskResult {
	f.calls <- struct{}{}
	return scheduler.TaskResult{Status: scheduler.TaskOK}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "radiod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func setupDirs(t *testing.T) (queueDir, processedDir, forceBreakFile string) {
	t.Helper()
	root := t.TempDir()
	queueDir = filepath.Join(root, "drops", "queue")
	processedDir = filepath.Join(root, "drops", "processed")
	forceBreakDir := filepath.Join(root, "drops", "force_break")
	require.NoError(t, os.MkdirAll(queueDir, 0o755))
	require.NoError(t, os.MkdirAll(processedDir, 0o755))
	require.NoError(t, os.MkdirAll(forceBreakDir, 0o755))
	forceBreakFile = filepath.Join(forceBreakDir, "trigger")
	return queueDir, processedDir, forceBreakFile
}

// INV-DROPIN-001: a file dropped into the queue directory is moved into
// the processed directory BEFORE being pushed to the engine — the
// pushed path must already exist under the processed directory by the
// time the engine sees it.
func TestHandleQueueDrop_MovesBeforePushing_INV_DROPIN_001(t *testing.T) {
	queueDir, processedDir, forceBreakFile := setupDirs(t)
	fe := startFakeEngine(t)
	engine := engineclient.New(engineclient.DefaultConfig(fe.ln.Addr().String()))

	w, err := New(queueDir, processedDir, forceBreakFile, testStore(t), engine, &fakeForceBreaker{calls: make(chan struct{}, 1)})
	require.NoError(t, err)
	defer w.watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	dropPath := filepath.Join(queueDir, "override.mp3")
	require.NoError(t, os.WriteFile(dropPath, []byte("audio"), 0o644))

	select {
	case pushedCmd := <-fe.pushed:
		require.Contains(t, pushedCmd, "override.push")
		require.Contains(t, pushedCmd, processedDir)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine push")
	}

	_, err = os.Stat(dropPath)
	require.True(t, os.IsNotExist(err), "source file should have been moved out of queue dir")

	_, err = os.Stat(filepath.Join(processedDir, "override.mp3"))
	require.NoError(t, err, "file should exist in processed dir")
}

// INV-DROPIN-002: creating the force-break trigger file calls
// ForceBreak, and the trigger file itself is left untouched by the
// watcher (only the Play Recorder clears it, on an observed play).
func TestHandleForceBreak_CallsForceBreak_INV_DROPIN_002(t *testing.T) {
	queueDir, processedDir, forceBreakFile := setupDirs(t)
	fb := &fakeForceBreaker{calls: make(chan struct{}, 1)}

	w, err := New(queueDir, processedDir, forceBreakFile, testStore(t), nil, fb)
	require.NoError(t, err)
	defer w.watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(forceBreakFile, []byte("1"), 0o644))

	select {
	case <-fb.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ForceBreak call")
	}

	_, err = os.Stat(forceBreakFile)
	require.NoError(t, err, "watcher must not clear the trigger file itself")
}

// INV-DROPIN-003: a single touch of the force-break trigger (which
// typically fires both a Create and a Write fsnotify event, and may be
// followed by further touches before the armed break has played) must
// arm at most one break. Only clearing the armed flag — as the Play
// Recorder does on an observed play — allows another to be armed.
func TestHandleForceBreak_RepeatedTouchesArmExactlyOnce_INV_DROPIN_003(t *testing.T) {
	queueDir, processedDir, forceBreakFile := setupDirs(t)
	fb := &fakeForceBreaker{calls: make(chan struct{}, 8)}
	st := testStore(t)

	w, err := New(queueDir, processedDir, forceBreakFile, st, nil, fb)
	require.NoError(t, err)
	defer w.watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Simulate a touch (Create) followed by several more writes before
	// the armed break has had a chance to play.
	require.NoError(t, os.WriteFile(forceBreakFile, []byte("1"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(forceBreakFile, []byte("1"), 0o644))
	}

	select {
	case <-fb.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ForceBreak call")
	}

	// Give any erroneous duplicate calls a chance to arrive.
	select {
	case <-fb.calls:
		t.Fatal("force break armed more than once for one pending trigger")
	case <-time.After(200 * time.Millisecond):
	}

	// Once the armed flag is cleared (as the Play Recorder would on an
	// observed play), a fresh touch arms a new break.
	require.NoError(t, st.DeleteState(store.ForceBreakArmedKey))
	require.NoError(t, os.WriteFile(forceBreakFile, []byte("1"), 0o644))

	select {
	case <-fb.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second ForceBreak call after flag clear")
	}
}

func TestNew_ErrorsOnMissingQueueDir(t *testing.T) {
	root := t.TempDir()
	missingQueue := filepath.Join(root, "nope")
	forceBreakFile := filepath.Join(root, "force_break", "trigger")
	require.NoError(t, os.MkdirAll(filepath.Dir(forceBreakFile), 0o755))

	_, err := New(missingQueue, filepath.Join(root, "processed"), forceBreakFile, testStore(t), nil, nil)
	require.Error(t, err)
}
