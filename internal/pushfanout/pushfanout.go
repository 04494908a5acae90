// Package pushfanout implements the Push Fan-Out service (spec §4.7): a
// loopback SSE server that broadcasts now-playing snapshots to
// listener-facing clients, with a /notify endpoint the rest of the
// daemon uses to trigger a broadcast.
package pushfanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airwaveops/radiod/internal/config"
	"github.com/airwaveops/radiod/internal/log"
	"github.com/airwaveops/radiod/internal/snapshot"
)

const maxNotifyBody = 1 << 20

// Server is the Push Fan-Out HTTP service.
type Server struct {
	hub            *Hub
	allowedOrigins map[string]struct{}
	keepaliveEvery time.Duration
	snapshotPath   string
	httpServer     *http.Server
}

// New constructs a Server. It best-effort seeds the hub's cache from
// whatever snapshot is already on disk, so the first connecting client
// does not see an empty stream while waiting for the next broadcast.
func New(cfg config.PushFanOutConfig, snapshotPath string) *Server {
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = struct{}{}
	}

	hub := newHub(cfg.ClientBufferLen, cfg.ClientSendTimeout)
	if snap, err := snapshot.Read(snapshotPath); err == nil {
		if data, err := json.Marshal(snap); err == nil {
			hub.SetLatest(data)
		}
	}

	s := &Server{
		hub:            hub,
		allowedOrigins: origins,
		keepaliveEvery: cfg.KeepaliveEvery,
		snapshotPath:   snapshotPath,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the routed HTTP handler, exposed separately so tests
// can exercise it with httptest without binding a real port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(log.Middleware())
	r.Get("/api/stream", s.handleStream)
	r.Post("/notify", s.handleNotify)
	return r
}

// Run blocks serving on the configured listen address until the
// listener closes or ListenAndServe returns a non-shutdown error.
func (s *Server) Run() error {
	log.WithComponent("pushfanout").Info().Str("addr", s.httpServer.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown broadcasts a restarting notice to every connected client,
// then closes the listener within ctx's deadline (spec §4.7: "on
// termination, broadcast {system_status: restarting...} before closing
// client connections").
func (s *Server) Shutdown(ctx context.Context) error {
	msg := map[string]string{
		"system_status": "restarting",
		"message":       "radiod is restarting",
	}
	if data, err := json.Marshal(msg); err == nil {
		s.hub.Broadcast(data)
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !s.originAllowed(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.Register()
	defer s.hub.Unregister(ch)

	if latest := s.hub.Latest(); latest != nil {
		writeSSEEvent(w, latest)
		flusher.Flush()
	}

	keepalive := time.NewTicker(s.keepaliveEvery)
	defer keepalive.Stop()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, data []byte) {
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if needsReread(body) {
		snap, err := snapshot.Read(s.snapshotPath)
		if err != nil {
			log.WithComponent("pushfanout").Warn().Err(err).Msg("notify: re-read snapshot failed")
			http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
			return
		}
		data, err := json.Marshal(snap)
		if err != nil {
			http.Error(w, "encode snapshot", http.StatusInternalServerError)
			return
		}
		s.hub.Broadcast(data)
	} else {
		s.hub.Broadcast(body)
	}
	w.WriteHeader(http.StatusNoContent)
}

// needsReread reports whether a /notify body is empty or lacks a
// system_status field, in which case the on-disk snapshot must be
// re-read and broadcast instead of the body itself (spec §4.7).
func needsReread(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return true
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return true
	}
	_, hasStatus := probe["system_status"]
	return !hasStatus
}

func (s *Server) originAllowed(origin string) bool {
	_, ok := s.allowedOrigins[origin]
	return ok
}
