// Package server exposes the published session snapshot and accepts
// playback commands over HTTP. Handlers only ever read snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/telemetryrush/replay/internal/control"
	"github.com/telemetryrush/replay/internal/session"
	"github.com/telemetryrush/replay/internal/util"
	"github.com/telemetryrush/replay/pkg/streaming"
)

const maxControlBody = 4 << 10

// Source provides the latest snapshot.
type Source interface {
	Snapshot() *session.Snapshot
}

// Submitter accepts playback commands.
type Submitter interface {
	Submit(cmd control.Command) bool
}

// Server is the status and control HTTP surface.
type Server struct {
	source    Source
	submitter Submitter
	logger    *slog.Logger
	router    *mux.Router
	http      *http.Server
	listener  net.Listener
}

// New creates a server listening on addr once started.
func New(addr string, source Source, submitter Submitter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source:    source,
		submitter: submitter,
		logger:    logger.With("component", "server"),
		router:    mux.NewRouter(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/vehicles", s.handleVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}", s.handleVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/laps", s.handleVehicleLaps).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/laps/{lap:[0-9]+}", s.handleLap).Methods(http.MethodGet)
	api.HandleFunc("/control", s.handleControl).Methods(http.MethodPost)

	// every response is JSON, including the router's own
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}
	s.listener = ln
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped", "error", err)
		}
	}()
	s.logger.Info("Server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Session   string                  `json:"session"`
	Tick      uint64                  `json:"tick"`
	Elapsed   float64                 `json:"elapsed"`
	Ended     bool                    `json:"ended"`
	Weather   any                     `json:"weather,omitempty"`
	Channels  []session.ChannelStatus `json:"channels"`
	Vehicles  int                     `json:"vehicles"`
	Dropped   uint64                  `json:"dropped"`
	Timestamp string                  `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	resp := healthResponse{
		Status:    "healthy",
		Session:   snap.Session,
		Tick:      snap.Tick,
		Elapsed:   snap.Elapsed,
		Ended:     snap.Ended,
		Channels:  snap.Channels,
		Vehicles:  len(snap.Vehicles),
		Dropped:   snap.Dropped,
		Timestamp: util.FormatTimestamp(snap.Published),
	}
	if snap.Weather != nil {
		resp.Weather = snap.Weather
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles":  snap.Vehicles,
		"count":     len(snap.Vehicles),
		"timestamp": util.FormatTimestamp(snap.Published),
	})
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := s.source.Snapshot().Vehicle(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown vehicle "+id)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVehicleLaps(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events := s.source.Snapshot().Laps.History(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicle_id": id,
		"events":     nonNil(events),
		"count":      len(events),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board := s.source.Snapshot().Leaderboard
	writeJSON(w, http.StatusOK, map[string]any{
		"leaderboard": nonNil(board),
		"count":       len(board),
	})
}

func (s *Server) handleLap(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["lap"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lap number")
		return
	}
	events := s.source.Snapshot().Laps.EventsForLap(n)
	writeJSON(w, http.StatusOK, map[string]any{
		"lap":    n,
		"events": nonNil(events),
		"count":  len(events),
	})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var msg streaming.Control
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command body")
		return
	}
	cmd, err := control.FromMessage(msg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.submitter.Submit(cmd) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_connected",
			"command": cmd.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "command_sent",
		"command": cmd.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// nonNil keeps empty lists rendering as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
