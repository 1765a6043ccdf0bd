// Package statusapi exposes the run's health, counters, and recent
// matches over a small HTTP API for dashboards and scripted checks.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/0xdap/certsquat/pkg/types"
)

// MatchReader reads recent matches back out of storage.
type MatchReader interface {
	Recent(since time.Time) ([]types.MatchEvent, error)
}

// Server answers /healthz, /metrics, and /matches/recent. The health
// and metrics callbacks decouple it from the pipeline internals; the
// reader is optional and /matches/recent 404s without one.
type Server struct {
	addr    string
	health  func() string
	metrics func() map[string]any
	reader  MatchReader
	logger  *slog.Logger
	start   time.Time

	httpServer *http.Server
	boundAddr  string
}

// New builds a status server on addr. health reports the matcher
// lifecycle state; metrics snapshots the pipeline counters.
func New(addr string, health func() string, metrics func() map[string]any, reader MatchReader, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		health:  health,
		metrics: metrics,
		reader:  reader,
		logger:  logger,
		start:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/matches/recent", s.handleRecent)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving in the background, so
// an unusable address surfaces immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status api listen on %s: %w", s.addr, err)
	}
	s.boundAddr = ln.Addr().String()
	s.logger.Info("status api listening", "addr", s.boundAddr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("status api stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.boundAddr
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.health()
	w.Header().Set("Content-Type", "application/json")
	if state != "running" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         state,
		"uptime_seconds": int(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.metrics())
}

// handleRecent serves matches from the last N minutes:
// /matches/recent?minutes=5
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		http.Error(w, "no match database configured", http.StatusNotFound)
		return
	}

	minStr := r.URL.Query().Get("minutes")
	if minStr == "" {
		minStr = "60"
	}
	minutes, err := time.ParseDuration(minStr + "m")
	if err != nil || minutes <= 0 {
		http.Error(w, "bad minutes value", http.StatusBadRequest)
		return
	}

	matches, err := s.reader.Recent(time.Now().Add(-minutes))
	if err != nil {
		s.logger.Warn("recent matches query failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":   len(matches),
		"matches": matches,
	})
}
