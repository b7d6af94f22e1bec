// Package httpapi serves the operational endpoints: health, status, the
// archived chat log, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/rumble-actor/internal/archive"
	"github.com/you/rumble-actor/internal/core"
)

// Store reads the chat archive; nil disables /count and /messages.
type Store interface {
	Count(ctx context.Context, filters archive.Filters) (int64, error)
	List(ctx context.Context, filters archive.Filters) ([]core.ChatEvent, error)
}

// Status reports live actor state for /status.
type Status interface {
	OutboxDepth() int
	LastSend() time.Time
	Commands() []string
}

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type Options struct {
	Addr  string
	Build BuildInfo
}

type Server struct {
	httpServer *http.Server
	store      Store
	status     Status
	opts       Options
}

func New(store Store, status Status, opts Options) *Server {
	srv := &Server{store: store, status: status, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/count", srv.handleCount)
	mux.HandleFunc("/messages", srv.handleMessages)
	mux.Handle("/metrics", promhttp.Handler())

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version": s.opts.Build.Version,
		"rev":     s.opts.Build.Revision,
		"go":      runtime.Version(),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp["built_at"] = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	if s.status != nil {
		resp["outbox_depth"] = s.status.OutboxDepth()
		if last := s.status.LastSend(); !last.IsZero() {
			resp["last_send"] = last.UTC().Format(time.RFC3339)
		}
		names := s.status.Commands()
		sort.Strings(names)
		resp["commands"] = names
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	count, err := s.store.Count(r.Context(), archive.Filters{})
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": count})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	filters := archive.Filters{Limit: 100}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filters.Limit = n
			if filters.Limit > 1000 {
				filters.Limit = 1000
			}
		}
	}
	filters.Username = r.URL.Query().Get("username")
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Since = &t
		}
	}

	rows, err := s.store.List(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
