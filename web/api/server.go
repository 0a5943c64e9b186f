// Package api serves run history and report bundles over HTTP: a small
// JSON API for the recorded runs, an SSE stream that fires as report
// artifacts change on disk, and a file server for the raw bundles.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/gastown-tools/gtcycle/internal/domain"
	"github.com/gastown-tools/gtcycle/internal/history"
	"github.com/gastown-tools/gtcycle/internal/watch"
)

// Store is the slice of the history store the API needs.
type Store interface {
	ListRuns(opts history.ListOptions) ([]*domain.Run, error)
	GetRun(id string) (*domain.Run, error)
}

// Server is the report-bundle HTTP server.
type Server struct {
	store      Store
	reportsDir string
	addr       string
	mux        *http.ServeMux
	hub        *hub
	watcher    *watch.Watcher
	log        *zap.Logger
}

func NewServer(store Store, reportsDir, addr string, log *zap.Logger) *Server {
	s := &Server{
		store:      store,
		reportsDir: reportsDir,
		addr:       addr,
		mux:        http.NewServeMux(),
		hub:        newHub(),
		log:        log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())

	// Raw bundles: phase artifacts, run.log, the daemon log.
	s.mux.Handle("/", http.FileServer(http.Dir(s.reportsDir)))
}

// Start runs the server until ctx is cancelled. The SSE hub and the
// report watcher share the same lifetime.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	if err := s.watchReports(ctx); err != nil {
		s.log.Warn(fmt.Sprintf("report watch unavailable: %v", err))
	}

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	s.log.Info("Serving reports on http://" + s.addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the route mux so callers can mount or test the API
// without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast sends an event to all connected SSE clients.
func (s *Server) Broadcast(event Event) {
	s.hub.broadcast <- event
}

// watchReports wires a filesystem watcher over the reports root so
// clients hear about new artifacts as a running cycle writes them.
func (s *Server) watchReports(ctx context.Context) error {
	w, err := watch.New(func(paths []string) {
		rel := make([]string, 0, len(paths))
		for _, p := range paths {
			if r, relErr := filepath.Rel(s.reportsDir, p); relErr == nil {
				rel = append(rel, r)
			}
		}
		s.Broadcast(Event{Type: "reports_changed", Data: rel})
	})
	if err != nil {
		return err
	}
	if err := w.AddDir(s.reportsDir); err != nil {
		w.Stop()
		return err
	}
	s.watcher = w
	go w.Start(ctx)
	return nil
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
