package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/occi-cad/occi-server/internal/batch"
	"github.com/occi-cad/occi-server/internal/catalog"
	"github.com/occi-cad/occi-server/internal/config"
	"github.com/occi-cad/occi-server/internal/dispatch"
	"github.com/occi-cad/occi-server/internal/metrics"
	"github.com/occi-cad/occi-server/internal/search"
)

// Server holds everything the HTTP handlers need: the catalog, dispatcher
// and batch coordinator, a rebuildable search index, admin credentials and
// the publish-job registry, matching the teacher's cieServer grouping
// pattern (one struct, mutex-guarded mutable fields, handler methods).
type Server struct {
	Catalog    *catalog.Catalog
	Dispatcher *dispatch.Dispatcher
	Batch      *batch.Coordinator
	Config     *config.Config
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	searchMu sync.RWMutex
	search   *search.Index

	jobsMu sync.RWMutex
	jobs   map[string]*PublishJob
}

// New constructs a Server and builds its initial search index from the
// catalog's current snapshot.
func New(cat *catalog.Catalog, disp *dispatch.Dispatcher, coord *batch.Coordinator, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Catalog:    cat,
		Dispatcher: disp,
		Batch:      coord,
		Config:     cfg,
		Metrics:    m,
		Logger:     logger,
		jobs:       make(map[string]*PublishJob),
	}
	s.rebuildSearchIndex()
	return s
}

func (s *Server) rebuildSearchIndex() {
	idx := search.Build(s.Catalog.LatestAll())
	s.searchMu.Lock()
	s.search = idx
	s.searchMu.Unlock()
}

func (s *Server) searchIndex() *search.Index {
	s.searchMu.RLock()
	defer s.searchMu.RUnlock()
	return s.search
}

// Mux builds the routed, middleware-wrapped handler for the whole surface
// of spec §6: the catch-all per-script-version router, /search, the admin
// publish endpoints and /metrics via promhttp.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/admin/publish", s.handleAdminPublish)
	mux.HandleFunc("/admin/publish/", s.handleAdminPublishStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleScriptRouter)

	return securityHeadersMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"catalog_root": s.Catalog.Root(),
	})
}

// pathSegments splits a URL path into non-empty, already-unescaped
// segments.
func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully with a 5 second timeout, mirroring the teacher's
// cmd/cie/serve.go signal-driven shutdown (the signal.Notify wiring itself
// lives in cmd/occi-server, which calls Serve with a context it cancels).
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Logger.Info("httpapi.shutting_down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
