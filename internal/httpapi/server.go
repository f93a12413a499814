// Package httpapi exposes the retrieval API, space listing, an on-demand
// sync trigger, and a health check over HTTP.
package httpapi

import (
	"net/http"

	"wikirag/internal/retrieve"
	"wikirag/internal/store"
	"wikirag/internal/sync"
	"wikirag/internal/wiki"
)

// Server wires the retrieval service, sync orchestrator, store, and wiki
// client behind an http.ServeMux. Sync concurrency is guarded by the
// Orchestrator itself (sync.ErrSyncInProgress), not by the Server, since
// the background scheduler calls the same Orchestrator directly.
type Server struct {
	retrieve *retrieve.Service
	orch     *sync.Orchestrator
	store    store.Store
	wiki     wiki.Client
	mux      *http.ServeMux

	defaultTopK     int
	defaultMaxPages int
}

// Config bounds the search defaults applied when a request omits them.
type Config struct {
	DefaultTopK     int
	DefaultMaxPages int
}

// NewServer builds an http.Handler for the pipeline's query-side surface.
func NewServer(r *retrieve.Service, orch *sync.Orchestrator, st store.Store, w wiki.Client, cfg Config) *Server {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 30
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 12
	}
	s := &Server{
		retrieve:        r,
		orch:            orch,
		store:           st,
		wiki:            w,
		mux:             http.NewServeMux(),
		defaultTopK:     cfg.DefaultTopK,
		defaultMaxPages: cfg.DefaultMaxPages,
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/v1/pages", s.handleGetPages)
	s.mux.HandleFunc("POST /api/v1/expand", s.handleExpand)
	s.mux.HandleFunc("GET /api/v1/spaces", s.handleListSpaces)
	s.mux.HandleFunc("POST /api/v1/sync", s.handleSync)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}
