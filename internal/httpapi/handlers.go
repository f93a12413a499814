package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"wikirag/internal/sync"
)

type searchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MaxPages int     `json:"max_pages"`
	MinScore float64 `json:"min_score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = s.defaultMaxPages
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = 0.3
	}

	hits, err := s.retrieve.Search(r.Context(), req.Query, topK, maxPages, minScore)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": hits})
}

type pagesRequest struct {
	PageIDs []string `json:"page_ids"`
	Max     int      `json:"max"`
}

func (s *Server) handleGetPages(w http.ResponseWriter, r *http.Request) {
	var req pagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	max := req.Max
	if max <= 0 {
		max = 5
	}
	pages, err := s.retrieve.GetPages(r.Context(), req.PageIDs, max)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

type expandRequest struct {
	PageIDs []string `json:"page_ids"`
	Limit   int      `json:"limit"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	linked, err := s.retrieve.Expand(r.Context(), req.PageIDs, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pages": linked})
}

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.store.ListSpacesWithCounts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"spaces": spaces})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// A background run must outlive this request; r.Context() is
	// cancelled once the handler returns.
	if err := s.orch.StartIncrementalAsync(context.Background()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sync.ErrSyncInProgress) {
			status = http.StatusConflict
		}
		respondError(w, status, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	wikiOK := s.wiki.Health(r.Context())
	dbOK := s.store.Ping(r.Context()) == nil
	status := http.StatusOK
	if !wikiOK || !dbOK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"wiki_ok": wikiOK, "db_ok": dbOK})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	respondJSON(w, status, map[string]any{"error": msg})
}
