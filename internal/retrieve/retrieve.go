// Package retrieve implements the read side of the pipeline: embedding a
// query, searching the vector store, grouping hits by page, fetching page
// bodies, and expanding link neighborhoods.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wikirag/internal/domain"
	"wikirag/internal/embedder"
	"wikirag/internal/store"
)

const (
	snippetMaxChars  = 300
	snippetsPerPage  = 3
	bodyTruncateAt   = 3000
	truncationMarker = "\n\n[... truncated ...]"
)

// Service answers search, page-content, and link-expansion queries against
// the store, using the embedder to turn a query string into a vector.
type Service struct {
	store    store.Store
	embedder embedder.Embedder
}

// New builds a Service from its collaborators.
func New(s store.Store, e embedder.Embedder) *Service {
	return &Service{store: s, embedder: e}
}

// Search embeds query, fetches its topK nearest chunks, drops those scoring
// below minScore, groups the remainder by page (taking each page's maximum
// score), attaches up to three 300-char snippets per page, and returns the
// first maxPages results ordered by descending score.
func (s *Service) Search(ctx context.Context, query string, topK, maxPages int, minScore float64) ([]domain.PageHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed query: %w", err)
	}

	hits, err := s.store.VectorSearch(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: vector search: %w", err)
	}

	type accum struct {
		page     domain.Page
		score    float64
		snippets []string
		count    int
	}
	byPage := make(map[string]*accum)
	var order []string

	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		a, ok := byPage[h.Page.PageID]
		if !ok {
			a = &accum{page: h.Page}
			byPage[h.Page.PageID] = a
			order = append(order, h.Page.PageID)
		}
		a.count++
		if h.Score > a.score {
			a.score = h.Score
		}
		if len(a.snippets) < snippetsPerPage {
			a.snippets = append(a.snippets, snippet(h.Chunk.Text))
		}
	}

	results := make([]domain.PageHit, 0, len(order))
	for _, id := range order {
		a := byPage[id]
		results = append(results, domain.PageHit{
			PageID:     a.page.PageID,
			SpaceKey:   a.page.SpaceKey,
			Title:      a.page.Title,
			URL:        a.page.URL,
			Score:      a.score,
			Snippets:   a.snippets,
			ChunkCount: a.count,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if maxPages > 0 && len(results) > maxPages {
		results = results[:maxPages]
	}
	return results, nil
}

func snippet(text string) string {
	if len(text) <= snippetMaxChars {
		return text
	}
	return text[:snippetMaxChars]
}

// GetPages fetches up to max pages by id, truncating each body at ~3000
// characters with a visible marker when clipped.
func (s *Service) GetPages(ctx context.Context, pageIDs []string, max int) ([]domain.PageContent, error) {
	if max > 0 && len(pageIDs) > max {
		pageIDs = pageIDs[:max]
	}
	pages, err := s.store.GetPages(ctx, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("retrieve: get pages: %w", err)
	}
	out := make([]domain.PageContent, len(pages))
	for i, p := range pages {
		body := p.BodyText
		truncated := false
		if len(body) > bodyTruncateAt {
			body = body[:bodyTruncateAt] + truncationMarker
			truncated = true
		}
		out[i] = domain.PageContent{
			PageID:    p.PageID,
			SpaceKey:  p.SpaceKey,
			Title:     p.Title,
			URL:       p.URL,
			BodyText:  body,
			Truncated: truncated,
		}
	}
	return out, nil
}

// Expand returns distinct internal link targets of the seed pages,
// excluding the seeds themselves.
func (s *Service) Expand(ctx context.Context, pageIDs []string, limit int) ([]domain.LinkedPage, error) {
	linked, err := s.store.LinkedPages(ctx, pageIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: expand: %w", err)
	}
	return linked, nil
}
