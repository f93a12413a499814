package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"wikirag/internal/domain"
)

// Memory is an in-process Store used by unit tests so internal/sync and
// internal/retrieve can be exercised without a live Postgres instance.
type Memory struct {
	mu        sync.Mutex
	dimension int
	pages     map[string]domain.Page
	links     map[string][]domain.PageLink // by from_page_id
	chunks    map[string][]domain.Chunk    // by page_id
	syncState domain.SyncState
	hasState  bool
}

// NewMemory builds an empty Memory store.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		pages:     make(map[string]domain.Page),
		links:     make(map[string][]domain.PageLink),
		chunks:    make(map[string][]domain.Chunk),
	}
}

func (m *Memory) Close()                             {}
func (m *Memory) Ping(_ context.Context) error        { return nil }
func (m *Memory) EnsureVectorIndex(_ context.Context, _ int) error { return nil }

func (m *Memory) CommitPage(_ context.Context, page domain.Page, links []domain.PageLink, chunks []domain.Chunk) (domain.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.pages[page.PageID]
	if ok && page.Version <= stored.Version {
		return domain.UpsertSkipped, nil
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != 0 && len(chunks[i].Embedding) != m.dimension {
			return "", errDimensionMismatch(len(chunks[i].Embedding), m.dimension)
		}
	}

	m.pages[page.PageID] = page
	m.links[page.PageID] = append([]domain.PageLink(nil), links...)
	m.chunks[page.PageID] = append([]domain.Chunk(nil), chunks...)

	if ok {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertCreated, nil
}

func (m *Memory) GetPages(_ context.Context, ids []string) ([]domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Page
	for _, id := range ids {
		if p, ok := m.pages[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListPages(_ context.Context, filter PageFilter, pg Pagination) ([]domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Page
	for _, p := range m.pages {
		if filter.SpaceKey != "" && p.SpaceKey != filter.SpaceKey {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PageID < all[j].PageID })
	limit := limitOrDefault(pg.Limit)
	start := pg.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *Memory) CountPages(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages), nil
}

func (m *Memory) ListSpacesWithCounts(_ context.Context) ([]SpaceCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	latest := map[string]domain.Page{}
	for _, p := range m.pages {
		counts[p.SpaceKey]++
		if p.SyncedAt.After(latest[p.SpaceKey].SyncedAt) {
			latest[p.SpaceKey] = p
		}
	}
	var out []SpaceCount
	for k, c := range counts {
		out = append(out, SpaceCount{SpaceKey: k, PageCount: c, LastSynced: latest[k].SyncedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpaceKey < out[j].SpaceKey })
	return out, nil
}

func (m *Memory) VectorSearch(_ context.Context, embedding []float32, topK int) ([]domain.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.ScoredChunk
	for pageID, chunks := range m.chunks {
		page := m.pages[pageID]
		for _, c := range chunks {
			if len(c.Embedding) == 0 {
				continue
			}
			all = append(all, domain.ScoredChunk{Chunk: c, Page: page, Score: cosineScore(embedding, c.Embedding)})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

func cosineScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return cos // 1 - cosine_distance == cosine_similarity
}

func (m *Memory) LinkedPages(_ context.Context, seeds []string, limit int) ([]domain.LinkedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seedSet := map[string]bool{}
	for _, s := range seeds {
		seedSet[s] = true
	}
	seen := map[string]bool{}
	var out []domain.LinkedPage
	for _, s := range seeds {
		for _, l := range m.links[s] {
			if l.LinkType != domain.LinkInternal || l.ToPageID == "" {
				continue
			}
			if seedSet[l.ToPageID] || seen[l.ToPageID] {
				continue
			}
			p, ok := m.pages[l.ToPageID]
			if !ok {
				continue
			}
			seen[l.ToPageID] = true
			out = append(out, domain.LinkedPage{PageID: p.PageID, SpaceKey: p.SpaceKey, Title: p.Title, URL: p.URL, LinkType: domain.LinkInternal})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (m *Memory) GetOrInitSyncState(_ context.Context) (domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasState {
		m.syncState = domain.SyncState{LastRunSuccess: true}
		m.hasState = true
	}
	return m.syncState, nil
}

func (m *Memory) CommitSyncState(_ context.Context, state domain.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncState = state
	m.hasState = true
	return nil
}

type dimensionMismatchError struct {
	got, want int
}

func (e *dimensionMismatchError) Error() string {
	return "store: embedding dimension mismatch"
}

func errDimensionMismatch(got, want int) error {
	return &dimensionMismatchError{got: got, want: want}
}
