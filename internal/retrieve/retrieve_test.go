package retrieve

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"wikirag/internal/domain"
	"wikirag/internal/embedder"
	"wikirag/internal/store"
)

func seedPage(t *testing.T, s *store.Memory, id, title string, embedding []float32) {
	t.Helper()
	_, err := s.CommitPage(context.Background(), domain.Page{PageID: id, SpaceKey: "ENG", Title: title, Version: 1}, nil,
		[]domain.Chunk{{ID: id + "-c1", PageID: id, Text: "chunk text for " + title, Embedding: embedding}})
	require.NoError(t, err)
}

func TestSearch_DropsBelowMinScoreAndOrdersDescending(t *testing.T) {
	s := store.NewMemory(2)
	seedPage(t, s, "1", "Best", []float32{1, 0})
	seedPage(t, s, "2", "Mid", []float32{0.7, 0.3})
	seedPage(t, s, "3", "Low", []float32{0, 1})

	svc := New(s, embedder.NewDeterministic(2))
	// "up" embeds to [1 0], the "Best" page's embedding direction
	hits, err := svc.Search(context.Background(), "up", 10, 5, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	for _, h := range hits {
		require.GreaterOrEqual(t, h.Score, 0.5)
	}
}

func TestSearch_GroupsByPageTakingMaxScore(t *testing.T) {
	s := store.NewMemory(2)
	_, err := s.CommitPage(context.Background(), domain.Page{PageID: "1", SpaceKey: "ENG", Title: "A", Version: 1}, nil,
		[]domain.Chunk{
			{ID: "c1", PageID: "1", Text: "low relevance chunk", Embedding: []float32{0, 1}},
			{ID: "c2", PageID: "1", Text: "high relevance chunk", Embedding: []float32{1, 0}},
		})
	require.NoError(t, err)

	svc := New(s, embedder.NewDeterministic(2))
	// "up" embeds to [1 0]: c2 scores 1, c1 scores 0
	hits, err := svc.Search(context.Background(), "up", 10, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, 2, hits[0].ChunkCount)
	require.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestSearch_LimitsSnippetsToThreePerPage(t *testing.T) {
	s := store.NewMemory(2)
	chunks := make([]domain.Chunk, 0, 5)
	for i := 0; i < 5; i++ {
		chunks = append(chunks, domain.Chunk{ID: "c" + string(rune('a'+i)), PageID: "1", Text: strings.Repeat("x", 10), Embedding: []float32{1, 0}})
	}
	_, err := s.CommitPage(context.Background(), domain.Page{PageID: "1", SpaceKey: "ENG", Title: "A", Version: 1}, nil, chunks)
	require.NoError(t, err)

	svc := New(s, embedder.NewDeterministic(2))
	hits, err := svc.Search(context.Background(), "x", 10, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.LessOrEqual(t, len(hits[0].Snippets), 3)
	require.Equal(t, 5, hits[0].ChunkCount)
}

func TestSearch_TruncatesSnippetTo300Chars(t *testing.T) {
	s := store.NewMemory(2)
	long := strings.Repeat("word ", 100)
	_, err := s.CommitPage(context.Background(), domain.Page{PageID: "1", SpaceKey: "ENG", Title: "A", Version: 1}, nil,
		[]domain.Chunk{{ID: "c1", PageID: "1", Text: long, Embedding: []float32{1, 0}}})
	require.NoError(t, err)

	svc := New(s, embedder.NewDeterministic(2))
	hits, err := svc.Search(context.Background(), "x", 10, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits[0].Snippets, 1)
	require.LessOrEqual(t, len(hits[0].Snippets[0]), 300)
}

func TestGetPages_TruncatesLongBodyWithMarker(t *testing.T) {
	s := store.NewMemory(2)
	long := strings.Repeat("a", 5000)
	_, err := s.CommitPage(context.Background(), domain.Page{PageID: "1", SpaceKey: "ENG", Title: "A", BodyText: long, Version: 1}, nil, nil)
	require.NoError(t, err)

	svc := New(s, embedder.NewDeterministic(2))
	pages, err := svc.GetPages(context.Background(), []string{"1"}, 5)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.True(t, pages[0].Truncated)
	require.Contains(t, pages[0].BodyText, "truncated")
}

func TestGetPages_NoMarkerWhenUnderLimit(t *testing.T) {
	s := store.NewMemory(2)
	_, err := s.CommitPage(context.Background(), domain.Page{PageID: "1", SpaceKey: "ENG", Title: "A", BodyText: "short body", Version: 1}, nil, nil)
	require.NoError(t, err)

	svc := New(s, embedder.NewDeterministic(2))
	pages, err := svc.GetPages(context.Background(), []string{"1"}, 5)
	require.NoError(t, err)
	require.False(t, pages[0].Truncated)
	require.Equal(t, "short body", pages[0].BodyText)
}

func TestExpand_ExcludesSeeds(t *testing.T) {
	s := store.NewMemory(2)
	ctx := context.Background()
	_, _ = s.CommitPage(ctx, domain.Page{PageID: "1", Version: 1}, nil, nil)
	_, _ = s.CommitPage(ctx, domain.Page{PageID: "2", Version: 1}, nil, nil)
	_, err := s.CommitPage(ctx, domain.Page{PageID: "1", Version: 2}, []domain.PageLink{
		{FromPageID: "1", ToPageID: "2", LinkType: domain.LinkInternal},
	}, nil)
	require.NoError(t, err)

	svc := New(s, embedder.NewDeterministic(2))
	linked, err := svc.Expand(ctx, []string{"1"}, 10)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	require.Equal(t, "2", linked[0].PageID)
}
