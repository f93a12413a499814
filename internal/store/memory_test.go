package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wikirag/internal/domain"
)

func TestCommitPage_VersionMonotonicity(t *testing.T) {
	s := NewMemory(3)
	ctx := context.Background()
	page := domain.Page{PageID: "1", SpaceKey: "ENG", Title: "T", Version: 2}

	res, err := s.CommitPage(ctx, page, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.UpsertCreated, res)

	res, err = s.CommitPage(ctx, page, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.UpsertSkipped, res)

	older := page
	older.Version = 1
	res, err = s.CommitPage(ctx, older, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.UpsertSkipped, res)

	newer := page
	newer.Version = 3
	res, err = s.CommitPage(ctx, newer, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.UpsertUpdated, res)
}

func TestCommitPage_ReplacesChunksAndLinksAtomically(t *testing.T) {
	s := NewMemory(3)
	ctx := context.Background()
	page := domain.Page{PageID: "1", SpaceKey: "ENG", Version: 1}
	chunks := []domain.Chunk{{ID: "a", PageID: "1", ChunkIndex: 0, Text: "old"}}
	_, err := s.CommitPage(ctx, page, nil, chunks)
	require.NoError(t, err)

	page.Version = 2
	newChunks := []domain.Chunk{{ID: "b", PageID: "1", ChunkIndex: 0, Text: "new"}}
	_, err = s.CommitPage(ctx, page, nil, newChunks)
	require.NoError(t, err)

	require.Equal(t, []domain.Chunk{{ID: "b", PageID: "1", ChunkIndex: 0, Text: "new"}}, s.chunks["1"])
}

func TestVectorSearch_OrdersByCosineScore(t *testing.T) {
	s := NewMemory(2)
	ctx := context.Background()
	_, err := s.CommitPage(ctx, domain.Page{PageID: "1", Version: 1, Title: "A"}, nil,
		[]domain.Chunk{{ID: "c1", PageID: "1", Embedding: []float32{1, 0}}})
	require.NoError(t, err)
	_, err = s.CommitPage(ctx, domain.Page{PageID: "2", Version: 1, Title: "B"}, nil,
		[]domain.Chunk{{ID: "c2", PageID: "2", Embedding: []float32{0, 1}}})
	require.NoError(t, err)

	hits, err := s.VectorSearch(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "1", hits[0].Page.PageID)
	require.InDelta(t, 1.0, hits[0].Score, 0.0001)
}

func TestLinkedPages_ExcludesSeeds(t *testing.T) {
	s := NewMemory(2)
	ctx := context.Background()
	_, _ = s.CommitPage(ctx, domain.Page{PageID: "1", Version: 1}, nil, nil)
	_, _ = s.CommitPage(ctx, domain.Page{PageID: "2", Version: 1}, nil, nil)
	_, err := s.CommitPage(ctx, domain.Page{PageID: "1", Version: 2}, []domain.PageLink{
		{FromPageID: "1", ToPageID: "2", LinkType: domain.LinkInternal},
		{FromPageID: "1", ToPageID: "1", LinkType: domain.LinkInternal},
	}, nil)
	require.NoError(t, err)

	linked, err := s.LinkedPages(ctx, []string{"1"}, 10)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	require.Equal(t, "2", linked[0].PageID)
}

func TestSyncState_WatermarkOnlyAdvancesOnSuccess(t *testing.T) {
	s := NewMemory(2)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	require.NoError(t, s.CommitSyncState(ctx, domain.SyncState{LastRunAt: start, LastRunSuccess: true}))

	failed := domain.SyncState{LastRunAt: start, LastRunSuccess: false, LastError: "db unavailable"}
	require.NoError(t, s.CommitSyncState(ctx, failed))

	got, err := s.GetOrInitSyncState(ctx)
	require.NoError(t, err)
	require.False(t, got.LastRunSuccess)
	require.Equal(t, start, got.LastRunAt)
}
