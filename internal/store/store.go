// Package store persists pages, chunks, link edges, and sync state in
// Postgres with a pgvector column for cosine-similarity search.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wikirag/internal/domain"
)

// ErrVersionConflict names the case where the incoming version is not newer
// than the stored one. CommitPage does not return it; it reports
// domain.UpsertSkipped with a nil error instead.
var ErrVersionConflict = errors.New("store: incoming version not newer than stored")

// PageFilter narrows ListPages results.
type PageFilter struct {
	SpaceKey string // empty matches all spaces
}

// Pagination bounds a ListPages call.
type Pagination struct {
	Limit  int
	Offset int
}

// SpaceCount is one row of ListSpacesWithCounts.
type SpaceCount struct {
	SpaceKey   string
	PageCount  int
	LastSynced time.Time
}

// Store is the persistence contract used by the sync orchestrator and the
// retrieval API.
type Store interface {
	// CommitPage performs the Process-Page transaction: version-gated page
	// upsert, outgoing link replace, and chunk replace, committed together
	// or not at all.
	CommitPage(ctx context.Context, page domain.Page, links []domain.PageLink, chunks []domain.Chunk) (domain.UpsertResult, error)

	GetPages(ctx context.Context, ids []string) ([]domain.Page, error)
	ListPages(ctx context.Context, filter PageFilter, page Pagination) ([]domain.Page, error)
	CountPages(ctx context.Context) (int, error)
	ListSpacesWithCounts(ctx context.Context) ([]SpaceCount, error)

	VectorSearch(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredChunk, error)
	LinkedPages(ctx context.Context, seeds []string, limit int) ([]domain.LinkedPage, error)

	GetOrInitSyncState(ctx context.Context) (domain.SyncState, error)
	CommitSyncState(ctx context.Context, state domain.SyncState) error

	// EnsureVectorIndex creates the cosine ivfflat index once chunk count
	// clears minRows; a no-op below that threshold (deferred index
	// creation, see DESIGN.md Open Question 3).
	EnsureVectorIndex(ctx context.Context, minRows int) error

	Ping(ctx context.Context) error
	Close()
}

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)

// Postgres is the production Store backed by pgx and pgvector.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
}

// Open connects to Postgres, bootstraps the schema, and returns a ready
// Store. maxConns mirrors the teacher's pool-sizing defaults
// (MaxConns, MaxConnLifetime, MaxConnIdleTime, pre-ping).
func Open(ctx context.Context, dsn string, maxConns int, dimension int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Postgres{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS pages (
	page_id    TEXT PRIMARY KEY,
	space_key  TEXT NOT NULL,
	title      TEXT NOT NULL,
	url        TEXT NOT NULL,
	body_text  TEXT NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	synced_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id           UUID PRIMARY KEY,
	page_id      TEXT NOT NULL REFERENCES pages(page_id) ON DELETE CASCADE,
	space_key    TEXT NOT NULL,
	heading_path TEXT,
	chunk_index  INT NOT NULL,
	text         TEXT NOT NULL,
	token_count  INT NOT NULL,
	embedding    vector(%[1]d)
);
CREATE INDEX IF NOT EXISTS chunks_page_id_idx ON chunks (page_id);

CREATE TABLE IF NOT EXISTS page_links (
	from_page_id TEXT NOT NULL REFERENCES pages(page_id) ON DELETE CASCADE,
	to_page_id   TEXT,
	to_url       TEXT NOT NULL,
	link_text    TEXT,
	link_type    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS page_links_from_idx ON page_links (from_page_id);
CREATE INDEX IF NOT EXISTS page_links_to_idx ON page_links (to_page_id);

CREATE TABLE IF NOT EXISTS sync_state (
	id               BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	last_run_at      TIMESTAMPTZ,
	last_run_success BOOLEAN NOT NULL DEFAULT TRUE,
	last_error       TEXT,
	pages_synced     BIGINT NOT NULL DEFAULT 0,
	chunks_created   BIGINT NOT NULL DEFAULT 0,
	spaces_synced    BIGINT NOT NULL DEFAULT 0
);
`, s.dimension)
	_, err := s.pool.Exec(ctx, stmt)
	return err
}

// EnsureVectorIndex creates the ivfflat cosine index once the chunk table
// clears minRows rows; it is safe to call repeatedly.
func (s *Postgres) EnsureVectorIndex(ctx context.Context, minRows int) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return fmt.Errorf("store: count chunks: %w", err)
	}
	if count < minRows {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
	END IF;
END
$$;
`)
	return err
}
