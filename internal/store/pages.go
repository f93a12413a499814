package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"wikirag/internal/domain"
)

// CommitPage implements the Process-Page transaction: load the stored
// version, skip if the incoming version is not newer, otherwise upsert the
// page and replace its outgoing links and chunk set in one transaction.
func (s *Postgres) CommitPage(ctx context.Context, page domain.Page, links []domain.PageLink, chunks []domain.Chunk) (domain.UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var storedVersion int64
	err = tx.QueryRow(ctx, `SELECT version FROM pages WHERE page_id = $1`, page.PageID).Scan(&storedVersion)
	created := false
	switch {
	case err == pgx.ErrNoRows:
		created = true
	case err != nil:
		return "", fmt.Errorf("store: load stored version: %w", err)
	case page.Version <= storedVersion:
		return domain.UpsertSkipped, nil
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO pages (page_id, space_key, title, url, body_text, version, updated_at, synced_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (page_id) DO UPDATE SET
	space_key = EXCLUDED.space_key, title = EXCLUDED.title, url = EXCLUDED.url,
	body_text = EXCLUDED.body_text, version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at, synced_at = EXCLUDED.synced_at`,
		page.PageID, page.SpaceKey, page.Title, page.URL, page.BodyText,
		page.Version, page.UpdatedAt, page.SyncedAt); err != nil {
		return "", fmt.Errorf("store: upsert page: %w", err)
	}

	if err := replaceLinksTx(ctx, tx, page.PageID, links); err != nil {
		return "", err
	}
	if err := replaceChunksTx(ctx, tx, page.PageID, page.SpaceKey, chunks, s.dimension); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	if created {
		return domain.UpsertCreated, nil
	}
	return domain.UpsertUpdated, nil
}

func (s *Postgres) GetPages(ctx context.Context, ids []string) ([]domain.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT page_id, space_key, title, url, body_text, version, updated_at, synced_at
FROM pages WHERE page_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: get pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func (s *Postgres) ListPages(ctx context.Context, filter PageFilter, pg Pagination) ([]domain.Page, error) {
	var b strings.Builder
	b.WriteString(`SELECT page_id, space_key, title, url, body_text, version, updated_at, synced_at FROM pages`)
	args := []any{}
	if filter.SpaceKey != "" {
		b.WriteString(` WHERE space_key = $1`)
		args = append(args, filter.SpaceKey)
	}
	b.WriteString(fmt.Sprintf(` ORDER BY page_id LIMIT %d OFFSET %d`, limitOrDefault(pg.Limit), pg.Offset))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func scanPages(rows pgx.Rows) ([]domain.Page, error) {
	var pages []domain.Page
	for rows.Next() {
		var p domain.Page
		if err := rows.Scan(&p.PageID, &p.SpaceKey, &p.Title, &p.URL, &p.BodyText, &p.Version, &p.UpdatedAt, &p.SyncedAt); err != nil {
			return nil, fmt.Errorf("store: scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *Postgres) CountPages(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pages`).Scan(&n)
	return n, err
}

func (s *Postgres) ListSpacesWithCounts(ctx context.Context) ([]SpaceCount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT space_key, count(*), max(synced_at)
FROM pages GROUP BY space_key ORDER BY space_key`)
	if err != nil {
		return nil, fmt.Errorf("store: list spaces: %w", err)
	}
	defer rows.Close()
	var out []SpaceCount
	for rows.Next() {
		var sc SpaceCount
		if err := rows.Scan(&sc.SpaceKey, &sc.PageCount, &sc.LastSynced); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func replaceLinksTx(ctx context.Context, tx pgx.Tx, pageID string, links []domain.PageLink) error {
	if _, err := tx.Exec(ctx, `DELETE FROM page_links WHERE from_page_id = $1`, pageID); err != nil {
		return fmt.Errorf("store: delete links: %w", err)
	}
	for _, l := range links {
		var toPageID any
		if l.ToPageID != "" {
			toPageID = l.ToPageID
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO page_links (from_page_id, to_page_id, to_url, link_text, link_type)
VALUES ($1,$2,$3,$4,$5)`, pageID, toPageID, l.ToURL, l.LinkText, string(l.LinkType)); err != nil {
			return fmt.Errorf("store: insert link: %w", err)
		}
	}
	return nil
}

func replaceChunksTx(ctx context.Context, tx pgx.Tx, pageID, spaceKey string, chunks []domain.Chunk, dimension int) error {
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE page_id = $1`, pageID); err != nil {
		return fmt.Errorf("store: delete chunks: %w", err)
	}
	for _, c := range chunks {
		if len(c.Embedding) != 0 && len(c.Embedding) != dimension {
			return fmt.Errorf("store: embedding dimension mismatch: got %d, want %d", len(c.Embedding), dimension)
		}
		var headingPath any
		if c.HeadingPath != "" {
			headingPath = c.HeadingPath
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks (id, page_id, space_key, heading_path, chunk_index, text, token_count, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, pageID, spaceKey, headingPath, c.ChunkIndex, c.Text, c.TokenCount, pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("store: insert chunk: %w", err)
		}
	}
	return nil
}
