package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"wikirag/internal/domain"
)

// VectorSearch returns the topK chunks minimizing cosine distance to
// embedding, joined with their owning page. score = 1 - cosine_distance.
func (s *Postgres) VectorSearch(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.page_id, c.space_key, c.heading_path, c.chunk_index, c.text, c.token_count,
       p.page_id, p.space_key, p.title, p.url, p.body_text, p.version, p.updated_at, p.synced_at,
       1 - (c.embedding <=> $1) AS score
FROM chunks c
JOIN pages p ON p.page_id = c.page_id
WHERE c.embedding IS NOT NULL
ORDER BY c.embedding <=> $1
LIMIT $2`, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var sc domain.ScoredChunk
		var headingPath *string
		if err := rows.Scan(
			&sc.Chunk.ID, &sc.Chunk.PageID, &sc.Chunk.SpaceKey, &headingPath, &sc.Chunk.ChunkIndex, &sc.Chunk.Text, &sc.Chunk.TokenCount,
			&sc.Page.PageID, &sc.Page.SpaceKey, &sc.Page.Title, &sc.Page.URL, &sc.Page.BodyText, &sc.Page.Version, &sc.Page.UpdatedAt, &sc.Page.SyncedAt,
			&sc.Score,
		); err != nil {
			return nil, fmt.Errorf("store: scan search row: %w", err)
		}
		if headingPath != nil {
			sc.Chunk.HeadingPath = *headingPath
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
