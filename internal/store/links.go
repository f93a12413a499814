package store

import (
	"context"
	"fmt"

	"wikirag/internal/domain"
)

// LinkedPages returns distinct internal link targets of seeds, excluding
// the seeds themselves.
func (s *Postgres) LinkedPages(ctx context.Context, seeds []string, limit int) ([]domain.LinkedPage, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT p.page_id, p.space_key, p.title, p.url
FROM page_links l
JOIN pages p ON p.page_id = l.to_page_id
WHERE l.from_page_id = ANY($1)
  AND l.link_type = 'internal'
  AND l.to_page_id IS NOT NULL
  AND NOT (l.to_page_id = ANY($1))
LIMIT $2`, seeds, limit)
	if err != nil {
		return nil, fmt.Errorf("store: linked pages: %w", err)
	}
	defer rows.Close()

	var out []domain.LinkedPage
	for rows.Next() {
		lp := domain.LinkedPage{LinkType: domain.LinkInternal}
		if err := rows.Scan(&lp.PageID, &lp.SpaceKey, &lp.Title, &lp.URL); err != nil {
			return nil, err
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}
