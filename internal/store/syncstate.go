package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wikirag/internal/domain"
)

// GetOrInitSyncState returns the singleton sync watermark, creating a
// fresh zero-value record on first use.
func (s *Postgres) GetOrInitSyncState(ctx context.Context) (domain.SyncState, error) {
	var st domain.SyncState
	var lastRunAt *time.Time
	var lastErr *string
	row := s.pool.QueryRow(ctx, `
SELECT last_run_at, last_run_success, last_error, pages_synced, chunks_created, spaces_synced
FROM sync_state WHERE id = TRUE`)
	err := row.Scan(&lastRunAt, &st.LastRunSuccess, &lastErr, &st.PagesSynced, &st.ChunksCreated, &st.SpacesSynced)
	if err == pgx.ErrNoRows {
		if _, ierr := s.pool.Exec(ctx, `INSERT INTO sync_state (id, last_run_success) VALUES (TRUE, TRUE)`); ierr != nil {
			return domain.SyncState{}, fmt.Errorf("store: init sync state: %w", ierr)
		}
		return domain.SyncState{LastRunSuccess: true}, nil
	}
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("store: load sync state: %w", err)
	}
	if lastRunAt != nil {
		st.LastRunAt = *lastRunAt
	}
	if lastErr != nil {
		st.LastError = *lastErr
	}
	return st, nil
}

// CommitSyncState persists the watermark after a run. last_run_at only
// advances when the caller passes a run that actually succeeded; callers
// are responsible for leaving state.LastRunAt unchanged on failure.
func (s *Postgres) CommitSyncState(ctx context.Context, state domain.SyncState) error {
	var lastErr any
	if state.LastError != "" {
		lastErr = state.LastError
	}
	var lastRunAt any
	if !state.LastRunAt.IsZero() {
		lastRunAt = state.LastRunAt
	}
	_, err := s.pool.Exec(ctx, `
UPDATE sync_state SET
	last_run_at = $1, last_run_success = $2, last_error = $3,
	pages_synced = $4, chunks_created = $5, spaces_synced = $6
WHERE id = TRUE`,
		lastRunAt, state.LastRunSuccess, lastErr,
		state.PagesSynced, state.ChunksCreated, state.SpacesSynced)
	if err != nil {
		return fmt.Errorf("store: commit sync state: %w", err)
	}
	return nil
}
