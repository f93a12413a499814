// Package sync orchestrates full and incremental ingestion runs: pulling
// pages from the wiki client, normalizing and chunking them, embedding
// chunks, and committing everything to the store under the Process-Page
// transaction.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"wikirag/internal/chunker"
	"wikirag/internal/domain"
	"wikirag/internal/embedder"
	"wikirag/internal/logging"
	"wikirag/internal/normalize"
	"wikirag/internal/store"
	"wikirag/internal/wiki"
)

// ErrNoPriorRun names the case where RunIncremental has no watermark to
// work from. RunIncremental does not return it; it delegates to a full run.
var ErrNoPriorRun = errors.New("sync: no prior run")

// ErrSyncInProgress is returned by RunFull/RunIncremental when a sync is
// already running on this Orchestrator. The orchestrator is not safe for
// concurrent runs against the same store; the background scheduler and
// the on-demand HTTP trigger both call through here, so the guard lives
// on the Orchestrator itself rather than being duplicated per caller.
var ErrSyncInProgress = errors.New("sync: already in progress")

// Clock is overridable so tests can control the run-start timestamp used
// as the next watermark.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Orchestrator runs full and incremental syncs against a wiki client,
// normalizer, chunker, embedder, and store.
type Orchestrator struct {
	wiki     wiki.Client
	store    store.Store
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	clock    Clock
	log      *logrus.Logger
	baseURL  string
	syncing  atomic.Bool

	preserveHeadings bool
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithClock overrides the clock used to stamp the next watermark.
func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// New builds an Orchestrator from its collaborators. baseURL is the wiki's
// base URL, used to resolve relative links during extraction.
func New(w wiki.Client, s store.Store, c *chunker.Chunker, e embedder.Embedder, baseURL string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		wiki:             w,
		store:            s,
		chunker:          c,
		embedder:         e,
		clock:            systemClock{},
		log:              logging.Log,
		baseURL:          baseURL,
		preserveHeadings: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunFull enumerates all active spaces and all pages within them, running
// Process-Page for each. A per-space failure does not abort other spaces.
// It returns ErrSyncInProgress if a sync is already running.
func (o *Orchestrator) RunFull(ctx context.Context) (domain.SyncStats, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return domain.SyncStats{}, ErrSyncInProgress
	}
	defer o.syncing.Store(false)
	return o.runFull(ctx)
}

func (o *Orchestrator) runFull(ctx context.Context) (domain.SyncStats, error) {
	started := o.clock.Now()
	stats := domain.SyncStats{StartedAt: started}

	for space, err := range o.wiki.ListSpaces(ctx) {
		if err != nil {
			stats.Errors = append(stats.Errors, domain.PageError{Err: fmt.Sprintf("list spaces: %v", err)})
			return o.finishFatal(ctx, stats, err)
		}
		stats.SpacesSynced++
		if serr := o.syncSpace(ctx, space.Key, nil, &stats); serr != nil {
			o.log.WithError(serr).WithField("space_key", space.Key).Warn("space sync failed, continuing")
			stats.Errors = append(stats.Errors, domain.PageError{Err: fmt.Sprintf("space %s: %v", space.Key, serr)})
		}
	}
	return o.finishSuccess(ctx, stats, started)
}

// RunIncremental enumerates pages modified since the last successful run's
// start time. If there is no prior run, it delegates to RunFull. It
// returns ErrSyncInProgress if a sync is already running.
func (o *Orchestrator) RunIncremental(ctx context.Context) (domain.SyncStats, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return domain.SyncStats{}, ErrSyncInProgress
	}
	defer o.syncing.Store(false)
	return o.runIncremental(ctx)
}

// StartIncrementalAsync launches an incremental sync in the background
// and returns immediately, for callers (the on-demand HTTP trigger) that
// must not block the request on a full sync run. It returns
// ErrSyncInProgress without launching anything if one is already running.
func (o *Orchestrator) StartIncrementalAsync(ctx context.Context) error {
	if !o.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	go func() {
		defer o.syncing.Store(false)
		stats, err := o.runIncremental(ctx)
		log := o.log.WithField("pages_synced", stats.PagesSynced).WithField("pages_skipped", stats.PagesSkipped)
		if err != nil {
			log.WithError(err).Error("on-demand incremental sync failed")
			return
		}
		log.Info("on-demand incremental sync completed")
	}()
	return nil
}

func (o *Orchestrator) runIncremental(ctx context.Context) (domain.SyncStats, error) {
	prior, err := o.store.GetOrInitSyncState(ctx)
	if err != nil {
		return domain.SyncStats{}, fmt.Errorf("sync: load watermark: %w", err)
	}
	if prior.LastRunAt.IsZero() {
		return o.runFull(ctx)
	}

	started := o.clock.Now()
	stats := domain.SyncStats{StartedAt: started}

	for page, err := range o.wiki.ListUpdatedPages(ctx, prior.LastRunAt) {
		if err != nil {
			return o.finishFatal(ctx, stats, err)
		}
		if perr := o.processPage(ctx, page, &stats); perr != nil {
			o.recordPageError(&stats, page.PageID, perr)
		}
	}
	return o.finishSuccess(ctx, stats, started)
}

func (o *Orchestrator) syncSpace(ctx context.Context, spaceKey string, since *time.Time, stats *domain.SyncStats) error {
	for page, err := range o.wiki.ListPages(ctx, spaceKey, since) {
		if err != nil {
			return err
		}
		if perr := o.processPage(ctx, page, stats); perr != nil {
			o.recordPageError(stats, page.PageID, perr)
		}
	}
	return nil
}

func (o *Orchestrator) recordPageError(stats *domain.SyncStats, pageID string, err error) {
	o.log.WithError(err).WithField("page_id", pageID).Warn("page sync failed")
	stats.Errors = append(stats.Errors, domain.PageError{PageID: pageID, Err: err.Error()})
}

// processPage runs the Process-Page procedure: version check, normalize,
// extract links, chunk, embed, and commit as one transaction.
func (o *Orchestrator) processPage(ctx context.Context, raw wiki.RawPage, stats *domain.SyncStats) error {
	stored, err := o.store.GetPages(ctx, []string{raw.PageID})
	if err != nil {
		return fmt.Errorf("load stored page: %w", err)
	}
	if len(stored) > 0 && raw.Version <= stored[0].Version {
		stats.PagesSkipped++
		return nil
	}

	bodyText, err := normalize.ToText(raw.BodyHTML, o.preserveHeadings)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	links, err := normalize.ExtractLinks(raw.BodyHTML, o.baseURL, raw.PageID)
	if err != nil {
		return fmt.Errorf("extract links: %w", err)
	}
	for i := range links {
		links[i].FromPageID = raw.PageID
	}

	chunks := o.chunker.Chunk(bodyText)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	domainChunks := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		domainChunks[i] = domain.Chunk{
			ID:          c.ID,
			PageID:      raw.PageID,
			SpaceKey:    raw.SpaceKey,
			HeadingPath: c.HeadingPath,
			ChunkIndex:  c.ChunkIndex,
			Text:        c.Text,
			TokenCount:  c.TokenCount,
			Embedding:   vectors[i],
		}
	}

	page := domain.Page{
		PageID:    raw.PageID,
		SpaceKey:  raw.SpaceKey,
		Title:     raw.Title,
		URL:       raw.URL,
		BodyText:  bodyText,
		Version:   raw.Version,
		UpdatedAt: raw.UpdatedAt,
		SyncedAt:  o.clock.Now(),
	}

	result, err := o.store.CommitPage(ctx, page, links, domainChunks)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	switch result {
	case domain.UpsertSkipped:
		stats.PagesSkipped++
	default:
		stats.PagesSynced++
		stats.ChunksCreated += len(domainChunks)
	}
	return nil
}

func (o *Orchestrator) finishSuccess(ctx context.Context, stats domain.SyncStats, started time.Time) (domain.SyncStats, error) {
	stats.FinishedAt = o.clock.Now()
	stats.Success = true

	prior, _ := o.store.GetOrInitSyncState(ctx)
	next := domain.SyncState{
		LastRunAt:      started, // run-start watermark, see DESIGN.md Open Question 1
		LastRunSuccess: true,
		PagesSynced:    prior.PagesSynced + int64(stats.PagesSynced),
		ChunksCreated:  prior.ChunksCreated + int64(stats.ChunksCreated),
		SpacesSynced:   prior.SpacesSynced + int64(stats.SpacesSynced),
	}
	if err := o.store.CommitSyncState(ctx, next); err != nil {
		return stats, fmt.Errorf("sync: commit watermark: %w", err)
	}
	return stats, nil
}

// finishFatal records a run-fatal failure: last_run_success=false,
// last_error set, watermark left unchanged so the next incremental run
// re-covers the same window.
func (o *Orchestrator) finishFatal(ctx context.Context, stats domain.SyncStats, cause error) (domain.SyncStats, error) {
	stats.FinishedAt = o.clock.Now()
	stats.Success = false

	prior, _ := o.store.GetOrInitSyncState(ctx)
	failed := domain.SyncState{
		LastRunAt:      prior.LastRunAt, // unchanged
		LastRunSuccess: false,
		LastError:      cause.Error(),
		PagesSynced:    prior.PagesSynced,
		ChunksCreated:  prior.ChunksCreated,
		SpacesSynced:   prior.SpacesSynced,
	}
	_ = o.store.CommitSyncState(ctx, failed)
	return stats, fmt.Errorf("sync: run-fatal: %w", cause)
}
