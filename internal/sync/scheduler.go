package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Scheduler runs RunIncremental on a fixed interval in the background,
// logging each run's outcome. Overlap with an on-demand sync triggered
// elsewhere against the same Orchestrator is handled by Orchestrator's
// own ErrSyncInProgress guard, not by the scheduler.
type Scheduler struct {
	orch *Orchestrator
	cron *cron.Cron
}

// NewScheduler builds a Scheduler that fires RunIncremental every
// intervalMinutes minutes.
func NewScheduler(orch *Orchestrator, intervalMinutes int) *Scheduler {
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	s := &Scheduler{orch: orch, cron: cron.New()}
	spec := fmt.Sprintf("@every %dm", intervalMinutes)
	s.cron.AddFunc(spec, func() { s.runOnce(context.Background()) })
	return s
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.orch.RunIncremental(ctx)
	if errors.Is(err, ErrSyncInProgress) {
		s.orch.log.Info("scheduled incremental sync skipped, one already in progress")
		return
	}
	log := s.orch.log.WithField("pages_synced", stats.PagesSynced).WithField("pages_skipped", stats.PagesSkipped)
	if err != nil {
		log.WithError(err).Error("scheduled incremental sync failed")
		return
	}
	log.Info("scheduled incremental sync completed")
}

// Start begins the cron schedule in the background. The schedule does not
// end on its own; call Stop explicitly during shutdown.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
