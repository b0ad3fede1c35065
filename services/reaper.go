package services

import (
	"context"
	"errors"
	"time"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
	"github.com/sandboxhq/devicelink/internal/metrics"
	applog "github.com/sandboxhq/devicelink/log"
)

const (
	// DefaultReaperInterval is how often the sweep runs.
	DefaultReaperInterval = time.Minute
	// DefaultRetention is how long terminal records are kept before the
	// retention sweep removes them.
	DefaultRetention = time.Hour

	sweepBatchSize = 200
)

// Reaper retires stale flow records independent of caller-driven polling:
// pending flows past their deadline are force-expired, and terminal records
// older than the retention window are deleted. It works purely through the
// FlowRepository's CRUD surface and takes no lock the orchestrator shares.
type Reaper struct {
	store     domain.FlowRepository
	interval  time.Duration
	retention time.Duration
	logger    applog.Logger
	now       func() time.Time
}

func NewReaper(store domain.FlowRepository, interval, retention time.Duration, logger applog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Reaper{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on the reaper's own schedule until the context is cancelled.
// Intended to be launched as a goroutine at startup.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "Flow reaper started", map[string]any{
		"interval":  r.interval.String(),
		"retention": r.retention.String(),
	})

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Flow reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Errors are logged, never fatal: the next tick
// gets another chance.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()

	stale, err := r.store.ListExpiredPending(ctx, now, sweepBatchSize)
	if err != nil {
		r.logger.Error(ctx, "Reaper failed to list expired flows", err)
	} else {
		for _, flow := range stale {
			err := r.store.UpdateStatus(ctx, flow.ID, domain.FlowStatusPending, domain.FlowStatusExpired, "")
			if err != nil {
				// A concurrent poll may have resolved the flow between the
				// list and the write; that is the expected race outcome.
				if errors.Is(err, serrors.ErrFlowStateConflict) || errors.Is(err, serrors.ErrFlowNotFound) {
					continue
				}
				r.logger.Error(ctx, "Reaper failed to expire flow", err, map[string]any{"flow_id": flow.ID})
				continue
			}
			if metrics.ReaperExpiredTotal != nil {
				metrics.ReaperExpiredTotal.Inc()
			}
		}
	}

	deleted, err := r.store.DeleteTerminalCreatedBefore(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.Error(ctx, "Reaper retention sweep failed", err)
		return
	}
	if deleted > 0 {
		if metrics.ReaperDeletedTotal != nil {
			metrics.ReaperDeletedTotal.Add(float64(deleted))
		}
		r.logger.Debug(ctx, "Reaper removed stale terminal flows", map[string]any{"count": deleted})
	}
}
