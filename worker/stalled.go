package worker

import (
	"context"
	"log/slog"
	"time"
)

// sweepLoop runs the stalled sweep once on start, then every
// StalledInterval until ctx is done.
func (w *Worker) sweepLoop(ctx context.Context) error {
	w.sweepStalled(ctx)

	ticker := time.NewTicker(w.config.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweepStalled(ctx)
		}
	}
}

// sweepStalled recovers jobs whose worker stopped renewing their lock.
// The stalled-check key makes concurrent sweeps from other workers a
// no-op within one interval.
func (w *Worker) sweepStalled(ctx context.Context) {
	res, err := w.store.MoveStalledJobsToWait(ctx, w.ns, w.config.MaxStalledCount, w.config.StalledInterval)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("stalled sweep failed",
				slog.String("queue", w.ns.Queue()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	for _, jobID := range res.Failed {
		w.logger.Warn("stalled job failed",
			slog.String("queue", w.ns.Queue()),
			slog.String("job_id", jobID),
			slog.Int("max_stalled_count", w.config.MaxStalledCount),
		)
		w.extensions.EmitJobStalled(ctx, w.ns.Queue(), jobID, true)
	}
	for _, jobID := range res.Stalled {
		w.logger.Info("stalled job moved to wait",
			slog.String("queue", w.ns.Queue()),
			slog.String("job_id", jobID),
		)
		w.extensions.EmitJobStalled(ctx, w.ns.Queue(), jobID, false)
	}
}
