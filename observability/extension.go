package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobAdded          = (*MetricsExtension)(nil)
	_ ext.JobStarted        = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.JobStalled        = (*MetricsExtension)(nil)
	_ ext.LockRenewalFailed = (*MetricsExtension)(nil)
	_ ext.SchedulerFired    = (*MetricsExtension)(nil)
	_ ext.QueueDrained      = (*MetricsExtension)(nil)
)

// MetricsExtension records queue-wide lifecycle counters via a go-utils
// MetricFactory. Register it with a worker or queue to track add rates,
// completions, failures, retries, stalls, lost locks and scheduler runs.
type MetricsExtension struct {
	JobAdded       gu.Counter
	JobStarted     gu.Counter
	JobCompleted   gu.Counter
	JobFailed      gu.Counter
	JobRetried     gu.Counter
	JobStalled     gu.Counter
	JobStallFailed gu.Counter
	LockLost       gu.Counter
	SchedulerFired gu.Counter
	QueueDrained   gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("strand/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		JobAdded:       factory.Counter("strand.job.added"),
		JobStarted:     factory.Counter("strand.job.started"),
		JobCompleted:   factory.Counter("strand.job.completed"),
		JobFailed:      factory.Counter("strand.job.failed"),
		JobRetried:     factory.Counter("strand.job.retried"),
		JobStalled:     factory.Counter("strand.job.stalled"),
		JobStallFailed: factory.Counter("strand.job.stall_failed"),
		LockLost:       factory.Counter("strand.lock.lost"),
		SchedulerFired: factory.Counter("strand.scheduler.fired"),
		QueueDrained:   factory.Counter("strand.queue.drained"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobAdded implements ext.JobAdded.
func (m *MetricsExtension) OnJobAdded(_ context.Context, _ *job.Job) error {
	m.JobAdded.Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, _ *job.Job) error {
	m.JobStarted.Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Inc()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Inc()
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Inc()
	return nil
}

// ── Worker hooks ────────────────────────────────────

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(_ context.Context, _, _ string, failed bool) error {
	if failed {
		m.JobStallFailed.Inc()
		return nil
	}
	m.JobStalled.Inc()
	return nil
}

// OnLockRenewalFailed implements ext.LockRenewalFailed.
func (m *MetricsExtension) OnLockRenewalFailed(_ context.Context, _ string, jobIDs []string) error {
	for range jobIDs {
		m.LockLost.Inc()
	}
	return nil
}

// OnSchedulerFired implements ext.SchedulerFired.
func (m *MetricsExtension) OnSchedulerFired(_ context.Context, _, _ string) error {
	m.SchedulerFired.Inc()
	return nil
}

// OnQueueDrained implements ext.QueueDrained.
func (m *MetricsExtension) OnQueueDrained(_ context.Context, _ string) error {
	m.QueueDrained.Inc()
	return nil
}
