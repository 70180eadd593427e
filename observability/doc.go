// Package observability provides a metrics extension for strand. The
// MetricsExtension implements lifecycle hooks to record queue-wide
// counters for added, completed, failed, retried and stalled jobs, lost
// locks and job scheduler runs.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
