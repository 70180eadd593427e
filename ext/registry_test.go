package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobAdded(context.Context, *job.Job) error { return e.record("OnJobAdded") }
func (e *allHooksExt) OnJobStarted(context.Context, *job.Job) error {
	return e.record("OnJobStarted")
}

func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("OnJobCompleted")
}

func (e *allHooksExt) OnJobFailed(context.Context, *job.Job, error) error {
	return e.record("OnJobFailed")
}

func (e *allHooksExt) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	return e.record("OnJobRetrying")
}

func (e *allHooksExt) OnJobStalled(context.Context, string, string, bool) error {
	return e.record("OnJobStalled")
}

func (e *allHooksExt) OnLockRenewalFailed(context.Context, string, []string) error {
	return e.record("OnLockRenewalFailed")
}

func (e *allHooksExt) OnSchedulerFired(context.Context, string, string) error {
	return e.record("OnSchedulerFired")
}

func (e *allHooksExt) OnQueueDrained(context.Context, string) error {
	return e.record("OnQueueDrained")
}

func (e *allHooksExt) OnShutdown(context.Context) error { return e.record("OnShutdown") }

// jobOnlyExt only implements job-related hooks.
type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *jobOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobAdded(ctx, j)
	if !slices.Equal(all.calls, []string{"OnJobAdded"}) {
		t.Fatalf("all: expected [OnJobAdded], got %v", all.calls)
	}
	if !slices.Equal(jo.calls, []string{"OnJobAdded"}) {
		t.Fatalf("jo: expected [OnJobAdded], got %v", jo.calls)
	}

	// jobOnlyExt does not implement JobStarted.
	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobAdded(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobStalled(ctx, "emails", "42", false)
	r.EmitLockRenewalFailed(ctx, "emails", []string{"42"})
	r.EmitSchedulerFired(ctx, "nightly", "repeat:nightly:1")
	r.EmitQueueDrained(ctx, "emails")
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobAdded", "OnJobStarted", "OnJobCompleted",
		"OnJobFailed", "OnJobRetrying", "OnJobStalled",
		"OnLockRenewalFailed", "OnSchedulerFired", "OnQueueDrained",
		"OnShutdown",
	}
	if !slices.Equal(all.calls, expected) {
		t.Fatalf("calls = %v, want %v", all.calls, expected)
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitJobAdded(context.Background(), &job.Job{Name: "test-job"})

	if !slices.Equal(all.calls, []string{"OnJobAdded"}) {
		t.Fatalf("all: expected [OnJobAdded] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_NilAndEmptyRegistryNoOp(_ *testing.T) {
	ctx := context.Background()
	for _, r := range []*ext.Registry{nil, ext.NewRegistry(nil)} {
		r.EmitJobAdded(ctx, &job.Job{})
		r.EmitJobStarted(ctx, &job.Job{})
		r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
		r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
		r.EmitJobRetrying(ctx, &job.Job{}, 1, time.Now())
		r.EmitJobStalled(ctx, "q", "1", true)
		r.EmitLockRenewalFailed(ctx, "q", nil)
		r.EmitSchedulerFired(ctx, "s", "j")
		r.EmitQueueDrained(ctx, "q")
		r.EmitShutdown(ctx)
		_ = r.Extensions()
	}
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	r.EmitJobAdded(context.Background(), &job.Job{})

	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
