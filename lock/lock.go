package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Extender renews many locks in one round trip and returns the ids whose
// lock could not be renewed.
type Extender interface {
	ExtendLocks(ctx context.Context, jobIDs, tokens []string, d time.Duration) ([]string, error)
}

// ExtenderFunc adapts a function to Extender.
type ExtenderFunc func(ctx context.Context, jobIDs, tokens []string, d time.Duration) ([]string, error)

// ExtendLocks implements Extender.
func (f ExtenderFunc) ExtendLocks(ctx context.Context, jobIDs, tokens []string, d time.Duration) ([]string, error) {
	return f(ctx, jobIDs, tokens, d)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDuration sets the lock ttl. Locks are renewed every d/2.
func WithDuration(d time.Duration) Option {
	return func(m *Manager) { m.duration = d }
}

// WithOnRenewalFailed sets the callback invoked with the ids whose lock
// was lost. Their cancel functions have already been called.
func WithOnRenewalFailed(fn func(ctx context.Context, jobIDs []string)) Option {
	return func(m *Manager) { m.onFailed = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type entry struct {
	token     string
	renewedAt time.Time
	cancel    context.CancelFunc
}

// Manager keeps the locks of a worker's in-flight jobs alive.
type Manager struct {
	extender Extender
	logger   *slog.Logger
	duration time.Duration
	onFailed func(ctx context.Context, jobIDs []string)
	now      func() time.Time

	mu      sync.Mutex
	tracked map[string]*entry

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewManager creates a lock manager. The default lock ttl is 30s.
func NewManager(extender Extender, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		extender: extender,
		logger:   logger,
		duration: 30 * time.Second,
		now:      time.Now,
		tracked:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Duration returns the lock ttl.
func (m *Manager) Duration() time.Duration { return m.duration }

// Interval returns the renewal period.
func (m *Manager) Interval() time.Duration { return m.duration / 2 }

// Track starts renewing the lock of jobID. cancel is called if the lock
// is lost.
func (m *Manager) Track(jobID, token string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.tracked[jobID] = &entry{token: token, renewedAt: m.now(), cancel: cancel}
	m.mu.Unlock()
}

// Untrack stops renewing the lock of jobID.
func (m *Manager) Untrack(jobID string) {
	m.mu.Lock()
	delete(m.tracked, jobID)
	m.mu.Unlock()
}

// Len returns the number of tracked jobs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Start launches the renewal loop. It returns immediately.
func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.loop(m.stopCh)
	return nil
}

// Stop ends the renewal loop. Tracked jobs are left alone; their locks
// expire unless released.
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// Run renews locks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Stop(context.Background())
}

func (m *Manager) loop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Renew(context.Background())
		}
	}
}

// Renew runs one renewal pass. Jobs tracked less than half an interval
// ago are skipped since their claim just set the ttl.
func (m *Manager) Renew(ctx context.Context) {
	now := m.now()
	minAge := m.Interval() / 2

	m.mu.Lock()
	ids := make([]string, 0, len(m.tracked))
	tokens := make([]string, 0, len(m.tracked))
	for id, e := range m.tracked {
		if now.Sub(e.renewedAt) < minAge {
			continue
		}
		ids = append(ids, id)
		tokens = append(tokens, e.token)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	failed, err := m.extender.ExtendLocks(ctx, ids, tokens, m.duration)
	if err != nil {
		// Locks outlive one missed renewal; the next tick retries.
		m.logger.Warn("lock renewal failed",
			slog.Int("jobs", len(ids)),
			slog.String("error", err.Error()),
		)
		return
	}

	lost := make(map[string]bool, len(failed))
	for _, id := range failed {
		lost[id] = true
	}

	var cancels []context.CancelFunc
	m.mu.Lock()
	for i, id := range ids {
		e, ok := m.tracked[id]
		if !ok || e.token != tokens[i] {
			continue
		}
		if lost[id] {
			delete(m.tracked, id)
			cancels = append(cancels, e.cancel)
			continue
		}
		e.renewedAt = now
	}
	m.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	m.logger.Warn("job locks lost", slog.Any("job_ids", failed))
	if m.onFailed != nil {
		m.onFailed(ctx, failed)
	}
}
