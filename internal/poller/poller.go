// Package poller schedules incremental sync runs with an adaptive interval:
// syncs that find changes poll fast, quiet periods stretch the interval out,
// and failures back off harder. One poller serves one account.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/postaworks/posta/internal/remote"
)

// State is the poller's scheduling state.
type State string

const (
	// StateIdle means no run is scheduled (before Start or after Stop).
	StateIdle State = "idle"
	// StateScheduled means the next run's timer is armed.
	StateScheduled State = "scheduled"
	// StateRunning means a sync run is in flight.
	StateRunning State = "running"
	// StateBackoff means the timer is armed with a stretched interval
	// after a no-change or failed run.
	StateBackoff State = "backoff"
)

// SyncFunc performs one sync pass and reports whether anything changed.
type SyncFunc func(ctx context.Context) (changed bool, err error)

const (
	growFactor    = 1.5
	failureFactor = 2.0
)

// Options configures a Poller.
type Options struct {
	// BaseInterval is the polling interval while changes keep arriving.
	BaseInterval time.Duration
	// MaxInterval caps the stretched interval.
	MaxInterval time.Duration
	// OnAuthError is invoked when a run fails with an auth error; polling
	// for the account stops.
	OnAuthError func(error)
}

// Status is a point-in-time snapshot of the poller.
type Status struct {
	AccountID string        `json:"account_id"`
	State     State         `json:"state"`
	Interval  time.Duration `json:"interval"`
	LastSync  time.Time     `json:"last_sync"`
	LastError string        `json:"last_error,omitempty"`
}

// Poller runs a SyncFunc on an adaptive interval. Runs are strictly
// sequential: the next timer is armed only after the current run settles,
// and a trigger while a run is in flight is a no-op.
type Poller struct {
	accountID string
	run       SyncFunc
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	interval time.Duration
	timer    *time.Timer
	stopped  bool
	lastSync time.Time
	lastErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller for one account. Start must be called to begin.
func New(accountID string, run SyncFunc, opts Options, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = 30 * time.Second
	}
	if opts.MaxInterval < opts.BaseInterval {
		opts.MaxInterval = opts.BaseInterval
	}
	return &Poller{
		accountID: accountID,
		run:       run,
		opts:      opts,
		logger:    logger.With("account", accountID),
		state:     StateIdle,
		interval:  opts.BaseInterval,
	}
}

// Start triggers an immediate first run. The context bounds every
// subsequent run; cancelling it is equivalent to Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()
	p.runNow()
}

// Stop cancels the scheduled run and waits for an in-flight run to settle.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.state = StateIdle
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Trigger requests an immediate run. No-op while a run is in flight or the
// poller is stopped.
func (p *Poller) Trigger() {
	p.runNow()
}

// Focus resets the interval to base and triggers an immediate run. Called
// when the client window regains focus.
func (p *Poller) Focus() {
	p.mu.Lock()
	p.interval = p.opts.BaseInterval
	p.mu.Unlock()
	p.runNow()
}

// Status returns a snapshot of the poller's state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		AccountID: p.accountID,
		State:     p.state,
		Interval:  p.interval,
		LastSync:  p.lastSync,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}

// runNow starts a run unless one is already in flight. The single-flight
// guard is the state check under the lock.
func (p *Poller) runNow() {
	p.mu.Lock()
	if p.stopped || p.ctx == nil || p.state == StateRunning {
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state = StateRunning
	ctx := p.ctx
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		changed, err := p.run(ctx)
		p.settle(changed, err)
	}()
}

// settle records the run's outcome, adapts the interval, and arms the next
// timer. Failures stretch the interval but never stop polling; auth errors
// stop the poller and surface through OnAuthError.
func (p *Poller) settle(changed bool, err error) {
	p.mu.Lock()
	p.lastErr = err

	switch {
	case err != nil:
		var ae *remote.AuthError
		if errors.As(err, &ae) {
			p.state = StateIdle
			p.stopped = true
			p.mu.Unlock()
			p.logger.Warn("sync auth error, polling stopped", "error", err)
			if p.opts.OnAuthError != nil {
				p.opts.OnAuthError(err)
			}
			return
		}
		p.interval = stretch(p.interval, failureFactor, p.opts.MaxInterval)
		p.state = StateBackoff
		p.logger.Warn("sync failed, backing off", "interval", p.interval, "error", err)
	case changed:
		p.lastSync = time.Now()
		p.interval = p.opts.BaseInterval
		p.state = StateScheduled
	default:
		p.lastSync = time.Now()
		p.interval = stretch(p.interval, growFactor, p.opts.MaxInterval)
		p.state = StateBackoff
	}

	if p.stopped {
		p.state = StateIdle
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.interval, p.runNow)
	p.mu.Unlock()
}

// stretch grows an interval by factor, floored to whole seconds and capped
// at max.
func stretch(cur time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(cur.Seconds()*factor) * time.Second
	if next > max {
		next = max
	}
	return next
}
