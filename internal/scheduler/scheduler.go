// Package scheduler runs cron-scheduled full refreshes per account. The
// incremental poller keeps caches fresh minute to minute; the scheduled full
// refresh repairs whatever incremental sync drifted from, on a coarse
// schedule like "0 */6 * * *".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/postaworks/posta/internal/config"
)

// RefreshFunc performs a full refresh for one account: every card is
// refetched from scratch and the sync cursor is reset.
type RefreshFunc func(ctx context.Context, accountID string) error

// AccountStatus is the refresh status of one scheduled account.
type AccountStatus struct {
	AccountID string    `json:"account_id"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler owns the cron runner and the per-account refresh state.
// Refreshes for one account never overlap; distinct accounts run
// concurrently.
type Scheduler struct {
	cron    *cron.Cron
	refresh RefreshFunc
	logger  *slog.Logger

	mu        sync.RWMutex
	entries   map[string]cron.EntryID
	schedules map[string]string
	running   map[string]bool
	lastRun   map[string]time.Time
	lastErr   map[string]error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// New creates a scheduler with the given refresh callback.
func New(refresh RefreshFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithParser(newParser())),
		refresh:   refresh,
		logger:    logger,
		entries:   make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddAccount schedules full refreshes for an account. An existing schedule
// for the same account is replaced.
func (s *Scheduler) AddAccount(accountID, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[accountID]; ok {
		s.cron.Remove(id)
		delete(s.entries, accountID)
		delete(s.schedules, accountID)
	}

	id, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[accountID] {
			s.mu.Unlock()
			return
		}
		s.running[accountID] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runRefresh(accountID)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.entries[accountID] = id
	s.schedules[accountID] = cronExpr
	s.logger.Info("scheduled full refresh",
		"account", accountID,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(id).Next)
	return nil
}

// AddAccountsFromConfig schedules every enabled account. Returns how many
// were scheduled plus the per-account errors.
func (s *Scheduler) AddAccountsFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0
	for _, acc := range cfg.ScheduledAccounts() {
		if err := s.AddAccount(acc.AccountID, acc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", acc.AccountID, err))
			continue
		}
		scheduled++
	}
	return scheduled, errs
}

// RemoveAccount drops an account's schedule.
func (s *Scheduler) RemoveAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[accountID]; ok {
		s.cron.Remove(id)
		delete(s.entries, accountID)
		delete(s.schedules, accountID)
		s.logger.Info("removed refresh schedule", "account", accountID)
	}
}

// IsScheduled reports whether the account has a schedule.
func (s *Scheduler) IsScheduled(accountID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[accountID]
	return ok
}

// Start begins executing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	s.logger.Info("refresh scheduler started", "accounts", n)
}

// Stop halts scheduling, cancels in-flight refreshes, and returns a context
// that is done once all refresh goroutines have drained.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done, finish := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		finish()
	}()
	return done
}

// TriggerRefresh runs an account's full refresh outside its schedule.
func (s *Scheduler) TriggerRefresh(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, ok := s.entries[accountID]; !ok {
		return fmt.Errorf("account %s is not scheduled", accountID)
	}
	if s.running[accountID] {
		return fmt.Errorf("refresh already running for %s", accountID)
	}

	s.running[accountID] = true
	s.wg.Add(1)
	go s.runRefresh(accountID)
	return nil
}

// runRefresh executes one refresh. The caller has already claimed the
// account's running slot and incremented the wait group.
func (s *Scheduler) runRefresh(accountID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[accountID] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting full refresh", "account", accountID)
	start := time.Now()

	err := s.refresh(s.ctx, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr[accountID] = err
		s.logger.Error("full refresh failed",
			"account", accountID,
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.lastRun[accountID] = time.Now()
	s.lastErr[accountID] = nil
	s.logger.Info("full refresh completed",
		"account", accountID,
		"duration", time.Since(start))
}

// Status returns the status of every scheduled account.
func (s *Scheduler) Status() []AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AccountStatus
	for accountID, id := range s.entries {
		entry := s.cron.Entry(id)
		st := AccountStatus{
			AccountID: accountID,
			Running:   s.running[accountID],
			LastRun:   s.lastRun[accountID],
			NextRun:   entry.Next,
			Schedule:  s.schedules[accountID],
		}
		if err := s.lastErr[accountID]; err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// ValidateCronExpr checks a cron expression without scheduling it.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
