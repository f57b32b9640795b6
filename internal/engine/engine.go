// Package engine implements the core sync machinery: the incremental diff
// applier, the pagination merger, the cache-first loader, and the optimistic
// mutation engine with undo and guard windows.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postaworks/posta/internal/cache"
	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/remote"
)

// Storage provides the card definitions and sync cursor the engine needs.
// Implemented by store.Store.
type Storage interface {
	ListAllCards() ([]model.Card, error)
	GetCard(id string) (*model.Card, error)
	GetSyncCursor(accountID string) (string, error)
	SetSyncCursor(accountID, cursor string) error
	ClearSyncCursor(accountID string) error
}

// Options configures engine behavior.
type Options struct {
	// GuardWindow is how long background refresh results for freshly
	// mutated conversations are discarded.
	GuardWindow time.Duration

	// UndoWindow is how long Undo stays available after a mutation.
	UndoWindow time.Duration

	// RollbackOnFailure rolls the optimistic cache rewrite back when the
	// remote mutation fails. Off by default: the optimistic state is kept
	// and the error is surfaced instead.
	RollbackOnFailure bool

	// RebucketOnDiff moves a modified conversation into its recomputed
	// date bucket when a diff is applied, instead of overwriting it in
	// place within its existing group. Off by default to match the
	// established behavior.
	RebucketOnDiff bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		GuardWindow: 3 * time.Second,
		UndoWindow:  10 * time.Second,
	}
}

// Callbacks let the host react to engine events. All fields are optional.
type Callbacks struct {
	// OnAuthError is invoked when the remote session is no longer valid;
	// the host should route this to the global sign-out flow.
	OnAuthError func(error)

	// OnMutationError is invoked when a remote mutation fails after the
	// optimistic rewrite was already applied.
	OnMutationError func(error)

	// OnClearSelection is invoked after a bulk action so the origin
	// card's multi-select state can be reset.
	OnClearSelection func(cardID string)
}

// Engine coordinates the cache store, the remote service, and the
// mutation/undo life cycle for a single account.
type Engine struct {
	accountID string
	storage   Storage
	cache     *cache.Store
	svc       remote.Service
	logger    *slog.Logger
	opts      Options
	callbacks Callbacks

	mu         sync.Mutex
	inflight   map[string]bool // per-card load guard
	lastErr    map[string]error
	pending    *PendingMutation
	undoTimer  *time.Timer
	guardIDs   map[string]bool
	guardTimer *time.Timer
	refetching bool // an unmatched-id full refetch is already pending
}

// ErrNeedsConfirmation is returned when a bulk destructive action is
// attempted without explicit confirmation.
var ErrNeedsConfirmation = errors.New("bulk destructive action requires confirmation")

// ErrUndoExpired is returned when Undo is called outside the undo window.
var ErrUndoExpired = errors.New("nothing to undo")

// New creates an engine for the given account.
func New(accountID string, storage Storage, cacheStore *cache.Store, svc remote.Service, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		accountID: accountID,
		storage:   storage,
		cache:     cacheStore,
		svc:       svc,
		logger:    logger,
		opts:      opts,
		inflight:  make(map[string]bool),
		lastErr:   make(map[string]error),
		guardIDs:  make(map[string]bool),
	}
}

// WithCallbacks sets the event callbacks.
func (e *Engine) WithCallbacks(cb Callbacks) *Engine {
	e.callbacks = cb
	return e
}

// Cache returns the engine's cache store.
func (e *Engine) Cache() *cache.Store {
	return e.cache
}

// LastError returns the most recent fetch error for a card, if any.
func (e *Engine) LastError(cardID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr[cardID]
}

// SyncOnce performs one incremental sync pass: fetch the delta since the
// stored cursor and apply it to every card cache. Returns whether any
// cache changed (the poller resets its interval on change).
//
// An expired cursor resets sync state and forces a full reload of every
// non-collapsed conversation card.
func (e *Engine) SyncOnce(ctx context.Context) (bool, error) {
	cursor, err := e.storage.GetSyncCursor(e.accountID)
	if err != nil {
		return false, err
	}

	changes, err := e.svc.FetchIncrementalChanges(ctx, e.accountID, cursor)
	if err != nil {
		var nf *remote.NotFoundError
		if errors.As(err, &nf) {
			e.logger.Warn("sync cursor expired, forcing full reload", "account", e.accountID)
			if cerr := e.storage.ClearSyncCursor(e.accountID); cerr != nil {
				e.logger.Warn("clear sync cursor failed", "error", cerr)
			}
			return true, e.reloadAll(ctx)
		}
		e.notifyAuth(err)
		return false, err
	}

	if changes.Cursor != "" {
		if serr := e.storage.SetSyncCursor(e.accountID, changes.Cursor); serr != nil {
			e.logger.Warn("persist sync cursor failed", "error", serr)
		}
	}

	if changes.FullSync {
		return true, e.reloadAll(ctx)
	}

	changed := e.ApplyDiff(ctx, changes.Modified, changes.DeletedIDs)
	return changed, nil
}

// FullRefresh resets sync state and refetches every non-collapsed
// conversation card from scratch. Used by the scheduled full refresh.
func (e *Engine) FullRefresh(ctx context.Context) error {
	if err := e.storage.ClearSyncCursor(e.accountID); err != nil {
		return fmt.Errorf("clear sync cursor: %w", err)
	}
	return e.reloadAll(ctx)
}

// SignOut clears every cache and sync cursor for the account.
func (e *Engine) SignOut() {
	e.mu.Lock()
	e.stopTimersLocked()
	e.pending = nil
	e.guardIDs = make(map[string]bool)
	e.mu.Unlock()

	e.cache.ClearAll()
	if err := e.storage.ClearSyncCursor(e.accountID); err != nil {
		e.logger.Warn("clear sync cursor failed", "error", err)
	}
}

// Close stops outstanding timers. Pending cache writes are the cache
// store's responsibility (see cache.Store.Flush).
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimersLocked()
}

func (e *Engine) stopTimersLocked() {
	if e.undoTimer != nil {
		e.undoTimer.Stop()
		e.undoTimer = nil
	}
	if e.guardTimer != nil {
		e.guardTimer.Stop()
		e.guardTimer = nil
	}
}

// reloadAll refetches every non-collapsed conversation card, bypassing the
// cache.
func (e *Engine) reloadAll(ctx context.Context) error {
	cards, err := e.storage.ListAllCards()
	if err != nil {
		return err
	}
	var firstErr error
	for _, card := range cards {
		if card.Collapsed || card.Kind != model.KindConversation || card.AccountID != e.accountID {
			continue
		}
		if err := e.Reload(ctx, card); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// notifyAuth routes auth errors to the sign-out callback.
func (e *Engine) notifyAuth(err error) {
	var ae *remote.AuthError
	if errors.As(err, &ae) && e.callbacks.OnAuthError != nil {
		e.callbacks.OnAuthError(err)
	}
}

func (e *Engine) setLastError(cardID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.lastErr, cardID)
	} else {
		e.lastErr[cardID] = err
	}
}
