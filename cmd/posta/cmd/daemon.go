package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/postaworks/posta/internal/cache"
	"github.com/postaworks/posta/internal/config"
	"github.com/postaworks/posta/internal/engine"
	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/poller"
	"github.com/postaworks/posta/internal/remote"
	"github.com/postaworks/posta/internal/store"
)

// cacheDebounce collapses rapid cache rewrites into one durable write.
const cacheDebounce = 500 * time.Millisecond

// accountRuntime bundles the per-account moving parts.
type accountRuntime struct {
	engine *engine.Engine
	cache  *cache.Store
	poller *poller.Poller
}

// daemon wires the store, remote client, per-account engines, and pollers
// together. It implements api.SyncController.
type daemon struct {
	cfg      *config.Config
	store    *store.Store
	svc      remote.Service
	logger   *slog.Logger
	accounts map[string]*accountRuntime
}

// newDaemon builds the runtime for every known account: accounts listed in
// config plus accounts that own stored cards.
func newDaemon(cfg *config.Config, st *store.Store, svc remote.Service, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		store:    st,
		svc:      svc,
		logger:   logger,
		accounts: make(map[string]*accountRuntime),
	}

	ids := make(map[string]bool)
	for _, acc := range cfg.Accounts {
		if acc.AccountID != "" {
			ids[acc.AccountID] = true
		}
	}
	cards, err := st.ListAllCards()
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	for _, c := range cards {
		ids[c.AccountID] = true
	}

	opts := engine.Options{
		GuardWindow:       cfg.GuardWindow(),
		UndoWindow:        cfg.UndoWindow(),
		RollbackOnFailure: cfg.Mutation.RollbackOnFailure,
	}

	for accountID := range ids {
		accountID := accountID
		cacheStore := cache.New(st, cacheDebounce, logger)
		eng := engine.New(accountID, st, cacheStore, svc, opts, logger)
		eng.WithCallbacks(engine.Callbacks{
			OnAuthError: func(err error) {
				logger.Warn("remote session invalid, sign-in required", "account", accountID)
			},
			OnMutationError: func(err error) {
				logger.Warn("mutation failed, optimistic state kept", "account", accountID, "error", err)
			},
		})

		p := poller.New(accountID, eng.SyncOnce, poller.Options{
			BaseInterval: cfg.BaseInterval(),
			MaxInterval:  cfg.MaxInterval(),
		}, logger)

		d.accounts[accountID] = &accountRuntime{engine: eng, cache: cacheStore, poller: p}

		// Hydrate card snapshots from the durable cache so the client
		// has data before the first sync completes.
		for _, card := range cards {
			if card.AccountID == accountID {
				cacheStore.Load(card.ID)
			}
		}
	}

	return d, nil
}

// start launches the pollers.
func (d *daemon) start(ctx context.Context) {
	for _, rt := range d.accounts {
		rt.poller.Start(ctx)
	}
}

// stop drains pollers, engines, and pending cache writes.
func (d *daemon) stop() {
	for _, rt := range d.accounts {
		rt.poller.Stop()
	}
	for _, rt := range d.accounts {
		rt.engine.Close()
		rt.cache.Flush()
	}
}

func (d *daemon) runtime(accountID string) (*accountRuntime, error) {
	rt, ok := d.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown account %s", accountID)
	}
	return rt, nil
}

// TriggerSync requests an immediate incremental sync.
func (d *daemon) TriggerSync(accountID string) error {
	rt, err := d.runtime(accountID)
	if err != nil {
		return err
	}
	rt.poller.Trigger()
	return nil
}

// Focus resets the poll interval and syncs immediately.
func (d *daemon) Focus(accountID string) error {
	rt, err := d.runtime(accountID)
	if err != nil {
		return err
	}
	rt.poller.Focus()
	return nil
}

// PollerStatus reports every account's polling state, sorted by account.
func (d *daemon) PollerStatus() []poller.Status {
	out := make([]poller.Status, 0, len(d.accounts))
	for _, rt := range d.accounts {
		out = append(out, rt.poller.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// LoadCard serves a card snapshot, cache-first.
func (d *daemon) LoadCard(ctx context.Context, card model.Card) (*model.CacheEntry, error) {
	rt, err := d.runtime(card.AccountID)
	if err != nil {
		return nil, err
	}
	return rt.engine.LoadCard(ctx, card)
}

// LoadMore fetches the next page for a card.
func (d *daemon) LoadMore(ctx context.Context, card model.Card) (bool, error) {
	rt, err := d.runtime(card.AccountID)
	if err != nil {
		return false, err
	}
	return rt.engine.LoadMore(ctx, card)
}

// Apply performs an optimistic mutation for an account.
func (d *daemon) Apply(ctx context.Context, accountID string, req engine.ActionRequest) error {
	rt, err := d.runtime(accountID)
	if err != nil {
		return err
	}
	return rt.engine.Apply(ctx, req)
}

// Undo reverts the account's pending mutation.
func (d *daemon) Undo(ctx context.Context, accountID string) error {
	rt, err := d.runtime(accountID)
	if err != nil {
		return err
	}
	return rt.engine.Undo(ctx)
}

// ClearCache drops a card's cached snapshot, in memory and on disk. Used
// when a card's query changes or the card is deleted.
func (d *daemon) ClearCache(accountID, cardID string) error {
	rt, err := d.runtime(accountID)
	if err != nil {
		return err
	}
	rt.cache.Clear(cardID)
	return nil
}

// fullRefresh backs the scheduled full refresh for one account.
func (d *daemon) fullRefresh(ctx context.Context, accountID string) error {
	rt, err := d.runtime(accountID)
	if err != nil {
		return err
	}
	return rt.engine.FullRefresh(ctx)
}
