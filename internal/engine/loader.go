package engine

import (
	"context"
	"fmt"

	"github.com/postaworks/posta/internal/model"
)

// LoadCard returns the card's snapshot, serving from cache when a snapshot
// exists and fetching the first page otherwise. Concurrent loads for the
// same card collapse: the second caller gets the cached result of the
// first, or ErrLoadInFlight if it arrives while the fetch is still running.
func (e *Engine) LoadCard(ctx context.Context, card model.Card) (*model.CacheEntry, error) {
	if entry, ok := e.cache.Get(card.ID); ok {
		return entry, nil
	}
	return e.fetchFirstPage(ctx, card)
}

// ErrLoadInFlight is returned when a load is requested for a card whose
// fetch is already running.
var ErrLoadInFlight = fmt.Errorf("load already in flight")

// Reload fetches the card's first page from the remote, bypassing and
// overwriting any cached snapshot.
func (e *Engine) Reload(ctx context.Context, card model.Card) error {
	_, err := e.fetchFirstPage(ctx, card)
	return err
}

func (e *Engine) fetchFirstPage(ctx context.Context, card model.Card) (*model.CacheEntry, error) {
	if !e.beginLoad(card.ID) {
		return nil, ErrLoadInFlight
	}
	defer e.endLoad(card.ID)

	page, err := e.svc.FetchPage(ctx, e.accountID, card.ID, card.Query, "")
	if err != nil {
		e.setLastError(card.ID, err)
		e.notifyAuth(err)
		return nil, fmt.Errorf("load card %s: %w", card.ID, err)
	}
	e.setLastError(card.ID, nil)

	e.cache.Put(card.ID, page.Groups, page.NextPageToken)
	entry, _ := e.cache.Get(card.ID)
	return entry, nil
}

// LoadMore fetches the card's next page and merges it into the cached
// snapshot under the card's merge policy. A card with no stored cursor has
// no further pages; LoadMore is then a no-op reporting false.
func (e *Engine) LoadMore(ctx context.Context, card model.Card) (bool, error) {
	entry, ok := e.cache.Get(card.ID)
	if !ok || entry.Cursor == "" {
		return false, nil
	}

	if !e.beginLoad(card.ID) {
		return false, ErrLoadInFlight
	}
	defer e.endLoad(card.ID)

	page, err := e.svc.FetchPage(ctx, e.accountID, card.ID, card.Query, entry.Cursor)
	if err != nil {
		e.setLastError(card.ID, err)
		e.notifyAuth(err)
		return false, fmt.Errorf("load more for card %s: %w", card.ID, err)
	}
	e.setLastError(card.ID, nil)

	// Re-read the snapshot: a diff may have rewritten it while the page
	// fetch was in flight, and the merge must union into current state.
	current, ok := e.cache.Get(card.ID)
	if !ok {
		current = entry
	}
	merged := MergeGroups(current.Groups, page.Groups, PolicyFor(card.GroupBy))
	e.cache.Put(card.ID, merged, page.NextPageToken)
	return page.HasMore, nil
}

func (e *Engine) beginLoad(cardID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[cardID] {
		return false
	}
	e.inflight[cardID] = true
	return true
}

func (e *Engine) endLoad(cardID string) {
	e.mu.Lock()
	delete(e.inflight, cardID)
	e.mu.Unlock()
}
