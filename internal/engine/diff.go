package engine

import (
	"context"
	"time"

	"github.com/postaworks/posta/internal/model"
)

// ApplyDiff merges an incremental delta into every card cache that might
// contain the affected conversations. The delta is global, not scoped to
// any card. Returns whether any cache changed.
//
// Matched modified conversations are overwritten in place within their
// existing group: the conversation is not moved even if its properties
// would now place it in a different group under the card's grouping
// dimension. That long-standing approximation avoids recomputing grouping
// on every tick; Options.RebucketOnDiff enables the corrected behavior for
// date-grouped cards.
//
// Modified ids that match no card anywhere are new to every view; they
// trigger one background full refetch of all non-collapsed conversation
// cards, fired without being awaited.
func (e *Engine) ApplyDiff(ctx context.Context, modified []model.Conversation, deleted []string) bool {
	modified, deleted = e.filterGuarded(modified, deleted)
	if len(modified) == 0 && len(deleted) == 0 {
		return false
	}

	deletedSet := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		deletedSet[id] = true
	}

	cards, err := e.storage.ListAllCards()
	if err != nil {
		e.logger.Warn("list cards for diff failed", "error", err)
		return false
	}
	cardByID := make(map[string]model.Card, len(cards))
	for _, c := range cards {
		cardByID[c.ID] = c
	}

	matched := make(map[string]bool, len(modified))
	anyChanged := false

	for _, cardID := range e.cache.CardIDs() {
		entry, ok := e.cache.Get(cardID)
		if !ok {
			continue
		}
		card, haveCard := cardByID[cardID]

		groups, changed := applyDiffToGroups(entry.Groups, modified, deletedSet, matched)
		if haveCard && e.opts.RebucketOnDiff && card.GroupBy == model.GroupByDate {
			var moved bool
			groups, moved = rebucketGroups(groups, modified, time.Now())
			changed = changed || moved
		}
		if changed {
			e.cache.Put(cardID, groups, entry.Cursor)
			anyChanged = true
		}
	}

	var unmatched bool
	for _, c := range modified {
		if !matched[c.ID] {
			unmatched = true
			break
		}
	}
	if unmatched {
		e.triggerRefetch(cards)
	}

	return anyChanged
}

// applyDiffToGroups rewrites one card's groups: deleted conversations are
// removed, modified ones are overwritten in place, and emptied groups are
// dropped. matched accumulates modified ids found in any card.
func applyDiffToGroups(groups []model.Group, modified []model.Conversation, deleted map[string]bool, matched map[string]bool) ([]model.Group, bool) {
	modByID := make(map[string]model.Conversation, len(modified))
	for _, c := range modified {
		modByID[c.ID] = c
	}

	changed := false
	out := groups[:0]
	for _, g := range groups {
		kept := g.Conversations[:0]
		for _, c := range g.Conversations {
			if deleted[c.ID] {
				changed = true
				continue
			}
			if m, ok := modByID[c.ID]; ok {
				matched[c.ID] = true
				kept = append(kept, m)
				changed = true
				continue
			}
			kept = append(kept, c)
		}
		g.Conversations = kept
		if len(g.Conversations) == 0 {
			changed = true
			continue
		}
		out = append(out, g)
	}
	return out, changed
}

// rebucketGroups moves modified conversations into their recomputed date
// bucket. Only used in the corrected RebucketOnDiff mode.
func rebucketGroups(groups []model.Group, modified []model.Conversation, now time.Time) ([]model.Group, bool) {
	moved := false
	for _, m := range modified {
		want := model.BucketFor(m.LastActivity, now)
		src, ci := -1, -1
		for gi := range groups {
			if groups[gi].Label == want {
				continue
			}
			for i, c := range groups[gi].Conversations {
				if c.ID == m.ID {
					src, ci = gi, i
					break
				}
			}
			if src >= 0 {
				break
			}
		}
		if src < 0 {
			continue
		}
		g := &groups[src]
		g.Conversations = append(g.Conversations[:ci], g.Conversations[ci+1:]...)
		groups = insertIntoBucket(groups, want, m)
		moved = true
	}
	if !moved {
		return groups, false
	}
	// Drop groups emptied by the moves.
	kept := groups[:0]
	for _, g := range groups {
		if len(g.Conversations) > 0 {
			kept = append(kept, g)
		}
	}
	return kept, true
}

func insertIntoBucket(groups []model.Group, label string, c model.Conversation) []model.Group {
	for gi := range groups {
		if groups[gi].Label == label {
			groups[gi].Conversations = append(groups[gi].Conversations, c)
			return groups
		}
	}
	// Insert a new group at its canonical position.
	rank := model.BucketRank(label)
	g := model.Group{Label: label, Conversations: []model.Conversation{c}}
	for gi := range groups {
		if r := model.BucketRank(groups[gi].Label); r > rank {
			out := append(groups[:gi:gi], g)
			return append(out, groups[gi:]...)
		}
	}
	return append(groups, g)
}

// triggerRefetch fires one background full refetch of every non-collapsed
// conversation card. Deduplicated: while a refetch is pending, further
// unmatched ids do not start another.
func (e *Engine) triggerRefetch(cards []model.Card) {
	e.mu.Lock()
	if e.refetching {
		e.mu.Unlock()
		return
	}
	e.refetching = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.refetching = false
			e.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		for _, card := range cards {
			if card.Collapsed || card.Kind != model.KindConversation || card.AccountID != e.accountID {
				continue
			}
			if err := e.Reload(ctx, card); err != nil {
				e.logger.Warn("background refetch failed", "card", card.ID, "error", err)
			}
		}
	}()
}

// filterGuarded drops guarded conversation ids from a diff. A guard is set
// for the duration of the guard window after a local mutation so a stale
// server snapshot cannot clobber the optimistic state.
func (e *Engine) filterGuarded(modified []model.Conversation, deleted []string) ([]model.Conversation, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.guardIDs) == 0 {
		return modified, deleted
	}

	outMod := modified[:0]
	for _, c := range modified {
		if !e.guardIDs[c.ID] {
			outMod = append(outMod, c)
		}
	}
	outDel := deleted[:0]
	for _, id := range deleted {
		if !e.guardIDs[id] {
			outDel = append(outDel, id)
		}
	}
	return outMod, outDel
}
