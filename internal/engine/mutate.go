package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/postaworks/posta/internal/model"
)

// ActionRequest describes a user action on one or more conversations.
// CardID is the card the action originated from; the rewrite itself spans
// every card the conversations appear in.
type ActionRequest struct {
	CardID          string
	Action          model.ActionKind
	ConversationIDs []string

	// Confirmed must be set for destructive actions on more than one
	// conversation; Apply returns ErrNeedsConfirmation otherwise.
	Confirmed bool
}

// PendingMutation is the last applied mutation while its undo window is
// open.
type PendingMutation struct {
	Action          model.ActionKind
	CardID          string
	ConversationIDs []string
	Inverse         model.TagDelta
	AppliedAt       time.Time
}

// Pending returns the mutation currently eligible for Undo, or nil.
func (e *Engine) Pending() *PendingMutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Apply performs an optimistic mutation: every card cache is rewritten
// first, then the remote call is issued. On remote failure the optimistic
// state is kept and the error surfaced through OnMutationError, unless
// RollbackOnFailure restores the pre-mutation snapshots.
//
// A successful Apply opens the undo window and arms the guard window for
// the touched conversations, superseding any previous pending mutation.
func (e *Engine) Apply(ctx context.Context, req ActionRequest) error {
	if len(req.ConversationIDs) == 0 {
		return nil
	}
	if len(req.ConversationIDs) > 1 && req.Action.Destructive() && !req.Confirmed {
		return ErrNeedsConfirmation
	}
	delta, err := model.ResolveAction(req.Action)
	if err != nil {
		return err
	}

	snapshots := e.rewriteCaches(req.ConversationIDs, delta, req.Action.RemovesFromView())

	// The guard is armed before the remote call, not on success: a diff
	// landing while the request is in flight must not clobber the rewrite.
	e.armGuard(req.ConversationIDs)

	if len(req.ConversationIDs) > 1 && e.callbacks.OnClearSelection != nil {
		e.callbacks.OnClearSelection(req.CardID)
	}

	if err := e.svc.ApplyTagMutation(ctx, e.accountID, req.ConversationIDs, delta.Add, delta.Remove); err != nil {
		e.logger.Warn("remote mutation failed",
			"action", req.Action, "conversations", len(req.ConversationIDs), "error", err)
		if e.opts.RollbackOnFailure {
			e.restoreSnapshots(snapshots)
		}
		e.notifyAuth(err)
		if e.callbacks.OnMutationError != nil {
			e.callbacks.OnMutationError(err)
		}
		return fmt.Errorf("apply %s: %w", req.Action, err)
	}

	e.mu.Lock()
	if e.undoTimer != nil {
		e.undoTimer.Stop()
	}
	e.pending = &PendingMutation{
		Action:          req.Action,
		CardID:          req.CardID,
		ConversationIDs: append([]string(nil), req.ConversationIDs...),
		Inverse:         delta.Invert(),
		AppliedAt:       time.Now(),
	}
	e.undoTimer = time.AfterFunc(e.opts.UndoWindow, e.expireUndo)
	e.mu.Unlock()
	return nil
}

// Undo reverts the pending mutation on the remote and reloads the origin
// card so its snapshot reflects server state again. Returns ErrUndoExpired
// when the undo window has closed.
func (e *Engine) Undo(ctx context.Context) error {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	if e.undoTimer != nil {
		e.undoTimer.Stop()
		e.undoTimer = nil
	}
	e.mu.Unlock()

	if pending == nil {
		return ErrUndoExpired
	}

	inv := pending.Inverse
	if err := e.svc.ApplyTagMutation(ctx, e.accountID, pending.ConversationIDs, inv.Add, inv.Remove); err != nil {
		e.notifyAuth(err)
		return fmt.Errorf("undo %s: %w", pending.Action, err)
	}

	card, err := e.storage.GetCard(pending.CardID)
	if err != nil {
		return fmt.Errorf("undo %s: %w", pending.Action, err)
	}
	if card == nil {
		return nil
	}
	return e.Reload(ctx, *card)
}

func (e *Engine) expireUndo() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.undoTimer = nil
}

// rewriteCaches applies the tag delta to every cached copy of the touched
// conversations and returns the pre-mutation snapshots of the cards that
// changed, keyed by card id.
func (e *Engine) rewriteCaches(ids []string, delta model.TagDelta, removeFromView bool) map[string]*model.CacheEntry {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	snapshots := make(map[string]*model.CacheEntry)
	for _, cardID := range e.cache.CardIDs() {
		entry, ok := e.cache.Get(cardID)
		if !ok {
			continue
		}
		groups, changed := rewriteGroups(entry.Groups, idSet, delta, removeFromView)
		if !changed {
			continue
		}
		snapshots[cardID] = entry
		e.cache.Put(cardID, groups, entry.Cursor)
	}
	return snapshots
}

// rewriteGroups applies the delta (or removal) to matching conversations
// and drops groups emptied by removals.
func rewriteGroups(groups []model.Group, idSet map[string]bool, delta model.TagDelta, removeFromView bool) ([]model.Group, bool) {
	changed := false
	out := groups[:0]
	for _, g := range groups {
		if removeFromView {
			kept := g.Conversations[:0]
			for _, c := range g.Conversations {
				if idSet[c.ID] {
					changed = true
					continue
				}
				kept = append(kept, c)
			}
			g.Conversations = kept
		} else {
			for i := range g.Conversations {
				c := &g.Conversations[i]
				if !idSet[c.ID] {
					continue
				}
				applyDelta(c, delta)
				changed = true
			}
		}
		if len(g.Conversations) > 0 {
			out = append(out, g)
		} else {
			changed = true
		}
	}
	return out, changed
}

// applyDelta rewrites a conversation's tags and keeps the unread count
// consistent with the UNREAD tag.
func applyDelta(c *model.Conversation, delta model.TagDelta) {
	for _, t := range delta.Add {
		c.AddTag(t)
	}
	for _, t := range delta.Remove {
		c.RemoveTag(t)
	}
	if !c.IsUnread() {
		c.UnreadCount = 0
	} else if c.UnreadCount == 0 {
		c.UnreadCount = 1
	}
}

func (e *Engine) restoreSnapshots(snapshots map[string]*model.CacheEntry) {
	for cardID, entry := range snapshots {
		e.cache.Put(cardID, entry.Groups, entry.Cursor)
	}
}

// armGuard marks the given conversations as freshly mutated so in-flight
// background diffs cannot clobber the optimistic rewrite. A new mutation
// restarts the window for its own ids; earlier guarded ids stay guarded
// until the new deadline.
func (e *Engine) armGuard(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.guardIDs[id] = true
	}
	if e.guardTimer != nil {
		e.guardTimer.Stop()
	}
	e.guardTimer = time.AfterFunc(e.opts.GuardWindow, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.guardIDs = make(map[string]bool)
		e.guardTimer = nil
	})
}
