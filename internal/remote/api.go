// Package remote defines the remote service operations the sync engine
// consumes, an HTTP implementation with rate limiting, and a mock for tests.
package remote

import (
	"context"
	"fmt"

	"github.com/postaworks/posta/internal/model"
)

// Service is the remote conversation service. Exactly three operations:
// incremental change feeds, paged card queries, and tag mutations.
// Transport details stay behind this interface.
type Service interface {
	// FetchIncrementalChanges returns conversations modified and deleted
	// since the account's last sync cursor. An empty cursor requests a
	// cursor reset: the response carries a fresh cursor and no changes,
	// and callers should do a full reload.
	FetchIncrementalChanges(ctx context.Context, accountID, cursor string) (*Changes, error)

	// FetchPage returns one page of grouped results for a card's query.
	// An empty pageToken fetches the first page.
	FetchPage(ctx context.Context, accountID, cardID, query, pageToken string) (*Page, error)

	// ApplyTagMutation adds and removes tags on the given conversations.
	ApplyTagMutation(ctx context.Context, accountID string, ids, add, remove []string) error
}

// Changes is an incremental delta, global to the account rather than
// scoped to any card.
type Changes struct {
	Modified   []model.Conversation `json:"modified"`
	DeletedIDs []string             `json:"deleted_ids"`
	Cursor     string               `json:"cursor"`
	FullSync   bool                 `json:"full_sync"` // cursor was reset; callers should reload
}

// Page is one page of grouped results for a card query.
type Page struct {
	Groups        []model.Group `json:"groups"`
	NextPageToken string        `json:"next_page_token"`
	HasMore       bool          `json:"has_more"`
}

// AuthError indicates the session is no longer valid (401/403). The engine
// routes these to the global sign-out flow and stops polling the account.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// NotFoundError indicates a missing resource or an expired sync cursor.
// An expired cursor means the caller should reset and fall back to a full
// reload.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}
