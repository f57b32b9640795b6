// Package model defines the shared data types for the Posta sync engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CardKind distinguishes conversation cards from calendar event cards.
type CardKind string

const (
	KindConversation CardKind = "conversation"
	KindEvent        CardKind = "event"
)

// GroupBy is the grouping dimension for a card's results.
type GroupBy string

const (
	GroupByDate      GroupBy = "date"
	GroupBySender    GroupBy = "sender"
	GroupByTag       GroupBy = "tag"
	GroupByOrganizer GroupBy = "organizer"
	GroupByCalendar  GroupBy = "calendar"
)

// Card is a user-defined saved query with its own grouped cache.
type Card struct {
	ID        string   `json:"id"`
	AccountID string   `json:"account_id"`
	Name      string   `json:"name"`
	Query     string   `json:"query"`
	Position  int      `json:"position"`
	Collapsed bool     `json:"collapsed"`
	Color     string   `json:"color,omitempty"`
	GroupBy   GroupBy  `json:"group_by"`
	Kind      CardKind `json:"kind"`
}

// NewCard creates a conversation card with a fresh id and date grouping.
func NewCard(accountID, name, query string, position int) Card {
	return Card{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		Query:     query,
		Position:  position,
		GroupBy:   GroupByDate,
		Kind:      KindConversation,
	}
}

// Attachment describes a file attached to a conversation.
type Attachment struct {
	MessageID    string `json:"message_id"`
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// Conversation is the unit of content in conversation cards.
// Tags is an unordered set stored as a slice; use the helpers below
// rather than mutating it directly.
type Conversation struct {
	ID           string       `json:"id"`
	Subject      string       `json:"subject"`
	Snippet      string       `json:"snippet"`
	LastActivity time.Time    `json:"last_activity"`
	UnreadCount  int          `json:"unread_count"`
	Tags         []string     `json:"tags"`
	Participants []string     `json:"participants"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// HasTag reports whether the conversation carries the given tag.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag if not already present.
func (c *Conversation) AddTag(tag string) {
	if !c.HasTag(tag) {
		c.Tags = append(c.Tags, tag)
	}
}

// RemoveTag removes a tag if present.
func (c *Conversation) RemoveTag(tag string) {
	out := c.Tags[:0]
	for _, t := range c.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	c.Tags = out
}

// IsUnread reports whether the conversation carries the UNREAD tag.
func (c *Conversation) IsUnread() bool {
	return c.HasTag(TagUnread)
}

// Group is a labeled, ordered sequence of conversations. A conversation
// appears at most once per group within a card's snapshot.
type Group struct {
	Label         string         `json:"label"`
	Conversations []Conversation `json:"conversations"`
}

// Contains reports whether the group holds a conversation with the given id.
func (g *Group) Contains(id string) bool {
	for i := range g.Conversations {
		if g.Conversations[i].ID == id {
			return true
		}
	}
	return false
}

// CacheEntry is a card's cached snapshot: grouped results plus the
// pagination cursor and the time the snapshot was taken. CachedAt only
// moves forward for a given card unless the entry is explicitly cleared.
type CacheEntry struct {
	Groups   []Group   `json:"groups"`
	Cursor   string    `json:"cursor,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

// Clone returns a deep copy of the entry. The engine hands copies to
// callers so cache rewrites never race with reads of returned snapshots.
func (e *CacheEntry) Clone() *CacheEntry {
	out := &CacheEntry{Cursor: e.Cursor, CachedAt: e.CachedAt}
	out.Groups = CloneGroups(e.Groups)
	return out
}

// CloneGroups deep-copies a group list, including per-conversation
// tag and participant slices.
func CloneGroups(groups []Group) []Group {
	if groups == nil {
		return nil
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		cg := Group{Label: g.Label, Conversations: make([]Conversation, len(g.Conversations))}
		for j, c := range g.Conversations {
			cc := c
			cc.Tags = append([]string(nil), c.Tags...)
			cc.Participants = append([]string(nil), c.Participants...)
			cc.Attachments = append([]Attachment(nil), c.Attachments...)
			cg.Conversations[j] = cc
		}
		out[i] = cg
	}
	return out
}
