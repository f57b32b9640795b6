package testutil

import (
	"time"

	"github.com/postaworks/posta/internal/model"
)

// ConversationBuilder provides a fluent API for constructing
// model.Conversation in tests.
type ConversationBuilder struct {
	c model.Conversation
}

// NewConversation creates a builder with sensible defaults.
func NewConversation(id string) *ConversationBuilder {
	return &ConversationBuilder{
		c: model.Conversation{
			ID:           id,
			Subject:      "Test Subject",
			Snippet:      "test snippet",
			LastActivity: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Participants: []string{"sender@example.com"},
		},
	}
}

func (b *ConversationBuilder) WithSubject(s string) *ConversationBuilder {
	b.c.Subject = s
	return b
}

func (b *ConversationBuilder) WithSnippet(s string) *ConversationBuilder {
	b.c.Snippet = s
	return b
}

func (b *ConversationBuilder) WithLastActivity(t time.Time) *ConversationBuilder {
	b.c.LastActivity = t
	return b
}

func (b *ConversationBuilder) WithTags(tags ...string) *ConversationBuilder {
	b.c.Tags = tags
	return b
}

func (b *ConversationBuilder) WithParticipants(p ...string) *ConversationBuilder {
	b.c.Participants = p
	return b
}

// Unread marks the conversation unread with the given count.
func (b *ConversationBuilder) Unread(count int) *ConversationBuilder {
	b.c.AddTag(model.TagUnread)
	b.c.UnreadCount = count
	return b
}

// Build returns the constructed conversation.
func (b *ConversationBuilder) Build() model.Conversation {
	return b.c
}

// Group builds a labeled group from conversations.
func Group(label string, convs ...model.Conversation) model.Group {
	return model.Group{Label: label, Conversations: convs}
}

// Groups builds a one-group slice, the common case in cache tests.
func Groups(label string, convs ...model.Conversation) []model.Group {
	return []model.Group{Group(label, convs...)}
}

// CardBuilder provides a fluent API for constructing model.Card in tests.
type CardBuilder struct {
	card model.Card
}

// NewCard creates a builder for a date-grouped conversation card.
func NewCard(id, accountID string) *CardBuilder {
	return &CardBuilder{
		card: model.Card{
			ID:        id,
			AccountID: accountID,
			Name:      "Test Card",
			Query:     "in:inbox",
			GroupBy:   model.GroupByDate,
			Kind:      model.KindConversation,
		},
	}
}

func (b *CardBuilder) WithName(name string) *CardBuilder {
	b.card.Name = name
	return b
}

func (b *CardBuilder) WithQuery(q string) *CardBuilder {
	b.card.Query = q
	return b
}

func (b *CardBuilder) WithPosition(p int) *CardBuilder {
	b.card.Position = p
	return b
}

func (b *CardBuilder) WithGroupBy(g model.GroupBy) *CardBuilder {
	b.card.GroupBy = g
	return b
}

func (b *CardBuilder) Collapsed() *CardBuilder {
	b.card.Collapsed = true
	return b
}

// Build returns the constructed card.
func (b *CardBuilder) Build() model.Card {
	return b.card
}
