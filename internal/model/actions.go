package model

import "fmt"

// Remote tag identifiers used by the mutation engine.
const (
	TagInbox     = "INBOX"
	TagUnread    = "UNREAD"
	TagStarred   = "STARRED"
	TagImportant = "IMPORTANT"
	TagTrash     = "TRASH"
	TagSpam      = "SPAM"
)

// ActionKind is a closed set of user actions on conversations.
type ActionKind string

const (
	ActionStar        ActionKind = "star"
	ActionUnstar      ActionKind = "unstar"
	ActionArchive     ActionKind = "archive"
	ActionTrash       ActionKind = "trash"
	ActionRead        ActionKind = "read"
	ActionUnread      ActionKind = "unread"
	ActionImportant   ActionKind = "important"
	ActionUnimportant ActionKind = "unimportant"
	ActionSpam        ActionKind = "spam"
)

// TagDelta is the tag rewrite an action performs.
type TagDelta struct {
	Add    []string
	Remove []string
}

// Invert swaps the add and remove sets, producing the undo delta.
func (d TagDelta) Invert() TagDelta {
	return TagDelta{Add: d.Remove, Remove: d.Add}
}

// Actions maps every ActionKind to its tag delta. The table is total:
// dispatch goes through ResolveAction, never through string comparison.
var Actions = map[ActionKind]TagDelta{
	ActionStar:        {Add: []string{TagStarred}},
	ActionUnstar:      {Remove: []string{TagStarred}},
	ActionArchive:     {Remove: []string{TagInbox}},
	ActionTrash:       {Add: []string{TagTrash}},
	ActionRead:        {Remove: []string{TagUnread}},
	ActionUnread:      {Add: []string{TagUnread}},
	ActionImportant:   {Add: []string{TagImportant}},
	ActionUnimportant: {Remove: []string{TagImportant}},
	ActionSpam:        {Add: []string{TagSpam}, Remove: []string{TagInbox}},
}

// ResolveAction returns the tag delta for an action kind.
func ResolveAction(kind ActionKind) (TagDelta, error) {
	delta, ok := Actions[kind]
	if !ok {
		return TagDelta{}, fmt.Errorf("unknown action kind %q", kind)
	}
	return delta, nil
}

// RemovesFromView reports whether the action drops the conversation from
// the cards it appears in (rather than only rewriting its tags).
func (k ActionKind) RemovesFromView() bool {
	switch k {
	case ActionArchive, ActionTrash, ActionSpam:
		return true
	}
	return false
}

// Destructive reports whether the action needs explicit confirmation
// when applied to more than one conversation at once.
func (k ActionKind) Destructive() bool {
	return k.RemovesFromView()
}
