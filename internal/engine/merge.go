package engine

import "github.com/postaworks/posta/internal/model"

// MergePolicy controls how group labels are ordered and filtered when a
// freshly fetched page is unioned into an existing snapshot. The policy is
// a required parameter: the canonical-bucket policy is only correct for
// date-grouped cards and would silently drop groups under any other
// grouping dimension.
type MergePolicy int

const (
	// MergeCanonicalDate re-emits groups strictly in the fixed date-bucket
	// order and drops any label outside the canonical set.
	MergeCanonicalDate MergePolicy = iota

	// MergePreserveOrder keeps existing labels in their current order and
	// appends new incoming labels after them. No label is ever dropped.
	MergePreserveOrder
)

// PolicyFor returns the merge policy for a card's grouping dimension.
func PolicyFor(groupBy model.GroupBy) MergePolicy {
	if groupBy == model.GroupByDate {
		return MergeCanonicalDate
	}
	return MergePreserveOrder
}

// MergeGroups unions incoming groups into existing ones. Within a label,
// existing conversation order is preserved and incoming conversations not
// already present by id are appended. The operation is idempotent:
// merging the same incoming page twice yields the same result.
func MergeGroups(existing, incoming []model.Group, policy MergePolicy) []model.Group {
	merged := make(map[string]model.Group)
	var labelOrder []string

	appendGroup := func(g model.Group) {
		m, ok := merged[g.Label]
		if !ok {
			labelOrder = append(labelOrder, g.Label)
			merged[g.Label] = model.Group{
				Label:         g.Label,
				Conversations: append([]model.Conversation(nil), g.Conversations...),
			}
			return
		}
		for _, c := range g.Conversations {
			if !m.Contains(c.ID) {
				m.Conversations = append(m.Conversations, c)
			}
		}
		merged[g.Label] = m
	}

	for _, g := range existing {
		appendGroup(g)
	}
	for _, g := range incoming {
		appendGroup(g)
	}

	var out []model.Group
	switch policy {
	case MergeCanonicalDate:
		for _, label := range model.CanonicalBuckets {
			if g, ok := merged[label]; ok && len(g.Conversations) > 0 {
				out = append(out, g)
			}
		}
	default:
		for _, label := range labelOrder {
			if g := merged[label]; len(g.Conversations) > 0 {
				out = append(out, g)
			}
		}
	}
	return out
}
