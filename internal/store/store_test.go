package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "posta.db"))
	testutil.MustNoErr(t, err, "open store")
	t.Cleanup(func() { s.Close() })
	testutil.MustNoErr(t, s.InitSchema(), "init schema")
	return s
}

func TestCardCRUD(t *testing.T) {
	s := newTestStore(t)

	card := model.NewCard("acct-1", "Inbox", "in:inbox", 0)
	card.Color = "#ff8800"
	if err := s.InsertCard(card); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetCard(card.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(&card, got); diff != "" {
		t.Errorf("card mismatch (-want +got):\n%s", diff)
	}

	card.Name = "Priority"
	card.Query = "in:inbox is:important"
	card.Collapsed = true
	if err := s.UpdateCard(card); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetCard(card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Priority" || !got.Collapsed {
		t.Errorf("update not applied: %+v", got)
	}

	if err := s.DeleteCard(card.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.GetCard(card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestListCardsOrdering(t *testing.T) {
	s := newTestStore(t)

	for i, name := range []string{"c", "a", "b"} {
		card := model.NewCard("acct-1", name, "q:"+name, i)
		if err := s.InsertCard(card); err != nil {
			t.Fatal(err)
		}
	}
	// Other account's cards don't leak in.
	if err := s.InsertCard(model.NewCard("acct-2", "other", "q", 0)); err != nil {
		t.Fatal(err)
	}

	cards, err := s.ListCards("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(cards))
	}
	for i, c := range cards {
		if c.Position != i {
			t.Errorf("card %q position = %d, want %d", c.Name, c.Position, i)
		}
	}
}

func TestReorderCards(t *testing.T) {
	s := newTestStore(t)

	a := model.NewCard("acct-1", "a", "q:a", 0)
	b := model.NewCard("acct-1", "b", "q:b", 1)
	for _, c := range []model.Card{a, b} {
		if err := s.InsertCard(c); err != nil {
			t.Fatal(err)
		}
	}

	err := s.ReorderCards([]CardPosition{{ID: a.ID, Position: 1}, {ID: b.ID, Position: 0}})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}

	cards, err := s.ListCards("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if cards[0].ID != b.ID || cards[1].ID != a.ID {
		t.Errorf("reorder not applied: %v then %v", cards[0].Name, cards[1].Name)
	}
}

func TestCardCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)

	entry := &model.CacheEntry{
		Groups: []model.Group{{
			Label: model.BucketToday,
			Conversations: []model.Conversation{{
				ID:           "c1",
				Subject:      "hello",
				Tags:         []string{model.TagInbox, model.TagUnread},
				Participants: []string{"ann@example.com"},
				LastActivity: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
				UnreadCount:  1,
			}},
		}},
		Cursor:   "page-2",
		CachedAt: time.Now().Truncate(time.Second).UTC(),
	}

	if err := s.PutCardCache("card-1", entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetCardCache("card-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Errorf("cache mismatch (-want +got):\n%s", diff)
	}

	// Missing card returns nil without error.
	got, err = s.GetCardCache("nope")
	if err != nil || got != nil {
		t.Errorf("missing cache: got %+v, err %v", got, err)
	}

	if err := s.DeleteCardCache("card-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetCardCache("card-1")
	if got != nil {
		t.Error("cache should be gone after delete")
	}
}

func TestSweepStaleCaches(t *testing.T) {
	s := newTestStore(t)

	fresh := &model.CacheEntry{Groups: []model.Group{}, CachedAt: time.Now().UTC()}
	stale := &model.CacheEntry{Groups: []model.Group{}, CachedAt: time.Now().Add(-48 * time.Hour).UTC()}
	if err := s.PutCardCache("fresh", fresh); err != nil {
		t.Fatal(err)
	}
	if err := s.PutCardCache("stale", stale); err != nil {
		t.Fatal(err)
	}

	n, err := s.SweepStaleCaches(24 * time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d entries, want 1", n)
	}
	if got, _ := s.GetCardCache("fresh"); got == nil {
		t.Error("fresh entry should survive the sweep")
	}
	if got, _ := s.GetCardCache("stale"); got != nil {
		t.Error("stale entry should be swept")
	}
}

func TestSyncCursor(t *testing.T) {
	s := newTestStore(t)

	cursor, err := s.GetSyncCursor("acct-1")
	if err != nil || cursor != "" {
		t.Errorf("fresh account: cursor %q, err %v", cursor, err)
	}

	if err := s.SetSyncCursor("acct-1", "hist-100"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncCursor("acct-1", "hist-200"); err != nil {
		t.Fatal(err)
	}
	cursor, err = s.GetSyncCursor("acct-1")
	if err != nil || cursor != "hist-200" {
		t.Errorf("cursor = %q, err %v, want hist-200", cursor, err)
	}

	if err := s.ClearSyncCursor("acct-1"); err != nil {
		t.Fatal(err)
	}
	cursor, _ = s.GetSyncCursor("acct-1")
	if cursor != "" {
		t.Errorf("cursor should be empty after clear, got %q", cursor)
	}
}

func TestPrefs(t *testing.T) {
	s := newTestStore(t)

	if v, err := s.GetPref("layout"); err != nil || v != "" {
		t.Errorf("unset pref: %q, %v", v, err)
	}
	if err := s.SetPref("layout", "two-column"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPref("layout", "grid"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetPref("layout"); v != "grid" {
		t.Errorf("pref = %q, want grid", v)
	}
	if err := s.DeletePref("layout"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetPref("layout"); v != "" {
		t.Errorf("pref should be empty after delete, got %q", v)
	}
}
