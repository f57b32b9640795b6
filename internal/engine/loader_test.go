package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/remote"
)

func TestLoadCardServesFromCache(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.cache.Put(card.ID, groupsOf(model.BucketToday, conv("t1", "cached")), "")

	entry, err := h.engine.LoadCard(context.Background(), card)
	if err != nil {
		t.Fatalf("LoadCard: %v", err)
	}
	if got := entry.Groups[0].Conversations[0].Subject; got != "cached" {
		t.Errorf("subject = %q, want cached", got)
	}
	if n := h.svc.PageCallsFor(card.ID); n != 0 {
		t.Errorf("cache hit still fetched %d pages", n)
	}
}

func TestLoadCardFetchesOnMiss(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.svc.SetPage(card.ID, "", &remote.Page{
		Groups:        groupsOf(model.BucketToday, conv("t1", "fresh")),
		NextPageToken: "page-2",
		HasMore:       true,
	})

	entry, err := h.engine.LoadCard(context.Background(), card)
	if err != nil {
		t.Fatalf("LoadCard: %v", err)
	}
	if got := entry.Groups[0].Conversations[0].Subject; got != "fresh" {
		t.Errorf("subject = %q, want fresh", got)
	}
	if entry.Cursor != "page-2" {
		t.Errorf("cursor = %q, want page-2", entry.Cursor)
	}
	if _, ok := h.cache.Get(card.ID); !ok {
		t.Error("fetched page not cached")
	}
}

func TestLoadCardFetchErrorRecorded(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.svc.PageErrFor[card.ID] = errors.New("remote exploded")

	_, err := h.engine.LoadCard(context.Background(), card)
	if err == nil {
		t.Fatal("expected error")
	}
	if h.engine.LastError(card.ID) == nil {
		t.Error("per-card error not recorded")
	}

	// A later success clears the recorded error.
	delete(h.svc.PageErrFor, card.ID)
	if err := h.engine.Reload(context.Background(), card); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if h.engine.LastError(card.ID) != nil {
		t.Error("recorded error survived a successful fetch")
	}
}

func TestReloadBypassesCache(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.cache.Put(card.ID, groupsOf(model.BucketToday, conv("t1", "stale")), "old-cursor")
	h.svc.SetPage(card.ID, "", &remote.Page{
		Groups: groupsOf(model.BucketToday, conv("t1", "fresh")),
	})

	if err := h.engine.Reload(context.Background(), card); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	entry, _ := h.cache.Get(card.ID)
	if got := entry.Groups[0].Conversations[0].Subject; got != "fresh" {
		t.Errorf("subject = %q, want fresh", got)
	}
	if entry.Cursor != "" {
		t.Errorf("cursor = %q, want reset", entry.Cursor)
	}
}

func TestLoadMoreMergesNextPage(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.cache.Put(card.ID, groupsOf(model.BucketToday, conv("a", "A")), "page-2")
	h.svc.SetPage(card.ID, "page-2", &remote.Page{
		Groups: []model.Group{
			{Label: model.BucketToday, Conversations: []model.Conversation{conv("b", "B")}},
			{Label: model.BucketOlder, Conversations: []model.Conversation{conv("c", "C")}},
		},
		NextPageToken: "page-3",
		HasMore:       true,
	})

	more, err := h.engine.LoadMore(context.Background(), card)
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if !more {
		t.Error("HasMore not propagated")
	}

	entry, _ := h.cache.Get(card.ID)
	if diff := cmp.Diff([]string{model.BucketToday, model.BucketOlder}, labels(entry.Groups)); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(entry.Groups[0])); diff != "" {
		t.Errorf("Today union (-want +got):\n%s", diff)
	}
	if entry.Cursor != "page-3" {
		t.Errorf("cursor = %q, want page-3", entry.Cursor)
	}
}

func TestLoadMoreWithoutCursorIsNoop(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.cache.Put(card.ID, groupsOf(model.BucketToday, conv("a", "A")), "")

	more, err := h.engine.LoadMore(context.Background(), card)
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if more {
		t.Error("no-cursor LoadMore reported more pages")
	}
	if n := h.svc.PageCallsFor(card.ID); n != 0 {
		t.Errorf("no-cursor LoadMore fetched %d pages", n)
	}
}

func TestLoadGuardRejectsConcurrentFetch(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)

	if !h.engine.beginLoad(card.ID) {
		t.Fatal("first beginLoad refused")
	}
	defer h.engine.endLoad(card.ID)

	if _, err := h.engine.LoadCard(context.Background(), card); !errors.Is(err, ErrLoadInFlight) {
		t.Errorf("err = %v, want ErrLoadInFlight", err)
	}
}
