package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/postaworks/posta/internal/cache"
	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/remote"
	"github.com/postaworks/posta/internal/testutil"
)

const testAccount = "acct-1"

// fakeStorage is an in-memory Storage for engine tests.
type fakeStorage struct {
	mu      sync.Mutex
	cards   []model.Card
	cursors map[string]string
}

func newFakeStorage(cards ...model.Card) *fakeStorage {
	return &fakeStorage{cards: cards, cursors: make(map[string]string)}
}

func (f *fakeStorage) ListAllCards() ([]model.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Card(nil), f.cards...), nil
}

func (f *fakeStorage) GetCard(id string) (*model.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if c.ID == id {
			card := c
			return &card, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) GetSyncCursor(accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[accountID], nil
}

func (f *fakeStorage) SetSyncCursor(accountID, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[accountID] = cursor
	return nil
}

func (f *fakeStorage) ClearSyncCursor(accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cursors, accountID)
	return nil
}

// nullPersister satisfies cache.Persister without durable storage.
type nullPersister struct{}

func (nullPersister) GetCardCache(string) (*model.CacheEntry, error) { return nil, nil }
func (nullPersister) PutCardCache(string, *model.CacheEntry) error   { return nil }
func (nullPersister) DeleteCardCache(string) error                   { return nil }
func (nullPersister) ClearAllCardCaches() (int64, error)             { return 0, nil }

type testHarness struct {
	engine  *Engine
	storage *fakeStorage
	cache   *cache.Store
	svc     *remote.MockService
}

func newTestEngine(t *testing.T, opts Options, cards ...model.Card) *testHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	storage := newFakeStorage(cards...)
	cacheStore := cache.New(nullPersister{}, 0, logger)
	svc := remote.NewMockService()
	eng := New(testAccount, storage, cacheStore, svc, opts, logger)
	t.Cleanup(func() {
		eng.Close()
		cacheStore.Flush()
	})
	return &testHarness{engine: eng, storage: storage, cache: cacheStore, svc: svc}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func conv(id, subject string, tags ...string) model.Conversation {
	return testutil.NewConversation(id).
		WithSubject(subject).
		WithLastActivity(time.Now().Add(-time.Hour)).
		WithTags(tags...).
		Build()
}

func dateCard(id string) model.Card {
	return testutil.NewCard(id, testAccount).WithName(id).Build()
}

func groupsOf(label string, convs ...model.Conversation) []model.Group {
	return testutil.Groups(label, convs...)
}

func TestSyncOncePersistsCursor(t *testing.T) {
	h := newTestEngine(t, DefaultOptions(), dateCard("c1"))
	h.svc.QueueChanges(&remote.Changes{Cursor: "cur-2"})

	if _, err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	got, _ := h.storage.GetSyncCursor(testAccount)
	if got != "cur-2" {
		t.Errorf("cursor = %q, want cur-2", got)
	}
}

func TestSyncOncePassesStoredCursor(t *testing.T) {
	h := newTestEngine(t, DefaultOptions())
	h.storage.SetSyncCursor(testAccount, "cur-7")

	if _, err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if h.svc.LastCursor != "cur-7" {
		t.Errorf("LastCursor = %q, want cur-7", h.svc.LastCursor)
	}
}

func TestSyncOnceExpiredCursorReloadsAll(t *testing.T) {
	card := dateCard("c1")
	h := newTestEngine(t, DefaultOptions(), card)
	h.storage.SetSyncCursor(testAccount, "stale")
	h.svc.ChangesErr = &remote.NotFoundError{Path: "/changes"}
	h.svc.SetPage(card.ID, "", &remote.Page{
		Groups: groupsOf(model.BucketToday, conv("t1", "hello")),
	})

	changed, err := h.engine.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if !changed {
		t.Error("expected changed=true after full reload")
	}
	if cur, _ := h.storage.GetSyncCursor(testAccount); cur != "" {
		t.Errorf("cursor not cleared, got %q", cur)
	}
	entry, ok := h.cache.Get(card.ID)
	if !ok || len(entry.Groups) != 1 {
		t.Fatalf("cache not repopulated: %+v", entry)
	}
}

func TestSyncOnceAuthErrorNotifies(t *testing.T) {
	h := newTestEngine(t, DefaultOptions())
	var got error
	h.engine.WithCallbacks(Callbacks{OnAuthError: func(err error) { got = err }})
	h.svc.ChangesErr = &remote.AuthError{Status: 401, Message: "expired"}

	_, err := h.engine.SyncOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *remote.AuthError
	if !errors.As(got, &ae) {
		t.Errorf("OnAuthError got %v, want AuthError", got)
	}
}

func TestSignOutClearsState(t *testing.T) {
	h := newTestEngine(t, DefaultOptions())
	h.cache.Put("c1", groupsOf(model.BucketToday, conv("t1", "x")), "")
	h.storage.SetSyncCursor(testAccount, "cur")

	h.engine.SignOut()

	if _, ok := h.cache.Get("c1"); ok {
		t.Error("cache entry survived sign-out")
	}
	if cur, _ := h.storage.GetSyncCursor(testAccount); cur != "" {
		t.Errorf("cursor survived sign-out: %q", cur)
	}
}
