package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/testutil"
)

// memPersister is an in-memory Persister with error injection and call
// tracking.
type memPersister struct {
	mu      sync.Mutex
	blobs   map[string]*model.CacheEntry
	puts    int
	PutErr  error
	GetErr  error
	DelErr  error
	ClrErr  error
}

func newMemPersister() *memPersister {
	return &memPersister{blobs: make(map[string]*model.CacheEntry)}
}

func (p *memPersister) GetCardCache(cardID string) (*model.CacheEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GetErr != nil {
		return nil, p.GetErr
	}
	entry, ok := p.blobs[cardID]
	if !ok {
		return nil, nil
	}
	return entry.Clone(), nil
}

func (p *memPersister) PutCardCache(cardID string, entry *model.CacheEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts++
	if p.PutErr != nil {
		return p.PutErr
	}
	p.blobs[cardID] = entry.Clone()
	return nil
}

func (p *memPersister) DeleteCardCache(cardID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DelErr != nil {
		return p.DelErr
	}
	delete(p.blobs, cardID)
	return nil
}

func (p *memPersister) ClearAllCardCaches() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ClrErr != nil {
		return 0, p.ClrErr
	}
	n := int64(len(p.blobs))
	p.blobs = make(map[string]*model.CacheEntry)
	return n, nil
}

func (p *memPersister) putCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.puts
}

func (p *memPersister) stored(cardID string) *model.CacheEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blobs[cardID]
}

func groups(ids ...string) []model.Group {
	conversations := make([]model.Conversation, len(ids))
	for i, id := range ids {
		conversations[i] = testutil.NewConversation(id).WithTags(model.TagInbox).Build()
	}
	return testutil.Groups(model.BucketToday, conversations...)
}

func TestPutGet(t *testing.T) {
	p := newMemPersister()
	s := New(p, 0, nil)

	s.Put("card-1", groups("c1", "c2"), "tok")

	entry, ok := s.Get("card-1")
	if !ok {
		t.Fatal("expected entry")
	}
	if entry.Cursor != "tok" || len(entry.Groups) != 1 || len(entry.Groups[0].Conversations) != 2 {
		t.Errorf("unexpected entry: %+v", entry)
	}

	// Returned snapshot is a copy.
	entry.Groups[0].Conversations[0].AddTag(model.TagStarred)
	again, _ := s.Get("card-1")
	if again.Groups[0].Conversations[0].HasTag(model.TagStarred) {
		t.Error("Get must return a copy, not the live entry")
	}
}

func TestPutPersistsAsynchronously(t *testing.T) {
	p := newMemPersister()
	s := New(p, 0, nil)

	s.Put("card-1", groups("c1"), "")
	s.Flush()

	if p.stored("card-1") == nil {
		t.Error("entry should be persisted after Flush")
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	p := newMemPersister()
	p.PutErr = errors.New("disk full")
	s := New(p, 0, nil)

	s.Put("card-1", groups("c1"), "")
	s.Flush()

	// In-memory copy remains authoritative.
	if _, ok := s.Get("card-1"); !ok {
		t.Error("in-memory entry should survive persistence failure")
	}
}

func TestDebounceCollapsesWrites(t *testing.T) {
	p := newMemPersister()
	s := New(p, 50*time.Millisecond, nil)

	for i := 0; i < 5; i++ {
		s.Put("card-1", groups("c1"), "")
	}
	s.Flush()

	if got := p.putCount(); got != 1 {
		t.Errorf("expected 1 collapsed write, got %d", got)
	}
}

func TestCachedAtMonotonic(t *testing.T) {
	p := newMemPersister()
	s := New(p, 0, nil)

	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	s.Put("card-1", groups("c1"), "")
	current = base.Add(-time.Minute) // clock went backwards
	s.Put("card-1", groups("c1", "c2"), "")

	entry, _ := s.Get("card-1")
	if entry.CachedAt.Before(base) {
		t.Errorf("CachedAt regressed: %v < %v", entry.CachedAt, base)
	}
}

func TestClear(t *testing.T) {
	p := newMemPersister()
	s := New(p, 0, nil)

	s.Put("card-1", groups("c1"), "")
	s.Flush()
	s.Clear("card-1")
	s.Flush()

	if _, ok := s.Get("card-1"); ok {
		t.Error("entry should be gone from memory")
	}
	if p.stored("card-1") != nil {
		t.Error("entry should be gone from storage")
	}
}

func TestClearAll(t *testing.T) {
	p := newMemPersister()
	s := New(p, 0, nil)

	s.Put("card-1", groups("c1"), "")
	s.Put("card-2", groups("c2"), "")
	s.Flush()
	s.ClearAll()
	s.Flush()

	if ids := s.CardIDs(); len(ids) != 0 {
		t.Errorf("expected empty store, got %v", ids)
	}
	if p.stored("card-1") != nil || p.stored("card-2") != nil {
		t.Error("storage should be wiped")
	}
}

func TestLoadHydratesFromStorage(t *testing.T) {
	p := newMemPersister()
	want := &model.CacheEntry{
		Groups:   groups("c1"),
		Cursor:   "tok",
		CachedAt: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	p.blobs["card-1"] = want

	s := New(p, 0, nil)
	got, ok := s.Load("card-1")
	if !ok {
		t.Fatal("expected hydrated entry")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hydrated entry mismatch (-want +got):\n%s", diff)
	}

	// Second Load serves from memory even if storage errors now.
	p.GetErr = errors.New("db closed")
	if _, ok := s.Load("card-1"); !ok {
		t.Error("Load should serve from memory on second call")
	}
}

func TestLoadMissing(t *testing.T) {
	s := New(newMemPersister(), 0, nil)
	if _, ok := s.Load("card-1"); ok {
		t.Error("expected no entry")
	}
}
