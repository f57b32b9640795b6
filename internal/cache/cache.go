// Package cache provides the in-memory per-card cache store. The in-memory
// copy is authoritative for the session; writes are persisted to SQLite in
// the background on a best-effort basis and persistence failures are logged
// and swallowed, never surfaced to callers.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/postaworks/posta/internal/model"
)

// Persister is the durable backing for card snapshots, implemented by
// store.Store. All calls are best-effort from the cache's point of view.
type Persister interface {
	GetCardCache(cardID string) (*model.CacheEntry, error)
	PutCardCache(cardID string, entry *model.CacheEntry) error
	DeleteCardCache(cardID string) error
	ClearAllCardCaches() (int64, error)
}

// Store is a keyed in-memory cache of card snapshots. Each card id is an
// independent key with single-writer discipline; no operation blocks on
// durable persistence.
type Store struct {
	persister Persister
	logger    *slog.Logger
	debounce  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*model.CacheEntry
	timers  map[string]*time.Timer
	dirty   map[string]bool

	wg sync.WaitGroup
}

// New creates a cache store backed by the given persister. Repeated Puts for
// the same card within the debounce window collapse into one durable write.
func New(p Persister, debounce time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		persister: p,
		logger:    logger,
		debounce:  debounce,
		now:       time.Now,
		entries:   make(map[string]*model.CacheEntry),
		timers:    make(map[string]*time.Timer),
		dirty:     make(map[string]bool),
	}
}

// Get returns a copy of the cached snapshot for a card, if present.
func (s *Store) Get(cardID string) (*model.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[cardID]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// Put replaces the in-memory snapshot for a card and schedules a debounced
// background persist. CachedAt never regresses for a card absent a Clear.
func (s *Store) Put(cardID string, groups []model.Group, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.entries[cardID]; ok && now.Before(prev.CachedAt) {
		now = prev.CachedAt
	}
	s.entries[cardID] = &model.CacheEntry{
		Groups:   model.CloneGroups(groups),
		Cursor:   cursor,
		CachedAt: now,
	}
	s.dirty[cardID] = true
	s.schedulePersistLocked(cardID)
}

// Clear removes a card's snapshot from memory and storage. Used when the
// card's query changes or the card is deleted.
func (s *Store) Clear(cardID string) {
	s.mu.Lock()
	delete(s.entries, cardID)
	delete(s.dirty, cardID)
	if t, ok := s.timers[cardID]; ok {
		t.Stop()
		delete(s.timers, cardID)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.persister.DeleteCardCache(cardID); err != nil {
			s.logger.Warn("clear card cache failed", "card", cardID, "error", err)
		}
	}()
}

// ClearAll wipes every snapshot from memory and storage (account sign-out).
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.entries = make(map[string]*model.CacheEntry)
	s.dirty = make(map[string]bool)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.persister.ClearAllCardCaches(); err != nil {
			s.logger.Warn("clear all card caches failed", "error", err)
		}
	}()
}

// Load hydrates a card's snapshot from storage if it is not already in
// memory. Returns the in-memory entry (freshly loaded or preexisting).
func (s *Store) Load(cardID string) (*model.CacheEntry, bool) {
	if entry, ok := s.Get(cardID); ok {
		return entry, true
	}

	entry, err := s.persister.GetCardCache(cardID)
	if err != nil {
		s.logger.Warn("load card cache failed", "card", cardID, "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}

	s.mu.Lock()
	// A concurrent Put wins over the hydrated copy.
	if existing, ok := s.entries[cardID]; ok {
		s.mu.Unlock()
		return existing.Clone(), true
	}
	s.entries[cardID] = entry
	s.mu.Unlock()
	return entry.Clone(), true
}

// CardIDs returns the ids of all cards with an in-memory snapshot.
func (s *Store) CardIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Flush persists all dirty entries synchronously and waits for in-flight
// background writes. Called at shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	var pending []string
	for id := range s.dirty {
		pending = append(pending, id)
	}
	s.mu.Unlock()

	for _, id := range pending {
		s.persistCard(id)
	}
	s.wg.Wait()
}

// schedulePersistLocked arms (or re-arms) the debounce timer for a card.
// The previous timer is always stopped first so it can never fire twice.
func (s *Store) schedulePersistLocked(cardID string) {
	if t, ok := s.timers[cardID]; ok {
		t.Stop()
	}
	if s.debounce <= 0 {
		delete(s.timers, cardID)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.persistCard(cardID)
		}()
		return
	}
	s.timers[cardID] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, cardID)
		s.mu.Unlock()
		s.persistCard(cardID)
	})
}

// persistCard writes the current in-memory snapshot for a card. Failures
// are logged and swallowed; the in-memory copy stays authoritative.
func (s *Store) persistCard(cardID string) {
	s.mu.Lock()
	entry, ok := s.entries[cardID]
	if !ok {
		delete(s.dirty, cardID)
		s.mu.Unlock()
		return
	}
	snapshot := entry.Clone()
	delete(s.dirty, cardID)
	s.mu.Unlock()

	if err := s.persister.PutCardCache(cardID, snapshot); err != nil {
		s.logger.Warn("persist card cache failed", "card", cardID, "error", err)
	}
}
