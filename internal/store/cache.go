package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/postaworks/posta/internal/model"
)

// GetCardCache returns the persisted snapshot for a card, or nil if absent.
func (s *Store) GetCardCache(cardID string) (*model.CacheEntry, error) {
	row := s.db.QueryRow(
		`SELECT groups_json, cursor, cached_at FROM card_cache WHERE card_id = ?`, cardID)

	var groupsJSON, cursor string
	var cachedAt int64
	err := row.Scan(&groupsJSON, &cursor, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card cache %s: %w", cardID, err)
	}

	var groups []model.Group
	if err := json.Unmarshal([]byte(groupsJSON), &groups); err != nil {
		return nil, fmt.Errorf("decode card cache %s: %w", cardID, err)
	}

	return &model.CacheEntry{
		Groups:   groups,
		Cursor:   cursor,
		CachedAt: time.Unix(cachedAt, 0).UTC(),
	}, nil
}

// PutCardCache stores a card's snapshot, replacing any existing one.
func (s *Store) PutCardCache(cardID string, entry *model.CacheEntry) error {
	groupsJSON, err := json.Marshal(entry.Groups)
	if err != nil {
		return fmt.Errorf("encode card cache %s: %w", cardID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO card_cache (card_id, groups_json, cursor, cached_at) VALUES (?, ?, ?, ?)`,
		cardID, string(groupsJSON), entry.Cursor, entry.CachedAt.Unix())
	if err != nil {
		return fmt.Errorf("put card cache %s: %w", cardID, err)
	}
	return nil
}

// DeleteCardCache removes a card's persisted snapshot.
func (s *Store) DeleteCardCache(cardID string) error {
	if _, err := s.db.Exec(`DELETE FROM card_cache WHERE card_id = ?`, cardID); err != nil {
		return fmt.Errorf("delete card cache %s: %w", cardID, err)
	}
	return nil
}

// ClearAllCardCaches removes every persisted snapshot (used on sign-out).
// Returns the number of entries removed.
func (s *Store) ClearAllCardCaches() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM card_cache`)
	if err != nil {
		return 0, fmt.Errorf("clear card caches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SweepStaleCaches removes snapshots older than maxAge. Runs at startup so
// a long-idle session starts from a fresh fetch instead of ancient data.
func (s *Store) SweepStaleCaches(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.Exec(`DELETE FROM card_cache WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale caches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetSyncCursor returns the incremental sync cursor for an account,
// or "" if no sync has completed yet.
func (s *Store) GetSyncCursor(accountID string) (string, error) {
	row := s.db.QueryRow(`SELECT cursor FROM sync_state WHERE account_id = ?`, accountID)
	var cursor string
	err := row.Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get sync cursor %s: %w", accountID, err)
	}
	return cursor, nil
}

// SetSyncCursor stores the incremental sync cursor for an account.
func (s *Store) SetSyncCursor(accountID, cursor string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sync_state (account_id, cursor, last_sync_at) VALUES (?, ?, ?)`,
		accountID, cursor, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set sync cursor %s: %w", accountID, err)
	}
	return nil
}

// ClearSyncCursor removes an account's sync cursor, forcing the next sync
// to start from scratch.
func (s *Store) ClearSyncCursor(accountID string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_state WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("clear sync cursor %s: %w", accountID, err)
	}
	return nil
}

// GetPref returns a preference value, or "" if unset.
func (s *Store) GetPref(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key)
	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pref %s: %w", key, err)
	}
	return value, nil
}

// SetPref stores a preference value.
func (s *Store) SetPref(key, value string) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO prefs (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

// DeletePref removes a preference.
func (s *Store) DeletePref(key string) error {
	if _, err := s.db.Exec(`DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete pref %s: %w", key, err)
	}
	return nil
}
