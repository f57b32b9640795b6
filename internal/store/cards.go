package store

import (
	"database/sql"
	"fmt"

	"github.com/postaworks/posta/internal/model"
)

// ListCards returns all cards for an account, ordered by position.
func (s *Store) ListCards(accountID string) ([]model.Card, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, name, query, position, collapsed, color, group_by, kind
		 FROM cards WHERE account_id = ? ORDER BY position`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// ListAllCards returns every card across all accounts, ordered by position.
func (s *Store) ListAllCards() ([]model.Card, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, name, query, position, collapsed, color, group_by, kind
		 FROM cards ORDER BY account_id, position`)
	if err != nil {
		return nil, fmt.Errorf("list all cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// GetCard returns a card by id, or nil if it does not exist.
func (s *Store) GetCard(id string) (*model.Card, error) {
	row := s.db.QueryRow(
		`SELECT id, account_id, name, query, position, collapsed, color, group_by, kind
		 FROM cards WHERE id = ?`, id)
	var c model.Card
	var collapsed int
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.Query, &c.Position, &collapsed, &c.Color, &c.GroupBy, &c.Kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card %s: %w", id, err)
	}
	c.Collapsed = collapsed != 0
	return &c, nil
}

// InsertCard inserts a new card.
func (s *Store) InsertCard(c model.Card) error {
	_, err := s.db.Exec(
		`INSERT INTO cards (id, account_id, name, query, position, collapsed, color, group_by, kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Name, c.Query, c.Position, boolToInt(c.Collapsed), c.Color, string(c.GroupBy), string(c.Kind))
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// UpdateCard updates an existing card's mutable fields.
func (s *Store) UpdateCard(c model.Card) error {
	_, err := s.db.Exec(
		`UPDATE cards SET name = ?, query = ?, position = ?, collapsed = ?, color = ?, group_by = ?, kind = ?
		 WHERE id = ?`,
		c.Name, c.Query, c.Position, boolToInt(c.Collapsed), c.Color, string(c.GroupBy), string(c.Kind), c.ID)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return nil
}

// DeleteCard removes a card and its cached snapshot.
func (s *Store) DeleteCard(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM cards WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM card_cache WHERE card_id = ?`, id); err != nil {
			return fmt.Errorf("delete card cache: %w", err)
		}
		return nil
	})
}

// CardPosition pairs a card id with its new position.
type CardPosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// ReorderCards persists new positions for a set of cards in one transaction.
func (s *Store) ReorderCards(orders []CardPosition) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, o := range orders {
			if _, err := tx.Exec(`UPDATE cards SET position = ? WHERE id = ?`, o.Position, o.ID); err != nil {
				return fmt.Errorf("reorder card %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

func scanCards(rows *sql.Rows) ([]model.Card, error) {
	var cards []model.Card
	for rows.Next() {
		var c model.Card
		var collapsed int
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Query, &c.Position, &collapsed, &c.Color, &c.GroupBy, &c.Kind); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.Collapsed = collapsed != 0
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
