package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conorfennell/cardify/internal/domain"
)

const deckColumns = `id, title, description, is_public, owner_id, tags, created_at, updated_at`

// PutDecks inserts or replaces decks in one transaction.
func (s *Store) PutDecks(ctx context.Context, decks []domain.Deck) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.PutDecks(ctx, decks) })
}

// GetDecks returns every deck ordered by creation time.
func (s *Store) GetDecks(ctx context.Context) ([]domain.Deck, error) {
	return s.reader().GetDecks(ctx)
}

// GetDeck returns the deck with the given id or ErrNotFound.
func (s *Store) GetDeck(ctx context.Context, id string) (*domain.Deck, error) {
	return s.reader().GetDeck(ctx, id)
}

// DeleteDeck removes a deck, its cards and their pending queue entries.
func (s *Store) DeleteDeck(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.DeleteDeck(ctx, id) })
}

// PutDecks validates and upserts each deck.
func (tx *Tx) PutDecks(ctx context.Context, decks []domain.Deck) error {
	for i := range decks {
		if err := domain.Validate(&decks[i]); err != nil {
			return err
		}
	}
	for _, d := range decks {
		tags, err := json.Marshal(nonNil(d.Tags))
		if err != nil {
			return storageErr("put", "decks", err)
		}
		_, err = tx.q.ExecContext(ctx, `
			INSERT INTO decks (`+deckColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				is_public = excluded.is_public,
				owner_id = excluded.owner_id,
				tags = excluded.tags,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`,
			d.ID, d.Title, d.Description, d.IsPublic, d.OwnerID, string(tags),
			formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
		)
		if err != nil {
			return storageErr("put", "decks", fmt.Errorf("deck %s: %w", d.ID, err))
		}
	}
	return nil
}

func (tx *Tx) GetDecks(ctx context.Context) ([]domain.Deck, error) {
	rows, err := tx.q.QueryContext(ctx, `SELECT `+deckColumns+` FROM decks ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("get", "decks", err)
	}
	defer rows.Close()

	decks := []domain.Deck{}
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, storageErr("get", "decks", err)
		}
		decks = append(decks, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get", "decks", err)
	}
	return decks, nil
}

func (tx *Tx) GetDeck(ctx context.Context, id string) (*domain.Deck, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE id = ?`, id)
	d, err := scanDeck(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("deck", id)
		}
		return nil, storageErr("get", "decks", err)
	}
	return d, nil
}

func (tx *Tx) DeleteDeck(ctx context.Context, id string) error {
	_, err := tx.q.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE entity_table = 'cards' AND status = 'pending'
		  AND entity_id IN (SELECT id FROM cards WHERE deck_id = ?)
	`, id)
	if err != nil {
		return storageErr("delete", "sync_queue", err)
	}
	// Cards go with the deck through ON DELETE CASCADE.
	res, err := tx.q.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete", "decks", err)
	}
	return expectRow(res, "delete", "decks", "deck", id)
}

func scanDeck(r rowScanner) (*domain.Deck, error) {
	var (
		d                    domain.Deck
		tags                 string
		createdAt, updatedAt string
	)
	if err := r.Scan(&d.ID, &d.Title, &d.Description, &d.IsPublic, &d.OwnerID, &tags, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if d.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("deck %s tags: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("deck %s created_at: %w", d.ID, err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("deck %s updated_at: %w", d.ID, err)
	}
	return &d, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// decodeTags reads a JSON array; an empty array decodes to nil.
func decodeTags(s string) ([]string, error) {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}
