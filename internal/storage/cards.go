package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conorfennell/cardify/internal/domain"
)

const cardColumns = `id, deck_id, front_content, back_content, media_path, tags,
	ease_factor, interval_days, repetitions, due_date, last_reviewed_at, created_at, updated_at`

// PutCards inserts or replaces cards in one transaction.
func (s *Store) PutCards(ctx context.Context, cards []domain.Card) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.PutCards(ctx, cards) })
}

// GetCards returns every card.
func (s *Store) GetCards(ctx context.Context) ([]domain.Card, error) {
	return s.reader().GetCards(ctx)
}

// GetCardsByDeck returns the cards of one deck.
func (s *Store) GetCardsByDeck(ctx context.Context, deckID string) ([]domain.Card, error) {
	return s.reader().GetCardsByDeck(ctx, deckID)
}

// GetCard returns the card with the given id or ErrNotFound.
func (s *Store) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	return s.reader().GetCard(ctx, id)
}

// UpdateCardSRS replaces the scheduling state of a card.
func (s *Store) UpdateCardSRS(ctx context.Context, id string, state domain.SRSState) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.UpdateCardSRS(ctx, id, state) })
}

// DeleteCard removes a card.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.DeleteCard(ctx, id) })
}

// PutCards validates and upserts each card. The deck must already exist.
func (tx *Tx) PutCards(ctx context.Context, cards []domain.Card) error {
	for i := range cards {
		if err := domain.Validate(&cards[i]); err != nil {
			return err
		}
	}
	for _, c := range cards {
		tags, err := json.Marshal(nonNil(c.Tags))
		if err != nil {
			return storageErr("put", "cards", err)
		}
		_, err = tx.q.ExecContext(ctx, `
			INSERT INTO cards (`+cardColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				deck_id = excluded.deck_id,
				front_content = excluded.front_content,
				back_content = excluded.back_content,
				media_path = excluded.media_path,
				tags = excluded.tags,
				ease_factor = excluded.ease_factor,
				interval_days = excluded.interval_days,
				repetitions = excluded.repetitions,
				due_date = excluded.due_date,
				last_reviewed_at = excluded.last_reviewed_at,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`,
			c.ID, c.DeckID, c.FrontContent, c.BackContent, c.MediaPath, string(tags),
			c.SRS.EaseFactor, c.SRS.Interval, c.SRS.Repetitions, formatTime(c.SRS.DueDate),
			nullTime(c.SRS.LastReviewedAt), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
		)
		if err != nil {
			return storageErr("put", "cards", fmt.Errorf("card %s: %w", c.ID, err))
		}
	}
	return nil
}

func (tx *Tx) GetCards(ctx context.Context) ([]domain.Card, error) {
	return tx.queryCards(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY created_at, id`)
}

func (tx *Tx) GetCardsByDeck(ctx context.Context, deckID string) ([]domain.Card, error) {
	return tx.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE deck_id = ? ORDER BY created_at, id`, deckID)
}

func (tx *Tx) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("card", id)
		}
		return nil, storageErr("get", "cards", err)
	}
	return c, nil
}

// UpdateCardSRS is the only path that changes a card's scheduling columns.
func (tx *Tx) UpdateCardSRS(ctx context.Context, id string, state domain.SRSState) error {
	if err := domain.Validate(&state); err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx, `
		UPDATE cards
		SET ease_factor = ?, interval_days = ?, repetitions = ?, due_date = ?, last_reviewed_at = ?
		WHERE id = ?
	`,
		state.EaseFactor, state.Interval, state.Repetitions, formatTime(state.DueDate),
		nullTime(state.LastReviewedAt), id,
	)
	if err != nil {
		return storageErr("update", "cards", fmt.Errorf("card %s: %w", id, err))
	}
	return expectRow(res, "update", "cards", "card", id)
}

func (tx *Tx) DeleteCard(ctx context.Context, id string) error {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete", "cards", err)
	}
	return expectRow(res, "delete", "cards", "card", id)
}

func (tx *Tx) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get", "cards", err)
	}
	defer rows.Close()

	cards := []domain.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, storageErr("get", "cards", err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get", "cards", err)
	}
	return cards, nil
}

func scanCard(r rowScanner) (*domain.Card, error) {
	var (
		c                    domain.Card
		tags, dueDate        string
		lastReviewed         sql.NullString
		createdAt, updatedAt string
	)
	err := r.Scan(
		&c.ID, &c.DeckID, &c.FrontContent, &c.BackContent, &c.MediaPath, &tags,
		&c.SRS.EaseFactor, &c.SRS.Interval, &c.SRS.Repetitions, &dueDate, &lastReviewed,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("card %s tags: %w", c.ID, err)
	}
	if c.SRS.DueDate, err = parseTime(dueDate); err != nil {
		return nil, fmt.Errorf("card %s due_date: %w", c.ID, err)
	}
	if c.SRS.LastReviewedAt, err = parseNullTime(lastReviewed); err != nil {
		return nil, fmt.Errorf("card %s last_reviewed_at: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("card %s created_at: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("card %s updated_at: %w", c.ID, err)
	}
	return &c, nil
}

func expectRow(res sql.Result, op, table, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, table, err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
