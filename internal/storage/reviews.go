package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/cardify/internal/domain"
)

const sessionColumns = `id, deck_id, started_at, ended_at, cards_reviewed, cards_correct`

const answerColumns = `id, session_id, card_id, quality, time_spent_ms, answered_at`

// GetSession returns a review session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.ReviewSession, error) {
	return s.reader().GetSession(ctx, id)
}

// SessionsByDeck returns the sessions of a deck, most recent first.
func (s *Store) SessionsByDeck(ctx context.Context, deckID string) ([]domain.ReviewSession, error) {
	return s.reader().SessionsByDeck(ctx, deckID)
}

// AnswersByCard returns the review history of a card, oldest first.
func (s *Store) AnswersByCard(ctx context.Context, cardID string) ([]domain.ReviewAnswer, error) {
	return s.reader().AnswersByCard(ctx, cardID)
}

func (tx *Tx) StartSession(ctx context.Context, sess domain.ReviewSession) error {
	if err := domain.Validate(&sess); err != nil {
		return err
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO review_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.DeckID, formatTime(sess.StartedAt), nullTime(sess.EndedAt), sess.CardsReviewed, sess.CardsCorrect)
	if err != nil {
		return storageErr("put", "review_sessions", fmt.Errorf("session %s: %w", sess.ID, err))
	}
	return nil
}

func (tx *Tx) GetSession(ctx context.Context, id string) (*domain.ReviewSession, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM review_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("review session", id)
		}
		return nil, storageErr("get", "review_sessions", err)
	}
	return sess, nil
}

// FinishSession records the end of a session. Finishing it again keeps the
// first end time.
func (tx *Tx) FinishSession(ctx context.Context, id string, end time.Time) (*domain.ReviewSession, error) {
	_, err := tx.q.ExecContext(ctx, `
		UPDATE review_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, formatTime(end), id)
	if err != nil {
		return nil, storageErr("update", "review_sessions", err)
	}
	return tx.GetSession(ctx, id)
}

func (tx *Tx) SessionsByDeck(ctx context.Context, deckID string) ([]domain.ReviewSession, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM review_sessions WHERE deck_id = ? ORDER BY started_at DESC, id
	`, deckID)
	if err != nil {
		return nil, storageErr("get", "review_sessions", err)
	}
	defer rows.Close()

	out := []domain.ReviewSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storageErr("get", "review_sessions", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get", "review_sessions", err)
	}
	return out, nil
}

// RecordAnswer stores an answer and, when it belongs to a session, counts it
// there. correct is counted in cardsCorrect.
func (tx *Tx) RecordAnswer(ctx context.Context, a domain.ReviewAnswer, correct bool) error {
	if err := domain.Validate(&a); err != nil {
		return err
	}
	session := sql.NullString{String: a.SessionID, Valid: a.SessionID != ""}
	if session.Valid {
		sess, err := tx.GetSession(ctx, a.SessionID)
		if err != nil {
			return err
		}
		if sess.Finished() {
			return fmt.Errorf("session %s: %w", a.SessionID, ErrSessionFinished)
		}
		inc := 0
		if correct {
			inc = 1
		}
		if _, err := tx.q.ExecContext(ctx, `
			UPDATE review_sessions
			SET cards_reviewed = cards_reviewed + 1, cards_correct = cards_correct + ?
			WHERE id = ?
		`, inc, a.SessionID); err != nil {
			return storageErr("update", "review_sessions", err)
		}
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO review_answers (`+answerColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, session, a.CardID, a.Quality, a.TimeSpent, formatTime(a.AnsweredAt))
	if err != nil {
		return storageErr("put", "review_answers", fmt.Errorf("answer for card %s: %w", a.CardID, err))
	}
	return nil
}

func (tx *Tx) AnswersByCard(ctx context.Context, cardID string) ([]domain.ReviewAnswer, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT `+answerColumns+` FROM review_answers WHERE card_id = ? ORDER BY answered_at, rowid
	`, cardID)
	if err != nil {
		return nil, storageErr("get", "review_answers", err)
	}
	defer rows.Close()

	out := []domain.ReviewAnswer{}
	for rows.Next() {
		var (
			a          domain.ReviewAnswer
			session    sql.NullString
			answeredAt string
		)
		if err := rows.Scan(&a.ID, &session, &a.CardID, &a.Quality, &a.TimeSpent, &answeredAt); err != nil {
			return nil, storageErr("get", "review_answers", err)
		}
		a.SessionID = session.String
		if a.AnsweredAt, err = parseTime(answeredAt); err != nil {
			return nil, storageErr("get", "review_answers", fmt.Errorf("answer %s answered_at: %w", a.ID, err))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get", "review_answers", err)
	}
	return out, nil
}

func scanSession(r rowScanner) (*domain.ReviewSession, error) {
	var (
		sess      domain.ReviewSession
		startedAt string
		endedAt   sql.NullString
	)
	if err := r.Scan(&sess.ID, &sess.DeckID, &startedAt, &endedAt, &sess.CardsReviewed, &sess.CardsCorrect); err != nil {
		return nil, err
	}
	var err error
	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("session %s started_at: %w", sess.ID, err)
	}
	if sess.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, fmt.Errorf("session %s ended_at: %w", sess.ID, err)
	}
	return &sess, nil
}
