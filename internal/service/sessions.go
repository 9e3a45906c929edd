package service

import (
	"context"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/storage"
)

// StartReviewSession opens a session over a deck. Answers given with its id
// are counted in it until FinishReviewSession.
func (s *Service) StartReviewSession(ctx context.Context, deckID string) (*domain.ReviewSession, error) {
	sess, err := domain.NewReviewSession(deckID, s.now())
	if err != nil {
		return nil, err
	}
	err = s.store.Update(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetDeck(ctx, deckID); err != nil {
			return err
		}
		return tx.StartSession(ctx, *sess)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("review session started", "session", sess.ID, "deck", deckID)
	return sess, nil
}

// FinishReviewSession closes a session and returns its totals.
func (s *Service) FinishReviewSession(ctx context.Context, id string) (*domain.ReviewSession, error) {
	var sess *domain.ReviewSession
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		var err error
		sess, err = tx.FinishSession(ctx, id, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("review session finished", "session", id, "reviewed", sess.CardsReviewed, "correct", sess.CardsCorrect)
	return sess, nil
}

func (s *Service) GetReviewSession(ctx context.Context, id string) (*domain.ReviewSession, error) {
	return s.store.GetSession(ctx, id)
}

// ReviewHistory returns the sessions of a deck, most recent first.
func (s *Service) ReviewHistory(ctx context.Context, deckID string) ([]domain.ReviewSession, error) {
	if _, err := s.store.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	return s.store.SessionsByDeck(ctx, deckID)
}

// CardAnswers returns every recorded answer for a card.
func (s *Service) CardAnswers(ctx context.Context, cardID string) ([]domain.ReviewAnswer, error) {
	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return nil, err
	}
	return s.store.AnswersByCard(ctx, cardID)
}
