package service

import (
	"context"
	"strings"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/storage"
)

// CardInput holds the fields of a new card.
type CardInput struct {
	DeckID       string   `json:"deckId"`
	FrontContent string   `json:"frontContent"`
	BackContent  string   `json:"backContent"`
	MediaPath    string   `json:"mediaPath"`
	Tags         []string `json:"tags"`
}

// CardPatch changes the non-nil content fields of a card. Scheduling state
// only changes through ReviewCard.
type CardPatch struct {
	FrontContent *string   `json:"frontContent"`
	BackContent  *string   `json:"backContent"`
	MediaPath    *string   `json:"mediaPath"`
	Tags         *[]string `json:"tags"`
}

func (s *Service) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	return s.store.GetCard(ctx, id)
}

// ListCards returns the cards of a deck, or every card if deckID is empty.
func (s *Service) ListCards(ctx context.Context, deckID string) ([]domain.Card, error) {
	if deckID == "" {
		return s.store.GetCards(ctx)
	}
	if _, err := s.store.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	return s.store.GetCardsByDeck(ctx, deckID)
}

// CreateCard stores a new card in an existing deck and queues its creation.
func (s *Service) CreateCard(ctx context.Context, in CardInput) (*domain.Card, error) {
	now := s.now()
	card, err := domain.NewCard(in.DeckID, in.FrontContent, in.BackContent, in.Tags, in.MediaPath, now)
	if err != nil {
		return nil, err
	}
	err = s.store.Update(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetDeck(ctx, in.DeckID); err != nil {
			return err
		}
		if err := tx.PutCards(ctx, []domain.Card{*card}); err != nil {
			return err
		}
		return enqueue(ctx, tx, domain.TableCards, card.ID, domain.OpCreate, card, now)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// UpdateCard applies patch and queues the changed fields.
func (s *Service) UpdateCard(ctx context.Context, id string, patch CardPatch) (*domain.Card, error) {
	now := s.now()
	var out *domain.Card
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		card, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		changed := map[string]any{"id": id}
		if patch.FrontContent != nil {
			card.FrontContent = strings.TrimSpace(*patch.FrontContent)
			changed["frontContent"] = card.FrontContent
		}
		if patch.BackContent != nil {
			card.BackContent = strings.TrimSpace(*patch.BackContent)
			changed["backContent"] = card.BackContent
		}
		if patch.MediaPath != nil {
			card.MediaPath = strings.TrimSpace(*patch.MediaPath)
			changed["mediaPath"] = card.MediaPath
		}
		if patch.Tags != nil {
			card.Tags = *patch.Tags
			changed["tags"] = card.Tags
		}
		card.UpdatedAt = now
		changed["updatedAt"] = now

		if err := tx.PutCards(ctx, []domain.Card{*card}); err != nil {
			return err
		}
		out = card
		return enqueue(ctx, tx, domain.TableCards, id, domain.OpUpdate, changed, now)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCard removes a card locally and queues the deletion.
func (s *Service) DeleteCard(ctx context.Context, id string) error {
	now := s.now()
	return s.store.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.DeleteCard(ctx, id); err != nil {
			return err
		}
		return enqueue(ctx, tx, domain.TableCards, id, domain.OpDelete, nil, now)
	})
}
