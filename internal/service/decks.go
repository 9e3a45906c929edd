package service

import (
	"context"
	"strings"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/storage"
)

// DeckInput holds the user-editable fields of a new deck.
type DeckInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	IsPublic    bool     `json:"isPublic"`
	Tags        []string `json:"tags"`
}

// DeckPatch changes the non-nil fields of a deck.
type DeckPatch struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	IsPublic    *bool     `json:"isPublic"`
	Tags        *[]string `json:"tags"`
}

func (s *Service) ListDecks(ctx context.Context) ([]domain.Deck, error) {
	return s.store.GetDecks(ctx)
}

func (s *Service) GetDeck(ctx context.Context, id string) (*domain.Deck, error) {
	return s.store.GetDeck(ctx, id)
}

// CreateDeck stores a new deck and queues its creation.
func (s *Service) CreateDeck(ctx context.Context, in DeckInput) (*domain.Deck, error) {
	now := s.now()
	deck, err := domain.NewDeck(s.ownerID, in.Title, in.Description, in.IsPublic, in.Tags, now)
	if err != nil {
		return nil, err
	}
	err = s.store.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.PutDecks(ctx, []domain.Deck{*deck}); err != nil {
			return err
		}
		return enqueue(ctx, tx, domain.TableDecks, deck.ID, domain.OpCreate, deck, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("deck created", "deck", deck.ID, "title", deck.Title)
	return deck, nil
}

// UpdateDeck applies patch and queues only the changed fields, so that
// successive offline edits merge into one update.
func (s *Service) UpdateDeck(ctx context.Context, id string, patch DeckPatch) (*domain.Deck, error) {
	now := s.now()
	var out *domain.Deck
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		deck, err := tx.GetDeck(ctx, id)
		if err != nil {
			return err
		}
		changed := map[string]any{"id": id}
		if patch.Title != nil {
			deck.Title = strings.TrimSpace(*patch.Title)
			changed["title"] = deck.Title
		}
		if patch.Description != nil {
			deck.Description = strings.TrimSpace(*patch.Description)
			changed["description"] = deck.Description
		}
		if patch.IsPublic != nil {
			deck.IsPublic = *patch.IsPublic
			changed["isPublic"] = deck.IsPublic
		}
		if patch.Tags != nil {
			deck.Tags = *patch.Tags
			changed["tags"] = deck.Tags
		}
		deck.UpdatedAt = now
		changed["updatedAt"] = now

		if err := tx.PutDecks(ctx, []domain.Deck{*deck}); err != nil {
			return err
		}
		out = deck
		return enqueue(ctx, tx, domain.TableDecks, id, domain.OpUpdate, changed, now)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDeck removes a deck and its cards locally and queues the deletion.
// Pending changes to its cards are dropped with them.
func (s *Service) DeleteDeck(ctx context.Context, id string) error {
	now := s.now()
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.DeleteDeck(ctx, id); err != nil {
			return err
		}
		return enqueue(ctx, tx, domain.TableDecks, id, domain.OpDelete, nil, now)
	})
	if err != nil {
		return err
	}
	s.logger.Info("deck deleted", "deck", id)
	return nil
}
