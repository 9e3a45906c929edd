package service

import (
	"context"
	"strings"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/importer"
	"github.com/conorfennell/cardify/internal/storage"
)

// ImportResult counts what an import changed.
type ImportResult struct {
	DeckID    string `json:"deckId"`
	Created   int    `json:"created"`
	Unchanged int    `json:"unchanged"`
	Removed   int    `json:"removed"`
}

// ImportNotes adds notes to the deck titled title, creating the deck if
// needed. Card ids are derived from content, so importing the same notes
// again leaves existing cards and their review history alone. With prune,
// cards of the deck that are not among notes are deleted.
func (s *Service) ImportNotes(ctx context.Context, title string, notes []importer.Note, prune bool) (*ImportResult, error) {
	title = strings.TrimSpace(title)
	now := s.now()
	res := &ImportResult{}
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		deck, err := findDeckByTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		if deck == nil {
			if deck, err = domain.NewDeck(s.ownerID, title, "", false, nil, now); err != nil {
				return err
			}
			if err := tx.PutDecks(ctx, []domain.Deck{*deck}); err != nil {
				return err
			}
			if err := enqueue(ctx, tx, domain.TableDecks, deck.ID, domain.OpCreate, deck, now); err != nil {
				return err
			}
		}
		res.DeckID = deck.ID

		existing, err := tx.GetCardsByDeck(ctx, deck.ID)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, c := range existing {
			have[c.ID] = true
		}

		seen := make(map[string]bool, len(notes))
		for _, n := range notes {
			id := importer.CardID(deck.ID, n)
			if seen[id] {
				continue
			}
			seen[id] = true
			if have[id] {
				res.Unchanged++
				continue
			}
			var tags []string
			if n.Context != "" {
				tags = []string{n.Context}
			}
			card, err := domain.NewCard(deck.ID, n.Question, n.Answer, tags, "", now)
			if err != nil {
				return err
			}
			card.ID = id
			if err := tx.PutCards(ctx, []domain.Card{*card}); err != nil {
				return err
			}
			if err := enqueue(ctx, tx, domain.TableCards, id, domain.OpCreate, card, now); err != nil {
				return err
			}
			res.Created++
		}

		if !prune {
			return nil
		}
		for _, c := range existing {
			if seen[c.ID] {
				continue
			}
			if err := tx.DeleteCard(ctx, c.ID); err != nil {
				return err
			}
			if err := enqueue(ctx, tx, domain.TableCards, c.ID, domain.OpDelete, nil, now); err != nil {
				return err
			}
			res.Removed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("import complete", "deck", res.DeckID, "created", res.Created, "unchanged", res.Unchanged, "removed", res.Removed)
	return res, nil
}

func findDeckByTitle(ctx context.Context, tx *storage.Tx, title string) (*domain.Deck, error) {
	decks, err := tx.GetDecks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range decks {
		if decks[i].Title == title {
			return &decks[i], nil
		}
	}
	return nil, nil
}
