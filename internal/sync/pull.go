package sync

import (
	"context"
	"encoding/json"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/storage"
)

// pull overwrites local decks and cards with the server's copies. Entities
// with a pending queue entry keep their local state: an unsynced local edit
// wins until it is acknowledged. Entities the server does not list are
// deleted locally unless they have a pending or dead-lettered entry.
func (c *cycle) pull(ctx context.Context) error {
	rawDecks, err := c.r.gateway.ListEntities(ctx, domain.TableDecks, c.r.cfg.OwnerScope)
	if err != nil {
		return err
	}
	rawCards, err := c.r.gateway.ListEntities(ctx, domain.TableCards, c.r.cfg.OwnerScope)
	if err != nil {
		return err
	}
	remoteDecks, seenDecks := decodeAll[domain.Deck](c, domain.TableDecks, rawDecks)
	remoteCards, seenCards := decodeAll[domain.Card](c, domain.TableCards, rawCards)

	var pulled, removed int
	err = c.r.store.Update(ctx, func(tx *storage.Tx) error {
		pulled, removed = 0, 0
		pendingDecks, err := tx.QueuedEntityIDs(ctx, domain.TableDecks, domain.StatusPending)
		if err != nil {
			return err
		}
		pendingCards, err := tx.QueuedEntityIDs(ctx, domain.TableCards, domain.StatusPending)
		if err != nil {
			return err
		}
		deadDecks, err := tx.QueuedEntityIDs(ctx, domain.TableDecks, domain.StatusDeadLettered)
		if err != nil {
			return err
		}
		deadCards, err := tx.QueuedEntityIDs(ctx, domain.TableCards, domain.StatusDeadLettered)
		if err != nil {
			return err
		}
		localDecks, err := tx.GetDecks(ctx)
		if err != nil {
			return err
		}
		localCards, err := tx.GetCards(ctx)
		if err != nil {
			return err
		}

		// Decks that own a card with a pending or dead-lettered entry are
		// kept even if the server no longer lists them.
		decksWithQueuedCards := make(map[string]bool)
		for _, card := range localCards {
			if pendingCards[card.ID] || deadCards[card.ID] {
				decksWithQueuedCards[card.DeckID] = true
			}
		}

		present := make(map[string]bool, len(localDecks))
		for _, d := range localDecks {
			present[d.ID] = true
		}

		var upsertDecks []domain.Deck
		for _, d := range remoteDecks {
			if pendingDecks[d.ID] {
				continue
			}
			upsertDecks = append(upsertDecks, d)
			present[d.ID] = true
		}
		if err := tx.PutDecks(ctx, upsertDecks); err != nil {
			return err
		}
		pulled += len(upsertDecks)

		for _, d := range localDecks {
			if seenDecks[d.ID] || pendingDecks[d.ID] || deadDecks[d.ID] || decksWithQueuedCards[d.ID] {
				continue
			}
			if err := tx.DeleteDeck(ctx, d.ID); err != nil && !storage.IsNotFound(err) {
				return err
			}
			delete(present, d.ID)
			removed++
		}

		// Cards cascade-deleted with their deck above are gone already.
		localCards, err = tx.GetCards(ctx)
		if err != nil {
			return err
		}

		var upsertCards []domain.Card
		for _, card := range remoteCards {
			if pendingCards[card.ID] {
				continue
			}
			if !present[card.DeckID] {
				c.r.logger.Debug("skipping pulled card without local deck", "card", card.ID, "deck", card.DeckID)
				continue
			}
			upsertCards = append(upsertCards, card)
		}
		if err := tx.PutCards(ctx, upsertCards); err != nil {
			return err
		}
		pulled += len(upsertCards)

		for _, card := range localCards {
			if seenCards[card.ID] || pendingCards[card.ID] || deadCards[card.ID] {
				continue
			}
			if err := tx.DeleteCard(ctx, card.ID); err != nil && !storage.IsNotFound(err) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.rep.Pulled += pulled
	c.rep.Removed += removed
	return nil
}

// decodeAll returns the entities that decode and validate, and the ids of
// every listed entity. An entity that is listed but invalid is not upserted,
// and its id still protects the local copy from deletion.
func decodeAll[T any](c *cycle, table domain.Table, raw []json.RawMessage) ([]T, map[string]bool) {
	out := make([]T, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(r, &ref); err == nil && ref.ID != "" {
			seen[ref.ID] = true
		}
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			c.r.logger.Warn("skipping undecodable remote entity", "table", table, "id", ref.ID, "error", err)
			continue
		}
		if err := domain.Validate(&v); err != nil {
			c.r.logger.Warn("skipping invalid remote entity", "table", table, "id", ref.ID, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, seen
}
