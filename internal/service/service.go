// Package service is the entry point for the UI layer: every user action
// writes the local store first and queues the change for the reconciler.
package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/due"
	"github.com/conorfennell/cardify/internal/srs"
	"github.com/conorfennell/cardify/internal/storage"
)

// SyncController is the part of the reconciler the service drives.
type SyncController interface {
	Trigger()
	SetOnline(online bool)
	Online() bool
	Suspended(ctx context.Context) bool
}

// Service implements the core operations over one store.
type Service struct {
	store       *storage.Store
	params      *srs.Params
	sync        SyncController
	logger      *slog.Logger
	now         func() time.Time
	ownerID     string
	reviewLimit int
	shuffle     bool
}

type Option func(*Service)

// WithSync connects the reconciler. Without one, TriggerSync is a no-op.
func WithSync(c SyncController) Option {
	return func(s *Service) { s.sync = c }
}

func WithParams(p *srs.Params) Option {
	return func(s *Service) { s.params = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOwner sets the owner recorded on new decks.
func WithOwner(id string) Option {
	return func(s *Service) { s.ownerID = id }
}

// WithReviewLimit caps the number of cards GetDueCards returns; 0 means no cap.
func WithReviewLimit(n int) Option {
	return func(s *Service) { s.reviewLimit = n }
}

// WithShuffle controls whether due cards are returned in random order.
func WithShuffle(on bool) Option {
	return func(s *Service) { s.shuffle = on }
}

func New(store *storage.Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		params:  srs.DefaultParams(),
		logger:  slog.Default(),
		now:     time.Now,
		shuffle: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s
}

// ReviewCard grades a card outside any review session.
func (s *Service) ReviewCard(ctx context.Context, cardID string, quality int) (domain.SRSState, error) {
	return s.Review(ctx, ReviewRequest{CardID: cardID, Quality: quality})
}

// ReviewRequest is one answer given during review.
type ReviewRequest struct {
	CardID    string
	Quality   int
	SessionID string // optional
	TimeSpent time.Duration
}

// Review grades a card, stores its next state, records the answer and queues
// the change. The read of the current state and the write of the next one
// happen in one transaction, so concurrent reviews of the same card are
// applied in turn.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (domain.SRSState, error) {
	q := srs.Quality(req.Quality)
	if err := q.Validate(); err != nil {
		return domain.SRSState{}, err
	}

	var next domain.SRSState
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		card, err := tx.GetCard(ctx, req.CardID)
		if err != nil {
			return err
		}
		now := s.now()
		if req.SessionID != "" {
			sess, err := tx.GetSession(ctx, req.SessionID)
			if err != nil {
				return err
			}
			if sess.DeckID != card.DeckID {
				return domain.NewValidationError("sessionId", "deck")
			}
		}
		answer, err := domain.NewReviewAnswer(req.SessionID, req.CardID, req.Quality, req.TimeSpent, now)
		if err != nil {
			return err
		}
		if err := tx.RecordAnswer(ctx, *answer, q.Passed()); err != nil {
			return err
		}

		next, err = s.params.Next(q, card.SRS, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateCardSRS(ctx, req.CardID, next); err != nil {
			return err
		}
		return enqueue(ctx, tx, domain.TableCards, req.CardID, domain.OpUpdate, map[string]any{
			"id":      req.CardID,
			"srsData": next,
		}, now)
	})
	if err != nil {
		return domain.SRSState{}, err
	}
	s.logger.Debug("card reviewed", "card", req.CardID, "quality", req.Quality, "session", req.SessionID,
		"interval", next.Interval, "due", next.DueDate)
	return next, nil
}

// GetDueCards returns the cards of a deck that are due at now.
func (s *Service) GetDueCards(ctx context.Context, deckID string, now time.Time) ([]domain.Card, error) {
	if _, err := s.store.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	cards, err := s.store.GetCardsByDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	selected := due.Select(cards, now)
	if s.shuffle {
		selected = due.Shuffle(selected, rand.New(rand.NewPCG(uint64(now.UnixNano()), rand.Uint64())))
	}
	if s.reviewLimit > 0 && len(selected) > s.reviewLimit {
		selected = selected[:s.reviewLimit]
	}
	return selected, nil
}

// GetStatsSnapshot summarises upcoming reviews across all decks.
func (s *Service) GetStatsSnapshot(ctx context.Context, now time.Time) (due.Stats, error) {
	cards, err := s.store.GetCards(ctx)
	if err != nil {
		return due.Stats{}, err
	}
	return due.Classify(cards, now), nil
}

// TriggerSync asks for a sync cycle and returns immediately.
func (s *Service) TriggerSync() {
	if s.sync != nil {
		s.sync.Trigger()
	}
}

// SetOnline passes the connectivity signal to the reconciler. Going from
// offline to online starts a cycle; while offline, cycles are skipped.
func (s *Service) SetOnline(online bool) {
	if s.sync == nil {
		return
	}
	if s.sync.Online() != online {
		s.logger.Info("connectivity changed", "online", online)
	}
	s.sync.SetOnline(online)
}

// enqueue snapshots payload as a queue entry for the entity.
func enqueue(ctx context.Context, tx *storage.Tx, table domain.Table, id string, op domain.Operation, payload any, now time.Time) error {
	entry, err := domain.NewSyncEntry(table, id, op, payload, now)
	if err != nil {
		return err
	}
	_, err = tx.EnqueueSync(ctx, *entry)
	return err
}
