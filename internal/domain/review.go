package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewSession is one sitting of reviews over a deck. It stays on the device.
type ReviewSession struct {
	ID            string     `json:"id" validate:"required"`
	DeckID        string     `json:"deckId" validate:"required"`
	StartedAt     time.Time  `json:"startTime" validate:"required"`
	EndedAt       *time.Time `json:"endTime,omitempty"`
	CardsReviewed int        `json:"cardsReviewed" validate:"gte=0"`
	CardsCorrect  int        `json:"cardsCorrect" validate:"gte=0,ltefield=CardsReviewed"`
}

func NewReviewSession(deckID string, now time.Time) (*ReviewSession, error) {
	s := &ReviewSession{ID: uuid.NewString(), DeckID: deckID, StartedAt: now}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Finished reports whether the session has ended.
func (s ReviewSession) Finished() bool {
	return s.EndedAt != nil
}

// ReviewAnswer records a single grading of a card.
type ReviewAnswer struct {
	ID         string    `json:"id" validate:"required"`
	SessionID  string    `json:"sessionId,omitempty"`
	CardID     string    `json:"cardId" validate:"required"`
	Quality    int       `json:"quality" validate:"gte=0,lte=5"`
	TimeSpent  int64     `json:"timeSpent" validate:"gte=0"` // milliseconds
	AnsweredAt time.Time `json:"timestamp" validate:"required"`
}

// NewReviewAnswer records quality for cardID at now. sessionID may be empty.
func NewReviewAnswer(sessionID, cardID string, quality int, timeSpent time.Duration, now time.Time) (*ReviewAnswer, error) {
	a := &ReviewAnswer{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		CardID:     cardID,
		Quality:    quality,
		TimeSpent:  timeSpent.Milliseconds(),
		AnsweredAt: now,
	}
	if err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}
