package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default SM-2 values for a card that has never been reviewed.
const (
	DefaultEaseFactor = 2.5
	MinEaseFactor     = 1.3
)

// SRSState holds the spaced-repetition memory parameters of a card.
type SRSState struct {
	EaseFactor     float64    `json:"easeFactor" validate:"gte=1.3"`
	Interval       int        `json:"interval" validate:"gte=0"`    // days
	Repetitions    int        `json:"repetitions" validate:"gte=0"` // consecutive successful recalls
	DueDate        time.Time  `json:"dueDate" validate:"required"`
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
}

// DefaultSRSState returns the state of a freshly created card, due immediately.
func DefaultSRSState(now time.Time) SRSState {
	return SRSState{
		EaseFactor:  DefaultEaseFactor,
		Interval:    0,
		Repetitions: 0,
		DueDate:     now,
	}
}

// Clone returns a copy that shares no pointers with s.
func (s SRSState) Clone() SRSState {
	out := s
	if s.LastReviewedAt != nil {
		v := *s.LastReviewedAt
		out.LastReviewedAt = &v
	}
	return out
}

// Card is a single flashcard belonging to exactly one deck.
type Card struct {
	ID           string    `json:"id" validate:"required"`
	DeckID       string    `json:"deckId" validate:"required"`
	FrontContent string    `json:"frontContent" validate:"required"`
	BackContent  string    `json:"backContent" validate:"required"`
	MediaPath    string    `json:"mediaPath,omitempty"`
	Tags         []string  `json:"tags,omitempty" validate:"dive,required"`
	SRS          SRSState  `json:"srsData"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewCard builds a validated card with a fresh id and the default SRS state.
func NewCard(deckID, front, back string, tags []string, mediaPath string, now time.Time) (*Card, error) {
	card := &Card{
		ID:           uuid.NewString(),
		DeckID:       deckID,
		FrontContent: strings.TrimSpace(front),
		BackContent:  strings.TrimSpace(back),
		MediaPath:    strings.TrimSpace(mediaPath),
		Tags:         normalizeTags(tags),
		SRS:          DefaultSRSState(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := Validate(card); err != nil {
		return nil, err
	}
	return card, nil
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	out.SRS = c.SRS.Clone()
	return out
}

// normalizeTags trims tags and drops empty and duplicate entries, keeping order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
