package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Deck groups cards and is owned by a single user.
type Deck struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required,min=1,max=100"`
	Description string    `json:"description,omitempty" validate:"max=500"`
	IsPublic    bool      `json:"isPublic"`
	OwnerID     string    `json:"user,omitempty"`
	Tags        []string  `json:"tags,omitempty" validate:"dive,required"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewDeck builds a validated deck with a fresh id.
func NewDeck(ownerID, title, description string, isPublic bool, tags []string, now time.Time) (*Deck, error) {
	deck := &Deck{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		IsPublic:    isPublic,
		OwnerID:     ownerID,
		Tags:        normalizeTags(tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := Validate(deck); err != nil {
		return nil, err
	}
	return deck, nil
}

// Clone returns a deep copy of the deck.
func (d Deck) Clone() Deck {
	out := d
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	return out
}
