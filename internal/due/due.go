// Package due picks cards that are ready for review and summarises upcoming work.
package due

import (
	"math/rand/v2"
	"time"

	"github.com/conorfennell/cardify/internal/domain"
)

// Select returns the cards whose due date is at or before now, in input order.
// The result is a new slice; cards is not modified.
func Select(cards []domain.Card, now time.Time) []domain.Card {
	out := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if IsDue(c, now) {
			out = append(out, c)
		}
	}
	return out
}

// IsDue reports whether c is ready for review at now.
func IsDue(c domain.Card, now time.Time) bool {
	return !c.SRS.DueDate.After(now)
}

// Shuffle returns a randomly permuted copy of cards.
func Shuffle(cards []domain.Card, rng *rand.Rand) []domain.Card {
	out := make([]domain.Card, len(cards))
	copy(out, cards)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// Stats counts cards by when they become due.
// DueTomorrow and DueThisWeek only count cards not yet due.
type Stats struct {
	DueToday      int `json:"dueToday"`
	DueTomorrow   int `json:"dueTomorrow"`
	DueThisWeek   int `json:"dueThisWeek"`
	ReviewedToday int `json:"reviewedToday"`
	TotalCards    int `json:"totalCards"`
}

// Classify buckets cards relative to now. Calendar days are taken in now's location.
func Classify(cards []domain.Card, now time.Time) Stats {
	tomorrow := now.Add(24 * time.Hour)
	week := now.Add(7 * 24 * time.Hour)

	var s Stats
	s.TotalCards = len(cards)
	for _, c := range cards {
		d := c.SRS.DueDate
		switch {
		case !d.After(now):
			s.DueToday++
		case !d.After(tomorrow):
			s.DueTomorrow++
			s.DueThisWeek++
		case !d.After(week):
			s.DueThisWeek++
		}
		if c.SRS.LastReviewedAt != nil && sameDay(*c.SRS.LastReviewedAt, now) {
			s.ReviewedToday++
		}
	}
	return s
}

func sameDay(t, ref time.Time) bool {
	y1, m1, d1 := t.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
