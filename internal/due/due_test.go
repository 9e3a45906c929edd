package due

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardify/internal/domain"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func card(id string, due time.Time) domain.Card {
	return domain.Card{ID: id, DeckID: "d1", SRS: domain.SRSState{EaseFactor: 2.5, DueDate: due}}
}

func TestSelect(t *testing.T) {
	cards := []domain.Card{
		card("past", now.Add(-time.Hour)),
		card("exact", now),
		card("future", now.Add(time.Second)),
		card("later", now.Add(48*time.Hour)),
	}
	before := append([]domain.Card(nil), cards...)

	got := Select(cards, now)

	require.Len(t, got, 2)
	assert.Equal(t, "past", got[0].ID)
	assert.Equal(t, "exact", got[1].ID)
	assert.Equal(t, before, cards, "input must not be modified")

	got[0].ID = "changed"
	assert.Equal(t, "past", cards[0].ID, "result must not alias input")
}

func TestSelect_Empty(t *testing.T) {
	assert.Empty(t, Select(nil, now))
	assert.NotNil(t, Select(nil, now))
}

func TestShuffle(t *testing.T) {
	cards := make([]domain.Card, 20)
	for i := range cards {
		cards[i] = card(string(rune('a'+i)), now)
	}
	before := append([]domain.Card(nil), cards...)

	got := Shuffle(cards, rand.New(rand.NewPCG(1, 2)))

	assert.Equal(t, before, cards, "input must not be modified")
	assert.ElementsMatch(t, cards, got)

	again := Shuffle(cards, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, got, again, "same seed gives same order")
}

func TestClassify(t *testing.T) {
	reviewedToday := now.Add(-2 * time.Hour)
	reviewedYesterday := now.Add(-20 * time.Hour)

	overdue := card("overdue", now.Add(-time.Hour))
	overdue.SRS.LastReviewedAt = &reviewedYesterday
	relearn := card("relearn", now)
	relearn.SRS.LastReviewedAt = &reviewedToday
	tomorrow := card("tomorrow", now.Add(24*time.Hour))
	tomorrow.SRS.LastReviewedAt = &reviewedToday
	week := card("week", now.Add(6*24*time.Hour))
	far := card("far", now.Add(30*24*time.Hour))

	s := Classify([]domain.Card{overdue, relearn, tomorrow, week, far}, now)

	assert.Equal(t, Stats{
		DueToday:      2,
		DueTomorrow:   1,
		DueThisWeek:   2,
		ReviewedToday: 2,
		TotalCards:    5,
	}, s)
}

func TestClassify_ReviewedTodayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	localNow := time.Date(2025, 6, 15, 1, 0, 0, 0, loc) // 2025-06-14 16:00 UTC

	// Same calendar day in UTC+9, previous day in UTC.
	reviewed := time.Date(2025, 6, 14, 15, 30, 0, 0, time.UTC)
	c := card("c", localNow.Add(time.Hour))
	c.SRS.LastReviewedAt = &reviewed

	assert.Equal(t, 1, Classify([]domain.Card{c}, localNow).ReviewedToday)
	assert.Equal(t, 0, Classify([]domain.Card{c}, localNow.UTC().Add(9*time.Hour)).ReviewedToday)
}
