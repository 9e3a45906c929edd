package srs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/cardify/internal/domain"
)

// ErrInvalidQuality is returned for a recall quality outside [0, 5].
var ErrInvalidQuality = errors.New("srs: quality must be an integer in [0, 5]")

// Quality is the user's self-graded recall of a card.
// 0-2 are failed recalls, 3-5 successful ones.
type Quality int

const (
	Blackout Quality = iota // no recall at all
	Wrong                   // wrong, answer recognised once shown
	Familiar                // wrong, answer felt familiar
	Hard                    // correct with serious effort
	Good                    // correct after hesitation
	Perfect                 // correct and effortless
)

// passThreshold is the lowest quality counted as a successful recall.
const passThreshold = Hard

// Valid reports whether q is within [0, 5].
func (q Quality) Valid() bool {
	return q >= Blackout && q <= Perfect
}

// Validate returns a validation error wrapping ErrInvalidQuality if q is out of range.
func (q Quality) Validate() error {
	if q.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.NewValidationError("quality", "min=0,max=5"), ErrInvalidQuality)
}

// Passed reports whether q counts as a successful recall.
func (q Quality) Passed() bool {
	return q >= passThreshold
}

// Params holds the tunable parts of the SM-2 schedule.
// The 1.3 ease floor is fixed and not part of Params.
type Params struct {
	FirstInterval  int           // days after the first success
	SecondInterval int           // days after the second consecutive success
	RelearnDelay   time.Duration // delay before a card with interval 0 is due again
}

// DefaultParams returns the classic SM-2 ladder with a 10 minute relearn delay.
func DefaultParams() *Params {
	return &Params{
		FirstInterval:  1,
		SecondInterval: 3,
		RelearnDelay:   10 * time.Minute,
	}
}

// Next computes the state that follows a review of quality q at now.
// prev is never modified.
func (p *Params) Next(q Quality, prev domain.SRSState, now time.Time) (domain.SRSState, error) {
	if err := q.Validate(); err != nil {
		return domain.SRSState{}, err
	}

	next := prev.Clone()
	if !q.Passed() {
		next.Repetitions = 0
		next.Interval = 0
	} else {
		next.Repetitions = prev.Repetitions + 1
		next.Interval = p.calculateInterval(next.Repetitions, prev)
	}

	next.EaseFactor = calculateEaseFactor(prev.EaseFactor, q)
	reviewed := now
	next.LastReviewedAt = &reviewed
	next.DueDate = p.NextDueDate(next.Interval, now)
	return next, nil
}

// calculateInterval returns the interval in days for the given repetition count.
// From the third success onward the previous interval grows by the previous ease factor.
func (p *Params) calculateInterval(repetitions int, prev domain.SRSState) int {
	switch repetitions {
	case 1:
		return p.FirstInterval
	case 2:
		return p.SecondInterval
	default:
		return int(math.Round(float64(prev.Interval) * prev.EaseFactor))
	}
}

// calculateEaseFactor applies EF' = EF + (0.1 - (5-q) * (0.08 + (5-q) * 0.02)),
// floored at 1.3 on every update.
func calculateEaseFactor(easeFactor float64, q Quality) float64 {
	d := float64(Perfect - q)
	return math.Max(domain.MinEaseFactor, easeFactor+(0.1-d*(0.08+d*0.02)))
}

// NextDueDate schedules an interval of 0 after RelearnDelay and any other
// interval that many whole days after now.
func (p *Params) NextDueDate(interval int, now time.Time) time.Time {
	if interval == 0 {
		return now.Add(p.RelearnDelay)
	}
	return now.Add(time.Duration(interval) * 24 * time.Hour)
}
