// Package scheduler implements the spaced-repetition transition function.
//
// The algorithm is a documented SM-2 variant: review intervals grow by the
// card's ease factor on success, shrink to a fixed short interval on lapse,
// and the ease factor is adjusted per graded outcome within hard bounds.
package scheduler

import (
	"math"
	"time"
)

// Outcome is the user's graded response to a card review.
type Outcome int

const (
	Again Outcome = 1
	Hard  Outcome = 2
	Good  Outcome = 3
	Easy  Outcome = 4
)

func (o Outcome) String() string {
	switch o {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return "unknown"
}

// ParseOutcome maps a grade label to an Outcome. Accepts the four SM-2 labels
// plus correct/incorrect used by the quiz mode.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "again", "incorrect":
		return Again, true
	case "hard":
		return Hard, true
	case "good", "correct":
		return Good, true
	case "easy":
		return Easy, true
	}
	return 0, false
}

// Phase is the learning phase of a card.
type Phase string

const (
	PhaseNew      Phase = "new"
	PhaseLearning Phase = "learning"
	PhaseReview   Phase = "review"
)

// State is the scheduling state carried by each card.
type State struct {
	Phase      Phase
	Interval   int // days
	Ease       float64
	Reps       int
	Lapses     int
	NextReview time.Time
}

// Policy constants. InitialEase/MinEase follow the SM-2 convention; the
// learning steps and graduation threshold are fixed project policy.
const (
	InitialEase = 2.5
	MinEase     = 1.3

	easePenalty = 0.20 // applied on a lapse
	easeStep    = 0.15 // hard/easy adjustment in review

	lapseInterval     = 1 // days after a failed review
	firstStepInterval = 1
	secondStepInterval = 3
	graduateInterval  = 6
	graduateAfterReps = 2 // consecutive successes needed to reach review
)

// NewState returns the scheduling state for a freshly created card, due
// immediately.
func NewState(now time.Time) State {
	return State{
		Phase:      PhaseNew,
		Interval:   0,
		Ease:       InitialEase,
		NextReview: now,
	}
}

// Next computes the state following a review. It is pure: identical inputs
// produce identical outputs, and the only clock it sees is reviewedAt.
func Next(cur State, outcome Outcome, reviewedAt time.Time) State {
	next := cur
	if next.Ease == 0 {
		next.Ease = InitialEase
	}

	if outcome == Again {
		next.Lapses++
		next.Interval = lapseInterval
		next.Phase = PhaseLearning
		next.Ease = math.Max(MinEase, next.Ease-easePenalty)
		next.NextReview = reviewedAt.AddDate(0, 0, next.Interval)
		return next
	}

	next.Reps++

	switch cur.Phase {
	case PhaseNew, PhaseLearning:
		if next.Reps >= graduateAfterReps {
			next.Phase = PhaseReview
			next.Interval = graduateInterval
		} else {
			next.Phase = PhaseLearning
			if cur.Interval < firstStepInterval {
				next.Interval = firstStepInterval
			} else {
				next.Interval = secondStepInterval
			}
		}
	case PhaseReview:
		grown := int(math.Round(float64(cur.Interval) * next.Ease))
		if grown <= cur.Interval {
			grown = cur.Interval + 1 // interval never shrinks on success
		}
		next.Interval = grown
		switch outcome {
		case Hard:
			next.Ease = math.Max(MinEase, next.Ease-easeStep)
		case Easy:
			next.Ease += easeStep
		}
	}

	next.NextReview = reviewedAt.AddDate(0, 0, next.Interval)
	return next
}
