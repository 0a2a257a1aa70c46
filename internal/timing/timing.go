// Package timing holds the timing-recommendation collaborator consumed by
// the scheduler as an opaque function.
package timing

import (
	"fmt"
	"time"
)

type Recommendation struct {
	RecommendedTimeUTC time.Time
	ConfidenceScore    float64
	ReasoningSummary   string
	FallbackUsed       bool
}

// Engine recommends a publish time for an audience timezone. Confidence
// below 0.5 means the scheduler must halt auto-scheduling and ask the
// operator.
type Engine interface {
	Recommend(audienceTimezone string, hasHistory bool) (Recommendation, error)
}

// HeuristicEngine is the default implementation: next 09:30 in the audience
// timezone, low confidence when there is no posting history to learn from.
type HeuristicEngine struct {
	Now func() time.Time
}

func (e *HeuristicEngine) Recommend(audienceTimezone string, hasHistory bool) (Recommendation, error) {
	loc, err := time.LoadLocation(audienceTimezone)
	if err != nil {
		return Recommendation{}, fmt.Errorf("invalid audience timezone %q: %w", audienceTimezone, err)
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	local := now().In(loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, loc)
	if !slot.After(local) {
		slot = slot.AddDate(0, 0, 1)
	}

	if hasHistory {
		return Recommendation{
			RecommendedTimeUTC: slot.UTC(),
			ConfidenceScore:    0.8,
			ReasoningSummary:   "Morning slot based on prior posting history.",
			FallbackUsed:       false,
		}, nil
	}
	return Recommendation{
		RecommendedTimeUTC: slot.UTC(),
		ConfidenceScore:    0.4,
		ReasoningSummary:   "No posting history; 09:30 local fallback slot.",
		FallbackUsed:       true,
	}, nil
}
