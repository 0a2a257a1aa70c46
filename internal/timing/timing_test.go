package timing

import (
	"testing"
	"time"
)

func TestHeuristicEngineRecommend(t *testing.T) {
	engine := &HeuristicEngine{
		Now: func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) },
	}

	rec, err := engine.Recommend("UTC", true)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC)
	if !rec.RecommendedTimeUTC.Equal(want) {
		t.Errorf("expected next 09:30 slot %v, got %v", want, rec.RecommendedTimeUTC)
	}
	if rec.ConfidenceScore != 0.8 || rec.FallbackUsed {
		t.Errorf("history should yield confident recommendation, got %+v", rec)
	}
}

func TestHeuristicEngineSameDaySlot(t *testing.T) {
	engine := &HeuristicEngine{
		Now: func() time.Time { return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC) },
	}

	rec, err := engine.Recommend("UTC", false)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	if !rec.RecommendedTimeUTC.Equal(want) {
		t.Errorf("morning call should pick today's slot %v, got %v", want, rec.RecommendedTimeUTC)
	}
	if rec.ConfidenceScore >= 0.5 || !rec.FallbackUsed {
		t.Errorf("no history should yield low-confidence fallback, got %+v", rec)
	}
}

func TestHeuristicEngineBadTimezone(t *testing.T) {
	engine := &HeuristicEngine{}
	if _, err := engine.Recommend("Not/AZone", false); err == nil {
		t.Error("expected error for invalid timezone")
	}
}
