// Package reports renders operator-facing digests from the durable event
// log and record stores.
package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/store"
)

// DailyDigest summarizes the last 24 hours: publish results, failures,
// open decisions and the upcoming schedule.
func DailyDigest(ctx context.Context, stores *store.Stores, now time.Time) (string, error) {
	since := now.Add(-24 * time.Hour)

	events, err := stores.Events.Filter(ctx, func(e models.Event) bool {
		return !e.Timestamp.Before(since)
	})
	if err != nil {
		return "", err
	}

	var published, failed, retried int
	for _, e := range events {
		switch e.EventType {
		case "post_publish_result":
			if ok, _ := e.Details["success"].(bool); ok {
				published++
			} else {
				failed++
			}
		case "post_retry_scheduled":
			retried++
		}
	}

	openDecisions, err := stores.Decisions.Filter(ctx, func(d models.DecisionRequest) bool {
		return d.Status == models.DecisionStatusOpen
	})
	if err != nil {
		return "", err
	}

	upcoming, err := stores.Posts.Filter(ctx, func(p models.Post) bool {
		return p.State == models.PostStateScheduled &&
			p.ScheduledForUTC != nil &&
			p.ScheduledForUTC.After(now) &&
			p.ScheduledForUTC.Before(now.Add(48*time.Hour))
	})
	if err != nil {
		return "", err
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].ScheduledForUTC.Before(*upcoming[j].ScheduledForUTC)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Daily digest (%s)\n", now.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Published: %d | Failed: %d | Retries scheduled: %d\n", published, failed, retried)
	fmt.Fprintf(&b, "Open decisions: %d\n", len(openDecisions))
	if len(upcoming) == 0 {
		b.WriteString("Nothing scheduled in the next 48h")
	} else {
		fmt.Fprintf(&b, "Next %d scheduled:", len(upcoming))
		for _, p := range upcoming {
			fmt.Fprintf(&b, "\n  %s [%s] at %s", p.ID, p.Platform, p.ScheduledForUTC.Format("2006-01-02 15:04"))
		}
	}
	return b.String(), nil
}

// WeeklySummary covers the trailing seven days with per-platform counts
// and the attempt failure breakdown.
func WeeklySummary(ctx context.Context, stores *store.Stores, now time.Time) (string, error) {
	since := now.Add(-7 * 24 * time.Hour)

	attempts, err := stores.Attempts.Filter(ctx, func(a models.PostAttempt) bool {
		return !a.FinishedAt.Before(since)
	})
	if err != nil {
		return "", err
	}

	posts, err := stores.Posts.ReadAll(ctx)
	if err != nil {
		return "", err
	}
	platformByPost := make(map[string]string, len(posts))
	var pendingManual, failedPosts int
	for _, p := range posts {
		platformByPost[p.ID] = p.Platform
		switch p.State {
		case models.PostStatePendingManual:
			pendingManual++
		case models.PostStateFailed:
			failedPosts++
		}
	}

	byPlatform := map[string]int{}
	byResult := map[string]int{}
	for _, a := range attempts {
		byResult[a.Result]++
		if a.Result == models.AttemptResultSuccess {
			byPlatform[platformByPost[a.PostID]]++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weekly summary (%s)\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Attempts: %d (success %d, transient %d, permanent %d)\n",
		len(attempts),
		byResult[models.AttemptResultSuccess],
		byResult[models.AttemptResultTransientFailure],
		byResult[models.AttemptResultPermanentFailure])

	platforms := make([]string, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		fmt.Fprintf(&b, "Published on %s: %d\n", p, byPlatform[p])
	}
	fmt.Fprintf(&b, "Awaiting manual confirmation: %d | In failed state: %d", pendingManual, failedPosts)
	return b.String(), nil
}
