package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/events"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/store"
	"github.com/social-scheduler/backend/internal/timing"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

const editedContent = "Launch update for everyone\n\n" +
	"We shipped the new onboarding flow this week and the early numbers look strong " +
	"across both cohorts with activation up measurably since the rollout began."

type stubEngine struct {
	rec timing.Recommendation
	err error
}

func (e *stubEngine) Recommend(string, bool) (timing.Recommendation, error) {
	return e.rec, e.err
}

func testConfig() *config.Config {
	return &config.Config{
		DryRun:              true,
		HealthGateCycleHour: 6,
		MissedScheduleGrace: 2 * time.Hour,
		DecisionTimeout:     30 * time.Minute,
		ReminderInterval:    30 * time.Minute,
		QuietHoursStart:     23,
		QuietHoursEnd:       6,
		RateLimitPerMinute:  20,
		RetryDelays:         []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute},
		ScheduleHorizon:     30 * 24 * time.Hour,
		HeartbeatStale:      5 * time.Minute,
		HealthAlertInterval: 30 * time.Minute,
	}
}

func newTestScheduler(t *testing.T, engine timing.Engine) *SchedulerService {
	t.Helper()
	stores, err := store.NewJSONLStores(t.TempDir())
	if err != nil {
		t.Fatalf("NewJSONLStores: %v", err)
	}
	svc := NewSchedulerService(stores, engine, events.NopPublisher{}, testConfig(), zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	svc.loc = time.UTC
	return svc
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "article.md")
	content := "# Launch update\n\nParagraph one of the article.\n\nParagraph two with more detail.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func draftCampaign(t *testing.T, svc *SchedulerService) models.Campaign {
	t.Helper()
	campaign, err := svc.CreateCampaignFromSource(context.Background(), writeSource(t), "UTC")
	if err != nil {
		t.Fatalf("CreateCampaignFromSource: %v", err)
	}
	return campaign
}

func editAllPosts(t *testing.T, svc *SchedulerService, campaignID string) []models.Post {
	t.Helper()
	ctx := context.Background()
	posts, err := svc.ListCampaignPosts(ctx, campaignID)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		edited, err := svc.EditPost(ctx, post.ID, editedContent)
		if err != nil {
			t.Fatalf("EditPost: %v", err)
		}
		out = append(out, edited)
	}
	return out
}

func highConfidence() *stubEngine {
	return &stubEngine{rec: timing.Recommendation{
		RecommendedTimeUTC: fixedNow.Add(24 * time.Hour),
		ConfidenceScore:    0.8,
		ReasoningSummary:   "history-backed slot",
	}}
}

func TestCreateCampaignDraftsBothPlatforms(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())

	campaign := draftCampaign(t, svc)
	posts, err := svc.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(posts))
	}

	platforms := map[string]bool{}
	for _, post := range posts {
		platforms[post.Platform] = true
		if post.State != models.PostStateDraft {
			t.Errorf("new post should be draft, got %s", post.State)
		}
		if !strings.Contains(post.Content, "Launch update") {
			t.Errorf("draft missing source title: %q", post.Content)
		}
	}
	if !platforms[models.PlatformLinkedIn] || !platforms[models.PlatformX] {
		t.Errorf("expected one post per platform, got %v", platforms)
	}
}

func TestEditPromotesDraft(t *testing.T) {
	svc := newTestScheduler(t, highConfidence())
	campaign := draftCampaign(t, svc)

	for _, post := range editAllPosts(t, svc, campaign.ID) {
		if post.State != models.PostStateReadyForApproval {
			t.Errorf("first edit should promote to ready_for_approval, got %s", post.State)
		}
		if post.EditedAt == nil {
			t.Error("EditedAt not recorded")
		}
	}
}

func TestApproveSchedulesAtRecommendedTime(t *testing.T) {
	ctx := context.Background()
	engine := highConfidence()
	svc := newTestScheduler(t, engine)
	campaign := draftCampaign(t, svc)
	editAllPosts(t, svc, campaign.ID)

	if _, err := svc.ApproveCampaign(ctx, campaign.ID, "editor@example.com"); err != nil {
		t.Fatalf("ApproveCampaign: %v", err)
	}

	posts, err := svc.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, post := range posts {
		if post.State != models.PostStateScheduled {
			t.Errorf("expected scheduled, got %s", post.State)
		}
		if post.ApprovedContentHash == nil || *post.ApprovedContentHash == "" {
			t.Error("approval must freeze the content hash")
		}
		if post.ScheduledForUTC == nil || !post.ScheduledForUTC.Equal(engine.rec.RecommendedTimeUTC) {
			t.Errorf("expected schedule at recommendation, got %v", post.ScheduledForUTC)
		}
	}

	audits, err := svc.stores.DecisionAudit.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 2 {
		t.Errorf("expected one audit row per post, got %d", len(audits))
	}
}

func TestApproveRequiresHumanEdit(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	campaign := draftCampaign(t, svc)

	_, err := svc.ApproveCampaign(ctx, campaign.ID, "editor@example.com")
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApprovePlaceholderFailsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	campaign := draftCampaign(t, svc)
	posts := editAllPosts(t, svc, campaign.ID)

	// Poison one post with an unresolved placeholder.
	if _, err := svc.EditPost(ctx, posts[0].ID, editedContent+" {{cta_link}}"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ApproveCampaign(ctx, campaign.ID, "editor@example.com"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	// Nothing may have been approved.
	after, err := svc.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, post := range after {
		if post.State != models.PostStateReadyForApproval {
			t.Errorf("post %s mutated to %s despite failed approval", post.ID, post.State)
		}
		if post.ApprovedContentHash != nil {
			t.Error("hash frozen despite failed approval")
		}
	}
}

func TestLowConfidenceParksPendingManual(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{rec: timing.Recommendation{
		RecommendedTimeUTC: fixedNow.Add(24 * time.Hour),
		ConfidenceScore:    0.4,
		FallbackUsed:       true,
	}}
	svc := newTestScheduler(t, engine)
	campaign := draftCampaign(t, svc)
	editAllPosts(t, svc, campaign.ID)

	_, err := svc.ApproveCampaign(ctx, campaign.ID, "editor@example.com")
	if !errors.Is(err, models.ErrManualConfirmationRequired) {
		t.Fatalf("expected ErrManualConfirmationRequired, got %v", err)
	}

	posts, err := svc.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, post := range posts {
		if post.State != models.PostStatePendingManual {
			t.Errorf("expected pending_manual, got %s", post.State)
		}
	}

	open, err := svc.stores.Decisions.Filter(ctx, func(d models.DecisionRequest) bool {
		return d.Status == models.DecisionStatusOpen
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Errorf("expected one open request per post, got %d", len(open))
	}
}

func TestScheduleWindowValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	campaign := draftCampaign(t, svc)
	editAllPosts(t, svc, campaign.ID)
	if _, err := svc.ApproveCampaign(ctx, campaign.ID, "editor@example.com"); err != nil {
		t.Fatal(err)
	}

	// Already scheduled; reschedule attempts must respect the window.
	if _, err := svc.ScheduleCampaign(ctx, campaign.ID, fixedNow.Add(-time.Hour)); !errors.Is(err, models.ErrValidation) {
		t.Errorf("past time: expected ErrValidation, got %v", err)
	}
	if _, err := svc.ScheduleCampaign(ctx, campaign.ID, fixedNow.Add(31*24*time.Hour)); !errors.Is(err, models.ErrValidation) {
		t.Errorf("beyond horizon: expected ErrValidation, got %v", err)
	}
}

func approvedAndDue(t *testing.T, svc *SchedulerService) (models.Campaign, models.Post) {
	t.Helper()
	ctx := context.Background()
	campaign := draftCampaign(t, svc)
	editAllPosts(t, svc, campaign.ID)
	if _, err := svc.ApproveCampaign(ctx, campaign.ID, "editor@example.com"); err != nil {
		t.Fatal(err)
	}

	posts, err := svc.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	post := posts[0]
	due := fixedNow.Add(-time.Minute)
	post.ScheduledForUTC = &due
	if err := svc.stores.Posts.Upsert(ctx, post); err != nil {
		t.Fatal(err)
	}
	return campaign, post
}

func TestMarkPostResultSuccess(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	if err := svc.MarkPostResult(ctx, &post, true, "li_123", "", false); err != nil {
		t.Fatalf("MarkPostResult: %v", err)
	}
	if post.State != models.PostStatePosted {
		t.Errorf("expected posted, got %s", post.State)
	}
	if post.ExternalPostID == nil || *post.ExternalPostID != "li_123" {
		t.Error("external post id not recorded")
	}

	// Terminal: further edits must be rejected.
	if _, err := svc.EditPost(ctx, post.ID, editedContent); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected edit rejection on posted, got %v", err)
	}
}

func TestMarkPostResultTransientReschedules(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	if err := svc.MarkPostResult(ctx, &post, false, "", "request timeout", true); err != nil {
		t.Fatalf("MarkPostResult: %v", err)
	}
	if post.State != models.PostStateScheduled {
		t.Errorf("transient failure with budget should reschedule, got %s", post.State)
	}
	wantRetry := fixedNow.Add(5 * time.Minute)
	if post.ScheduledForUTC == nil || !post.ScheduledForUTC.Equal(wantRetry) {
		t.Errorf("expected retry at %v, got %v", wantRetry, post.ScheduledForUTC)
	}

	attempts, err := svc.stores.Attempts.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].AttemptNumber != 1 {
		t.Fatalf("expected one attempt numbered 1, got %v", attempts)
	}
	if attempts[0].Result != models.AttemptResultTransientFailure {
		t.Errorf("expected transient_failure, got %s", attempts[0].Result)
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	delays := []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute}
	for i := 0; i < 3; i++ {
		if err := svc.MarkPostResult(ctx, &post, false, "", "request timeout", true); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if post.State != models.PostStateScheduled {
			t.Fatalf("attempt %d: expected reschedule, got %s", i+1, post.State)
		}
		want := fixedNow.Add(delays[i])
		if !post.ScheduledForUTC.Equal(want) {
			t.Errorf("attempt %d: expected retry at %v, got %v", i+1, want, post.ScheduledForUTC)
		}
	}

	// Fourth transient failure exceeds the budget and the post stays failed.
	if err := svc.MarkPostResult(ctx, &post, false, "", "request timeout", true); err != nil {
		t.Fatal(err)
	}
	if post.State != models.PostStateFailed {
		t.Errorf("expected failed after budget exhaustion, got %s", post.State)
	}
}

func TestMarkPostResultPermanentRedactsError(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	if err := svc.MarkPostResult(ctx, &post, false, "", "401 unauthorized, bearer sk-secret-1 rejected", false); err != nil {
		t.Fatal(err)
	}
	if post.State != models.PostStateFailed {
		t.Errorf("expected failed, got %s", post.State)
	}
	if post.LastError == nil || strings.Contains(*post.LastError, "sk-secret-1") {
		t.Errorf("error not redacted: %v", post.LastError)
	}

	attempts, err := svc.stores.Attempts.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if attempts[0].ErrorMessageRedacted == nil || strings.Contains(*attempts[0].ErrorMessageRedacted, "sk-secret-1") {
		t.Error("attempt row leaked the secret")
	}
}

func TestMissedSchedulePolicy(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	// Inside the grace window the post still publishes.
	proceed, err := svc.ShouldPublishMissedSchedule(ctx, &post)
	if err != nil {
		t.Fatal(err)
	}
	if !proceed {
		t.Error("expected publish within grace window")
	}

	// Past the grace window it goes to pending_manual behind one request.
	late := fixedNow.Add(-3 * time.Hour)
	post.ScheduledForUTC = &late
	if err := svc.stores.Posts.Upsert(ctx, post); err != nil {
		t.Fatal(err)
	}
	proceed, err = svc.ShouldPublishMissedSchedule(ctx, &post)
	if err != nil {
		t.Fatal(err)
	}
	if proceed {
		t.Error("expected publish suppressed past grace window")
	}
	if post.State != models.PostStatePendingManual {
		t.Errorf("expected pending_manual, got %s", post.State)
	}

	open, err := svc.stores.Decisions.Filter(ctx, func(d models.DecisionRequest) bool {
		return d.PostID != nil && *d.PostID == post.ID && d.Status == models.DecisionStatusOpen
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Errorf("expected exactly one open reconfirmation request, got %d", len(open))
	}
}

func TestKillSwitchReleaseReconfirmsOverdue(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	if _, err := svc.SetKillSwitch(ctx, true); err != nil {
		t.Fatal(err)
	}
	on, err := svc.IsKillSwitchOn(ctx)
	if err != nil || !on {
		t.Fatalf("kill switch should be on, got %v err=%v", on, err)
	}

	if _, err := svc.SetKillSwitch(ctx, false); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.PostStatePendingManual {
		t.Errorf("overdue post should need reconfirmation after release, got %s", got.State)
	}
}

func TestCancelAndRetryFailedPost(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	_, post := approvedAndDue(t, svc)

	if err := svc.MarkPostResult(ctx, &post, false, "", "403 forbidden", false); err != nil {
		t.Fatal(err)
	}

	retried, err := svc.RetryFailedPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("RetryFailedPost: %v", err)
	}
	if retried.State != models.PostStateScheduled {
		t.Errorf("expected scheduled, got %s", retried.State)
	}

	canceled, err := svc.CancelPost(ctx, retried.ID)
	if err != nil {
		t.Fatalf("CancelPost: %v", err)
	}
	if canceled.State != models.PostStateCanceled {
		t.Errorf("expected canceled, got %s", canceled.State)
	}

	// Terminal: no further cancel or retry.
	if _, err := svc.CancelPost(ctx, canceled.ID); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation on double cancel, got %v", err)
	}
}

func TestManualOverridePublish(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())
	campaign := draftCampaign(t, svc)
	editAllPosts(t, svc, campaign.ID)
	posts, err := svc.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}

	post, err := svc.ManualOverridePublish(ctx, posts[0].ID, "urgent", "op-1", "tok_abc")
	if err != nil {
		t.Fatalf("ManualOverridePublish: %v", err)
	}
	if post.State != models.PostStateScheduled {
		t.Errorf("expected scheduled, got %s", post.State)
	}
	if post.ScheduledForUTC == nil || !post.ScheduledForUTC.Equal(fixedNow) {
		t.Errorf("override should schedule now, got %v", post.ScheduledForUTC)
	}

	overrides, err := svc.stores.Overrides.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(overrides) != 1 || overrides[0].ConfirmationTokenID != "tok_abc" {
		t.Errorf("override audit missing or wrong: %v", overrides)
	}
}

func TestHealthGateCycleRollover(t *testing.T) {
	ctx := context.Background()
	svc := newTestScheduler(t, highConfidence())

	// Pass the gate at 05:30, still the previous cycle.
	svc.now = func() time.Time { return time.Date(2025, 6, 2, 5, 30, 0, 0, time.UTC) }
	if err := svc.SetWorkerHeartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	svc.cfg.LinkedInClientID = "id"
	svc.cfg.LinkedInClientSecret = "secret"
	svc.cfg.XClientID = "id"
	svc.cfg.XClientSecret = "secret"
	check, err := svc.HealthCheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if check.OverallStatus != "pass" {
		t.Fatalf("expected pass, got %+v", check)
	}

	// 05:45 same morning: same cycle, gate still passed.
	svc.now = func() time.Time { return time.Date(2025, 6, 2, 5, 45, 0, 0, time.UTC) }
	passed, err := svc.HasPassedHealthGateToday(ctx)
	if err != nil || !passed {
		t.Errorf("expected gate passed at 05:45, got %v err=%v", passed, err)
	}

	// 06:05: new cycle, yesterday's pass no longer counts.
	svc.now = func() time.Time { return time.Date(2025, 6, 2, 6, 5, 0, 0, time.UTC) }
	passed, err = svc.HasPassedHealthGateToday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if passed {
		t.Error("expected gate reset after the 06:00 cycle boundary")
	}
}

func TestRetryDelayBudget(t *testing.T) {
	svc := newTestScheduler(t, highConfidence())

	tests := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{1, 5 * time.Minute, true},
		{2, 15 * time.Minute, true},
		{3, 60 * time.Minute, true},
		{4, 0, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		got, ok := svc.RetryDelay(tt.attempt)
		if ok != tt.ok || got != tt.want {
			t.Errorf("RetryDelay(%d) = (%v, %v), want (%v, %v)", tt.attempt, got, ok, tt.want, tt.ok)
		}
	}
}
