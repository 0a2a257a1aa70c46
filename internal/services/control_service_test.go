package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/social-scheduler/backend/internal/events"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/store"
	"go.uber.org/zap"
)

const operatorID = "42"

func newTestControl(t *testing.T) (*ControlService, *SchedulerService) {
	t.Helper()
	stores, err := store.NewJSONLStores(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.TelegramAllowedUserID = operatorID

	scheduler := NewSchedulerService(stores, highConfidence(), events.NopPublisher{}, cfg, zap.NewNop())
	scheduler.now = func() time.Time { return fixedNow }
	scheduler.loc = time.UTC

	control := NewControlService(stores, scheduler, cfg, zap.NewNop())
	control.now = func() time.Time { return fixedNow }
	control.loc = time.UTC
	return control, scheduler
}

func TestHandleCommandUnauthorized(t *testing.T) {
	ctx := context.Background()
	control, _ := newTestControl(t)

	result, err := control.HandleCommand(ctx, "999", "/health")
	if err != nil {
		t.Fatal(err)
	}
	if result.OK {
		t.Error("unknown operator must be rejected")
	}

	audits, err := control.stores.DecisionAudit.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 || audits[0].Action != "unauthorized_command" {
		t.Errorf("expected unauthorized_command audit, got %v", audits)
	}
}

func TestHandleCommandRateLimit(t *testing.T) {
	ctx := context.Background()
	control, _ := newTestControl(t)

	for i := 0; i < 20; i++ {
		result, err := control.HandleCommand(ctx, operatorID, "/noop")
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(result.Message, "Rate limit") {
			t.Fatalf("command %d rate limited too early", i+1)
		}
	}

	result, err := control.HandleCommand(ctx, operatorID, "/noop")
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || !strings.Contains(result.Message, "Rate limit") {
		t.Errorf("21st command should be rate limited, got %+v", result)
	}

	// Every attempt is logged, allowed and rejected alike.
	rows, err := control.stores.RateLimit.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 21 {
		t.Errorf("expected 21 rate limit rows, got %d", len(rows))
	}
	var rejected int
	for _, row := range rows {
		if row.ActionTaken == "rejected" {
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejected row, got %d", rejected)
	}
}

func TestKillSwitchTwoStep(t *testing.T) {
	ctx := context.Background()
	control, scheduler := newTestControl(t)

	result, err := control.HandleCommand(ctx, operatorID, "/kill_on")
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("kill_on request failed: %+v", result)
	}

	// The switch must not flip before confirmation.
	if on, _ := scheduler.IsKillSwitchOn(ctx); on {
		t.Fatal("kill switch flipped before /confirm")
	}

	tokens, err := control.stores.ConfirmTokens.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0].Action != models.TokenActionKillSwitchOn {
		t.Fatalf("expected one kill_switch_on token, got %v", tokens)
	}

	confirm, err := control.HandleCommand(ctx, operatorID, "/confirm "+tokens[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !confirm.OK {
		t.Fatalf("confirm failed: %+v", confirm)
	}
	if on, _ := scheduler.IsKillSwitchOn(ctx); !on {
		t.Error("kill switch should be on after confirmation")
	}

	// Single use.
	again, err := control.HandleCommand(ctx, operatorID, "/confirm "+tokens[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.OK || !strings.Contains(again.Message, "already used") {
		t.Errorf("token reuse must be rejected, got %+v", again)
	}
}

func TestConfirmExpiredToken(t *testing.T) {
	ctx := context.Background()
	control, _ := newTestControl(t)

	token, err := control.CreateConfirmationToken(ctx, models.TokenActionKillSwitchOn, "global")
	if err != nil {
		t.Fatal(err)
	}

	control.now = func() time.Time { return fixedNow.Add(31 * time.Minute) }
	result, err := control.HandleCommand(ctx, operatorID, "/confirm "+token.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || !strings.Contains(result.Message, "expired") {
		t.Errorf("expired token must be rejected, got %+v", result)
	}

	// A refresh yields a brand-new usable token; the old one stays dead.
	fresh, err := control.RefreshExpiredToken(ctx, token.ID)
	if err != nil {
		t.Fatalf("RefreshExpiredToken: %v", err)
	}
	if fresh.ID == token.ID {
		t.Error("refresh must mint a new token id")
	}
	if fresh.Action != token.Action || fresh.TargetID != token.TargetID {
		t.Error("refresh must carry over action and target")
	}
}

func TestResolveDecisionRequest(t *testing.T) {
	ctx := context.Background()
	control, _ := newTestControl(t)

	req, err := control.CreateDecisionRequest(ctx, models.DecisionTypeApproval, "Approve campaign?", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := control.HandleCommand(ctx, operatorID, "/approve "+req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("approve failed: %+v", result)
	}

	got, found, err := control.stores.Decisions.FindByID(ctx, req.ID)
	if err != nil || !found {
		t.Fatal(err)
	}
	if got.Status != models.DecisionStatusResolved || got.ResolutionAction == nil || *got.ResolutionAction != "approve" {
		t.Errorf("request not resolved: %+v", got)
	}

	// Resolution is terminal.
	again, err := control.HandleCommand(ctx, operatorID, "/reject "+req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.OK {
		t.Error("resolved request must not be resolvable again")
	}
}

func TestExpireDecisionRequests(t *testing.T) {
	ctx := context.Background()
	control, scheduler := newTestControl(t)

	post := models.Post{
		ID:         models.NewID("post"),
		CampaignID: "camp_x",
		Platform:   models.PlatformLinkedIn,
		Content:    editedContent,
		State:      models.PostStateReadyForApproval,
		CreatedAt:  fixedNow,
		UpdatedAt:  fixedNow,
	}
	if err := scheduler.stores.Posts.Append(ctx, post); err != nil {
		t.Fatal(err)
	}

	req, err := control.CreateDecisionRequest(ctx, models.DecisionTypeApproval, "Approve?", nil, &post.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Not yet due.
	expired, err := control.ExpireDecisionRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 0 {
		t.Fatalf("nothing should expire yet, got %d", len(expired))
	}

	control.now = func() time.Time { return fixedNow.Add(31 * time.Minute) }
	expired, err = control.ExpireDecisionRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != req.ID {
		t.Fatalf("expected the request to expire, got %v", expired)
	}
	if expired[0].Status != models.DecisionStatusExpired {
		t.Errorf("expected expired status, got %s", expired[0].Status)
	}

	got, err := scheduler.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.PostStatePendingManual {
		t.Errorf("linked post should fall back to pending_manual, got %s", got.State)
	}

	// Refresh reopens the question under a new id.
	fresh, err := control.RefreshExpiredRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("RefreshExpiredRequest: %v", err)
	}
	if fresh.ID == req.ID || fresh.Status != models.DecisionStatusOpen {
		t.Errorf("refresh must create a new open request, got %+v", fresh)
	}
}

func TestReminderCandidatesQuietHours(t *testing.T) {
	ctx := context.Background()
	control, _ := newTestControl(t)

	if _, err := control.CreateDecisionRequest(ctx, models.DecisionTypeApproval, "Approve?", nil, nil); err != nil {
		t.Fatal(err)
	}

	// Midday: the open request is a candidate.
	candidates, err := control.ReminderCandidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}

	if err := control.MarkReminded(ctx, candidates[0].ID); err != nil {
		t.Fatal(err)
	}
	candidates, err = control.ReminderCandidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Error("freshly reminded request must not be a candidate")
	}

	// Quiet hours suppress reminders entirely.
	control.now = func() time.Time { return time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC) }
	if !control.InQuietHours(control.now()) {
		t.Error("23:30 should be quiet hours")
	}
	candidates, err = control.ReminderCandidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if candidates != nil {
		t.Errorf("no reminders during quiet hours, got %v", candidates)
	}
}

func TestOverrideAndCancelTwoStep(t *testing.T) {
	ctx := context.Background()
	control, scheduler := newTestControl(t)

	campaign, err := scheduler.CreateCampaignFromSource(ctx, writeSource(t), "UTC")
	if err != nil {
		t.Fatal(err)
	}
	posts, err := scheduler.ListCampaignPosts(ctx, campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	postID := posts[0].ID
	if _, err := scheduler.EditPost(ctx, postID, editedContent); err != nil {
		t.Fatal(err)
	}

	result, err := control.HandleCommand(ctx, operatorID, "/override "+postID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("override request failed: %+v", result)
	}
	tokens, err := control.stores.ConfirmTokens.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	confirm, err := control.HandleCommand(ctx, operatorID, fmt.Sprintf("/confirm %s", tokens[0].ID))
	if err != nil {
		t.Fatal(err)
	}
	if !confirm.OK {
		t.Fatalf("override confirm failed: %+v", confirm)
	}

	got, err := scheduler.GetPost(ctx, postID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.PostStateScheduled {
		t.Errorf("override should force scheduled, got %s", got.State)
	}

	// Cancel the now-scheduled post through its own two-step.
	if _, err := control.HandleCommand(ctx, operatorID, "/cancel "+postID); err != nil {
		t.Fatal(err)
	}
	tokens, err = control.stores.ConfirmTokens.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancelTok := tokens[len(tokens)-1]
	confirm, err = control.HandleCommand(ctx, operatorID, "/confirm "+cancelTok.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !confirm.OK {
		t.Fatalf("cancel confirm failed: %+v", confirm)
	}
	got, err = scheduler.GetPost(ctx, postID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.PostStateCanceled {
		t.Errorf("expected canceled, got %s", got.State)
	}
}
