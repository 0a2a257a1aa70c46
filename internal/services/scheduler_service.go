package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/events"
	"github.com/social-scheduler/backend/internal/hashing"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/preflight"
	"github.com/social-scheduler/backend/internal/redact"
	"github.com/social-scheduler/backend/internal/store"
	"github.com/social-scheduler/backend/internal/timing"
	"go.uber.org/zap"
)

// SchedulerService owns the campaign/post lifecycle: drafting, edits,
// approval, scheduling, safety gates and publish results. It is the single
// writer over the record stores.
type SchedulerService struct {
	stores    *store.Stores
	timing    timing.Engine
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger

	now func() time.Time
	loc *time.Location
}

func NewSchedulerService(
	stores *store.Stores,
	timingEngine timing.Engine,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *SchedulerService {
	return &SchedulerService{
		stores:    stores,
		timing:    timingEngine,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		loc:       time.Local,
	}
}

func (s *SchedulerService) logEvent(ctx context.Context, eventType string, campaignID, postID *string, details map[string]any) {
	evt := models.Event{
		ID:         models.NewID("evt"),
		EventType:  eventType,
		CampaignID: campaignID,
		PostID:     postID,
		Timestamp:  s.now().UTC(),
		Details:    details,
	}
	if err := s.stores.Events.Append(ctx, evt); err != nil {
		s.log.Error("failed to append event", zap.String("event_type", eventType), zap.Error(err))
	}

	payload := map[string]any{"event_id": evt.ID}
	if campaignID != nil {
		payload["campaign_id"] = *campaignID
	}
	if postID != nil {
		payload["post_id"] = *postID
	}
	for k, v := range details {
		payload[k] = v
	}
	_ = s.publisher.Publish(ctx, events.StreamPosts, events.Event{Type: eventType, Payload: payload})
}

// transitionPost validates and applies a state change, persisting the full row.
func (s *SchedulerService) transitionPost(ctx context.Context, post *models.Post, to models.PostState) error {
	if err := models.EnsureTransition(post.State, to); err != nil {
		return err
	}
	post.State = to
	post.UpdatedAt = s.now().UTC()
	return s.stores.Posts.Upsert(ctx, *post)
}

// CreateCampaignFromSource drafts one post per platform from a source
// document and records the new campaign.
func (s *SchedulerService) CreateCampaignFromSource(ctx context.Context, sourcePath, audienceTimezone string) (models.Campaign, error) {
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return models.Campaign{}, fmt.Errorf("source document not readable: %w", err)
	}

	now := s.now().UTC()
	campaign := models.Campaign{
		ID:               models.NewID("camp"),
		SourcePath:       sourcePath,
		AudienceTimezone: audienceTimezone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.stores.Campaigns.Append(ctx, campaign); err != nil {
		return models.Campaign{}, err
	}
	s.logEvent(ctx, events.EventCampaignCreated, &campaign.ID, nil, map[string]any{"source_path": sourcePath})

	for _, platform := range models.Platforms {
		post := models.Post{
			ID:         models.NewID("post"),
			CampaignID: campaign.ID,
			Platform:   platform,
			Content:    draftForPlatform(string(content)),
			State:      models.PostStateDraft,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.stores.Posts.Append(ctx, post); err != nil {
			return models.Campaign{}, err
		}
		s.logEvent(ctx, events.EventPostDrafted, &campaign.ID, &post.ID, map[string]any{"platform": platform})
	}

	return campaign, nil
}

func draftForPlatform(source string) string {
	var lines []string
	for _, ln := range strings.Split(source, "\n") {
		if trimmed := strings.TrimSpace(ln); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	title := "Untitled"
	if len(lines) > 0 {
		title = strings.TrimLeft(lines[0], "# ")
	}
	body := ""
	if len(lines) > 1 {
		end := len(lines)
		if end > 6 {
			end = 6
		}
		body = strings.Join(lines[1:end], "\n\n")
	}
	return fmt.Sprintf("%s\n\n%s\n\nSource: article", title, body)
}

func (s *SchedulerService) GetCampaign(ctx context.Context, campaignID string) (models.Campaign, error) {
	campaign, found, err := s.stores.Campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return models.Campaign{}, err
	}
	if !found {
		return models.Campaign{}, fmt.Errorf("%w: campaign %s", models.ErrNotFound, campaignID)
	}
	return campaign, nil
}

func (s *SchedulerService) GetPost(ctx context.Context, postID string) (models.Post, error) {
	post, found, err := s.stores.Posts.FindByID(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	if !found {
		return models.Post{}, fmt.Errorf("%w: post %s", models.ErrNotFound, postID)
	}
	return post, nil
}

func (s *SchedulerService) ListCampaignPosts(ctx context.Context, campaignID string) ([]models.Post, error) {
	return s.stores.Posts.Filter(ctx, func(p models.Post) bool { return p.CampaignID == campaignID })
}

// EditPost replaces post content. The first human edit promotes a draft to
// ready_for_approval. Terminal posts reject edits.
func (s *SchedulerService) EditPost(ctx context.Context, postID, content string) (models.Post, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	if post.State.Terminal() {
		return models.Post{}, fmt.Errorf("%w: cannot edit post in state %s", models.ErrValidation, post.State)
	}

	now := s.now().UTC()
	post.Content = content
	post.EditedAt = &now
	post.UpdatedAt = now
	if post.State == models.PostStateDraft {
		if err := models.EnsureTransition(post.State, models.PostStateReadyForApproval); err != nil {
			return models.Post{}, err
		}
		post.State = models.PostStateReadyForApproval
	}
	if err := s.stores.Posts.Upsert(ctx, post); err != nil {
		return models.Post{}, err
	}
	s.logEvent(ctx, events.EventPostEdited, &post.CampaignID, &post.ID, nil)
	return post, nil
}

// PreflightPosts runs stage validation over a single post, a campaign's
// posts, or every post, returning errors keyed by post id.
func (s *SchedulerService) PreflightPosts(ctx context.Context, stage, campaignID, postID string) (map[string][]string, error) {
	if campaignID != "" && postID != "" {
		return nil, fmt.Errorf("%w: provide campaign id or post id, not both", models.ErrValidation)
	}

	var posts []models.Post
	switch {
	case postID != "":
		post, err := s.GetPost(ctx, postID)
		if err != nil {
			return nil, err
		}
		posts = []models.Post{post}
	case campaignID != "":
		var err error
		posts, err = s.ListCampaignPosts(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if len(posts) == 0 {
			return nil, fmt.Errorf("%w: no posts for campaign %s", models.ErrNotFound, campaignID)
		}
	default:
		var err error
		posts, err = s.stores.Posts.ReadAll(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string][]string)
	for _, post := range posts {
		if result := preflight.ValidatePost(post, stage); !result.OK {
			out[post.ID] = result.Errors
		}
	}
	return out, nil
}

// QueryEvents returns the tail of the event log, optionally filtered.
func (s *SchedulerService) QueryEvents(ctx context.Context, campaignID, postID string, limit int) ([]models.Event, error) {
	rows, err := s.stores.Events.Filter(ctx, func(e models.Event) bool {
		if campaignID != "" && (e.CampaignID == nil || *e.CampaignID != campaignID) {
			return false
		}
		if postID != "" && (e.PostID == nil || *e.PostID != postID) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

// AnalyzeOptimalTime consults the timing collaborator and records the
// recommendation on both posts.
func (s *SchedulerService) AnalyzeOptimalTime(ctx context.Context, campaignID string) (timing.Recommendation, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return timing.Recommendation{}, err
	}

	history, err := s.stores.Posts.Filter(ctx, func(p models.Post) bool { return p.PostedAt != nil })
	if err != nil {
		return timing.Recommendation{}, err
	}
	rec, err := s.timing.Recommend(campaign.AudienceTimezone, len(history) > 0)
	if err != nil {
		return timing.Recommendation{}, err
	}

	posts, err := s.ListCampaignPosts(ctx, campaignID)
	if err != nil {
		return timing.Recommendation{}, err
	}
	for _, post := range posts {
		recTime := rec.RecommendedTimeUTC
		confidence := rec.ConfidenceScore
		reasoning := rec.ReasoningSummary
		post.RecommendedForUTC = &recTime
		post.RecommendedConfidence = &confidence
		post.RecommendedReasoning = &reasoning
		post.RecommendationFallback = rec.FallbackUsed
		post.UpdatedAt = s.now().UTC()
		if err := s.stores.Posts.Upsert(ctx, post); err != nil {
			return timing.Recommendation{}, err
		}
	}
	return rec, nil
}

// ApproveCampaign approves both posts after preflight and the human-edit
// requirement, freezes the content hash, audits the decision per post, and
// auto-schedules.
func (s *SchedulerService) ApproveCampaign(ctx context.Context, campaignID, editorUser string) ([]models.Post, error) {
	posts, err := s.ListCampaignPosts(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(posts) != 2 {
		return nil, fmt.Errorf("%w: campaign must have exactly two platform posts", models.ErrValidation)
	}

	// Validate everything before mutating anything.
	for _, post := range posts {
		if result := preflight.ValidatePost(post, preflight.StagePreApproval); !result.OK {
			return nil, fmt.Errorf("%w: preflight failed for %s: %s",
				models.ErrValidation, post.ID, strings.Join(result.Errors, "; "))
		}
		if post.EditedAt == nil {
			return nil, fmt.Errorf("%w: post %s requires human edit before approval", models.ErrValidation, post.ID)
		}
		switch post.State {
		case models.PostStateDraft, models.PostStateReadyForApproval, models.PostStatePendingManual:
		default:
			return nil, fmt.Errorf("%w: post %s not in approvable state: %s", models.ErrValidation, post.ID, post.State)
		}
	}

	rules, err := s.stores.Rules.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	approved := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		if post.State == models.PostStateDraft {
			if err := s.transitionPost(ctx, &post, models.PostStateReadyForApproval); err != nil {
				return nil, err
			}
		}

		auto := shouldAutoApprove(post, rules)
		if err := models.EnsureTransition(post.State, models.PostStateApproved); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		hash := hashing.ContentHash(post.Content)
		post.State = models.PostStateApproved
		post.ApprovedAt = &now
		post.ApprovedContentHash = &hash
		post.UpdatedAt = now
		if err := s.stores.Posts.Upsert(ctx, post); err != nil {
			return nil, err
		}
		approved = append(approved, post)

		mode := "manual"
		if auto {
			mode = "auto"
		}
		s.logEvent(ctx, events.EventPostApproved, &campaignID, &post.ID, map[string]any{"approval_mode": mode})

		audit := models.DecisionAudit{
			ID:         models.NewID("aud"),
			CampaignID: &campaignID,
			PostID:     &post.ID,
			OperatorID: editorUser,
			Action:     mode + "_approve",
			CreatedAt:  now,
		}
		if err := s.stores.DecisionAudit.Append(ctx, audit); err != nil {
			return nil, err
		}
	}

	// Auto-schedule immediately after approval.
	if _, err := s.ScheduleCampaignAuto(ctx, campaignID); err != nil {
		return approved, err
	}
	return approved, nil
}

// shouldAutoApprove applies the declarative rule set; no rules means every
// approval is manual.
func shouldAutoApprove(post models.Post, rules []models.ApprovalRule) bool {
	for _, rule := range rules {
		if rule.Matches(post) {
			return true
		}
	}
	return false
}

// ScheduleCampaignAuto schedules at the recommended time. A confidence below
// 0.5 instead parks both posts in pending_manual, opens a confirmation
// request per post and fails with ErrManualConfirmationRequired.
func (s *SchedulerService) ScheduleCampaignAuto(ctx context.Context, campaignID string) ([]models.Post, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	rec, err := s.AnalyzeOptimalTime(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if rec.ConfidenceScore < 0.5 {
		posts, err := s.ListCampaignPosts(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		for _, post := range posts {
			// Approved posts reach pending_manual through the scheduled
			// hop; the transition table has no direct edge.
			if !models.CanTransition(post.State, models.PostStatePendingManual) {
				recTime := rec.RecommendedTimeUTC
				post.ScheduledForUTC = &recTime
				if err := s.transitionPost(ctx, &post, models.PostStateScheduled); err != nil {
					return nil, err
				}
			}
			if err := s.transitionPost(ctx, &post, models.PostStatePendingManual); err != nil {
				return nil, err
			}

			req := models.DecisionRequest{
				ID:          models.NewID("dreq"),
				CampaignID:  &campaignID,
				PostID:      &post.ID,
				RequestType: models.DecisionTypeConfirmation,
				Message: fmt.Sprintf("Low-confidence timing for %s post %s. Confirm schedule or reschedule manually.",
					post.Platform, post.ID),
				Status:    models.DecisionStatusOpen,
				CreatedAt: s.now().UTC(),
				ExpiresAt: s.now().UTC().Add(s.cfg.DecisionTimeout),
			}
			if err := s.stores.Decisions.Append(ctx, req); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("%w: low confidence timing recommendation (fallback 09:30 local)",
			models.ErrManualConfirmationRequired)
	}

	return s.ScheduleCampaign(ctx, campaignID, rec.RecommendedTimeUTC)
}

// ScheduleCampaign commits a schedule to both posts atomically: every post
// is validated before any post is mutated.
func (s *SchedulerService) ScheduleCampaign(ctx context.Context, campaignID string, scheduledUTC time.Time) ([]models.Post, error) {
	now := s.now().UTC()
	if !scheduledUTC.After(now) {
		return nil, fmt.Errorf("%w: scheduled time must be in the future", models.ErrValidation)
	}
	if scheduledUTC.After(now.Add(s.cfg.ScheduleHorizon)) {
		return nil, fmt.Errorf("%w: scheduling horizon exceeded (max %d days)",
			models.ErrValidation, int(s.cfg.ScheduleHorizon.Hours()/24))
	}

	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	posts, err := s.ListCampaignPosts(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, post := range posts {
		if result := preflight.ValidatePost(post, preflight.StagePreSchedule); !result.OK {
			return nil, fmt.Errorf("%w: preflight failed for %s: %s",
				models.ErrValidation, post.ID, strings.Join(result.Errors, "; "))
		}
		if !models.CanTransition(post.State, models.PostStateScheduled) {
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, post.State, models.PostStateScheduled)
		}
	}

	scheduled := scheduledUTC.UTC()
	campaign.CampaignTimeUTC = &scheduled
	campaign.UpdatedAt = now
	if err := s.stores.Campaigns.Upsert(ctx, campaign); err != nil {
		return nil, err
	}

	out := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		post.ScheduledForUTC = &scheduled
		if err := s.transitionPost(ctx, &post, models.PostStateScheduled); err != nil {
			return nil, err
		}
		s.logEvent(ctx, events.EventPostScheduled, &campaignID, &post.ID,
			map[string]any{"scheduled_for_utc": scheduled.Format(time.RFC3339)})
		out = append(out, post)
	}
	return out, nil
}

// --- system controls ---

func (s *SchedulerService) GetControl(ctx context.Context, key string) (string, bool, error) {
	control, found, err := s.stores.Controls.FindByID(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	return control.Value, true, nil
}

func (s *SchedulerService) SetControl(ctx context.Context, key, value string) (models.SystemControl, error) {
	control := models.SystemControl{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	return control, s.stores.Controls.Upsert(ctx, control)
}

// SetKillSwitch toggles the global publish pause. Releasing it pushes every
// overdue scheduled post to pending_manual behind a reconfirmation request.
func (s *SchedulerService) SetKillSwitch(ctx context.Context, enabled bool) (models.SystemControl, error) {
	value := "false"
	if enabled {
		value = "true"
	}
	control, err := s.SetControl(ctx, models.ControlKillSwitch, value)
	if err != nil {
		return control, err
	}
	if !enabled {
		if err := s.markOverdueForReconfirmation(ctx); err != nil {
			return control, err
		}
	}
	return control, nil
}

func (s *SchedulerService) IsKillSwitchOn(ctx context.Context) (bool, error) {
	value, found, err := s.GetControl(ctx, models.ControlKillSwitch)
	if err != nil {
		return false, err
	}
	return found && value == "true", nil
}

func (s *SchedulerService) SetWorkerHeartbeat(ctx context.Context) error {
	_, err := s.SetControl(ctx, models.ControlWorkerHeartbeat, s.now().UTC().Format(time.RFC3339))
	return err
}

func (s *SchedulerService) GetRolloutStage(ctx context.Context) (string, error) {
	value, found, err := s.GetControl(ctx, models.ControlRolloutStage)
	if err != nil {
		return "", err
	}
	if !found {
		return models.RolloutAllLive, nil
	}
	return value, nil
}

func (s *SchedulerService) SetRolloutStage(ctx context.Context, stage string) (models.SystemControl, error) {
	switch stage {
	case models.RolloutDryRunOnly, models.RolloutLinkedInLive, models.RolloutAllLive:
	default:
		return models.SystemControl{}, fmt.Errorf("%w: invalid rollout stage %q", models.ErrValidation, stage)
	}
	return s.SetControl(ctx, models.ControlRolloutStage, stage)
}

// --- health gate ---

// HealthCheck records one gate run: platform credentials, worker liveness,
// kill switch and critical failures. A pass stamps the current cycle date.
func (s *SchedulerService) HealthCheck(ctx context.Context) (models.HealthCheck, error) {
	tokenOK := s.cfg.LiveCredentialsConfigured()

	workerOK := false
	if heartbeat, found, err := s.GetControl(ctx, models.ControlWorkerHeartbeat); err != nil {
		return models.HealthCheck{}, err
	} else if found {
		if hb, err := time.Parse(time.RFC3339, heartbeat); err == nil {
			workerOK = s.now().UTC().Sub(hb) <= s.cfg.HeartbeatStale
		}
	}

	kill, err := s.IsKillSwitchOn(ctx)
	if err != nil {
		return models.HealthCheck{}, err
	}

	failedPosts, err := s.stores.Posts.Filter(ctx, func(p models.Post) bool { return p.State == models.PostStateFailed })
	if err != nil {
		return models.HealthCheck{}, err
	}
	criticalFailures := len(failedPosts) > 0

	overall := "fail"
	if tokenOK && workerOK && !criticalFailures {
		overall = "pass"
	}

	check := models.HealthCheck{
		ID:                    models.NewID("health"),
		DateLocal:             s.now().In(s.loc).Format("2006-01-02"),
		CheckedAt:             s.now().UTC(),
		OverallStatus:         overall,
		TokenStatus:           statusWord(tokenOK, "ok", "missing_or_invalid"),
		WorkerStatus:          statusWord(workerOK, "ok", "down"),
		KillSwitchStatus:      statusWord(kill, "on", "off"),
		CriticalFailureStatus: statusWord(criticalFailures, "present", "none"),
	}
	if err := s.stores.Health.Append(ctx, check); err != nil {
		return models.HealthCheck{}, err
	}
	if overall == "pass" {
		if _, err := s.SetControl(ctx, models.ControlHealthGateLastPass, s.healthGateCycleDate()); err != nil {
			return models.HealthCheck{}, err
		}
	}
	return check, nil
}

func statusWord(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

// healthGateCycleDate resets at the configured local hour (06:00 by
// default): before it, the cycle still belongs to the previous calendar day.
func (s *SchedulerService) healthGateCycleDate() string {
	local := s.now().In(s.loc)
	if local.Hour() < s.cfg.HealthGateCycleHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format("2006-01-02")
}

func (s *SchedulerService) HasPassedHealthGateToday(ctx context.Context) (bool, error) {
	value, found, err := s.GetControl(ctx, models.ControlHealthGateLastPass)
	if err != nil {
		return false, err
	}
	return found && value == s.healthGateCycleDate(), nil
}

// --- worker-facing operations ---

func (s *SchedulerService) DuePosts(ctx context.Context) ([]models.Post, error) {
	now := s.now().UTC()
	return s.stores.Posts.Filter(ctx, func(p models.Post) bool {
		return p.State == models.PostStateScheduled &&
			p.ScheduledForUTC != nil &&
			!p.ScheduledForUTC.After(now)
	})
}

// ShouldPublishMissedSchedule applies the missed-schedule policy: past the
// grace window the post goes to pending_manual behind at most one open
// reconfirmation request instead of publishing.
func (s *SchedulerService) ShouldPublishMissedSchedule(ctx context.Context, post *models.Post) (bool, error) {
	if post.ScheduledForUTC == nil {
		return true, nil
	}
	now := s.now().UTC()
	lag := now.Sub(*post.ScheduledForUTC)
	if lag <= s.cfg.MissedScheduleGrace {
		return true, nil
	}

	if err := s.transitionPost(ctx, post, models.PostStatePendingManual); err != nil {
		return false, err
	}
	s.logEvent(ctx, events.EventPostReconfirmRequired, &post.CampaignID, &post.ID,
		map[string]any{"lag_minutes": int(lag.Minutes())})

	if err := s.openReconfirmationRequest(ctx, *post,
		fmt.Sprintf("Post %s missed schedule by more than %d hours. Reconfirm schedule before publish.",
			post.ID, int(s.cfg.MissedScheduleGrace.Hours()))); err != nil {
		return false, err
	}
	return false, nil
}

// openReconfirmationRequest opens a confirmation request unless the post
// already has one open.
func (s *SchedulerService) openReconfirmationRequest(ctx context.Context, post models.Post, message string) error {
	existing, err := s.stores.Decisions.Filter(ctx, func(d models.DecisionRequest) bool {
		return d.PostID != nil && *d.PostID == post.ID &&
			d.Status == models.DecisionStatusOpen &&
			d.RequestType == models.DecisionTypeConfirmation
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	req := models.DecisionRequest{
		ID:          models.NewID("dreq"),
		CampaignID:  &post.CampaignID,
		PostID:      &post.ID,
		RequestType: models.DecisionTypeConfirmation,
		Message:     message,
		Status:      models.DecisionStatusOpen,
		CreatedAt:   s.now().UTC(),
		ExpiresAt:   s.now().UTC().Add(s.cfg.DecisionTimeout),
	}
	return s.stores.Decisions.Append(ctx, req)
}

// MarkPostResult records a publish outcome: the state transition, the
// immutable attempt row, and the retry reschedule for transient failures
// with remaining budget. Error text is redacted before storage.
func (s *SchedulerService) MarkPostResult(ctx context.Context, post *models.Post, success bool, externalPostID, errorMessage string, transient bool) error {
	attemptNumber, err := s.nextAttemptNumber(ctx, post.ID)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	if success {
		if err := models.EnsureTransition(post.State, models.PostStatePosted); err != nil {
			return err
		}
		post.State = models.PostStatePosted
		post.PostedAt = &now
		post.ExternalPostID = &externalPostID
		post.LastError = nil
	} else {
		if err := models.EnsureTransition(post.State, models.PostStateFailed); err != nil {
			return err
		}
		redacted := redact.Secrets(errorMessage)
		post.State = models.PostStateFailed
		post.LastError = &redacted
	}
	post.UpdatedAt = now
	if err := s.stores.Posts.Upsert(ctx, *post); err != nil {
		return err
	}
	s.logEvent(ctx, events.EventPostPublishResult, &post.CampaignID, &post.ID, map[string]any{
		"success":          success,
		"state":            string(post.State),
		"external_post_id": externalPostID,
		"transient":        transient,
	})

	result := models.AttemptResultSuccess
	if !success {
		result = models.AttemptResultPermanentFailure
		if transient {
			result = models.AttemptResultTransientFailure
		}
	}
	attempt := models.PostAttempt{
		ID:            models.NewID("att"),
		PostID:        post.ID,
		AttemptNumber: attemptNumber,
		StartedAt:     now,
		FinishedAt:    now,
		Result:        result,
	}
	if !success {
		redacted := redact.Secrets(errorMessage)
		attempt.ErrorMessageRedacted = &redacted
	}
	if err := s.stores.Attempts.Append(ctx, attempt); err != nil {
		return err
	}

	if !success && transient {
		if delay, ok := s.RetryDelay(attemptNumber); ok {
			retryAt := s.now().UTC().Add(delay)
			post.ScheduledForUTC = &retryAt
			if err := s.transitionPost(ctx, post, models.PostStateScheduled); err != nil {
				return err
			}
			s.logEvent(ctx, events.EventPostRetryScheduled, &post.CampaignID, &post.ID,
				map[string]any{"scheduled_for_utc": retryAt.Format(time.RFC3339)})
		}
	}
	return nil
}

// RetryDelay returns the backoff for the given attempt number, or false
// once the retry budget is exhausted.
func (s *SchedulerService) RetryDelay(attemptNumber int) (time.Duration, bool) {
	if attemptNumber < 1 || attemptNumber > len(s.cfg.RetryDelays) {
		return 0, false
	}
	return s.cfg.RetryDelays[attemptNumber-1], true
}

func (s *SchedulerService) nextAttemptNumber(ctx context.Context, postID string) (int, error) {
	attempts, err := s.stores.Attempts.Filter(ctx, func(a models.PostAttempt) bool { return a.PostID == postID })
	if err != nil {
		return 0, err
	}
	max := 0
	for _, a := range attempts {
		if a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max + 1, nil
}

// CancelPost cancels a scheduled, pending-manual or failed post.
func (s *SchedulerService) CancelPost(ctx context.Context, postID string) (models.Post, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	switch post.State {
	case models.PostStateScheduled, models.PostStatePendingManual, models.PostStateFailed:
	default:
		return models.Post{}, fmt.Errorf("%w: cannot cancel post in state %s", models.ErrValidation, post.State)
	}
	if err := s.transitionPost(ctx, &post, models.PostStateCanceled); err != nil {
		return models.Post{}, err
	}
	s.logEvent(ctx, events.EventPostCanceled, &post.CampaignID, &post.ID, nil)
	return post, nil
}

// RetryFailedPost queues an immediate manual retry of a failed post.
func (s *SchedulerService) RetryFailedPost(ctx context.Context, postID string) (models.Post, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	if post.State != models.PostStateFailed {
		return models.Post{}, fmt.Errorf("%w: can only retry failed posts, got state %s", models.ErrValidation, post.State)
	}
	retryAt := s.now().UTC()
	post.ScheduledForUTC = &retryAt
	if err := s.transitionPost(ctx, &post, models.PostStateScheduled); err != nil {
		return models.Post{}, err
	}
	s.logEvent(ctx, events.EventPostRetryRequested, &post.CampaignID, &post.ID,
		map[string]any{"scheduled_for_utc": retryAt.Format(time.RFC3339)})
	return post, nil
}

// ManualOverridePublish forces a post into scheduled at the current time,
// rejecting terminal states, and writes the dedicated override audit.
func (s *SchedulerService) ManualOverridePublish(ctx context.Context, postID, reason, operatorID, confirmationTokenID string) (models.Post, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	if post.State.Terminal() {
		return models.Post{}, fmt.Errorf("%w: cannot override post in state %s", models.ErrValidation, post.State)
	}

	now := s.now().UTC()
	post.ScheduledForUTC = &now
	if post.State == models.PostStateScheduled {
		post.UpdatedAt = now
		if err := s.stores.Posts.Upsert(ctx, post); err != nil {
			return models.Post{}, err
		}
	} else {
		// Walk legal hops toward scheduled; an override is still bound by
		// the transition table.
		hops := map[models.PostState]models.PostState{
			models.PostStateDraft:            models.PostStateReadyForApproval,
			models.PostStateReadyForApproval: models.PostStatePendingManual,
		}
		for post.State != models.PostStateScheduled {
			next := models.PostStateScheduled
			if !models.CanTransition(post.State, next) {
				var ok bool
				if next, ok = hops[post.State]; !ok {
					return models.Post{}, fmt.Errorf("%w: %s -> %s",
						models.ErrIllegalTransition, post.State, models.PostStateScheduled)
				}
			}
			if err := s.transitionPost(ctx, &post, next); err != nil {
				return models.Post{}, err
			}
		}
	}
	s.logEvent(ctx, events.EventManualOverridePublish, &post.CampaignID, &post.ID,
		map[string]any{"operator_id": operatorID})

	audit := models.ManualOverrideAudit{
		ID:                  models.NewID("ovr"),
		CampaignID:          post.CampaignID,
		PostID:              post.ID,
		OperatorID:          operatorID,
		Reason:              reason,
		ConfirmationTokenID: confirmationTokenID,
		CreatedAt:           now,
	}
	if err := s.stores.Overrides.Append(ctx, audit); err != nil {
		return models.Post{}, err
	}
	return post, nil
}

// markOverdueForReconfirmation runs when the kill switch is released: posts
// that became overdue while paused need explicit reconfirmation.
func (s *SchedulerService) markOverdueForReconfirmation(ctx context.Context) error {
	now := s.now().UTC()
	overdue, err := s.stores.Posts.Filter(ctx, func(p models.Post) bool {
		return p.State == models.PostStateScheduled &&
			p.ScheduledForUTC != nil &&
			!p.ScheduledForUTC.After(now)
	})
	if err != nil {
		return err
	}

	for _, post := range overdue {
		if err := s.transitionPost(ctx, &post, models.PostStatePendingManual); err != nil {
			return err
		}
		if err := s.openReconfirmationRequest(ctx, post,
			fmt.Sprintf("Post %s became overdue while paused. Reconfirm schedule before publish resume.", post.ID)); err != nil {
			return err
		}
	}
	return nil
}

// CompactData compacts one named store or all of them.
func (s *SchedulerService) CompactData(ctx context.Context, name string) (map[string]int64, error) {
	return s.stores.CompactData(ctx, name)
}
