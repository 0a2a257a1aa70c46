// Package worker drives the publishing loop: safety gates, due-post
// dispatch, decision expiry, reminders and digests.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/events"
	"github.com/social-scheduler/backend/internal/hashing"
	"github.com/social-scheduler/backend/internal/integrations"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/preflight"
	"github.com/social-scheduler/backend/internal/reports"
	"github.com/social-scheduler/backend/internal/services"
	"github.com/social-scheduler/backend/internal/store"
	"go.uber.org/zap"
)

type Runner struct {
	stores    *store.Stores
	scheduler *services.SchedulerService
	control   *services.ControlService
	notifier  integrations.Notifier
	clients   map[string]integrations.PublishClient
	cfg       *config.Config
	log       *zap.Logger

	now func() time.Time
	loc *time.Location
}

func NewRunner(
	stores *store.Stores,
	scheduler *services.SchedulerService,
	control *services.ControlService,
	notifier integrations.Notifier,
	clients map[string]integrations.PublishClient,
	cfg *config.Config,
	log *zap.Logger,
) *Runner {
	return &Runner{
		stores:    stores,
		scheduler: scheduler,
		control:   control,
		notifier:  notifier,
		clients:   clients,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		loc:       time.Local,
	}
}

// Cycle runs one worker iteration. Errors inside a step are logged and do
// not abort the remaining steps; a failing post never blocks its siblings.
func (r *Runner) Cycle(ctx context.Context) {
	if err := r.scheduler.SetWorkerHeartbeat(ctx); err != nil {
		r.log.Error("failed to write heartbeat", zap.Error(err))
	}

	if err := r.expireDecisions(ctx); err != nil {
		r.log.Error("decision expiry failed", zap.Error(err))
	}
	r.sendReminders(ctx)
	r.sendDigests(ctx)

	kill, err := r.scheduler.IsKillSwitchOn(ctx)
	if err != nil {
		r.log.Error("failed to read kill switch", zap.Error(err))
		return
	}
	if kill {
		r.log.Info("kill switch on, skipping publish cycle")
		return
	}

	if !r.cfg.DryRun {
		passed, err := r.scheduler.HasPassedHealthGateToday(ctx)
		if err != nil {
			r.log.Error("failed to read health gate", zap.Error(err))
			return
		}
		if !passed {
			check, err := r.scheduler.HealthCheck(ctx)
			if err != nil {
				r.log.Error("health check failed", zap.Error(err))
				return
			}
			if check.OverallStatus != "pass" {
				r.alertHealthGate(ctx, check)
				return
			}
		}
	}

	due, err := r.scheduler.DuePosts(ctx)
	if err != nil {
		r.log.Error("failed to list due posts", zap.Error(err))
		return
	}
	for i := range due {
		post := due[i]
		if err := r.publishOne(ctx, &post); err != nil {
			r.log.Error("publish cycle error for post",
				zap.String("post_id", post.ID), zap.Error(err))
		}
	}
}

func (r *Runner) expireDecisions(ctx context.Context) error {
	expired, err := r.control.ExpireDecisionRequests(ctx)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		msg := fmt.Sprintf("%d decision request(s) expired without an answer.", len(expired))
		if nerr := r.notifier.SendMessage(ctx, msg, true); nerr != nil {
			r.log.Warn("failed to notify decision expiry", zap.Error(nerr))
		}
	}
	for _, req := range expired {
		r.log.Info("decision request expired", zap.String("request_id", req.ID))
		r.recordEvent(ctx, events.EventDecisionRequestExpired, req.CampaignID, req.PostID,
			map[string]any{"request_id": req.ID})
		if !r.cfg.DecisionAutoRefresh {
			continue
		}
		fresh, err := r.control.RefreshExpiredRequest(ctx, req.ID)
		if err != nil {
			r.log.Error("failed to refresh expired request",
				zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		r.recordEvent(ctx, events.EventDecisionRequestRefresh, fresh.CampaignID, fresh.PostID,
			map[string]any{"request_id": fresh.ID, "replaces": req.ID})
		if err := r.notifier.SendDecisionCard(ctx, fresh.ID, fresh.Message); err != nil {
			r.log.Warn("failed to deliver refreshed decision card",
				zap.String("request_id", fresh.ID), zap.Error(err))
		}
	}
	return nil
}

// sendReminders nudges the operator about open requests. The approval
// channel is the only control surface, so delivery failure fails closed:
// the kill switch goes on until a human intervenes.
func (r *Runner) sendReminders(ctx context.Context) {
	candidates, err := r.control.ReminderCandidates(ctx)
	if err != nil {
		r.log.Error("failed to list reminder candidates", zap.Error(err))
		return
	}
	for _, req := range candidates {
		msg := fmt.Sprintf("Reminder: decision pending (%s)\n%s\nExpires %s",
			req.ID, req.Message, req.ExpiresAt.Format("15:04 UTC"))
		if err := r.notifier.SendMessage(ctx, msg, true); err != nil {
			r.log.Error("approval channel unreachable, engaging kill switch", zap.Error(err))
			if _, ksErr := r.scheduler.SetKillSwitch(ctx, true); ksErr != nil {
				r.log.Error("failed to engage kill switch", zap.Error(ksErr))
			}
			r.recordEvent(ctx, events.EventApprovalChannelOutage, nil, nil,
				map[string]any{"error": err.Error()})
			return
		}
		if err := r.control.MarkReminded(ctx, req.ID); err != nil {
			r.log.Error("failed to mark reminder", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
}

// sendDigests fires each configured local-time slot once per day, guarded
// by one-shot control flags.
func (r *Runner) sendDigests(ctx context.Context) {
	local := r.now().In(r.loc)
	date := local.Format("2006-01-02")

	for _, slot := range r.cfg.DailyDigestSlots {
		if !slotReached(local, slot) {
			continue
		}
		flag := fmt.Sprintf("daily_digest_sent:%s %s", date, slot)
		if r.flagSet(ctx, flag) {
			continue
		}
		digest, err := r.dailyDigest(ctx)
		if err != nil {
			r.log.Error("failed to build daily digest", zap.Error(err))
			continue
		}
		if err := r.notifier.SendMessage(ctx, digest, false); err != nil {
			r.log.Warn("failed to deliver daily digest", zap.Error(err))
			continue
		}
		r.setFlag(ctx, flag)
	}

	if local.Weekday() == r.cfg.WeeklyDigestDay && slotReached(local, r.cfg.WeeklyDigestSlot) {
		flag := "weekly_digest_sent:" + date
		if !r.flagSet(ctx, flag) {
			summary, err := r.weeklySummary(ctx)
			if err != nil {
				r.log.Error("failed to build weekly summary", zap.Error(err))
				return
			}
			if err := r.notifier.SendMessage(ctx, summary, false); err != nil {
				r.log.Warn("failed to deliver weekly summary", zap.Error(err))
				return
			}
			r.setFlag(ctx, flag)
		}
	}
}

// alertHealthGate tells the operator publishing is blocked, at most once
// per alert interval.
func (r *Runner) alertHealthGate(ctx context.Context, check models.HealthCheck) {
	now := r.now().UTC()
	if last, found, err := r.scheduler.GetControl(ctx, models.ControlHealthGateLastAlert); err == nil && found {
		if t, perr := time.Parse(time.RFC3339, last); perr == nil && now.Sub(t) < r.cfg.HealthAlertInterval {
			return
		}
	}
	msg := fmt.Sprintf("Health gate FAILED, publishing blocked.\ntokens=%s worker=%s kill_switch=%s critical_failures=%s",
		check.TokenStatus, check.WorkerStatus, check.KillSwitchStatus, check.CriticalFailureStatus)
	if err := r.notifier.SendMessage(ctx, msg, true); err != nil {
		r.log.Error("failed to deliver health gate alert", zap.Error(err))
		return
	}
	if _, err := r.scheduler.SetControl(ctx, models.ControlHealthGateLastAlert, now.Format(time.RFC3339)); err != nil {
		r.log.Error("failed to stamp health alert time", zap.Error(err))
	}
}

// publishOne takes one due post through the safety gates and the platform
// client, then records the outcome.
func (r *Runner) publishOne(ctx context.Context, post *models.Post) error {
	proceed, err := r.scheduler.ShouldPublishMissedSchedule(ctx, post)
	if err != nil {
		return err
	}
	if !proceed {
		msg := fmt.Sprintf("Post %s missed its window and needs reconfirmation before publish.", post.ID)
		if nerr := r.notifier.SendMessage(ctx, msg, true); nerr != nil {
			r.log.Warn("failed to notify missed schedule", zap.Error(nerr))
		}
		return nil
	}

	live, err := r.liveForPlatform(ctx, post.Platform)
	if err != nil {
		return err
	}

	if live {
		if result := preflight.ValidatePost(*post, preflight.StagePrePublish); !result.OK {
			return r.scheduler.MarkPostResult(ctx, post, false, "",
				"pre-publish validation failed: "+strings.Join(result.Errors, "; "), false)
		}
	}

	client, ok := r.clients[post.Platform]
	if !ok {
		return fmt.Errorf("no publish client for platform %s", post.Platform)
	}

	hash := ""
	if post.ApprovedContentHash != nil {
		hash = *post.ApprovedContentHash
	}
	idemKey := hashing.IdempotencyKey(post.CampaignID, post.Platform, hash)

	externalID, pubErr := client.Publish(ctx, post.Content, idemKey, live)
	if pubErr == nil {
		return r.scheduler.MarkPostResult(ctx, post, true, externalID, "", false)
	}

	switch classifyError(pubErr) {
	case errClassPermanent:
		return r.scheduler.MarkPostResult(ctx, post, false, "", pubErr.Error(), false)

	case errClassAmbiguous:
		verifiedID, found, verr := client.Verify(ctx, post.Content)
		if verr != nil {
			r.log.Warn("verification after ambiguous failure errored",
				zap.String("post_id", post.ID), zap.Error(verr))
			return r.scheduler.MarkPostResult(ctx, post, false, "", pubErr.Error(), true)
		}
		if found {
			if verifiedID == "" {
				verifiedID = "verified_" + idemKey
			}
			r.log.Info("ambiguous publish verified as landed", zap.String("post_id", post.ID))
			return r.scheduler.MarkPostResult(ctx, post, true, verifiedID, "", false)
		}
		return r.scheduler.MarkPostResult(ctx, post, false, "", pubErr.Error(), true)

	default:
		return r.scheduler.MarkPostResult(ctx, post, false, "", pubErr.Error(), true)
	}
}

// liveForPlatform combines global dry-run with the staged rollout control.
func (r *Runner) liveForPlatform(ctx context.Context, platform string) (bool, error) {
	if r.cfg.DryRun {
		return false, nil
	}
	stage, err := r.scheduler.GetRolloutStage(ctx)
	if err != nil {
		return false, err
	}
	switch stage {
	case models.RolloutDryRunOnly:
		return false, nil
	case models.RolloutLinkedInLive:
		return platform == models.PlatformLinkedIn, nil
	default:
		return true, nil
	}
}

type errClass int

const (
	errClassTransient errClass = iota
	errClassPermanent
	errClassAmbiguous
)

var permanentMarkers = []string{
	"unauthorized", "forbidden", "invalid token", "permission", "bad request", "validation",
}

var ambiguousMarkers = []string{
	"timeout", "timed out", "connection reset", "temporarily unavailable", "ambiguous",
}

// classifyError buckets a publish failure. Permanent errors never retry;
// ambiguous ones require page verification before anything is recorded.
func classifyError(err error) errClass {
	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return errClassPermanent
		}
	}
	for _, m := range ambiguousMarkers {
		if strings.Contains(msg, m) {
			return errClassAmbiguous
		}
	}
	return errClassTransient
}

func (r *Runner) flagSet(ctx context.Context, key string) bool {
	_, found, err := r.stores.Controls.FindByID(ctx, key)
	if err != nil {
		r.log.Error("failed to read control flag", zap.String("key", key), zap.Error(err))
	}
	return found
}

func (r *Runner) setFlag(ctx context.Context, key string) {
	control := models.SystemControl{Key: key, Value: "true", UpdatedAt: r.now().UTC()}
	if err := r.stores.Controls.Upsert(ctx, control); err != nil {
		r.log.Error("failed to set control flag", zap.String("key", key), zap.Error(err))
	}
}

func (r *Runner) recordEvent(ctx context.Context, eventType string, campaignID, postID *string, details map[string]any) {
	evt := models.Event{
		ID:         models.NewID("evt"),
		EventType:  eventType,
		CampaignID: campaignID,
		PostID:     postID,
		Timestamp:  r.now().UTC(),
		Details:    details,
	}
	if err := r.stores.Events.Append(ctx, evt); err != nil {
		r.log.Error("failed to append event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (r *Runner) dailyDigest(ctx context.Context) (string, error) {
	return reports.DailyDigest(ctx, r.stores, r.now().UTC())
}

func (r *Runner) weeklySummary(ctx context.Context) (string, error) {
	return reports.WeeklySummary(ctx, r.stores, r.now().UTC())
}

// slotReached reports whether the local time has passed the HH:MM slot.
func slotReached(local time.Time, slot string) bool {
	t, err := time.Parse("15:04", slot)
	if err != nil {
		return false
	}
	slotMinutes := t.Hour()*60 + t.Minute()
	nowMinutes := local.Hour()*60 + local.Minute()
	return nowMinutes >= slotMinutes
}
