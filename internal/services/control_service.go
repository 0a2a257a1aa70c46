package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/reports"
	"github.com/social-scheduler/backend/internal/store"
	"go.uber.org/zap"
)

// CommandResult is the user-facing outcome of one operator command.
type CommandResult struct {
	OK      bool
	Message string
}

// ControlService implements the asynchronous human-decision protocol:
// operator commands, decision requests, confirmation tokens, rate limiting
// and the audit trail around them.
type ControlService struct {
	stores    *store.Stores
	scheduler *SchedulerService
	cfg       *config.Config
	log       *zap.Logger

	now func() time.Time
	loc *time.Location
}

func NewControlService(stores *store.Stores, scheduler *SchedulerService, cfg *config.Config, log *zap.Logger) *ControlService {
	return &ControlService{
		stores:    stores,
		scheduler: scheduler,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		loc:       time.Local,
	}
}

func (c *ControlService) CreateDecisionRequest(ctx context.Context, requestType, message string, campaignID, postID *string) (models.DecisionRequest, error) {
	now := c.now().UTC()
	req := models.DecisionRequest{
		ID:          models.NewID("dreq"),
		CampaignID:  campaignID,
		PostID:      postID,
		RequestType: requestType,
		Message:     message,
		Status:      models.DecisionStatusOpen,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.DecisionTimeout),
	}
	return req, c.stores.Decisions.Append(ctx, req)
}

func (c *ControlService) CreateConfirmationToken(ctx context.Context, action, targetID string) (models.ConfirmationToken, error) {
	now := c.now().UTC()
	token := models.ConfirmationToken{
		ID:        models.NewID("tok"),
		Action:    action,
		TargetID:  targetID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.DecisionTimeout),
	}
	return token, c.stores.ConfirmTokens.Append(ctx, token)
}

// RefreshExpiredToken issues a brand-new token carrying the same action and
// target. Used and still-valid tokens are not refreshable.
func (c *ControlService) RefreshExpiredToken(ctx context.Context, tokenID string) (models.ConfirmationToken, error) {
	token, found, err := c.stores.ConfirmTokens.FindByID(ctx, tokenID)
	if err != nil {
		return models.ConfirmationToken{}, err
	}
	if !found {
		return models.ConfirmationToken{}, fmt.Errorf("%w: token %s", models.ErrNotFound, tokenID)
	}
	if token.UsedAt != nil {
		return models.ConfirmationToken{}, fmt.Errorf("%w: token already used", models.ErrTokenUnusable)
	}
	if token.ExpiresAt.After(c.now().UTC()) {
		return models.ConfirmationToken{}, fmt.Errorf("%w: token still valid", models.ErrValidation)
	}
	return c.CreateConfirmationToken(ctx, token.Action, token.TargetID)
}

// HandleCommand processes one operator text command. Only the configured
// operator identity is accepted; everything is rate limited and audited.
func (c *ControlService) HandleCommand(ctx context.Context, operatorID, text string) (CommandResult, error) {
	if operatorID != c.cfg.TelegramAllowedUserID || c.cfg.TelegramAllowedUserID == "" {
		if err := c.audit(ctx, operatorID, "unauthorized_command", nil); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{false, "Unauthorized user"}, nil
	}

	limited, err := c.rateLimited(ctx, operatorID, text)
	if err != nil {
		return CommandResult{}, err
	}
	if limited {
		return CommandResult{false, "Rate limit exceeded. Cooldown in effect. Use /health or wait 60s."}, nil
	}

	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 {
		return CommandResult{false, "Empty command"}, nil
	}

	switch cmd := strings.ToLower(parts[0]); {
	case cmd == "/health":
		status, err := c.scheduler.HealthCheck(ctx)
		if err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "health_check", nil); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, fmt.Sprintf("Health=%s", status.OverallStatus)}, nil

	case cmd == "/digest":
		digest, err := reports.DailyDigest(ctx, c.stores, c.now().UTC())
		if err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "digest_daily", nil); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, digest}, nil

	case cmd == "/weekly":
		summary, err := reports.WeeklySummary(ctx, c.stores, c.now().UTC())
		if err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "digest_weekly", nil); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, summary}, nil

	case cmd == "/approve" && len(parts) == 2:
		return c.resolveRequest(ctx, operatorID, parts[1], "approve")

	case cmd == "/reject" && len(parts) == 2:
		return c.resolveRequest(ctx, operatorID, parts[1], "reject")

	case cmd == "/confirm" && len(parts) == 2:
		return c.consumeConfirmationToken(ctx, operatorID, parts[1])

	case cmd == "/kill_on" || cmd == "/kill_off":
		desired := "on"
		if cmd == "/kill_off" {
			desired = "off"
		}
		token, err := c.CreateConfirmationToken(ctx, "kill_switch_"+desired, "global")
		if err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "kill_switch_request_"+desired, &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, fmt.Sprintf("Confirm with /confirm %s", token.ID)}, nil

	case cmd == "/override" && len(parts) >= 2:
		token, err := c.CreateConfirmationToken(ctx, models.TokenActionManualOverride, parts[1])
		if err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "manual_override_request", &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, fmt.Sprintf("Confirm override with /confirm %s", token.ID)}, nil

	case cmd == "/cancel" && len(parts) >= 2:
		token, err := c.CreateConfirmationToken(ctx, models.TokenActionCancelPost, parts[1])
		if err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "cancel_post_request", &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, fmt.Sprintf("Confirm cancellation with /confirm %s", token.ID)}, nil
	}

	return CommandResult{false, "Unknown command"}, nil
}

// ExpireDecisionRequests closes every open request past its expiry and
// returns them. Expiry runs regardless of quiet hours.
func (c *ControlService) ExpireDecisionRequests(ctx context.Context) ([]models.DecisionRequest, error) {
	now := c.now().UTC()
	rows, err := c.stores.Decisions.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	var expired []models.DecisionRequest
	for _, req := range rows {
		if req.Status != models.DecisionStatusOpen || req.ExpiresAt.After(now) {
			continue
		}

		action := "timeout"
		req.Status = models.DecisionStatusExpired
		req.ResolvedAt = &now
		req.ResolutionAction = &action
		if err := c.stores.Decisions.Upsert(ctx, req); err != nil {
			return expired, err
		}
		expired = append(expired, req)

		if req.PostID == nil {
			continue
		}
		post, found, err := c.stores.Posts.FindByID(ctx, *req.PostID)
		if err != nil {
			return expired, err
		}
		if found && models.CanTransition(post.State, models.PostStatePendingManual) &&
			post.State != models.PostStateScheduled {
			post.State = models.PostStatePendingManual
			post.UpdatedAt = now
			if err := c.stores.Posts.Upsert(ctx, post); err != nil {
				return expired, err
			}
		}
	}
	return expired, nil
}

// RefreshExpiredRequest re-opens the question as a brand-new request; the
// expired record stays terminal.
func (c *ControlService) RefreshExpiredRequest(ctx context.Context, requestID string) (models.DecisionRequest, error) {
	req, found, err := c.stores.Decisions.FindByID(ctx, requestID)
	if err != nil {
		return models.DecisionRequest{}, err
	}
	if !found {
		return models.DecisionRequest{}, fmt.Errorf("%w: request %s", models.ErrNotFound, requestID)
	}
	if req.Status != models.DecisionStatusExpired {
		return models.DecisionRequest{}, fmt.Errorf("%w: only expired requests can be refreshed", models.ErrValidation)
	}
	return c.CreateDecisionRequest(ctx, req.RequestType, req.Message, req.CampaignID, req.PostID)
}

// ReminderCandidates lists open requests due a reminder: not expired, not
// reminded within the minimum interval, outside quiet hours.
func (c *ControlService) ReminderCandidates(ctx context.Context) ([]models.DecisionRequest, error) {
	now := c.now().UTC()
	if c.InQuietHours(now) {
		return nil, nil
	}
	return c.stores.Decisions.Filter(ctx, func(req models.DecisionRequest) bool {
		if req.Status != models.DecisionStatusOpen {
			return false
		}
		if !req.ExpiresAt.After(now) {
			return false
		}
		if req.LastReminderAt != nil && now.Sub(*req.LastReminderAt) < c.cfg.ReminderInterval {
			return false
		}
		return true
	})
}

func (c *ControlService) MarkReminded(ctx context.Context, requestID string) error {
	req, found, err := c.stores.Decisions.FindByID(ctx, requestID)
	if err != nil || !found {
		return err
	}
	if req.Status != models.DecisionStatusOpen {
		return nil
	}
	now := c.now().UTC()
	req.LastReminderAt = &now
	req.ReminderCount++
	return c.stores.Decisions.Upsert(ctx, req)
}

// InQuietHours reports whether reminders are suppressed at the given time.
func (c *ControlService) InQuietHours(t time.Time) bool {
	hh := t.In(c.loc).Hour()
	return hh >= c.cfg.QuietHoursStart || hh < c.cfg.QuietHoursEnd
}

func (c *ControlService) resolveRequest(ctx context.Context, operatorID, requestID, action string) (CommandResult, error) {
	req, found, err := c.stores.Decisions.FindByID(ctx, requestID)
	if err != nil {
		return CommandResult{}, err
	}
	if !found {
		return CommandResult{false, fmt.Sprintf("Request not found: %s", requestID)}, nil
	}
	if req.Status != models.DecisionStatusOpen {
		return CommandResult{false, fmt.Sprintf("Request not open: %s", req.Status)}, nil
	}

	now := c.now().UTC()
	req.Status = models.DecisionStatusResolved
	req.ResolvedAt = &now
	req.ResolutionAction = &action
	if err := c.stores.Decisions.Upsert(ctx, req); err != nil {
		return CommandResult{}, err
	}
	if err := c.audit(ctx, operatorID, "decision_"+action, &req.ID); err != nil {
		return CommandResult{}, err
	}
	return CommandResult{true, fmt.Sprintf("Request %s resolved with %s", requestID, action)}, nil
}

func (c *ControlService) consumeConfirmationToken(ctx context.Context, operatorID, tokenID string) (CommandResult, error) {
	token, found, err := c.stores.ConfirmTokens.FindByID(ctx, tokenID)
	if err != nil {
		return CommandResult{}, err
	}
	if !found {
		return CommandResult{false, fmt.Sprintf("Token not found: %s", tokenID)}, nil
	}

	now := c.now().UTC()
	if token.UsedAt != nil {
		return CommandResult{false, "Token already used"}, nil
	}
	if !token.ExpiresAt.After(now) {
		return CommandResult{false, "Token expired"}, nil
	}

	token.UsedAt = &now
	token.UsedBy = &operatorID
	if err := c.stores.ConfirmTokens.Upsert(ctx, token); err != nil {
		return CommandResult{}, err
	}

	switch token.Action {
	case models.TokenActionKillSwitchOn:
		if _, err := c.scheduler.SetKillSwitch(ctx, true); err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "kill_switch_on", &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, "Kill switch enabled"}, nil

	case models.TokenActionKillSwitchOff:
		if _, err := c.scheduler.SetKillSwitch(ctx, false); err != nil {
			return CommandResult{}, err
		}
		if err := c.audit(ctx, operatorID, "kill_switch_off", &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, "Kill switch disabled"}, nil

	case models.TokenActionManualOverride:
		post, err := c.scheduler.ManualOverridePublish(ctx, token.TargetID, "operator_manual_override", operatorID, token.ID)
		if err != nil {
			return CommandResult{false, fmt.Sprintf("Override failed: %v", err)}, nil
		}
		if err := c.audit(ctx, operatorID, "manual_override_confirmed", &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, fmt.Sprintf("Manual override queued for post %s", post.ID)}, nil

	case models.TokenActionCancelPost:
		post, err := c.scheduler.CancelPost(ctx, token.TargetID)
		if err != nil {
			return CommandResult{false, fmt.Sprintf("Cancel failed: %v", err)}, nil
		}
		if err := c.audit(ctx, operatorID, "cancel_post_confirmed", &token.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{true, fmt.Sprintf("Canceled post %s", post.ID)}, nil
	}

	if err := c.audit(ctx, operatorID, "token_consumed_"+token.Action, &token.ID); err != nil {
		return CommandResult{}, err
	}
	return CommandResult{true, fmt.Sprintf("Token consumed for action %s", token.Action)}, nil
}

// rateLimited applies a sliding one-minute window per identity. Every
// attempt is logged, allowed or rejected.
func (c *ControlService) rateLimited(ctx context.Context, operatorID, command string) (bool, error) {
	now := c.now().UTC()
	windowStart := now.Add(-time.Minute)

	recent, err := c.stores.RateLimit.Filter(ctx, func(e models.RateLimitEvent) bool {
		return e.OperatorID == operatorID &&
			e.ActionTaken == "allowed" &&
			!e.CreatedAt.Before(windowStart)
	})
	if err != nil {
		return false, err
	}
	blocked := len(recent) >= c.cfg.RateLimitPerMinute

	action := "allowed"
	if blocked {
		action = "rejected"
	}
	event := models.RateLimitEvent{
		ID:             models.NewID("rle"),
		OperatorID:     operatorID,
		Command:        command,
		WindowStartUTC: windowStart,
		WindowEndUTC:   now,
		ActionTaken:    action,
		CreatedAt:      now,
	}
	if err := c.stores.RateLimit.Append(ctx, event); err != nil {
		return blocked, err
	}
	return blocked, nil
}

func (c *ControlService) audit(ctx context.Context, operatorID, action string, tokenID *string) error {
	entry := models.DecisionAudit{
		ID:         models.NewID("aud"),
		OperatorID: operatorID,
		Action:     action,
		TokenID:    tokenID,
		CreatedAt:  c.now().UTC(),
	}
	return c.stores.DecisionAudit.Append(ctx, entry)
}
