package models

import "time"

// Decision request types
const (
	DecisionTypeApproval     = "approval"
	DecisionTypeConfirmation = "confirmation"
)

// Decision request statuses
const (
	DecisionStatusOpen     = "open"
	DecisionStatusResolved = "resolved"
	DecisionStatusExpired  = "expired"
)

// DecisionRequest is an open question posed to the operator. Resolving or
// expiring it is terminal; a refresh creates a new record with a new id.
type DecisionRequest struct {
	ID               string     `json:"id"`
	CampaignID       *string    `json:"campaign_id,omitempty"`
	PostID           *string    `json:"post_id,omitempty"`
	RequestType      string     `json:"request_type"`
	Message          string     `json:"message"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolutionAction *string    `json:"resolution_action,omitempty"`
	ReminderCount    int        `json:"reminder_count"`
	LastReminderAt   *time.Time `json:"last_reminder_at,omitempty"`
}

// ConfirmationToken gates a destructive action behind a second explicit
// confirmation step. Single use: UsedAt/UsedBy are set on consumption.
type ConfirmationToken struct {
	ID        string     `json:"id"`
	Action    string     `json:"action"`
	TargetID  string     `json:"target_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedBy    *string    `json:"used_by,omitempty"`
}

// Confirmation token actions
const (
	TokenActionKillSwitchOn   = "kill_switch_on"
	TokenActionKillSwitchOff  = "kill_switch_off"
	TokenActionManualOverride = "manual_override_publish"
	TokenActionCancelPost     = "cancel_scheduled_post"
)

// DecisionAudit records every operator-facing decision action, allowed or not.
type DecisionAudit struct {
	ID         string    `json:"id"`
	CampaignID *string   `json:"campaign_id,omitempty"`
	PostID     *string   `json:"post_id,omitempty"`
	OperatorID string    `json:"operator_id"`
	Action     string    `json:"action"`
	TokenID    *string   `json:"token_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ManualOverrideAudit is written for override publishes only, separate from
// the general decision audit.
type ManualOverrideAudit struct {
	ID                  string    `json:"id"`
	CampaignID          string    `json:"campaign_id"`
	PostID              string    `json:"post_id"`
	OperatorID          string    `json:"operator_id"`
	Reason              string    `json:"reason"`
	ConfirmationTokenID string    `json:"confirmation_token_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// RateLimitEvent logs every command attempt within the sliding window,
// whether allowed or rejected.
type RateLimitEvent struct {
	ID             string    `json:"id"`
	OperatorID     string    `json:"operator_id"`
	Command        string    `json:"command"`
	WindowStartUTC time.Time `json:"window_start_utc"`
	WindowEndUTC   time.Time `json:"window_end_utc"`
	ActionTaken    string    `json:"action_taken"` // allowed / rejected
	CreatedAt      time.Time `json:"created_at"`
}
