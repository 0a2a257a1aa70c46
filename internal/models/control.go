package models

import "time"

// Well-known system control keys
const (
	ControlKillSwitch          = "global_publish_paused"
	ControlRolloutStage        = "rollout_stage"
	ControlWorkerHeartbeat     = "worker_last_heartbeat_utc"
	ControlHealthGateLastPass  = "health_gate_last_pass_date"
	ControlHealthGateLastAlert = "health_gate_last_alert_utc"
)

// Rollout stages
const (
	RolloutDryRunOnly   = "dry_run_only"
	RolloutLinkedInLive = "linkedin_live"
	RolloutAllLive      = "all_live"
)

// SystemControl is a persisted key -> string flag, last write wins.
type SystemControl struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthCheck is one recorded run of the daily health gate checks.
type HealthCheck struct {
	ID                    string    `json:"id"`
	DateLocal             string    `json:"date_local"`
	CheckedAt             time.Time `json:"checked_at"`
	OverallStatus         string    `json:"overall_status"` // pass / fail
	TokenStatus           string    `json:"token_status"`
	WorkerStatus          string    `json:"worker_status"`
	KillSwitchStatus      string    `json:"kill_switch_status"`
	CriticalFailureStatus string    `json:"critical_failure_status"`
}

// Event is the canonical append-only audit trail entry for every meaningful
// transition, and the source for digests.
type Event struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	CampaignID *string        `json:"campaign_id,omitempty"`
	PostID     *string        `json:"post_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// ApprovalRule is a declarative predicate set consulted at approval time to
// decide auto- vs manual-approval. Read-only during evaluation. A post
// auto-approves when any enabled rule matches it on every set predicate.
type ApprovalRule struct {
	ID              string    `json:"id"`
	Platform        *string   `json:"platform,omitempty"`
	MaxLength       *int      `json:"max_length,omitempty"`
	RequiredKeyword *string   `json:"required_keyword,omitempty"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

// Matches reports whether every set predicate of the rule holds for the post.
func (r ApprovalRule) Matches(p Post) bool {
	if !r.Enabled {
		return false
	}
	if r.Platform != nil && *r.Platform != p.Platform {
		return false
	}
	if r.MaxLength != nil && len(p.Content) > *r.MaxLength {
		return false
	}
	if r.RequiredKeyword != nil && !containsFold(p.Content, *r.RequiredKeyword) {
		return false
	}
	return true
}
