package models

import (
	"fmt"
	"time"
)

// Post lifecycle states
type PostState string

const (
	PostStateDraft            PostState = "draft"
	PostStateReadyForApproval PostState = "ready_for_approval"
	PostStatePendingManual    PostState = "pending_manual"
	PostStateApproved         PostState = "approved"
	PostStateScheduled        PostState = "scheduled"
	PostStatePosted           PostState = "posted"
	PostStateFailed           PostState = "failed"
	PostStateCanceled         PostState = "canceled"
)

// Target platforms
const (
	PlatformLinkedIn = "linkedin"
	PlatformX        = "x"
)

// Platforms lists the two platforms every campaign owns a post for.
var Platforms = []string{PlatformLinkedIn, PlatformX}

// Valid state transitions: from -> []to. Posted and canceled are terminal.
var ValidPostTransitions = map[PostState][]PostState{
	PostStateDraft:            {PostStateReadyForApproval, PostStateCanceled},
	PostStateReadyForApproval: {PostStatePendingManual, PostStateApproved, PostStateCanceled},
	PostStatePendingManual:    {PostStateApproved, PostStateScheduled, PostStateCanceled},
	PostStateApproved:         {PostStateScheduled, PostStateCanceled},
	PostStateScheduled:        {PostStatePosted, PostStateFailed, PostStateCanceled, PostStatePendingManual},
	PostStateFailed:           {PostStateScheduled, PostStateCanceled},
	PostStatePosted:           {},
	PostStateCanceled:         {},
}

func CanTransition(from, to PostState) bool {
	allowed, ok := ValidPostTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// EnsureTransition is the single legality check for post state mutations.
// Every state change in the system, including administrative overrides,
// must route through it.
func EnsureTransition(from, to PostState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

func (s PostState) Terminal() bool {
	return s == PostStatePosted || s == PostStateCanceled
}

type Post struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Platform   string    `json:"platform"`
	Content    string    `json:"content"`
	State      PostState `json:"state"`

	ScheduledForUTC        *time.Time `json:"scheduled_for_utc,omitempty"`
	RecommendedForUTC      *time.Time `json:"recommended_for_utc,omitempty"`
	RecommendedConfidence  *float64   `json:"recommended_confidence,omitempty"`
	RecommendedReasoning   *string    `json:"recommended_reasoning,omitempty"`
	RecommendationFallback bool       `json:"recommendation_fallback_used"`

	EditedAt            *time.Time `json:"edited_at,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	ApprovedContentHash *string    `json:"approved_content_hash,omitempty"`

	PostedAt       *time.Time `json:"posted_at,omitempty"`
	ExternalPostID *string    `json:"external_post_id,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
