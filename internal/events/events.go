package events

import "context"

// Stream names
const (
	StreamPosts = "events:post"
)

// Event types mirrored to the pub/sub stream (the durable event log lives in
// the events record store).
const (
	EventCampaignCreated        = "campaign_created"
	EventPostDrafted            = "post_drafted"
	EventPostEdited             = "post_edited"
	EventPostApproved           = "post_approved"
	EventPostScheduled          = "post_scheduled"
	EventPostPublishResult      = "post_publish_result"
	EventPostRetryScheduled     = "post_retry_scheduled"
	EventPostRetryRequested     = "post_retry_requested"
	EventPostCanceled           = "post_canceled"
	EventPostReconfirmRequired  = "post_reconfirmation_required"
	EventManualOverridePublish  = "manual_override_publish"
	EventApprovalChannelOutage  = "approval_channel_outage"
	EventDecisionRequestExpired = "decision_request_expired"
	EventDecisionRequestRefresh = "decision_request_refreshed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher is used when no pub/sub backend is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
