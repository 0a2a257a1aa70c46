package models

import "time"

// Attempt results
const (
	AttemptResultSuccess          = "success"
	AttemptResultTransientFailure = "transient_failure"
	AttemptResultPermanentFailure = "permanent_failure"
)

// PostAttempt is the immutable record of one publish attempt. Attempt
// numbers per post are gap-free and start at 1.
type PostAttempt struct {
	ID                   string    `json:"id"`
	PostID               string    `json:"post_id"`
	AttemptNumber        int       `json:"attempt_number"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	Result               string    `json:"result"`
	ErrorMessageRedacted *string   `json:"error_message_redacted,omitempty"`
}
