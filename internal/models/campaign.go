package models

import (
	"time"
)

// Campaign distributes one source document as one post per platform.
// Campaigns are never deleted, only appended and updated.
type Campaign struct {
	ID               string     `json:"id"`
	SourcePath       string     `json:"source_path"`
	AudienceTimezone string     `json:"audience_timezone"`
	CampaignTimeUTC  *time.Time `json:"campaign_time_utc,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
