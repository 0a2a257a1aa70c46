package dto

type CreateCampaignRequest struct {
	SourcePath       string `json:"source_path"`
	AudienceTimezone string `json:"audience_timezone"`
}

type EditPostRequest struct {
	Content string `json:"content"`
}

type ApproveCampaignRequest struct {
	EditorUser string `json:"editor_user"`
}

type ScheduleCampaignRequest struct {
	// RFC 3339; empty means use the recommendation engine.
	ScheduledForUTC string `json:"scheduled_for_utc,omitempty"`
}

type PreflightRequest struct {
	Stage      string `json:"stage"`
	CampaignID string `json:"campaign_id,omitempty"`
	PostID     string `json:"post_id,omitempty"`
}

type SetRolloutStageRequest struct {
	Stage string `json:"stage"`
}
