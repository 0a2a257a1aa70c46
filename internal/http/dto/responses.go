package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type StatusResponse struct {
	KillSwitch    bool   `json:"kill_switch"`
	RolloutStage  string `json:"rollout_stage"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
	DryRun        bool   `json:"dry_run"`
}
