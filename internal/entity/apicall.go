package entity

// ApiCall is one api timing record extracted from a server log line.
type ApiCall struct {
	PapertrailID string    `json:"papertrail_id"`
	Timestamp    Timestamp `json:"timestamp"`
	InstanceID   string    `json:"instance_id"`
	ProgramName  string    `json:"program_name"`
	ProfileName  string    `json:"profile_name,omitempty"`
	Username     string    `json:"username"`
	ApiName      string    `json:"api_name"`
	Method       string    `json:"method"`
	DurationMS   int       `json:"duration"`

	// Memory stats are only present on newer log lines.
	MemoryFinalMB *int `json:"memory_final_mb,omitempty"`
	MemoryDeltaMB *int `json:"memory_delta_mb,omitempty"`
}
