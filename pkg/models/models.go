package models

// MixRequest is the body of POST /mix.
type MixRequest struct {
	VideoURL string `json:"videoUrl"`
	AudioURL string `json:"audioUrl"`
	// Script is plain narration text segmented into timed captions.
	Script string `json:"script,omitempty"`
	// Subtitles is a pre-timed SRT or WebVTT document used as-is.
	Subtitles string `json:"subtitles,omitempty"`
	// CaptionMode overrides the configured strategy: "none", "text" or "subtitles".
	CaptionMode string `json:"captionMode,omitempty"`
}

// MixResponse is returned when the artifact was uploaded to the store.
type MixResponse struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"durationSeconds"`
	Rung            int     `json:"rung"`
	RungName        string  `json:"rungName"`
	Degraded        bool    `json:"degraded"`
	RequestID       string  `json:"requestId,omitempty"`
}

// Problem is an RFC 7807 error body.
type Problem struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Code       string `json:"code"`
	Detail     string `json:"detail,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// HostStats is a snapshot of host load.
type HostStats struct {
	// CPU usage percentage (0.0 to 100.0)
	CPUPercent float64 `json:"cpuPercent"`

	// Used RAM percentage (0.0 to 100.0)
	RAMPercent float64 `json:"ramPercent"`

	// Computed flag: Is the host too busy to accept new mixes?
	// This is calculated by the Monitor based on thresholds (e.g. CPU > 80%).
	IsBusy bool `json:"isBusy"`
}

// Health is the body of GET /healthz.
type Health struct {
	Status string    `json:"status"` // "ok", "busy", "degraded"
	Host   HostStats `json:"host"`
	Codec  string    `json:"codec,omitempty"`
	// ActiveMixes is the number of requests currently holding a workspace.
	ActiveMixes int64  `json:"activeMixes"`
	Error       string `json:"error,omitempty"`
}
