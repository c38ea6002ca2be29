// Package backend is the client for the external analysis service: one
// long-running multipart submission per video, a health probe, and the fault
// taxonomy that tells callers whether the service rejected the job, was
// never reachable, or may still be computing.
package backend

// GestureScores carries the five gesture dimensions scored by the service.
type GestureScores struct {
	SelfTouch       float64 `json:"self_touch"`
	HandsOnTable    float64 `json:"hands_on_table"`
	HiddenHands     float64 `json:"hidden_hands"`
	GesturesOnTable float64 `json:"gestures_on_table"`
	OtherGestures   float64 `json:"other_gestures"`
}

// GestureAnalysis is the gesture half of an analysis response. On failure
// only Success and Error are populated.
type GestureAnalysis struct {
	Success          bool           `json:"success"`
	Model            string         `json:"model,omitempty"`
	VideoName        string         `json:"video_name,omitempty"`
	Scores           *GestureScores `json:"scores,omitempty"`
	FramesProcessed  int64          `json:"frames_processed"`
	TotalPredictions int64          `json:"total_predictions"`
	ProcessingTime   float64        `json:"processing_time_seconds"`
	Error            string         `json:"error,omitempty"`
}

// SmileAnalysis is the facial half of an analysis response.
type SmileAnalysis struct {
	Success         bool    `json:"success"`
	Model           string  `json:"model,omitempty"`
	VideoName       string  `json:"video_name,omitempty"`
	SmileScore      float64 `json:"smile_score"`
	Interpretation  string  `json:"interpretation,omitempty"`
	FramesProcessed int64   `json:"frames_processed"`
	VideoDuration   float64 `json:"video_duration_seconds"`
	ProcessingTime  float64 `json:"processing_time_seconds"`
	Error           string  `json:"error,omitempty"`
}

// AnalyzeAllResponse is the combined-analysis envelope. The service can
// report overall success while one model failed; each half carries its own
// success flag.
type AnalyzeAllResponse struct {
	Success         bool             `json:"success"`
	VideoName       string           `json:"video_name"`
	Gesture         *GestureAnalysis `json:"gesture_analysis"`
	Smile           *SmileAnalysis   `json:"smile_analysis"`
	TotalProcessing float64          `json:"total_processing_time_seconds"`
}

// HealthModelStatus reports one model's load state.
type HealthModelStatus struct {
	Loaded bool   `json:"loaded"`
	Path   string `json:"path,omitempty"`
}

// HealthStatus is the service's health envelope.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
	Models    struct {
		Gesture HealthModelStatus `json:"gesture"`
		Smile   HealthModelStatus `json:"smile"`
	} `json:"models"`
}

// Available reports whether the service considers itself healthy.
func (h *HealthStatus) Available() bool {
	return h != nil && h.Status == "healthy"
}
