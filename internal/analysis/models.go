// Package analysis implements the core of the gateway: the durable result
// store, the submission orchestrator that drives one analysis attempt
// end-to-end, and the recovery reconciler that finds results whose response
// was lost to a timeout.
package analysis

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnalysisRecord is the durable unit: one row per successfully analyzed
// video. Records are created exactly once, never updated, and deleted only
// by owner action.
type AnalysisRecord struct {
	ID             string
	OwnerID        string
	SourceFileName string
	DisplayName    string

	// Per-dimension success flags. GestureSuccess is the primary flag:
	// only records with it set qualify as recovery candidates.
	GestureSuccess bool
	SmileSuccess   bool

	// Gesture dimension scores, absent when the gesture model failed.
	SelfTouch       *float64
	HandsOnTable    *float64
	HiddenHands     *float64
	GesturesOnTable *float64
	OtherGestures   *float64

	// Facial dimension, absent when the smile model failed.
	SmileScore          *float64
	SmileInterpretation *string

	GestureFrames     *int64
	SmileFrames       *int64
	TotalPredictions  *int64
	VideoDuration     *float64
	ProcessingSeconds *float64

	GestureError *string
	SmileError   *string

	// Set when the raw video was archived.
	ArchiveBucket *string
	ArchiveKey    *string

	CreatedAt time.Time
}

// Result is the canonical result shape. Every path that hands an analysis
// to a caller — live success, synchronous recovery, status poll, history
// listing — produces this structure, always derived through
// (*AnalysisRecord).Result so the paths cannot drift apart.
type Result struct {
	ID                  string     `json:"id"`
	VideoName           string     `json:"videoName"`
	DisplayName         string     `json:"displayName"`
	GestureSuccess      bool       `json:"gestureSuccess"`
	SmileSuccess        bool       `json:"smileSuccess"`
	SelfTouch           *float64   `json:"selfTouchScore"`
	HandsOnTable        *float64   `json:"handsOnTableScore"`
	HiddenHands         *float64   `json:"hiddenHandsScore"`
	GesturesOnTable     *float64   `json:"gesturesOnTableScore"`
	OtherGestures       *float64   `json:"otherGesturesScore"`
	SmileScore          *float64   `json:"smileScore"`
	SmileInterpretation *string    `json:"smileInterpretation"`
	GestureFrames       *int64     `json:"gestureFramesProcessed"`
	SmileFrames         *int64     `json:"smileFramesProcessed"`
	TotalPredictions    *int64     `json:"totalPredictions"`
	VideoDuration       *float64   `json:"videoDurationSeconds"`
	ProcessingSeconds   *float64   `json:"processingTimeSeconds"`
	GestureError        *string    `json:"gestureError,omitempty"`
	SmileError          *string    `json:"smileError,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Result reshapes the record into the canonical result structure.
func (r *AnalysisRecord) Result() *Result {
	return &Result{
		ID:                  r.ID,
		VideoName:           r.SourceFileName,
		DisplayName:         r.DisplayName,
		GestureSuccess:      r.GestureSuccess,
		SmileSuccess:        r.SmileSuccess,
		SelfTouch:           r.SelfTouch,
		HandsOnTable:        r.HandsOnTable,
		HiddenHands:         r.HiddenHands,
		GesturesOnTable:     r.GesturesOnTable,
		OtherGestures:       r.OtherGestures,
		SmileScore:          r.SmileScore,
		SmileInterpretation: r.SmileInterpretation,
		GestureFrames:       r.GestureFrames,
		SmileFrames:         r.SmileFrames,
		TotalPredictions:    r.TotalPredictions,
		VideoDuration:       r.VideoDuration,
		ProcessingSeconds:   r.ProcessingSeconds,
		GestureError:        r.GestureError,
		SmileError:          r.SmileError,
		CreatedAt:           r.CreatedAt,
	}
}

// RecoveryQuery describes a lookup for the most recent record that could be
// the outcome of an attempt whose response was lost. Ephemeral, never
// persisted.
type RecoveryQuery struct {
	OwnerID        string
	SourceFileName string
	// Window bounds how far back a record is trusted as this job's result.
	Window time.Duration
	// RequireSuccess restricts matches to records whose primary success
	// flag is set.
	RequireSuccess bool
}

// NewJobID returns the client-side job identifier, generated before the
// backend call so the id exists even when the response is never received.
// It doubles as the record id when the live path persists.
func NewJobID() string {
	return uuid.NewString()
}

// VideoExtensions lists the upload extensions accepted without sniffing.
// Browser recorders produce webm; phone and desktop uploads are usually
// mp4/mov.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// IsVideoFileName reports whether the filename carries a known video
// extension.
func IsVideoFileName(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	return VideoExtensions[ext]
}
