package analysis

import (
	"strings"
	"time"

	"github.com/poiselabs/poise-gateway/internal/backend"
)

// recordFromResponse flattens a combined-analysis response into one durable
// record. The record id is the client-generated job id, minted before any
// network call so the identity survives a lost response. Fields from a
// failed model half stay nil rather than zero so a missing score is
// distinguishable from a score of 0.
func recordFromResponse(sub Submission, resp *backend.AnalyzeAllResponse, now time.Time) *AnalysisRecord {
	rec := &AnalysisRecord{
		ID:             sub.JobID,
		OwnerID:        sub.OwnerID,
		SourceFileName: sub.SourceFileName,
		DisplayName:    sub.DisplayName,
		CreatedAt:      now,
	}
	if resp.TotalProcessing > 0 {
		rec.ProcessingSeconds = ptr(resp.TotalProcessing)
	}

	if g := resp.Gesture; g != nil {
		rec.GestureSuccess = g.Success
		if g.Success && g.Scores != nil {
			rec.SelfTouch = ptr(g.Scores.SelfTouch)
			rec.HandsOnTable = ptr(g.Scores.HandsOnTable)
			rec.HiddenHands = ptr(g.Scores.HiddenHands)
			rec.GesturesOnTable = ptr(g.Scores.GesturesOnTable)
			rec.OtherGestures = ptr(g.Scores.OtherGestures)
			rec.GestureFrames = ptr(g.FramesProcessed)
			rec.TotalPredictions = ptr(g.TotalPredictions)
		}
		if g.Error != "" {
			rec.GestureError = ptr(g.Error)
		}
	}

	if s := resp.Smile; s != nil {
		rec.SmileSuccess = s.Success
		if s.Success {
			rec.SmileScore = ptr(s.SmileScore)
			rec.SmileFrames = ptr(s.FramesProcessed)
			if s.Interpretation != "" {
				rec.SmileInterpretation = ptr(s.Interpretation)
			}
			if s.VideoDuration > 0 {
				rec.VideoDuration = ptr(s.VideoDuration)
			}
		}
		if s.Error != "" {
			rec.SmileError = ptr(s.Error)
		}
	}

	return rec
}

func ptr[T any](v T) *T { return &v }

// bothModelsFailed reports whether the envelope carries two failed halves.
// The service answers 200 in that case, but there is nothing worth
// persisting or returning.
func bothModelsFailed(resp *backend.AnalyzeAllResponse) bool {
	gestureOK := resp.Gesture != nil && resp.Gesture.Success
	smileOK := resp.Smile != nil && resp.Smile.Success
	return !gestureOK && !smileOK
}

// combinedModelError joins the per-model error strings for the caller.
func combinedModelError(resp *backend.AnalyzeAllResponse) string {
	var parts []string
	if resp.Gesture != nil && resp.Gesture.Error != "" {
		parts = append(parts, "gesture: "+resp.Gesture.Error)
	}
	if resp.Smile != nil && resp.Smile.Error != "" {
		parts = append(parts, "smile: "+resp.Smile.Error)
	}
	if len(parts) == 0 {
		return "analysis produced no result for either model"
	}
	return strings.Join(parts, "; ")
}
