package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/poiselabs/poise-gateway/internal/analysis"
)

const exportPageSize = 200

var exportHeader = []string{
	"id",
	"video_name",
	"display_name",
	"created_at",
	"gesture_success",
	"smile_success",
	"self_touch",
	"hands_on_table",
	"hidden_hands",
	"gestures_on_table",
	"other_gestures",
	"smile_score",
	"smile_interpretation",
	"video_duration_s",
	"processing_s",
	"gesture_error",
	"smile_error",
}

// exportHistoryHandler streams the owner's full history as CSV for
// spreadsheet review of coaching progress.
func exportHistoryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := OwnerID(r.Context())

		// Fetch the first page before any byte goes out so a store failure
		// can still produce a clean error response.
		records, err := cfg.Store.ListByOwner(r.Context(), ownerID, exportPageSize, 0)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to export history", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="poise-history.csv"`)

		cw := csv.NewWriter(w)
		if err := cw.Write(exportHeader); err != nil {
			return
		}

		offset := 0
		for len(records) > 0 {
			for _, rec := range records {
				if err := cw.Write(exportRow(rec)); err != nil {
					return
				}
			}
			if len(records) < exportPageSize {
				break
			}

			offset += exportPageSize
			records, err = cfg.Store.ListByOwner(r.Context(), ownerID, exportPageSize, offset)
			if err != nil {
				// Headers are long gone; the truncated file is the only
				// signal left.
				cfg.Logger.Error("history export aborted", "owner_id", ownerID, "error", err)
				return
			}
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			cfg.Logger.Warn("history export flush", "error", err)
		}
	}
}

func exportRow(rec *analysis.AnalysisRecord) []string {
	return []string{
		rec.ID,
		rec.SourceFileName,
		rec.DisplayName,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		strconv.FormatBool(rec.GestureSuccess),
		strconv.FormatBool(rec.SmileSuccess),
		csvFloat(rec.SelfTouch),
		csvFloat(rec.HandsOnTable),
		csvFloat(rec.HiddenHands),
		csvFloat(rec.GesturesOnTable),
		csvFloat(rec.OtherGestures),
		csvFloat(rec.SmileScore),
		csvString(rec.SmileInterpretation),
		csvFloat(rec.VideoDuration),
		csvFloat(rec.ProcessingSeconds),
		csvString(rec.GestureError),
		csvString(rec.SmileError),
	}
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func csvString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
