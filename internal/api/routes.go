package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poiselabs/poise-gateway/internal/analysis"
	"github.com/poiselabs/poise-gateway/internal/config"
	"github.com/poiselabs/poise-gateway/internal/metrics"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// replayLinkTTL bounds how long a presigned replay URL stays valid.
	replayLinkTTL = 15 * time.Minute
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins))

	r.Get("/api/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier, cfg.Logger))

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimitPerMinute))
			r.Post("/api/analyze-video", analyzeVideoHandler(cfg))
		})

		r.Post("/api/check-analysis-status", checkStatusHandler(cfg))
		r.Get("/api/video-history", historyListHandler(cfg))
		r.Get("/api/video-history/export", exportHistoryHandler(cfg))
		r.Get("/api/video-history/{id}", historyGetHandler(cfg))
		r.Delete("/api/video-history/{id}", historyDeleteHandler(cfg))
		r.Get("/api/video-history/{id}/replay", replayHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		available := false
		if cfg.Prober != nil {
			available = cfg.Prober.Available(r.Context())
		}

		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			Backend: BackendHealth{Available: available},
		})
	}
}

// checkStatusHandler is the poller's target: did an analysis of the named
// video complete recently? It reads the same recovery window the
// orchestrator consults, so a result recovered here and one recovered
// in-line never disagree.
func checkStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StatusCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := validate.Struct(req); err != nil {
			WriteError(w, http.StatusBadRequest, validationMessage(err), "VALIDATION_ERROR")
			return
		}

		ctx, cancel := contextWithTimeout(r, cfg.Timeouts.StatusTimeout)
		defer cancel()

		result, found, err := cfg.Reconciler.Check(ctx, OwnerID(r.Context()), req.VideoFileName)
		if err != nil {
			cfg.Logger.Error("status check failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "status check failed", "INTERNAL_ERROR")
			return
		}

		metrics.RecordStatusCheck(found)
		if !found {
			WriteJSON(w, http.StatusOK, StatusCheckResponse{
				Success:   true,
				Completed: false,
				Message:   "analysis still processing",
			})
			return
		}

		WriteJSON(w, http.StatusOK, StatusCheckResponse{
			Success:   true,
			Completed: true,
			Data:      result,
		})
	}
}

func historyListHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := OwnerID(r.Context())
		limit := queryInt(r, "limit", defaultHistoryLimit)
		if limit < 1 || limit > maxHistoryLimit {
			limit = defaultHistoryLimit
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		records, err := cfg.Store.ListByOwner(r.Context(), ownerID, limit, offset)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list history", "INTERNAL_ERROR")
			return
		}
		total, err := cfg.Store.CountByOwner(r.Context(), ownerID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count history", "INTERNAL_ERROR")
			return
		}

		results := make([]*analysis.Result, len(records))
		for i, rec := range records {
			results[i] = rec.Result()
		}
		WriteJSON(w, http.StatusOK, HistoryResponse{
			Records: results,
			Total:   total,
			Limit:   limit,
			Offset:  offset,
		})
	}
}

func historyGetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := ownedRecord(w, r, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, rec.Result())
	}
}

func historyDeleteHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "record id required", "BAD_REQUEST")
			return
		}

		err := cfg.Store.Delete(r.Context(), OwnerID(r.Context()), id)
		if err == analysis.ErrRecordNotFound {
			WriteError(w, http.StatusNotFound, "record not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to delete record", "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// replayHandler redirects to a short-lived presigned URL for the archived
// source video.
func replayHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := ownedRecord(w, r, cfg)
		if !ok {
			return
		}

		if cfg.Archive == nil || !cfg.Archive.Enabled() {
			WriteError(w, http.StatusNotFound, "video archive not configured", "ARCHIVE_DISABLED")
			return
		}
		if rec.ArchiveKey == nil {
			WriteError(w, http.StatusNotFound, "no archived video for this record", "NOT_FOUND")
			return
		}

		location, err := cfg.Archive.PresignGet(r.Context(), *rec.ArchiveKey, replayLinkTTL)
		if err != nil {
			cfg.Logger.Error("failed to presign replay link", "record_id", rec.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to create replay link", "INTERNAL_ERROR")
			return
		}

		http.Redirect(w, r, location, http.StatusFound)
	}
}

// ownedRecord loads the {id} record scoped to the authenticated owner,
// writing the error response itself when the record is unavailable.
func ownedRecord(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*analysis.AnalysisRecord, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "record id required", "BAD_REQUEST")
		return nil, false
	}

	rec, err := cfg.Store.Get(r.Context(), OwnerID(r.Context()), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load record", "INTERNAL_ERROR")
		return nil, false
	}
	if rec == nil {
		WriteError(w, http.StatusNotFound, "record not found", "NOT_FOUND")
		return nil, false
	}
	return rec, true
}

// contextWithTimeout caps a request-scoped operation without detaching it
// from the client: closing the connection still cancels the work.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
