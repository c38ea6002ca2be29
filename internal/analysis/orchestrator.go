package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiselabs/poise-gateway/internal/backend"
	"github.com/poiselabs/poise-gateway/internal/config"
	"github.com/poiselabs/poise-gateway/internal/logging"
	"github.com/poiselabs/poise-gateway/internal/metrics"
)

// Deadlines for the side effects that follow a successful analysis.
// Decoupled from the attempt deadline so a submission that spent nearly
// its whole budget in the backend still gets a full write window.
const (
	persistTimeout = 10 * time.Second
	archiveTimeout = 2 * time.Minute
)

// OutcomeStatus is the terminal state of one submission attempt.
type OutcomeStatus int

const (
	// OutcomeCompleted means the backend answered and the result is fresh.
	OutcomeCompleted OutcomeStatus = iota
	// OutcomeRecovered means the attempt timed out but a persisted record
	// inside the recovery window covered it.
	OutcomeRecovered
	// OutcomeProcessing means the attempt timed out with no record found;
	// the job may still finish server-side, so the caller should poll.
	OutcomeProcessing
	// OutcomeRejected means the backend refused the job. Resubmitting the
	// same payload will fail the same way.
	OutcomeRejected
	// OutcomeUnavailable means the backend could not be reached at all.
	OutcomeUnavailable
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRecovered:
		return "recovered"
	case OutcomeProcessing:
		return "processing"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Outcome is the result of one submission attempt. Result is set for
// Completed and Recovered; Err for Rejected and Unavailable; Processing
// carries neither.
type Outcome struct {
	Status OutcomeStatus
	Result *Result
	Err    error
}

// BackendClient is the slice of the analysis service the orchestrator uses.
type BackendClient interface {
	AnalyzeAll(ctx context.Context, req backend.AnalyzeRequest) (*backend.AnalyzeAllResponse, error)
}

// Archiver stores raw submission payloads for later replay.
type Archiver interface {
	Enabled() bool
	Bucket() string
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Submission is one validated video analysis request.
type Submission struct {
	// JobID is minted client-side before any network call is made.
	JobID          string
	OwnerID        string
	SourceFileName string
	DisplayName    string
	ContentType    string
	Size           int64
	// Payload must be re-readable: it is streamed to the backend first
	// and rewound for archival afterwards.
	Payload io.ReadSeeker
}

// Orchestrator drives one analysis attempt end-to-end: submit the video,
// translate the response or failure into a terminal outcome, and on
// success archive the payload and persist the record. Persistence is best
// effort; a completed analysis is returned to the caller even when the
// write fails.
//
// Callers pass a context carrying the submission deadline. The attempt is
// bounded only by that deadline; a slot that never frees up or a backend
// that never answers both resolve when it expires.
type Orchestrator struct {
	backend    BackendClient
	store      Store
	reconciler *Reconciler
	archive    Archiver
	timeouts   config.Timeouts
	logger     *slog.Logger

	// slots caps concurrent backend submissions. The analysis service
	// runs heavyweight models; flooding it helps nobody.
	slots chan struct{}
}

func NewOrchestrator(bc BackendClient, store Store, reconciler *Reconciler, archive Archiver, timeouts config.Timeouts, maxConcurrent int, logger *slog.Logger) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		backend:    bc,
		store:      store,
		reconciler: reconciler,
		archive:    archive,
		timeouts:   timeouts,
		logger:     logger,
		slots:      make(chan struct{}, maxConcurrent),
	}
}

// Execute runs one submission attempt and always returns a terminal
// outcome; it never panics through and never returns early with the job
// fate undecided.
func (o *Orchestrator) Execute(ctx context.Context, sub Submission) Outcome {
	logger := logging.WithJobID(o.logger, sub.JobID)
	start := time.Now()

	metrics.SubmissionsInFlight.Inc()
	defer metrics.SubmissionsInFlight.Dec()

	select {
	case o.slots <- struct{}{}:
		defer func() { <-o.slots }()
	case <-ctx.Done():
		// The backend was never called, so there is nothing to recover;
		// this is plain unavailability, not an ambiguous timeout.
		logger.Warn("submission expired waiting for an analysis slot", "error", ctx.Err())
		metrics.RecordSubmission(OutcomeUnavailable.String(), time.Since(start))
		return Outcome{
			Status: OutcomeUnavailable,
			Err:    fmt.Errorf("all analysis slots busy: %w", ctx.Err()),
		}
	}

	logger.Info("starting analysis attempt",
		"owner_id", sub.OwnerID,
		"filename", sub.SourceFileName,
		"bytes", sub.Size,
	)

	resp, err := o.backend.AnalyzeAll(ctx, backend.AnalyzeRequest{
		JobID:       sub.JobID,
		FileName:    sub.SourceFileName,
		ContentType: sub.ContentType,
		Size:        sub.Size,
		Payload:     sub.Payload,
	})
	if err != nil {
		out := o.resolveFailure(ctx, sub, err, logger)
		metrics.RecordSubmission(out.Status.String(), time.Since(start))
		return out
	}

	if bothModelsFailed(resp) {
		// A 200 envelope with two failed halves carries nothing worth
		// persisting; report it like a rejection.
		msg := combinedModelError(resp)
		logger.Warn("analysis finished with both models failed", "detail", msg)
		metrics.RecordSubmission(OutcomeRejected.String(), time.Since(start))
		return Outcome{
			Status: OutcomeRejected,
			Err:    &backend.RequestError{StatusCode: http.StatusBadGateway, Body: msg},
		}
	}

	rec := recordFromResponse(sub, resp, time.Now().UTC())
	o.archivePayload(ctx, sub, rec, logger)
	o.persistRecord(ctx, rec, logger)

	logger.Info("analysis completed",
		"gesture_success", rec.GestureSuccess,
		"smile_success", rec.SmileSuccess,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	metrics.RecordSubmission(OutcomeCompleted.String(), time.Since(start))
	return Outcome{Status: OutcomeCompleted, Result: rec.Result()}
}

// resolveFailure maps a failed backend call to its terminal outcome. A
// definitive rejection or connection failure is reported as-is; the
// ambiguous classes — header timeout, attempt deadline — get exactly one
// recovery check before being reported as still processing.
func (o *Orchestrator) resolveFailure(ctx context.Context, sub Submission, err error, logger *slog.Logger) Outcome {
	var reqErr *backend.RequestError
	if errors.As(err, &reqErr) {
		logger.Warn("backend rejected submission",
			"status", reqErr.StatusCode, "detail", reqErr.Message())
		return Outcome{Status: OutcomeRejected, Err: reqErr}
	}

	if errors.Is(err, backend.ErrUnavailable) {
		logger.Error("backend unreachable", "error", err)
		return Outcome{Status: OutcomeUnavailable, Err: err}
	}

	if backend.IsAmbiguousTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("attempt timed out with job fate unknown",
			"fault", backend.Classify(err).String(), "error", err)

		// The attempt context is already dead; the lookup gets its own
		// short deadline.
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeouts.StatusTimeout)
		defer cancel()

		result, found, rerr := o.reconciler.Check(checkCtx, sub.OwnerID, sub.SourceFileName)
		if rerr != nil {
			// A failed lookup cannot make a timed-out attempt worse;
			// report processing and let the poller retry the lookup.
			logger.Error("recovery check failed", "error", rerr)
			return Outcome{Status: OutcomeProcessing}
		}
		if found {
			return Outcome{Status: OutcomeRecovered, Result: result}
		}
		return Outcome{Status: OutcomeProcessing}
	}

	// Anything else — a malformed response body, a cancelled caller — has
	// no recovery path; surface it as unavailability so the caller retries.
	logger.Error("analysis attempt failed", "error", err)
	return Outcome{Status: OutcomeUnavailable, Err: err}
}

// archivePayload uploads the raw video when archival is configured. Best
// effort: the analysis result stands whether or not the object landed.
func (o *Orchestrator) archivePayload(ctx context.Context, sub Submission, rec *AnalysisRecord, logger *slog.Logger) {
	if o.archive == nil || !o.archive.Enabled() {
		return
	}
	if _, err := sub.Payload.Seek(0, io.SeekStart); err != nil {
		logger.Warn("rewind payload for archive", "error", err)
		metrics.ArchiveUploads.WithLabelValues("error").Inc()
		return
	}

	key := archiveKey(sub)
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if err := o.archive.Put(actx, key, sub.Payload, sub.Size, sub.ContentType); err != nil {
		logger.Warn("archive upload failed", "key", key, "error", err)
		metrics.ArchiveUploads.WithLabelValues("error").Inc()
		return
	}

	bucket := o.archive.Bucket()
	rec.ArchiveBucket = &bucket
	rec.ArchiveKey = &key
	metrics.ArchiveUploads.WithLabelValues("ok").Inc()
}

// archiveKey lays objects out as owner/job/filename: one prefix lists an
// owner's uploads, and the job id keeps resubmissions of the same file
// from colliding.
func archiveKey(sub Submission) string {
	return sub.OwnerID + "/" + sub.JobID + "/" + SanitizeFileName(sub.SourceFileName, "video")
}

// persistRecord writes the record, best effort. The caller gets the result
// either way; a lost row costs the recovery and history features for this
// job, not the response.
func (o *Orchestrator) persistRecord(ctx context.Context, rec *AnalysisRecord, logger *slog.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.store.Insert(wctx, rec); err != nil {
		logger.Error("failed to persist analysis record", "record_id", rec.ID, "error", err)
		metrics.PersistFailures.Inc()
	}
}
