package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiselabs/poise-gateway/internal/metrics"
)

// Reconciler answers one question after an ambiguous failure: did a
// recent attempt for this owner and file already finish and leave a
// record behind? It only ever reads; the orchestrator is the sole
// writer. A hit means the analysis completed even though the caller
// never saw the response, so the persisted result can be served as if
// the attempt had succeeded.
//
// The match key is (owner, source file name) inside the recovery
// window. Two submissions of the same file inside one window are
// indistinguishable and resolve to the newest record; the client job
// id travels to the backend as a passthrough header but never comes
// back in any response, so nothing stronger is available to match on.
type Reconciler struct {
	store  Store
	window time.Duration
	logger *slog.Logger
}

func NewReconciler(store Store, window time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{store: store, window: window, logger: logger}
}

// Check looks up the most recent successful record for the owner and
// file inside the recovery window. It reports found=false when no such
// record exists; err is non-nil only when the lookup itself failed.
func (r *Reconciler) Check(ctx context.Context, ownerID, sourceFileName string) (*Result, bool, error) {
	rec, err := r.store.MostRecentMatch(ctx, RecoveryQuery{
		OwnerID:        ownerID,
		SourceFileName: sourceFileName,
		Window:         r.window,
		RequireSuccess: true,
	})
	if err != nil {
		metrics.RecordRecoveryCheck("error")
		return nil, false, fmt.Errorf("recovery lookup: %w", err)
	}
	if rec == nil {
		metrics.RecordRecoveryCheck("miss")
		return nil, false, nil
	}

	metrics.RecordRecoveryCheck("hit")
	r.logger.Info("recovered persisted analysis record",
		"record_id", rec.ID,
		"owner_id", ownerID,
		"filename", sourceFileName,
		"record_age", time.Since(rec.CreatedAt).Round(time.Second).String(),
	)
	return rec.Result(), true, nil
}
