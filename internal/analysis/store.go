package analysis

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by owner-scoped lookups that match nothing.
var ErrRecordNotFound = errors.New("analysis record not found")

// Store is the durable interface over analysis records. The orchestrator is
// the only writer; the reconciler and the read endpoints only query. All
// cross-component coordination happens through these reads and writes.
type Store interface {
	Insert(ctx context.Context, record *AnalysisRecord) error
	MostRecentMatch(ctx context.Context, query RecoveryQuery) (*AnalysisRecord, error)
	Get(ctx context.Context, ownerID, id string) (*AnalysisRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*AnalysisRecord, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// timeFormat is RFC 3339 with a fixed-width nanosecond fraction so stored
// timestamps stay lexicographically sortable; variable-width fractions
// would break ORDER BY created_at.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = `id, owner_id, source_file_name, display_name,
	gesture_success, smile_success,
	self_touch_score, hands_on_table_score, hidden_hands_score,
	gestures_on_table_score, other_gestures_score,
	smile_score, smile_interpretation,
	gesture_frames, smile_frames, total_predictions,
	video_duration_seconds, processing_seconds,
	gesture_error, smile_error,
	archive_bucket, archive_key, created_at`

type SQLiteStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.OwnerID, rec.SourceFileName, rec.DisplayName,
		boolToInt(rec.GestureSuccess), boolToInt(rec.SmileSuccess),
		rec.SelfTouch, rec.HandsOnTable, rec.HiddenHands,
		rec.GesturesOnTable, rec.OtherGestures,
		rec.SmileScore, rec.SmileInterpretation,
		rec.GestureFrames, rec.SmileFrames, rec.TotalPredictions,
		rec.VideoDuration, rec.ProcessingSeconds,
		rec.GestureError, rec.SmileError,
		rec.ArchiveBucket, rec.ArchiveKey,
		rec.CreatedAt.UTC().Format(timeFormat))
	return err
}

// MostRecentMatch returns the newest record satisfying the recovery query,
// or nil when none qualifies. Ties between identical filenames resolve to
// the most recently created record.
func (s *SQLiteStore) MostRecentMatch(ctx context.Context, q RecoveryQuery) (*AnalysisRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM analysis_records
		WHERE owner_id = ? AND source_file_name = ?`
	args := []any{q.OwnerID, q.SourceFileName}

	if q.Window > 0 {
		cutoff := time.Now().Add(-q.Window)
		query += ` AND created_at >= ?`
		args = append(args, cutoff.UTC().Format(timeFormat))
	}
	if q.RequireSuccess {
		query += ` AND gesture_success = 1`
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	return scanRecord(s.db.QueryRowContext(ctx, query, args...))
}

// Get returns one record, scoped to its owner; nil when no such record.
func (s *SQLiteStore) Get(ctx context.Context, ownerID, id string) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM analysis_records WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	return scanRecord(row)
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM analysis_records
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_records WHERE owner_id = ?`, ownerID).Scan(&count)
	return count, err
}

// Delete removes one record, scoped to its owner so a caller can never
// delete another owner's row by guessing ids.
func (s *SQLiteStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analysis_records WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var gestureSuccess, smileSuccess int
	var createdAt string

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.SourceFileName, &rec.DisplayName,
		&gestureSuccess, &smileSuccess,
		&rec.SelfTouch, &rec.HandsOnTable, &rec.HiddenHands,
		&rec.GesturesOnTable, &rec.OtherGestures,
		&rec.SmileScore, &rec.SmileInterpretation,
		&rec.GestureFrames, &rec.SmileFrames, &rec.TotalPredictions,
		&rec.VideoDuration, &rec.ProcessingSeconds,
		&rec.GestureError, &rec.SmileError,
		&rec.ArchiveBucket, &rec.ArchiveKey, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.GestureSuccess = gestureSuccess == 1
	rec.SmileSuccess = smileSuccess == 1
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
