package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiselabs/poise-gateway/internal/db"
)

func setupTestStore(t *testing.T) (*db.DB, *SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database, NewStore(database.Conn())
}

func testRecord(id, owner, file string, createdAt time.Time) *AnalysisRecord {
	return &AnalysisRecord{
		ID:             id,
		OwnerID:        owner,
		SourceFileName: file,
		DisplayName:    file,
		GestureSuccess: true,
		SmileSuccess:   true,
		SelfTouch:      ptr(0.12),
		HandsOnTable:   ptr(0.55),
		SmileScore:     ptr(71.5),
		CreatedAt:      createdAt,
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := testRecord("job-1", "owner-1", "interview.mp4", now)
	rec.HiddenHands = ptr(0.03)
	rec.GesturesOnTable = ptr(0.2)
	rec.OtherGestures = ptr(0.1)
	rec.SmileInterpretation = ptr("Positive and engaged")
	rec.GestureFrames = ptr(int64(862))
	rec.SmileFrames = ptr(int64(431))
	rec.TotalPredictions = ptr(int64(862))
	rec.VideoDuration = ptr(28.7)
	rec.ProcessingSeconds = ptr(412.3)
	rec.ArchiveBucket = ptr("poise-videos")
	rec.ArchiveKey = ptr("owner-1/job-1/interview.mp4")

	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.Get(ctx, "owner-1", "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for existing record")
	}

	if got.SourceFileName != "interview.mp4" {
		t.Errorf("SourceFileName = %q, want %q", got.SourceFileName, "interview.mp4")
	}
	if !got.GestureSuccess || !got.SmileSuccess {
		t.Errorf("success flags = (%v, %v), want (true, true)", got.GestureSuccess, got.SmileSuccess)
	}
	if got.SelfTouch == nil || *got.SelfTouch != 0.12 {
		t.Errorf("SelfTouch = %v, want 0.12", got.SelfTouch)
	}
	if got.SmileInterpretation == nil || *got.SmileInterpretation != "Positive and engaged" {
		t.Errorf("SmileInterpretation = %v, want Positive and engaged", got.SmileInterpretation)
	}
	if got.GestureFrames == nil || *got.GestureFrames != 862 {
		t.Errorf("GestureFrames = %v, want 862", got.GestureFrames)
	}
	if got.ArchiveKey == nil || *got.ArchiveKey != "owner-1/job-1/interview.mp4" {
		t.Errorf("ArchiveKey = %v, want owner-1/job-1/interview.mp4", got.ArchiveKey)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestStore_Get_NullableFieldsStayNil(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	rec := &AnalysisRecord{
		ID:             "job-partial",
		OwnerID:        "owner-1",
		SourceFileName: "clip.mp4",
		DisplayName:    "clip.mp4",
		GestureSuccess: true,
		SmileSuccess:   false,
		SelfTouch:      ptr(0.4),
		SmileError:     ptr("smile model not loaded"),
		CreatedAt:      time.Now(),
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.Get(ctx, "owner-1", "job-partial")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SmileScore != nil {
		t.Errorf("SmileScore = %v, want nil", *got.SmileScore)
	}
	if got.SmileSuccess {
		t.Error("SmileSuccess = true, want false")
	}
	if got.SmileError == nil || *got.SmileError != "smile model not loaded" {
		t.Errorf("SmileError = %v, want smile model not loaded", got.SmileError)
	}
	if got.ArchiveBucket != nil {
		t.Errorf("ArchiveBucket = %v, want nil", *got.ArchiveBucket)
	}
}

func TestStore_Get_WrongOwner(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, testRecord("job-1", "owner-1", "a.mp4", time.Now())); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.Get(ctx, "owner-2", "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Error("Get() returned another owner's record")
	}
}

func TestStore_MostRecentMatch_PicksNewest(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	// Insert out of order to prove ordering comes from created_at, not
	// insertion sequence.
	if err := store.Insert(ctx, testRecord("job-new", "owner-1", "a.mp4", now.Add(-1*time.Minute))); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Insert(ctx, testRecord("job-old", "owner-1", "a.mp4", now.Add(-10*time.Minute))); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.MostRecentMatch(ctx, RecoveryQuery{
		OwnerID:        "owner-1",
		SourceFileName: "a.mp4",
		Window:         time.Hour,
		RequireSuccess: true,
	})
	if err != nil {
		t.Fatalf("MostRecentMatch() error = %v", err)
	}
	if got == nil {
		t.Fatal("MostRecentMatch() = nil, want record")
	}
	if got.ID != "job-new" {
		t.Errorf("MostRecentMatch() ID = %q, want job-new", got.ID)
	}
}

func TestStore_MostRecentMatch_WindowExcludesOldRecords(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	// Two minutes old: inside a 45-minute window.
	fresh := testRecord("job-fresh", "owner-1", "recent.mp4", time.Now().Add(-2*time.Minute))
	// Two hours old: outside it.
	stale := testRecord("job-stale", "owner-1", "stale.mp4", time.Now().Add(-2*time.Hour))
	for _, rec := range []*AnalysisRecord{fresh, stale} {
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got, err := store.MostRecentMatch(ctx, RecoveryQuery{
		OwnerID:        "owner-1",
		SourceFileName: "recent.mp4",
		Window:         45 * time.Minute,
		RequireSuccess: true,
	})
	if err != nil {
		t.Fatalf("MostRecentMatch() error = %v", err)
	}
	if got == nil || got.ID != "job-fresh" {
		t.Errorf("MostRecentMatch() = %v, want job-fresh", got)
	}

	got, err = store.MostRecentMatch(ctx, RecoveryQuery{
		OwnerID:        "owner-1",
		SourceFileName: "stale.mp4",
		Window:         45 * time.Minute,
		RequireSuccess: true,
	})
	if err != nil {
		t.Fatalf("MostRecentMatch() error = %v", err)
	}
	if got != nil {
		t.Errorf("MostRecentMatch() = %v, want nil for record outside window", got.ID)
	}
}

func TestStore_MostRecentMatch_RequireSuccess(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	failed := testRecord("job-failed", "owner-1", "a.mp4", time.Now())
	failed.GestureSuccess = false
	if err := store.Insert(ctx, failed); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.MostRecentMatch(ctx, RecoveryQuery{
		OwnerID:        "owner-1",
		SourceFileName: "a.mp4",
		Window:         time.Hour,
		RequireSuccess: true,
	})
	if err != nil {
		t.Fatalf("MostRecentMatch() error = %v", err)
	}
	if got != nil {
		t.Errorf("MostRecentMatch() = %v, want nil when success required", got.ID)
	}

	got, err = store.MostRecentMatch(ctx, RecoveryQuery{
		OwnerID:        "owner-1",
		SourceFileName: "a.mp4",
		Window:         time.Hour,
	})
	if err != nil {
		t.Fatalf("MostRecentMatch() error = %v", err)
	}
	if got == nil {
		t.Error("MostRecentMatch() = nil, want failed record when success not required")
	}
}

func TestStore_MostRecentMatch_ScopedToOwnerAndFile(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, testRecord("job-1", "owner-1", "a.mp4", time.Now())); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	cases := []struct {
		name  string
		owner string
		file  string
	}{
		{"different owner", "owner-2", "a.mp4"},
		{"different file", "owner-1", "b.mp4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.MostRecentMatch(ctx, RecoveryQuery{
				OwnerID:        tc.owner,
				SourceFileName: tc.file,
				Window:         time.Hour,
			})
			if err != nil {
				t.Fatalf("MostRecentMatch() error = %v", err)
			}
			if got != nil {
				t.Errorf("MostRecentMatch() = %v, want nil", got.ID)
			}
		})
	}
}

func TestStore_ListByOwner(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		rec := testRecord(id, "owner-1", id+".mp4", now.Add(-time.Duration(i)*time.Minute))
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := store.Insert(ctx, testRecord("job-other", "owner-2", "x.mp4", now)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	records, err := store.ListByOwner(ctx, "owner-1", 10, 0)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ListByOwner() returned %d records, want 3", len(records))
	}
	// Newest first.
	if records[0].ID != "job-a" || records[2].ID != "job-c" {
		t.Errorf("ListByOwner() order = [%s %s %s], want newest first",
			records[0].ID, records[1].ID, records[2].ID)
	}

	page, err := store.ListByOwner(ctx, "owner-1", 1, 1)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "job-b" {
		t.Errorf("ListByOwner(limit=1, offset=1) = %v, want [job-b]", page)
	}
}

func TestStore_CountByOwner(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"j1", "j2"} {
		if err := store.Insert(ctx, testRecord(id, "owner-1", id+".mp4", time.Now())); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	count, err := store.CountByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("CountByOwner() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountByOwner() = %d, want 2", count)
	}

	count, err = store.CountByOwner(ctx, "owner-none")
	if err != nil {
		t.Fatalf("CountByOwner() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountByOwner() = %d, want 0", count)
	}
}

func TestStore_Delete_OwnerScoped(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, testRecord("job-1", "owner-1", "a.mp4", time.Now())); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := store.Delete(ctx, "owner-2", "job-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Delete() with wrong owner error = %v, want ErrRecordNotFound", err)
	}

	if err := store.Delete(ctx, "owner-1", "job-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if err := store.Delete(ctx, "owner-1", "job-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("second Delete() error = %v, want ErrRecordNotFound", err)
	}
}
