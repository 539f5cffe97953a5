package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sortline/internal/config"
	"sortline/internal/store"
)

func classification(objectID uint64, category string, confidence float64) store.Classification {
	return store.Classification{ObjectID: objectID, Category: category, Confidence: confidence}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenPath(filepath.Join(t.TempDir(), "sortline.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenDisabledPersistence(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.Enabled = false

	s, err := store.Open(&cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil store with persistence disabled")
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var s *store.Store
	ctx := context.Background()

	if id, err := s.RecordClassification(ctx, classification(1, "metal", 0.9)); err != nil || id != 0 {
		t.Fatalf("nil RecordClassification = %d, %v", id, err)
	}
	if err := s.UpdateDiversionOutcome(ctx, 1, true, "", 0); err != nil {
		t.Fatalf("nil UpdateDiversionOutcome: %v", err)
	}
	if err := s.LogEvent(ctx, "startup", "", "info", "ok"); err != nil {
		t.Fatalf("nil LogEvent: %v", err)
	}
	if records, err := s.RecentClassifications(ctx, 10); err != nil || records != nil {
		t.Fatalf("nil RecentClassifications = %v, %v", records, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestRecordAndFetchClassification(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.RecordClassification(ctx, store.Classification{
		ObjectID:         42,
		Category:         "metal",
		CategoryIndex:    2,
		Confidence:       0.93,
		ProcessingTimeMS: 48.5,
	})
	if err != nil {
		t.Fatalf("RecordClassification: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a row id")
	}

	record, err := s.GetClassification(ctx, id)
	if err != nil {
		t.Fatalf("GetClassification: %v", err)
	}
	if record == nil || record.ObjectID != 42 || record.Category != "metal" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.CategoryIndex != 2 || record.ProcessingTimeMS != 48.5 {
		t.Fatalf("decision timing fields lost: %+v", record)
	}
	if record.Diverted != nil {
		t.Fatal("fresh record should have no diversion outcome")
	}
	if record.ActuationLatencyMS != nil {
		t.Fatal("fresh record should have no actuation latency")
	}
	if record.DetectedAt.IsZero() {
		t.Fatal("expected a parsed detection timestamp")
	}
}

func TestUpdateDiversionOutcomeAtMostOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.RecordClassification(ctx, classification(7, "plastic", 0.8))
	if err != nil {
		t.Fatalf("RecordClassification: %v", err)
	}

	if err := s.UpdateDiversionOutcome(ctx, id, false, "diverter jammed", 0); err != nil {
		t.Fatalf("first UpdateDiversionOutcome: %v", err)
	}
	// A later success report must not overwrite the recorded failure.
	if err := s.UpdateDiversionOutcome(ctx, id, true, "", 4*time.Millisecond); err != nil {
		t.Fatalf("second UpdateDiversionOutcome: %v", err)
	}

	record, err := s.GetClassification(ctx, id)
	if err != nil {
		t.Fatalf("GetClassification: %v", err)
	}
	if record.Diverted == nil || *record.Diverted {
		t.Fatalf("outcome overwritten: %+v", record)
	}
	if record.DiversionError != "diverter jammed" {
		t.Fatalf("DiversionError = %q", record.DiversionError)
	}
	if record.DivertedAt == nil || record.DivertedAt.IsZero() {
		t.Fatal("expected a diversion timestamp")
	}
	if record.ActuationLatencyMS != nil {
		t.Fatalf("latency from the suppressed update leaked through: %+v", record)
	}
}

func TestActuationLatencyPersistedWithOutcome(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.RecordClassification(ctx, classification(9, "metal", 0.91))
	if err != nil {
		t.Fatalf("RecordClassification: %v", err)
	}
	if err := s.UpdateDiversionOutcome(ctx, id, true, "", 2500*time.Microsecond); err != nil {
		t.Fatalf("UpdateDiversionOutcome: %v", err)
	}

	record, err := s.GetClassification(ctx, id)
	if err != nil {
		t.Fatalf("GetClassification: %v", err)
	}
	if record.ActuationLatencyMS == nil || *record.ActuationLatencyMS != 2.5 {
		t.Fatalf("unexpected actuation latency: %+v", record.ActuationLatencyMS)
	}
}

func TestRecentClassificationsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		if _, err := s.RecordClassification(ctx, classification(i, "metal", 0.9)); err != nil {
			t.Fatalf("RecordClassification %d: %v", i, err)
		}
	}

	records, err := s.RecentClassifications(ctx, 3)
	if err != nil {
		t.Fatalf("RecentClassifications: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ObjectID != 5 || records[2].ObjectID != 3 {
		t.Fatalf("unexpected ordering: %+v", records)
	}
}

func TestCategoryTotals(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, category := range []string{"metal", "metal", "plastic"} {
		if _, err := s.RecordClassification(ctx, classification(1, category, 0.9)); err != nil {
			t.Fatalf("RecordClassification: %v", err)
		}
	}

	totals, err := s.CategoryTotals(ctx)
	if err != nil {
		t.Fatalf("CategoryTotals: %v", err)
	}
	if totals["metal"] != 2 || totals["plastic"] != 1 {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestEvents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.LogEvent(ctx, "emergency_stop", "security", "critical", "stop engaged"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := s.LogEvent(ctx, "recovered", "recovery", "info", "camera restarted"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	events, err := s.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "recovered" || events[1].Component != "security" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sortline.db")
	first, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("first OpenPath: %v", err)
	}
	if _, err := first.RecordClassification(context.Background(), classification(1, "metal", 0.9)); err != nil {
		t.Fatalf("RecordClassification: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	records, err := second.RecentClassifications(context.Background(), 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("data lost across reopen: %v, %v", records, err)
	}
}
