package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sortline/internal/config"
	"sortline/internal/logging"
	"sortline/internal/metrics"
	"sortline/internal/store"
)

type fakeActivator struct {
	mu          sync.Mutex
	activations []string
	err         error
	delay       time.Duration
}

func (f *fakeActivator) Activate(ctx context.Context, category string, hold time.Duration) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.activations = append(f.activations, category)
	return nil
}

func (f *fakeActivator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activations)
}

type fakeStops struct {
	mu      sync.Mutex
	engaged bool
}

func (f *fakeStops) EmergencyStopActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engaged
}

func (f *fakeStops) set(engaged bool) {
	f.mu.Lock()
	f.engaged = engaged
	f.mu.Unlock()
}

// testConfigStore writes a fast-geometry config: metal sits 50ms from its
// diverter at the configured belt speed.
func testConfigStore(t *testing.T, extra string) *config.Store {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(model, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	body := `
version = "2.1"

[vision]
device = "/dev/video0"
frame_width = 64
frame_height = 48

[classifier]
model_path = "` + model + `"
class_names = ["metal", "plastic", "other"]
min_confidence = 0.5
unknown_category = "other"

[belt]
speed_mps = 1.0
activation_duration_ms = 5
max_diversion_delay_s = 30

[belt.distance_to_diverter_m]
metal = 0.05
plastic = 0.08

[sensors]
trigger_pin = 17

[[diverters]]
name = "metal"
type = "onoff"
pin = 23

[[diverters]]
name = "plastic"
type = "onoff"
pin = 24

[safety]
emergency_stop_pin = 27

[workflow]
tick_interval_ms = 1
max_consecutive_faults = 3
capture_retries = 2
config_check_interval_s = 3600
bin_check_interval_s = 3600
shutdown_drain_timeout_s = 1
` + extra
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgStore, err := config.NewStore(path, logging.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return cfgStore
}

func newTestScheduler(t *testing.T, cfgStore *config.Store, bank Activator, stops StopSource, db *store.Store, counters *metrics.Counters) *Scheduler {
	t.Helper()
	scheduler := NewScheduler(cfgStore, bank, stops, db, counters, nil, logging.NewNop())
	scheduler.poll = 5 * time.Millisecond
	return scheduler
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestComputeDelay(t *testing.T) {
	delay, err := ComputeDelay(0.5, 0.1)
	if err != nil {
		t.Fatalf("ComputeDelay: %v", err)
	}
	if delay != 5*time.Second {
		t.Fatalf("delay = %v, want 5s", delay)
	}
	if _, err := ComputeDelay(0.5, 0); err == nil {
		t.Fatal("expected an error for zero belt speed")
	}
}

func TestScheduleActivatesAfterDelay(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	bank := &fakeActivator{delay: time.Millisecond}
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer db.Close()
	counters := metrics.NewCounters(nil)
	scheduler := newTestScheduler(t, cfgStore, bank, nil, db, counters)

	ctx := context.Background()
	recordID, err := db.RecordClassification(ctx, store.Classification{ObjectID: 1, Category: "metal", Confidence: 0.9})
	if err != nil {
		t.Fatalf("RecordClassification: %v", err)
	}

	if err := scheduler.Schedule(Object{ID: 1, RecordID: recordID, Category: "metal", CapturedAt: time.Now()}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(scheduler.Active()) != 1 {
		t.Fatal("expected one active diversion")
	}

	waitFor(t, 2*time.Second, func() bool { return bank.count() == 1 })
	waitFor(t, time.Second, func() bool { return len(scheduler.Active()) == 0 })

	record, err := db.GetClassification(ctx, recordID)
	if err != nil {
		t.Fatalf("GetClassification: %v", err)
	}
	if record.Diverted == nil || !*record.Diverted {
		t.Fatalf("outcome not recorded as diverted: %+v", record)
	}
	if record.ActuationLatencyMS == nil || *record.ActuationLatencyMS <= 0 {
		t.Fatalf("actuation latency not recorded: %+v", record.ActuationLatencyMS)
	}
	if snap := counters.Snapshot(); snap.DiversionsOK != 1 {
		t.Fatalf("DiversionsOK = %d", snap.DiversionsOK)
	}
}

func TestScheduleNoDistanceCategory(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	bank := &fakeActivator{}
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer db.Close()
	scheduler := newTestScheduler(t, cfgStore, bank, nil, db, nil)

	ctx := context.Background()
	recordID, _ := db.RecordClassification(ctx, store.Classification{ObjectID: 1, Category: "other", Fallback: true})

	if err := scheduler.Schedule(Object{ID: 1, RecordID: recordID, Category: "other"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(scheduler.Active()) != 0 {
		t.Fatal("no-distance category must not enter the active map")
	}
	record, _ := db.GetClassification(ctx, recordID)
	if record.Diverted == nil || *record.Diverted {
		t.Fatalf("expected a not-diverted outcome: %+v", record)
	}
	if bank.count() != 0 {
		t.Fatal("no-distance category must not actuate")
	}
}

func TestScheduleRejectsExcessiveDelay(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	// Drop the ceiling below metal's 50ms travel time.
	if !cfgStore.Set("belt", "max_diversion_delay_s", 0.01, false) {
		t.Fatal("Set max_diversion_delay_s failed")
	}

	bank := &fakeActivator{}
	counters := metrics.NewCounters(nil)
	scheduler := newTestScheduler(t, cfgStore, bank, nil, nil, counters)

	if err := scheduler.Schedule(Object{ID: 1, Category: "metal"}); err == nil {
		t.Fatal("expected rejection for a delay above the ceiling")
	}
	if counters.Snapshot().DiversionsRejected != 1 {
		t.Fatal("rejection not counted")
	}
	if len(scheduler.Active()) != 0 {
		t.Fatal("rejected object must not enter the active map")
	}
}

func TestPerCategorySingleFlight(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	bank := &fakeActivator{}
	counters := metrics.NewCounters(nil)
	scheduler := newTestScheduler(t, cfgStore, bank, nil, nil, counters)

	if err := scheduler.Schedule(Object{ID: 1, Category: "metal"}); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	// Immediate second object for the same category is refused.
	if err := scheduler.Schedule(Object{ID: 2, Category: "metal"}); err != nil {
		t.Fatalf("second Schedule returned hard error: %v", err)
	}
	if counters.Snapshot().DiversionsRejected != 1 {
		t.Fatal("single-flight rejection not counted")
	}
	// A different category schedules fine.
	if err := scheduler.Schedule(Object{ID: 3, Category: "plastic"}); err != nil {
		t.Fatalf("plastic Schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return bank.count() == 2 })

	// After the first completes, metal accepts again.
	waitFor(t, time.Second, func() bool { return len(scheduler.Active()) == 0 })
	if err := scheduler.Schedule(Object{ID: 4, Category: "metal"}); err != nil {
		t.Fatalf("metal after completion: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return bank.count() == 3 })
}

func TestEmergencyStopAbortsPendingDiversion(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	bank := &fakeActivator{}
	stops := &fakeStops{}
	counters := metrics.NewCounters(nil)
	scheduler := newTestScheduler(t, cfgStore, bank, stops, nil, counters)

	if err := scheduler.Schedule(Object{ID: 1, Category: "metal"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	stops.set(true)

	waitFor(t, time.Second, func() bool { return len(scheduler.Active()) == 0 })
	if bank.count() != 0 {
		t.Fatal("emergency stop must prevent actuation")
	}
	if counters.Snapshot().DiversionsFailed != 1 {
		t.Fatal("aborted diversion not counted as failed")
	}
}

func TestShutdownDrainsPendingTasks(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	bank := &fakeActivator{}
	scheduler := newTestScheduler(t, cfgStore, bank, nil, nil, nil)

	if err := scheduler.Schedule(Object{ID: 1, Category: "metal"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	scheduler.Shutdown(time.Second)

	if len(scheduler.Active()) != 0 {
		t.Fatal("active map not empty after shutdown")
	}
	// New work is refused after shutdown.
	if err := scheduler.Schedule(Object{ID: 2, Category: "plastic"}); err != nil {
		t.Fatalf("Schedule after shutdown returned error: %v", err)
	}
	if len(scheduler.Active()) != 0 {
		t.Fatal("scheduler accepted work after shutdown")
	}
}

func TestActivationFailureRecordsOutcome(t *testing.T) {
	cfgStore := testConfigStore(t, "")
	bank := &fakeActivator{err: errors.New("paddle jammed")}
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer db.Close()
	counters := metrics.NewCounters(nil)
	scheduler := newTestScheduler(t, cfgStore, bank, nil, db, counters)

	ctx := context.Background()
	recordID, _ := db.RecordClassification(ctx, store.Classification{ObjectID: 1, Category: "metal", Confidence: 0.9})

	if err := scheduler.Schedule(Object{ID: 1, RecordID: recordID, Category: "metal"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return counters.Snapshot().DiversionsFailed == 1 })

	record, _ := db.GetClassification(ctx, recordID)
	if record.Diverted == nil || *record.Diverted {
		t.Fatalf("expected failed outcome: %+v", record)
	}
	if record.DiversionError != "paddle jammed" {
		t.Fatalf("DiversionError = %q", record.DiversionError)
	}
}
