package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sortline/internal/faults"
	"sortline/internal/logging"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{faults.Hardware(faults.SeverityHigh, "vision", "camera device lost"), KindCamera},
		{faults.Classifier(faults.SeverityHigh, "model runner failed"), KindClassifier},
		// The pipeline wraps detector errors with frame wording; the
		// classifier category must win over the camera keywords.
		{faults.Wrap(fmt.Errorf("classify frame: model runner exited"), faults.CategoryClassifier, faults.SeverityHigh, "classifier"), KindClassifier},
		{faults.Security(faults.SeverityHigh, "api-server", "authorization timeout"), KindHardware},
		{faults.Configuration("vision", "vision.device must be set"), KindHardware},
		{faults.Hardware(faults.SeverityMedium, "api", "connection refused"), KindNetwork},
		{faults.Hardware(faults.SeverityHigh, "host", "memory allocation failed"), KindMemory},
		{faults.Hardware(faults.SeverityHigh, "host", "thermal limit reached"), KindThermal},
		{faults.Hardware(faults.SeverityHigh, "metal", "diverter jammed"), KindHardware},
		{errors.New("plain failure"), KindHardware},
		{errors.New("frame capture returned no data"), KindCamera},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func newEngine() (*Engine, *time.Time) {
	engine := NewEngine(logging.NewNop(), nil)
	now := time.Now()
	engine.now = func() time.Time { return now }
	return engine, &now
}

func TestHandleRunsStrategy(t *testing.T) {
	engine, _ := newEngine()

	var calls int
	engine.Register(KindCamera, func(ctx context.Context) error {
		calls++
		return nil
	})

	recovered := engine.Handle(context.Background(), errors.New("camera offline"))
	if !recovered || calls != 1 {
		t.Fatalf("recovered=%v calls=%d", recovered, calls)
	}

	history := engine.History(10)
	if len(history) != 1 || !history[0].Recovered || history[0].Kind != KindCamera {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].ID == "" {
		t.Fatal("attempt should carry an id")
	}
}

func TestHandleUnregisteredKind(t *testing.T) {
	engine, _ := newEngine()
	if engine.Handle(context.Background(), errors.New("diverter jammed")) {
		t.Fatal("recovery without a strategy cannot succeed")
	}
	history := engine.History(1)
	if len(history) != 1 || history[0].Recovered {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCooldownBlocksImmediateRetry(t *testing.T) {
	engine, now := newEngine()

	engine.Register(KindCamera, func(ctx context.Context) error {
		return fmt.Errorf("still broken")
	})

	if engine.Handle(context.Background(), errors.New("camera offline")) {
		t.Fatal("failing strategy reported success")
	}
	// Within the cooldown window the gate is closed.
	if engine.CanAttempt(KindCamera) {
		t.Fatal("expected cooldown to block the next attempt")
	}
	if engine.Handle(context.Background(), errors.New("camera offline")) {
		t.Fatal("suppressed attempt reported success")
	}

	*now = now.Add(attemptCooldown + time.Second)
	if !engine.CanAttempt(KindCamera) {
		t.Fatal("expected attempt after cooldown elapsed")
	}
}

func TestAttemptBudgetExhaustsAndResets(t *testing.T) {
	engine, now := newEngine()

	engine.Register(KindCamera, func(ctx context.Context) error {
		return fmt.Errorf("still broken")
	})

	for i := 0; i < maxAttempts; i++ {
		if engine.Handle(context.Background(), errors.New("camera offline")) {
			t.Fatalf("attempt %d unexpectedly succeeded", i)
		}
		*now = now.Add(attemptCooldown + time.Second)
	}
	// Budget exhausted even though the cooldown elapsed.
	if engine.CanAttempt(KindCamera) {
		t.Fatal("expected the attempt budget to be exhausted")
	}

	// A long quiet period resets the budget.
	*now = now.Add(attemptReset)
	if !engine.CanAttempt(KindCamera) {
		t.Fatal("expected the budget to reset after the idle period")
	}
}

func TestSuccessResetsBudget(t *testing.T) {
	engine, now := newEngine()

	fail := true
	engine.Register(KindCamera, func(ctx context.Context) error {
		if fail {
			return fmt.Errorf("still broken")
		}
		return nil
	})

	if engine.Handle(context.Background(), errors.New("camera offline")) {
		t.Fatal("first attempt should fail")
	}
	*now = now.Add(attemptCooldown + time.Second)
	fail = false
	if !engine.Handle(context.Background(), errors.New("camera offline")) {
		t.Fatal("second attempt should succeed")
	}
	// The gate is fully open again after a success.
	if !engine.CanAttempt(KindCamera) {
		t.Fatal("expected a clean slate after success")
	}
}

func TestHistoryBounded(t *testing.T) {
	engine, now := newEngine()
	engine.Register(KindHardware, func(ctx context.Context) error { return nil })

	for i := 0; i < historyLimit+20; i++ {
		engine.Handle(context.Background(), errors.New("diverter jammed"))
		*now = now.Add(time.Second)
	}
	if got := len(engine.History(0)); got != historyLimit {
		t.Fatalf("history length = %d, want %d", got, historyLimit)
	}
}
