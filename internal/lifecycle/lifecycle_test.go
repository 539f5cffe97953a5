package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sortline/internal/lifecycle"
	"sortline/internal/logging"
)

type journal struct {
	entries []string
}

func (j *journal) add(entry string) { j.entries = append(j.entries, entry) }

func component(j *journal, name string, critical bool, initErr error) lifecycle.Component {
	return lifecycle.Funcs{
		ComponentName: name,
		IsCritical:    critical,
		InitFunc: func(ctx context.Context) error {
			j.add("init:" + name)
			return initErr
		},
		ShutdownFunc: func(ctx context.Context) error {
			j.add("stop:" + name)
			return nil
		},
	}
}

func TestStartAllOrderAndReverseStop(t *testing.T) {
	j := &journal{}
	manager := lifecycle.NewManager(logging.NewNop())
	manager.Add(
		component(j, "security", true, nil),
		component(j, "hardware", true, nil),
		component(j, "vision", true, nil),
	)

	if err := manager.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := manager.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	want := []string{"init:security", "init:hardware", "init:vision", "stop:vision", "stop:hardware", "stop:security"}
	if fmt.Sprint(j.entries) != fmt.Sprint(want) {
		t.Fatalf("journal = %v, want %v", j.entries, want)
	}
}

func TestCriticalFailureUnwindsStarted(t *testing.T) {
	j := &journal{}
	manager := lifecycle.NewManager(logging.NewNop())
	manager.Add(
		component(j, "security", true, nil),
		component(j, "hardware", true, errors.New("gpio bus down")),
		component(j, "vision", true, nil),
	)

	err := manager.StartAll(context.Background())
	if err == nil {
		t.Fatal("expected critical failure to abort startup")
	}

	want := []string{"init:security", "init:hardware", "stop:security"}
	if fmt.Sprint(j.entries) != fmt.Sprint(want) {
		t.Fatalf("journal = %v, want %v", j.entries, want)
	}

	status := manager.Status()
	if status["hardware"] != lifecycle.StatusFailed {
		t.Fatalf("hardware status = %s", status["hardware"])
	}
	if status["vision"] != lifecycle.StatusPending {
		t.Fatalf("vision status = %s, should never have started", status["vision"])
	}
}

func TestNonCriticalFailureContinues(t *testing.T) {
	j := &journal{}
	manager := lifecycle.NewManager(logging.NewNop())
	manager.Add(
		component(j, "hardware", true, nil),
		component(j, "persistence", false, errors.New("disk full")),
		component(j, "api", false, nil),
	)

	if err := manager.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	status := manager.Status()
	if status["persistence"] != lifecycle.StatusFailed {
		t.Fatalf("persistence status = %s", status["persistence"])
	}
	if status["api"] != lifecycle.StatusReady {
		t.Fatalf("api status = %s", status["api"])
	}

	// The failed component is not part of teardown.
	j.entries = nil
	if err := manager.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	want := []string{"stop:api", "stop:hardware"}
	if fmt.Sprint(j.entries) != fmt.Sprint(want) {
		t.Fatalf("journal = %v, want %v", j.entries, want)
	}
}

func TestRestart(t *testing.T) {
	j := &journal{}
	manager := lifecycle.NewManager(logging.NewNop())
	manager.Add(
		component(j, "hardware", true, nil),
		component(j, "vision", true, nil),
	)
	if err := manager.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	j.entries = nil
	if err := manager.Restart(context.Background(), "vision"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	want := []string{"stop:vision", "init:vision"}
	if fmt.Sprint(j.entries) != fmt.Sprint(want) {
		t.Fatalf("journal = %v, want %v", j.entries, want)
	}
	if manager.Status()["vision"] != lifecycle.StatusReady {
		t.Fatalf("vision status = %s", manager.Status()["vision"])
	}

	if err := manager.Restart(context.Background(), "nonesuch"); err == nil {
		t.Fatal("expected an error for an unknown component")
	}
}
