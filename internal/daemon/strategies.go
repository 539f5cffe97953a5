package daemon

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"sortline/internal/classify"
	"sortline/internal/hardware"
	"sortline/internal/monitor"
	"sortline/internal/recovery"
)

// thermalRecoveryWindow bounds how long the thermal strategy waits for the
// host to cool before giving up.
const thermalRecoveryWindow = 30 * time.Second

type strategyDeps struct {
	frames   hardware.FrameSource
	detector classify.Detector
	bank     *hardware.Bank
	sampler  *monitor.Sampler
}

// registerStrategies installs the built-in recovery strategies. Each one
// performs the reset and then proves it worked; a strategy that cannot
// verify its own success reports failure.
func registerStrategies(engine *recovery.Engine, deps strategyDeps) {
	engine.Register(recovery.KindCamera, func(ctx context.Context) error {
		_ = deps.frames.Close()
		if err := deps.frames.Open(ctx); err != nil {
			return fmt.Errorf("reopen capture source: %w", err)
		}
		if _, err := deps.frames.Capture(ctx); err != nil {
			return fmt.Errorf("test capture: %w", err)
		}
		return nil
	})

	engine.Register(recovery.KindClassifier, func(ctx context.Context) error {
		_ = deps.detector.Close()
		if err := deps.detector.Load(ctx); err != nil {
			return fmt.Errorf("reload model: %w", err)
		}
		return nil
	})

	engine.Register(recovery.KindHardware, func(ctx context.Context) error {
		if err := deps.bank.StopAll(); err != nil {
			return fmt.Errorf("home diverters: %w", err)
		}
		return nil
	})

	engine.Register(recovery.KindMemory, func(ctx context.Context) error {
		debug.FreeOSMemory()
		return nil
	})

	engine.Register(recovery.KindThermal, func(ctx context.Context) error {
		deadline := time.Now().Add(thermalRecoveryWindow)
		for time.Now().Before(deadline) {
			if _, err := deps.sampler.SampleOnce(); err != nil {
				return fmt.Errorf("thermal sample: %w", err)
			}
			if deps.sampler.Cooled() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		return fmt.Errorf("temperature still above resume threshold after %s", thermalRecoveryWindow)
	})
}
