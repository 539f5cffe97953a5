package hardware

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sortline/internal/config"
	"sortline/internal/faults"
)

// DiverterStatus describes an actuator's current position.
type DiverterStatus string

const (
	DiverterIdle   DiverterStatus = "idle"
	DiverterActive DiverterStatus = "active"
	DiverterFault  DiverterStatus = "fault"
)

// Diverter is one physical diverter actuator. Activate pushes the paddle
// out, holds for the given duration, and retracts. Implementations are not
// safe for concurrent Activate calls; Bank serializes per actuator.
type Diverter interface {
	Name() string
	Activate(ctx context.Context, hold time.Duration) error
	Home() error
	Status() DiverterStatus
}

// NewDiverter builds the actuator variant selected by the configuration.
func NewDiverter(cfg config.Diverter, pins Pinner) (Diverter, error) {
	switch strings.ToLower(cfg.Type) {
	case "stepper":
		return newStepperDiverter(cfg, pins)
	case "onoff":
		return newOnOffDiverter(cfg, pins)
	default:
		return nil, faults.Hardware(faults.SeverityHigh, cfg.Name, fmt.Sprintf("unknown diverter type %q", cfg.Type))
	}
}

func hardwareErr(err error, name, action string) *faults.Fault {
	return faults.Wrap(fmt.Errorf("%s: %w", action, err), faults.CategoryHardware, faults.SeverityHigh, name)
}

// stepPulseGap paces step pulses. Real drivers accept far faster pulse
// trains; this floor keeps simulated timing deterministic.
const stepPulseGap = 500 * time.Microsecond

type stepperDiverter struct {
	name    string
	dirPin  int
	stepPin int
	enable  int
	steps   int
	pins    Pinner
	mu      sync.Mutex
	status  DiverterStatus
}

func newStepperDiverter(cfg config.Diverter, pins Pinner) (*stepperDiverter, error) {
	d := &stepperDiverter{
		name:    cfg.Name,
		dirPin:  cfg.DirPin,
		stepPin: cfg.StepPin,
		enable:  cfg.EnablePin,
		steps:   cfg.StepsPerHit,
		pins:    pins,
		status:  DiverterIdle,
	}
	if d.steps <= 0 {
		d.steps = 200
	}
	pinsToSetup := []int{d.dirPin, d.stepPin}
	if d.enable > 0 {
		pinsToSetup = append(pinsToSetup, d.enable)
	}
	for _, pin := range pinsToSetup {
		if err := pins.SetupOutput(pin); err != nil {
			return nil, hardwareErr(err, d.name, fmt.Sprintf("configure pin %d", pin))
		}
	}
	return d, nil
}

func (d *stepperDiverter) Name() string { return d.name }

func (d *stepperDiverter) Status() DiverterStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *stepperDiverter) setStatus(s DiverterStatus) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *stepperDiverter) Activate(ctx context.Context, hold time.Duration) error {
	d.setStatus(DiverterActive)
	if err := d.sweep(ctx, true); err != nil {
		d.setStatus(DiverterFault)
		return err
	}
	if err := sleepCtx(ctx, hold); err != nil {
		// Retract even when the hold was cut short.
		if homeErr := d.sweep(context.Background(), false); homeErr != nil {
			d.setStatus(DiverterFault)
			return homeErr
		}
		d.setStatus(DiverterIdle)
		return err
	}
	if err := d.sweep(ctx, false); err != nil {
		d.setStatus(DiverterFault)
		return err
	}
	d.setStatus(DiverterIdle)
	return nil
}

// sweep drives one full step train toward (out=true) or away from the belt.
func (d *stepperDiverter) sweep(ctx context.Context, out bool) error {
	if d.enable > 0 {
		if err := d.pins.Write(d.enable, true); err != nil {
			return hardwareErr(err, d.name, "enable driver")
		}
		defer func() { _ = d.pins.Write(d.enable, false) }()
	}
	if err := d.pins.Write(d.dirPin, out); err != nil {
		return hardwareErr(err, d.name, "set direction")
	}
	for i := 0; i < d.steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.pins.Write(d.stepPin, true); err != nil {
			return hardwareErr(err, d.name, "step")
		}
		if err := d.pins.Write(d.stepPin, false); err != nil {
			return hardwareErr(err, d.name, "step")
		}
		time.Sleep(stepPulseGap)
	}
	return nil
}

func (d *stepperDiverter) Home() error {
	if err := d.sweep(context.Background(), false); err != nil {
		d.setStatus(DiverterFault)
		return err
	}
	d.setStatus(DiverterIdle)
	return nil
}

type onoffDiverter struct {
	name       string
	pin        int
	activeHigh bool
	pins       Pinner
	mu         sync.Mutex
	status     DiverterStatus
}

func newOnOffDiverter(cfg config.Diverter, pins Pinner) (*onoffDiverter, error) {
	d := &onoffDiverter{
		name:       cfg.Name,
		pin:        cfg.Pin,
		activeHigh: cfg.ActiveHigh,
		pins:       pins,
		status:     DiverterIdle,
	}
	if err := pins.SetupOutput(d.pin); err != nil {
		return nil, hardwareErr(err, d.name, fmt.Sprintf("configure pin %d", d.pin))
	}
	if err := pins.Write(d.pin, !d.activeHigh); err != nil {
		return nil, hardwareErr(err, d.name, fmt.Sprintf("park pin %d", d.pin))
	}
	return d, nil
}

func (d *onoffDiverter) Name() string { return d.name }

func (d *onoffDiverter) Status() DiverterStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *onoffDiverter) setStatus(s DiverterStatus) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *onoffDiverter) Activate(ctx context.Context, hold time.Duration) error {
	if err := d.pins.Write(d.pin, d.activeHigh); err != nil {
		d.setStatus(DiverterFault)
		return hardwareErr(err, d.name, "engage")
	}
	d.setStatus(DiverterActive)

	holdErr := sleepCtx(ctx, hold)

	if err := d.pins.Write(d.pin, !d.activeHigh); err != nil {
		d.setStatus(DiverterFault)
		return hardwareErr(err, d.name, "release")
	}
	d.setStatus(DiverterIdle)
	return holdErr
}

func (d *onoffDiverter) Home() error {
	if err := d.pins.Write(d.pin, !d.activeHigh); err != nil {
		d.setStatus(DiverterFault)
		return hardwareErr(err, d.name, "home")
	}
	d.setStatus(DiverterIdle)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
