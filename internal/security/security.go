// Package security owns the emergency stop circuit and access lockout for
// the control API. The watchdog polls the physical stop loop and latches
// its state; clearing the stop never resumes sorting on its own.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sortline/internal/config"
	"sortline/internal/faults"
	"sortline/internal/hardware"
	"sortline/internal/logging"
)

// pollInterval is how often the watchdog reads the stop circuit.
const pollInterval = time.Second

// Watchdog polls the emergency stop input and enforces API access lockout.
type Watchdog struct {
	cfg    config.Safety
	input  hardware.EmergencyStopInput
	logger *slog.Logger

	engaged atomic.Bool

	onEngage func()
	onClear  func()

	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

// NewWatchdog returns a watchdog for the configured stop circuit. input may
// be nil when the emergency stop is disabled in configuration.
func NewWatchdog(cfg config.Safety, input hardware.EmergencyStopInput, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		input:    input,
		logger:   logging.NewComponentLogger(logger, "security"),
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// OnStateChange registers callbacks fired on stop engage and clear. Must be
// set before Run starts. The clear callback is expected to move the line
// into maintenance, never straight back to sorting.
func (w *Watchdog) OnStateChange(onEngage, onClear func()) {
	w.onEngage = onEngage
	w.onClear = onClear
}

// Run polls the stop circuit until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	if !w.cfg.EmergencyStopEnabled || w.input == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check reads the stop circuit once and updates the latched state. A read
// failure engages the stop: an unreadable safety loop is an open one.
func (w *Watchdog) Check() bool {
	if !w.cfg.EmergencyStopEnabled || w.input == nil {
		return false
	}
	engaged, err := w.input.Engaged()
	if err != nil {
		w.logger.Error("emergency stop circuit unreadable; engaging stop",
			logging.Error(err),
			logging.String(logging.FieldEventType, "estop_read_failed"),
		)
		engaged = true
	}

	was := w.engaged.Swap(engaged)
	switch {
	case engaged && !was:
		w.logger.Error("emergency stop engaged",
			logging.String(logging.FieldEventType, "estop_engaged"),
			logging.String(logging.FieldSeverity, string(faults.SeverityCritical)),
		)
		if w.onEngage != nil {
			w.onEngage()
		}
	case !engaged && was:
		w.logger.Warn("emergency stop cleared; awaiting operator resume",
			logging.String(logging.FieldEventType, "estop_cleared"),
		)
		if w.onClear != nil {
			w.onClear()
		}
	}
	return engaged
}

// EmergencyStopActive returns the latched stop state.
func (w *Watchdog) EmergencyStopActive() bool {
	return w.engaged.Load()
}

// Authorize enforces the sliding-window lockout for one access attempt.
// authenticated reflects whether the caller presented valid credentials;
// the transport layer decides that, the watchdog only tracks abuse.
func (w *Watchdog) Authorize(source string, authenticated bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	window := time.Duration(w.cfg.LockoutWindowMin) * time.Minute
	recent := w.failures[source][:0]
	for _, at := range w.failures[source] {
		if now.Sub(at) < window {
			recent = append(recent, at)
		}
	}
	w.failures[source] = recent

	if len(recent) >= w.cfg.MaxFailedAttempts {
		w.logger.Warn("access locked out",
			logging.String("source", source),
			logging.String(logging.FieldEventType, "access_lockout"),
			logging.Int("failures", len(recent)),
		)
		return faults.Security(faults.SeverityHigh, "access",
			fmt.Sprintf("source %s locked out after %d failed attempts", source, len(recent)))
	}

	if !authenticated {
		w.failures[source] = append(w.failures[source], now)
		w.logger.Warn("access denied",
			logging.String("source", source),
			logging.String(logging.FieldEventType, "access_denied"),
		)
		return faults.Security(faults.SeverityMedium, "access",
			fmt.Sprintf("authentication failed for %s", source))
	}

	delete(w.failures, source)
	return nil
}
