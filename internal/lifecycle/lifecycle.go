// Package lifecycle brings system components up in dependency order and
// tears them down in reverse. A failed critical component aborts startup
// and unwinds everything already started; non-critical components degrade
// gracefully.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sortline/internal/faults"
	"sortline/internal/logging"
)

// Component is one managed subsystem.
type Component interface {
	Name() string
	Critical() bool
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Status is a component's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// Manager starts and stops components in registration order.
type Manager struct {
	logger *slog.Logger

	mu         sync.Mutex
	components []Component
	status     map[string]Status
	started    []Component
}

// NewManager returns an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logging.NewComponentLogger(logger, "lifecycle"),
		status: make(map[string]Status),
	}
}

// Add registers components in bring-up order.
func (m *Manager) Add(components ...Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range components {
		m.components = append(m.components, c)
		m.status[c.Name()] = StatusPending
	}
}

// StartAll initializes every component in order. A critical failure unwinds
// the components already started and returns the fault; non-critical
// failures are recorded and bring-up continues.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	for _, c := range components {
		if err := ctx.Err(); err != nil {
			m.stopStarted(context.Background())
			return err
		}
		m.logger.Info("starting component", logging.String(logging.FieldComponent, c.Name()))
		if err := c.Init(ctx); err != nil {
			m.setStatus(c.Name(), StatusFailed)
			if c.Critical() {
				m.logger.Error("critical component failed; aborting startup",
					logging.Error(err),
					logging.String(logging.FieldComponent, c.Name()),
				)
				m.stopStarted(context.Background())
				return faults.Wrap(fmt.Errorf("start %s: %w", c.Name(), err),
					faults.CategoryHardware, faults.SeverityCritical, c.Name())
			}
			m.logger.Warn("component failed; continuing degraded",
				logging.Error(err),
				logging.String(logging.FieldComponent, c.Name()),
			)
			continue
		}
		m.setStatus(c.Name(), StatusReady)
		m.mu.Lock()
		m.started = append(m.started, c)
		m.mu.Unlock()
	}
	return nil
}

// StopAll shuts down started components in reverse order. Every shutdown
// runs; the first error is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	return m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) error {
	m.mu.Lock()
	started := append([]Component(nil), m.started...)
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		m.logger.Info("stopping component", logging.String(logging.FieldComponent, c.Name()))
		if err := c.Shutdown(ctx); err != nil {
			m.logger.Error("component shutdown failed",
				logging.Error(err),
				logging.String(logging.FieldComponent, c.Name()),
			)
			m.setStatus(c.Name(), StatusFailed)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", c.Name(), err)
			}
			continue
		}
		m.setStatus(c.Name(), StatusStopped)
	}
	return firstErr
}

// Restart stops and re-initializes one component by name.
func (m *Manager) Restart(ctx context.Context, name string) error {
	m.mu.Lock()
	var target Component
	idx := -1
	for _, c := range m.components {
		if c.Name() == name {
			target = c
			break
		}
	}
	for i, c := range m.started {
		if c.Name() == name {
			idx = i
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown component %q", name)
	}

	if idx >= 0 {
		if err := target.Shutdown(ctx); err != nil {
			m.logger.Warn("shutdown before restart failed",
				logging.Error(err),
				logging.String(logging.FieldComponent, name),
			)
		}
		m.mu.Lock()
		m.started = append(m.started[:idx], m.started[idx+1:]...)
		m.mu.Unlock()
	}

	if err := target.Init(ctx); err != nil {
		m.setStatus(name, StatusFailed)
		return fmt.Errorf("restart %s: %w", name, err)
	}
	m.setStatus(name, StatusReady)
	m.mu.Lock()
	m.started = append(m.started, target)
	m.mu.Unlock()
	m.logger.Info("component restarted", logging.String(logging.FieldComponent, name))
	return nil
}

// Status returns each component's current state.
func (m *Manager) Status() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.status))
	for name, status := range m.status {
		out[name] = status
	}
	return out
}

func (m *Manager) setStatus(name string, status Status) {
	m.mu.Lock()
	m.status[name] = status
	m.mu.Unlock()
}

// Funcs adapts plain functions into a Component.
type Funcs struct {
	ComponentName string
	IsCritical    bool
	InitFunc      func(ctx context.Context) error
	ShutdownFunc  func(ctx context.Context) error
}

func (f Funcs) Name() string   { return f.ComponentName }
func (f Funcs) Critical() bool { return f.IsCritical }

func (f Funcs) Init(ctx context.Context) error {
	if f.InitFunc == nil {
		return nil
	}
	return f.InitFunc(ctx)
}

func (f Funcs) Shutdown(ctx context.Context) error {
	if f.ShutdownFunc == nil {
		return nil
	}
	return f.ShutdownFunc(ctx)
}
