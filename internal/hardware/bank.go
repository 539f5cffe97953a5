package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"sortline/internal/config"
	"sortline/internal/faults"
	"sortline/internal/logging"
)

// Bank owns the configured diverters and serializes activation per actuator.
// Concurrent activations of different diverters proceed in parallel;
// a second activation of the same diverter waits for the first.
type Bank struct {
	logger    *slog.Logger
	pins      Pinner
	diverters map[string]*bankSlot
}

type bankSlot struct {
	mu       sync.Mutex
	diverter Diverter
}

// NewBank builds every configured diverter against the shared pin bank.
func NewBank(cfg *config.Config, pins Pinner, logger *slog.Logger) (*Bank, error) {
	bank := &Bank{
		logger:    logging.NewComponentLogger(logger, "diverters"),
		pins:      pins,
		diverters: make(map[string]*bankSlot, len(cfg.Diverters)),
	}
	for _, dc := range cfg.Diverters {
		diverter, err := NewDiverter(dc, pins)
		if err != nil {
			return nil, err
		}
		bank.diverters[strings.ToLower(dc.Name)] = &bankSlot{diverter: diverter}
	}
	return bank, nil
}

// Names returns the configured diverter names, sorted.
func (b *Bank) Names() []string {
	names := make([]string, 0, len(b.diverters))
	for _, slot := range b.diverters {
		names = append(names, slot.diverter.Name())
	}
	sort.Strings(names)
	return names
}

// Has reports whether a diverter exists for the category.
func (b *Bank) Has(category string) bool {
	_, ok := b.diverters[strings.ToLower(category)]
	return ok
}

// Activate runs one full activation cycle on the category's diverter.
func (b *Bank) Activate(ctx context.Context, category string, hold time.Duration) error {
	slot, ok := b.diverters[strings.ToLower(category)]
	if !ok {
		return faults.Hardware(faults.SeverityMedium, category, "no diverter configured for category")
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	start := time.Now()
	err := slot.diverter.Activate(ctx, hold)
	if err != nil {
		b.logger.Error("diverter activation failed",
			logging.Error(err),
			logging.String(logging.FieldCategory, category),
			logging.String(logging.FieldEventType, "diverter_failed"),
		)
		return err
	}
	b.logger.Debug("diverter cycled",
		logging.String(logging.FieldCategory, category),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Status returns each diverter's current status keyed by name.
func (b *Bank) Status() map[string]DiverterStatus {
	out := make(map[string]DiverterStatus, len(b.diverters))
	for _, slot := range b.diverters {
		out[slot.diverter.Name()] = slot.diverter.Status()
	}
	return out
}

// StopAll homes every diverter. Used on pause, emergency stop, and shutdown.
func (b *Bank) StopAll() error {
	var firstErr error
	for _, slot := range b.diverters {
		slot.mu.Lock()
		err := slot.diverter.Home()
		slot.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("home %s: %w", slot.diverter.Name(), err)
		}
	}
	return firstErr
}

// ResetOutputs homes every diverter and releases the pin bank.
func (b *Bank) ResetOutputs() error {
	stopErr := b.StopAll()
	if err := b.pins.Cleanup(); err != nil {
		if stopErr == nil {
			stopErr = err
		}
		b.logger.Warn("pin cleanup failed", logging.Error(err))
	}
	return stopErr
}
