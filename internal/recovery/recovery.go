// Package recovery classifies runtime faults and drives the registered
// recovery strategies. Attempt gating keeps a flapping component from being
// restarted in a tight loop: each fault kind has a cooldown, a per-window
// attempt budget, and an idle period after which the budget resets.
package recovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sortline/internal/faults"
	"sortline/internal/logging"
	"sortline/internal/metrics"
)

// Kind is a recoverable fault family.
type Kind string

const (
	KindCamera     Kind = "camera_failure"
	KindClassifier Kind = "classifier_failure"
	KindHardware   Kind = "hardware_failure"
	KindNetwork    Kind = "network_failure"
	KindMemory     Kind = "memory_pressure"
	KindThermal    Kind = "high_temperature"
)

// Strategy attempts to bring one fault family back to a working state.
type Strategy func(ctx context.Context) error

// Attempt is one recorded recovery attempt.
type Attempt struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	Recovered bool      `json:"recovered"`
	Detail    string    `json:"detail,omitempty"`
}

const (
	attemptCooldown = 30 * time.Second
	maxAttempts     = 3
	attemptReset    = time.Hour
	historyLimit    = 100
)

type kindState struct {
	attempts    int
	lastAttempt time.Time
}

// Engine routes faults to strategies and tracks attempt budgets.
type Engine struct {
	logger   *slog.Logger
	counters *metrics.Counters

	mu         sync.Mutex
	strategies map[Kind]Strategy
	state      map[Kind]*kindState
	history    []Attempt
	now        func() time.Time
}

// NewEngine returns an engine with no strategies registered. Counters may
// be nil.
func NewEngine(logger *slog.Logger, counters *metrics.Counters) *Engine {
	return &Engine{
		logger:     logging.NewComponentLogger(logger, "recovery"),
		counters:   counters,
		strategies: make(map[Kind]Strategy),
		state:      make(map[Kind]*kindState),
		now:        time.Now,
	}
}

// Register installs the strategy for a fault kind, replacing any previous
// one.
func (e *Engine) Register(kind Kind, strategy Strategy) {
	e.mu.Lock()
	e.strategies[kind] = strategy
	e.mu.Unlock()
}

// Classify maps an error to its recoverable fault kind. The fault category
// decides the family: a classifier fault is a classifier fault even when its
// message mentions the frame it was handed. Only hardware faults, whose
// category does not say which device failed, are refined by message
// keywords into camera, network, memory, or thermal kinds.
func Classify(err error) Kind {
	fault := faults.As(err)

	switch fault.Category {
	case faults.CategoryClassifier:
		return KindClassifier
	case faults.CategoryConfiguration, faults.CategorySecurity:
		return KindHardware
	}

	message := strings.ToLower(fault.Message + " " + fault.Component)
	switch {
	case containsAny(message, "camera", "frame", "capture", "video"):
		return KindCamera
	case containsAny(message, "network", "connection", "unreachable", "timeout", "dns"):
		return KindNetwork
	case containsAny(message, "memory", "oom", "allocation"):
		return KindMemory
	case containsAny(message, "temperature", "thermal", "overheat"):
		return KindThermal
	}
	return KindHardware
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// CanAttempt reports whether a recovery attempt for the kind is currently
// allowed under the cooldown and budget rules.
func (e *Engine) CanAttempt(kind Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canAttemptLocked(kind)
}

func (e *Engine) canAttemptLocked(kind Kind) bool {
	st, ok := e.state[kind]
	if !ok {
		return true
	}
	now := e.now()
	if now.Sub(st.lastAttempt) >= attemptReset {
		st.attempts = 0
		return true
	}
	if now.Sub(st.lastAttempt) < attemptCooldown {
		return false
	}
	return st.attempts < maxAttempts
}

// Handle classifies err and runs the matching strategy if the attempt gate
// allows it. Returns true when the strategy reported success.
func (e *Engine) Handle(ctx context.Context, err error) bool {
	kind := Classify(err)

	e.mu.Lock()
	strategy, registered := e.strategies[kind]
	allowed := registered && e.canAttemptLocked(kind)
	if allowed {
		st, ok := e.state[kind]
		if !ok {
			st = &kindState{}
			e.state[kind] = st
		}
		st.attempts++
		st.lastAttempt = e.now()
	}
	e.mu.Unlock()

	if !registered {
		e.logger.Error("no recovery strategy registered",
			logging.Error(err),
			logging.String(logging.FieldEventType, string(kind)),
		)
		e.recordAttempt(kind, err, false, "no strategy registered")
		return false
	}
	if !allowed {
		e.logger.Warn("recovery attempt suppressed",
			logging.Error(err),
			logging.String(logging.FieldEventType, string(kind)),
			logging.String(logging.FieldErrorHint, "cooldown active or attempt budget exhausted"),
		)
		e.recordAttempt(kind, err, false, "attempt gate closed")
		return false
	}

	e.logger.Info("attempting recovery",
		logging.Error(err),
		logging.String(logging.FieldEventType, string(kind)),
	)

	if strategyErr := strategy(ctx); strategyErr != nil {
		e.logger.Error("recovery failed",
			logging.Error(strategyErr),
			logging.String(logging.FieldEventType, string(kind)),
		)
		e.recordAttempt(kind, err, false, strategyErr.Error())
		if e.counters != nil {
			e.counters.RecordFault(false)
		}
		return false
	}

	e.resetKind(kind)
	e.logger.Info("recovery succeeded",
		logging.String(logging.FieldEventType, string(kind)),
	)
	e.recordAttempt(kind, err, true, "")
	if e.counters != nil {
		e.counters.RecordFault(true)
	}
	return true
}

// resetKind clears the attempt budget after a successful recovery.
func (e *Engine) resetKind(kind Kind) {
	e.mu.Lock()
	delete(e.state, kind)
	e.mu.Unlock()
}

func (e *Engine) recordAttempt(kind Kind, cause error, recovered bool, detail string) {
	attempt := Attempt{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   cause.Error(),
		At:        e.now(),
		Recovered: recovered,
		Detail:    detail,
	}
	e.mu.Lock()
	e.history = append(e.history, attempt)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
	e.mu.Unlock()
}

// History returns up to limit attempts, newest first.
func (e *Engine) History(limit int) []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]Attempt, 0, limit)
	for i := len(e.history) - 1; i >= len(e.history)-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}
