package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sortline/internal/config"
	"sortline/internal/faults"
	"sortline/internal/logging"
	"sortline/internal/metrics"
	"sortline/internal/store"
)

// Object is one classified item travelling toward its diverter.
type Object struct {
	ID         uint64
	RecordID   int64
	Category   string
	Confidence float64
	CapturedAt time.Time
}

// ActiveDiversion is one scheduled actuation awaiting its deadline.
type ActiveDiversion struct {
	ObjectID    uint64    `json:"object_id"`
	Category    string    `json:"category"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Deadline    time.Time `json:"deadline"`
}

// Activator is the serialized actuation surface the scheduler drives.
type Activator interface {
	Activate(ctx context.Context, category string, hold time.Duration) error
}

// StopSource reports whether the emergency stop is latched.
type StopSource interface {
	EmergencyStopActive() bool
}

// schedulerPoll is the cancellation-check granularity of a waiting
// diversion task.
const schedulerPoll = 100 * time.Millisecond

// Scheduler spawns one timed task per diverted object. A category with a
// pending task rejects further objects until the task finishes: the paddle
// cannot serve two objects at once.
type Scheduler struct {
	cfgStore *config.Store
	bank     Activator
	stops    StopSource
	db       *store.Store
	counters *metrics.Counters
	prom     *metrics.Collectors
	logger   *slog.Logger

	poll time.Duration

	mu       sync.Mutex
	active   map[uint64]ActiveDiversion
	pending  map[string]uint64
	shutdown chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewScheduler returns a scheduler actuating through bank. db, counters,
// and prom may be nil.
func NewScheduler(cfgStore *config.Store, bank Activator, stops StopSource, db *store.Store, counters *metrics.Counters, prom *metrics.Collectors, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfgStore: cfgStore,
		bank:     bank,
		stops:    stops,
		db:       db,
		counters: counters,
		prom:     prom,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		poll:     schedulerPoll,
		active:   make(map[uint64]ActiveDiversion),
		pending:  make(map[string]uint64),
		shutdown: make(chan struct{}),
	}
}

// ComputeDelay converts a camera-to-diverter distance into a travel delay.
func ComputeDelay(distanceM, speedMPS float64) (time.Duration, error) {
	if speedMPS <= 0 {
		return 0, faults.Configuration("belt", "belt.speed_mps must be positive to compute diversion delays")
	}
	return time.Duration(distanceM / speedMPS * float64(time.Second)), nil
}

// Schedule routes one object. Objects without a configured distance are
// marked "no diversion needed" exactly once and never enter the map.
func (s *Scheduler) Schedule(obj Object) error {
	cfg := s.cfgStore.Current()

	distance, ok := cfg.DistanceFor(obj.Category)
	if !ok {
		s.recordOutcome(obj, false, "no diversion configured for category", 0)
		s.logger.Debug("no diversion needed",
			logging.Uint64(logging.FieldObjectID, obj.ID),
			logging.String(logging.FieldCategory, obj.Category),
		)
		return nil
	}

	delay, err := ComputeDelay(distance, cfg.Belt.SpeedMPS)
	if err != nil {
		s.recordOutcome(obj, false, err.Error(), 0)
		return err
	}
	maxDelay := time.Duration(cfg.Belt.MaxDiversionDelayS * float64(time.Second))
	if maxDelay > 0 && delay > maxDelay {
		message := fmt.Sprintf("computed delay %s exceeds ceiling %s; check belt geometry", delay, maxDelay)
		s.recordOutcome(obj, false, message, 0)
		if s.counters != nil {
			s.counters.RecordDiversionRejected()
		}
		s.logger.Warn("diversion rejected",
			logging.Uint64(logging.FieldObjectID, obj.ID),
			logging.String(logging.FieldCategory, obj.Category),
			logging.String(logging.FieldErrorHint, message),
		)
		return faults.Configuration("belt", message)
	}

	hold := time.Duration(cfg.Belt.ActivationDurationMS) * time.Millisecond
	now := time.Now()
	entry := ActiveDiversion{
		ObjectID:    obj.ID,
		Category:    obj.Category,
		ScheduledAt: now,
		Deadline:    now.Add(delay),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.recordOutcome(obj, false, "scheduler shutting down", 0)
		return nil
	}
	if pendingID, busy := s.pending[obj.Category]; busy {
		s.mu.Unlock()
		message := fmt.Sprintf("diverter busy with object %d", pendingID)
		s.recordOutcome(obj, false, message, 0)
		if s.counters != nil {
			s.counters.RecordDiversionRejected()
		}
		s.logger.Warn("diversion rejected",
			logging.Uint64(logging.FieldObjectID, obj.ID),
			logging.String(logging.FieldCategory, obj.Category),
			logging.String(logging.FieldErrorHint, message),
		)
		return nil
	}
	s.active[obj.ID] = entry
	s.pending[obj.Category] = obj.ID
	s.wg.Add(1)
	s.mu.Unlock()

	if s.prom != nil {
		s.prom.DiversionDelay.Observe(delay.Seconds())
	}

	go s.runDiversion(obj, entry, hold)
	return nil
}

func (s *Scheduler) runDiversion(obj Object, entry ActiveDiversion, hold time.Duration) {
	defer s.wg.Done()

	for {
		remaining := time.Until(entry.Deadline)
		if remaining <= 0 {
			break
		}
		if remaining > s.poll {
			remaining = s.poll
		}
		select {
		case <-s.shutdown:
			s.finish(obj, false, "shutdown before actuation", 0)
			return
		case <-time.After(remaining):
		}
		if s.stops != nil && s.stops.EmergencyStopActive() {
			s.finish(obj, false, "emergency stop before actuation", 0)
			return
		}
	}

	start := time.Now()
	err := s.bank.Activate(context.Background(), obj.Category, hold)
	latency := time.Since(start)

	if err != nil {
		s.finish(obj, false, err.Error(), latency)
		return
	}
	s.logger.Info("object diverted",
		logging.Uint64(logging.FieldObjectID, obj.ID),
		logging.String(logging.FieldCategory, obj.Category),
		logging.Duration("actuation_latency", latency),
	)
	s.finish(obj, true, "", latency)
}

// finish records the outcome once and removes the map entries under the
// same mutex used for insertion. latency is zero when the diverter was
// never actuated.
func (s *Scheduler) finish(obj Object, diverted bool, message string, latency time.Duration) {
	s.mu.Lock()
	delete(s.active, obj.ID)
	if s.pending[obj.Category] == obj.ID {
		delete(s.pending, obj.Category)
	}
	s.mu.Unlock()

	if s.counters != nil {
		s.counters.RecordDiversion(diverted)
	}
	if s.prom != nil && latency > 0 {
		s.prom.ActuationLatency.Observe(latency.Seconds())
	}
	s.recordOutcome(obj, diverted, message, latency)
	if !diverted && message != "" {
		s.logger.Warn("diversion not completed",
			logging.Uint64(logging.FieldObjectID, obj.ID),
			logging.String(logging.FieldCategory, obj.Category),
			logging.String(logging.FieldErrorHint, message),
		)
	}
}

func (s *Scheduler) recordOutcome(obj Object, diverted bool, message string, latency time.Duration) {
	if s.db == nil || obj.RecordID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.db.UpdateDiversionOutcome(ctx, obj.RecordID, diverted, message, latency); err != nil {
		s.logger.Warn("diversion outcome not persisted", logging.Error(err))
	}
}

// Active returns a snapshot of pending diversions.
func (s *Scheduler) Active() []ActiveDiversion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveDiversion, 0, len(s.active))
	for _, entry := range s.active {
		out = append(out, entry)
	}
	return out
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// tasks. Entries still present afterwards are force-cleared with a warning
// naming the count; completed-but-unconfirmed actuations are not retried.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.shutdown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.mu.Lock()
		remaining := len(s.active)
		s.active = make(map[uint64]ActiveDiversion)
		s.pending = make(map[string]uint64)
		s.mu.Unlock()
		if remaining > 0 {
			s.logger.Warn("force-cleared pending diversions on shutdown",
				logging.Int("count", remaining),
			)
		}
	}
}
