// Package orchestrator drives the sorting line: the system state machine,
// the trigger-to-actuation pipeline, and the diversion scheduler.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sortline/internal/classify"
	"sortline/internal/config"
	"sortline/internal/faults"
	"sortline/internal/hardware"
	"sortline/internal/logging"
	"sortline/internal/metrics"
	"sortline/internal/recovery"
	"sortline/internal/store"
)

// State is the controller's lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateError        State = "error"
	StateRecovering   State = "recovering"
	StateMaintenance  State = "maintenance"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
)

// States lists every controller state, for gauges and display.
func States() []string {
	return []string{
		string(StateInitializing), string(StateIdle), string(StateRunning),
		string(StatePaused), string(StateError), string(StateRecovering),
		string(StateMaintenance), string(StateShuttingDown), string(StateShutdown),
	}
}

// transitions is the closed set of legal state changes. Shutdown is
// reachable from everywhere through ShuttingDown.
var transitions = map[State][]State{
	StateInitializing: {StateIdle, StateError},
	StateIdle:         {StateRunning, StateMaintenance},
	StateRunning:      {StatePaused, StateMaintenance, StateError, StateRecovering},
	StatePaused:       {StateRunning, StateMaintenance},
	StateMaintenance:  {StateIdle, StateRunning, StatePaused},
	StateError:        {StateRecovering},
	StateRecovering:   {StateIdle, StateRunning, StateError},
}

func canTransition(from, to State) bool {
	if to == StateShuttingDown {
		return from != StateShutdown
	}
	if from == StateShuttingDown {
		return to == StateShutdown
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Status is the controller snapshot served by the API.
type Status struct {
	State            State             `json:"state"`
	LastFault        string            `json:"last_fault,omitempty"`
	QueueDepth       int               `json:"queue_depth"`
	ActiveDiversions []ActiveDiversion `json:"active_diversions"`
	Metrics          metrics.Snapshot  `json:"metrics"`
	BinLevels        map[string]float64 `json:"bin_levels,omitempty"`
}

// Orchestrator owns the main pipeline loop.
type Orchestrator struct {
	cfgStore *config.Store
	logger   *slog.Logger

	frames   hardware.FrameSource
	trigger  hardware.TriggerSensor
	bins     hardware.BinLevelSensor
	detector classify.Detector

	scheduler *Scheduler
	stops     StopSource
	db        *store.Store
	counters  *metrics.Counters
	prom      *metrics.Collectors
	recovery  *recovery.Engine
	health    HealthSource

	queue chan Object

	mu           sync.Mutex
	state        State
	lastFault    string
	nextObjectID uint64
	faultStreak  int
	binLevels    map[string]float64

	lastConfigCheck time.Time
	lastBinCheck    time.Time
}

// HealthSource reports host thermal state. Satisfied by monitor.Sampler.
type HealthSource interface {
	Overheated() bool
}

// Deps bundles the orchestrator's collaborators. Optional fields (db,
// counters, prom, health) may be nil.
type Deps struct {
	ConfigStore *config.Store
	Frames      hardware.FrameSource
	Trigger     hardware.TriggerSensor
	Bins        hardware.BinLevelSensor
	Detector    classify.Detector
	Scheduler   *Scheduler
	Stops       StopSource
	DB          *store.Store
	Counters    *metrics.Counters
	Collectors  *metrics.Collectors
	Recovery    *recovery.Engine
	Health      HealthSource
	Logger      *slog.Logger
}

// New builds an orchestrator in Initializing state.
func New(deps Deps) *Orchestrator {
	capacity := deps.ConfigStore.Current().Workflow.ObjectQueueCapacity
	if capacity <= 0 {
		capacity = 100
	}
	return &Orchestrator{
		cfgStore:  deps.ConfigStore,
		logger:    logging.NewComponentLogger(deps.Logger, "orchestrator"),
		frames:    deps.Frames,
		trigger:   deps.Trigger,
		bins:      deps.Bins,
		detector:  deps.Detector,
		scheduler: deps.Scheduler,
		stops:     deps.Stops,
		db:        deps.DB,
		counters:  deps.Counters,
		prom:      deps.Collectors,
		recovery:  deps.Recovery,
		health:    deps.Health,
		queue:     make(chan Object, capacity),
		state:     StateInitializing,
	}
}

// State returns the current controller state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transition moves the controller to next, rejecting illegal transitions.
func (o *Orchestrator) Transition(next State) error {
	o.mu.Lock()
	current := o.state
	if current == next {
		o.mu.Unlock()
		return nil
	}
	if !canTransition(current, next) {
		o.mu.Unlock()
		return fmt.Errorf("illegal state transition %s -> %s", current, next)
	}
	o.state = next
	o.mu.Unlock()

	o.logger.Info("state changed",
		logging.String(logging.FieldEventType, "state_change"),
		logging.String("from", string(current)),
		logging.String(logging.FieldState, string(next)),
	)
	if o.prom != nil {
		o.prom.SetState(States(), string(next))
	}
	return nil
}

// Ready marks initialization complete.
func (o *Orchestrator) Ready() error { return o.Transition(StateIdle) }

// Pause suspends processing; scheduled diversions keep running.
func (o *Orchestrator) Pause() error { return o.Transition(StatePaused) }

// Resume returns to Running from Paused or Maintenance.
func (o *Orchestrator) Resume() error { return o.Transition(StateRunning) }

// EnterMaintenance suspends processing for servicing. Also the landing
// state after an emergency stop clears: sorting never auto-resumes.
func (o *Orchestrator) EnterMaintenance() error { return o.Transition(StateMaintenance) }

// Run drives the tick loop until ctx is cancelled, then drains the
// scheduler. Returns the terminal fault if the loop died in Error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Transition(StateRunning); err != nil {
		return err
	}

	cfg := o.cfgStore.Current()
	tick := time.Duration(cfg.Workflow.TickIntervalMS) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var loopErr error
	for loopErr == nil {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			loopErr = o.Tick(ctx)
		}
	}

	o.shutdown()
	return loopErr
}

func (o *Orchestrator) shutdown() {
	_ = o.Transition(StateShuttingDown)
	cfg := o.cfgStore.Current()
	drain := time.Duration(cfg.Workflow.ShutdownDrainTimeoutS) * time.Second
	o.scheduler.Shutdown(drain)
	_ = o.Transition(StateShutdown)
}

// Tick runs one loop iteration. A nil return keeps the loop alive; a
// non-nil return is the terminal Error transition.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if o.stops != nil && o.stops.EmergencyStopActive() {
		return nil
	}
	switch o.State() {
	case StateRunning:
	case StatePaused, StateMaintenance:
		return nil
	default:
		return nil
	}

	if err := o.processTick(ctx); err != nil {
		return o.handleTickFault(ctx, err)
	}
	o.mu.Lock()
	o.faultStreak = 0
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) processTick(ctx context.Context) error {
	fired, err := o.trigger.Triggered()
	if err != nil {
		return faults.Wrap(fmt.Errorf("trigger poll: %w", err), faults.CategoryHardware, faults.SeverityHigh, "trigger")
	}
	if fired {
		if err := o.processObject(ctx); err != nil {
			return err
		}
	}

	o.drainQueue()
	o.runCadencedChecks(ctx)
	return nil
}

// processObject runs the capture-classify-persist-enqueue pipeline for one
// triggered object.
func (o *Orchestrator) processObject(ctx context.Context) error {
	cfg := o.cfgStore.Current()
	started := time.Now()

	frame, err := o.captureWithRetries(ctx, cfg.Workflow.CaptureRetries)
	if err != nil {
		if o.counters != nil {
			o.counters.RecordCaptureFailure()
		}
		return err
	}

	detections, err := o.detector.Detect(ctx, frame)
	if err != nil {
		if o.counters != nil {
			o.counters.RecordClassifyFailure()
		}
		return faults.Wrap(fmt.Errorf("classify frame: %w", err), faults.CategoryClassifier, faults.SeverityHigh, "classifier")
	}

	result := classify.Resolve(detections, cfg.Classifier.ClassNames, cfg.Classifier.MinConfidence, cfg.FallbackCategory())
	processing := time.Since(started)

	o.mu.Lock()
	o.nextObjectID++
	objectID := o.nextObjectID
	o.mu.Unlock()

	o.logger.Info("object classified",
		logging.Uint64(logging.FieldObjectID, objectID),
		logging.String(logging.FieldCategory, result.Category),
		logging.Float64("confidence", result.Confidence),
		logging.Bool("fallback", result.Fallback),
		logging.Duration("processing_time", processing),
	)
	if o.counters != nil {
		o.counters.RecordObject(result.Category, processing)
	}

	// Persistence is best-effort; a full disk must not stop the belt.
	var recordID int64
	if o.db != nil {
		id, err := o.db.RecordClassification(ctx, store.Classification{
			ObjectID:         objectID,
			Category:         result.Category,
			CategoryIndex:    cfg.CategoryIndex(result.Category),
			Confidence:       result.Confidence,
			Fallback:         result.Fallback,
			ProcessingTimeMS: float64(processing.Nanoseconds()) / 1e6,
		})
		if err != nil {
			o.logger.Warn("classification not persisted", logging.Error(err))
		} else {
			recordID = id
		}
	}

	obj := Object{
		ID:         objectID,
		RecordID:   recordID,
		Category:   result.Category,
		Confidence: result.Confidence,
		CapturedAt: frame.CapturedAt,
	}

	select {
	case o.queue <- obj:
	default:
		o.logger.Warn("object queue full; diversion dropped",
			logging.Uint64(logging.FieldObjectID, objectID),
			logging.String(logging.FieldCategory, obj.Category),
		)
		if o.counters != nil {
			o.counters.RecordDiversionRejected()
		}
	}
	return nil
}

func (o *Orchestrator) captureWithRetries(ctx context.Context, retries int) (hardware.Frame, error) {
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		frame, err := o.frames.Capture(ctx)
		if err == nil {
			return frame, nil
		}
		lastErr = err
	}
	return hardware.Frame{}, faults.Wrap(fmt.Errorf("capture frame after %d attempts: %w", retries, lastErr),
		faults.CategoryHardware, faults.SeverityHigh, "camera")
}

// drainQueue hands up to one batch of queued objects to the scheduler.
func (o *Orchestrator) drainQueue() {
	batch := o.cfgStore.Current().Workflow.DiversionBatchSize
	if batch <= 0 {
		batch = 5
	}
	for i := 0; i < batch; i++ {
		select {
		case obj := <-o.queue:
			if err := o.scheduler.Schedule(obj); err != nil {
				o.logger.Warn("scheduling failed",
					logging.Error(err),
					logging.Uint64(logging.FieldObjectID, obj.ID),
				)
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) runCadencedChecks(ctx context.Context) {
	cfg := o.cfgStore.Current()
	now := time.Now()

	configInterval := time.Duration(cfg.Workflow.ConfigCheckIntervalS) * time.Second
	if now.Sub(o.lastConfigCheck) >= configInterval {
		o.lastConfigCheck = now
		if _, err := o.cfgStore.ReloadIfChanged(); err != nil {
			o.logger.Error("config reload rejected; keeping previous configuration", logging.Error(err))
		}
	}

	binInterval := time.Duration(cfg.Workflow.BinCheckIntervalS) * time.Second
	if o.bins != nil && now.Sub(o.lastBinCheck) >= binInterval {
		o.lastBinCheck = now
		o.checkBins(cfg)
	}

	if o.health != nil && o.health.Overheated() {
		o.handleOverheat(ctx)
	}
}

// handleOverheat pauses the line and hands a thermal fault to the recovery
// engine, which waits for the host to cool. On success the line resumes;
// otherwise it stays paused until an operator intervenes.
func (o *Orchestrator) handleOverheat(ctx context.Context) {
	o.logger.Error("temperature above limit; pausing line",
		logging.String(logging.FieldEventType, "thermal_pause"),
	)
	if err := o.Pause(); err != nil {
		o.logger.Warn("thermal pause failed", logging.Error(err))
		return
	}

	overheat := faults.Hardware(faults.SeverityHigh, "host", "temperature above thermal limit")
	o.mu.Lock()
	o.lastFault = overheat.Error()
	o.mu.Unlock()

	if o.recovery != nil && o.recovery.Handle(ctx, overheat) {
		if err := o.Resume(); err != nil {
			o.logger.Warn("resume after cooldown failed", logging.Error(err))
		}
		return
	}
	o.logger.Error("line held paused; cooldown not confirmed",
		logging.String(logging.FieldEventType, "thermal_hold"),
	)
}

// checkBins pauses the line when any bin reaches the critical threshold
// and logs alerts at the full threshold.
func (o *Orchestrator) checkBins(cfg *config.Config) {
	levels, err := o.bins.Levels()
	if err != nil {
		o.logger.Warn("bin level read failed", logging.Error(err))
		return
	}

	o.mu.Lock()
	o.binLevels = levels
	o.mu.Unlock()

	for category, level := range levels {
		if o.prom != nil {
			o.prom.BinLevelPct.WithLabelValues(category).Set(level)
		}
		switch {
		case level >= cfg.Sensors.BinCriticalThresholdPct:
			o.logger.Error("bin critically full; pausing line",
				logging.String(logging.FieldCategory, category),
				logging.Float64("level_percent", level),
				logging.String(logging.FieldEventType, "bin_critical"),
			)
			if err := o.Pause(); err != nil {
				o.logger.Warn("pause on critical bin failed", logging.Error(err))
			}
		case level >= cfg.Sensors.BinFullThresholdPct:
			o.logger.Warn("bin approaching capacity",
				logging.String(logging.FieldCategory, category),
				logging.Float64("level_percent", level),
				logging.String(logging.FieldEventType, "bin_full"),
			)
		}
	}
}

// handleTickFault counts consecutive faults and escalates to the recovery
// engine at the configured threshold. Recovery failure is terminal.
func (o *Orchestrator) handleTickFault(ctx context.Context, tickErr error) error {
	o.mu.Lock()
	o.faultStreak++
	streak := o.faultStreak
	o.lastFault = tickErr.Error()
	o.mu.Unlock()

	maxStreak := o.cfgStore.Current().Workflow.MaxConsecutiveFaults
	o.logger.Error("tick failed",
		logging.Error(tickErr),
		logging.Int("consecutive_faults", streak),
	)

	if streak < maxStreak {
		return nil
	}

	if err := o.Transition(StateRecovering); err != nil {
		o.logger.Warn("recovering transition rejected", logging.Error(err))
	}
	if o.recovery != nil && o.recovery.Handle(ctx, tickErr) {
		o.mu.Lock()
		o.faultStreak = 0
		o.mu.Unlock()
		if err := o.Transition(StateRunning); err != nil {
			return err
		}
		return nil
	}

	_ = o.Transition(StateError)
	return faults.Wrap(fmt.Errorf("unrecovered fault after %d consecutive failures: %w", streak, tickErr),
		faults.CategoryHardware, faults.SeverityCritical, "orchestrator")
}

// Status returns the controller snapshot for the API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	state := o.state
	lastFault := o.lastFault
	binLevels := make(map[string]float64, len(o.binLevels))
	for category, level := range o.binLevels {
		binLevels[category] = level
	}
	o.mu.Unlock()

	status := Status{
		State:            state,
		LastFault:        lastFault,
		QueueDepth:       len(o.queue),
		ActiveDiversions: o.scheduler.Active(),
		BinLevels:        binLevels,
	}
	if o.counters != nil {
		status.Metrics = o.counters.Snapshot()
	}
	return status
}
