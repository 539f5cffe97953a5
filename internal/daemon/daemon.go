package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"sortline/internal/api"
	"sortline/internal/classify"
	"sortline/internal/config"
	"sortline/internal/faults"
	"sortline/internal/hardware"
	"sortline/internal/lifecycle"
	"sortline/internal/logging"
	"sortline/internal/metrics"
	"sortline/internal/monitor"
	"sortline/internal/orchestrator"
	"sortline/internal/recovery"
	"sortline/internal/security"
	"sortline/internal/store"
)

// defaultRunnerBinary is the external model runner invoked per frame when no
// detector is injected.
const defaultRunnerBinary = "sortline-runner"

// stopTimeout bounds component teardown on shutdown.
const stopTimeout = 15 * time.Second

// Devices carries the hardware bindings the daemon drives. Nil fields are
// filled with defaults: pin-backed sensors when Pins is provided, fully
// simulated devices otherwise, so the runtime works without hardware.
type Devices struct {
	Pins     hardware.Pinner
	Frames   hardware.FrameSource
	Trigger  hardware.TriggerSensor
	Bins     hardware.BinLevelSensor
	Stop     hardware.EmergencyStopInput
	Detector classify.Detector
}

// Daemon owns the assembled runtime and enforces single-instance execution.
type Daemon struct {
	cfgStore *config.Store
	logger   *slog.Logger

	lockPath string
	lock     *flock.Flock

	registry *prometheus.Registry
	counters *metrics.Counters
	prom     *metrics.Collectors

	devices   Devices
	bank      *hardware.Bank
	db        *store.Store
	watchdog  *security.Watchdog
	sampler   *monitor.Sampler
	engine    *recovery.Engine
	scheduler *orchestrator.Scheduler
	orch      *orchestrator.Orchestrator
	manager   *lifecycle.Manager
	camera    *cameraMonitor
	apiSrv    *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	runErr error
}

// New assembles a daemon from the validated configuration. Nil device fields
// are filled with defaults; see Devices.
func New(cfgStore *config.Store, devices Devices, logger *slog.Logger) (*Daemon, error) {
	if cfgStore == nil {
		return nil, errors.New("daemon requires a config store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg := cfgStore.Current()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	if err := fillDevices(&devices, cfg); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	prom := metrics.NewCollectors(registry)
	counters := metrics.NewCounters(prom)

	db, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open persistence: %w", err)
	}

	bank, err := hardware.NewBank(cfg, devices.Pins, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	watchdog := security.NewWatchdog(cfg.Safety, devices.Stop, logger)
	sampler := monitor.NewSampler(cfg.Monitoring, logger, prom)
	engine := recovery.NewEngine(logger, counters)

	scheduler := orchestrator.NewScheduler(cfgStore, bank, watchdog, db, counters, prom, logger)
	orch := orchestrator.New(orchestrator.Deps{
		ConfigStore: cfgStore,
		Frames:      devices.Frames,
		Trigger:     devices.Trigger,
		Bins:        devices.Bins,
		Detector:    devices.Detector,
		Scheduler:   scheduler,
		Stops:       watchdog,
		DB:          db,
		Counters:    counters,
		Collectors:  prom,
		Recovery:    engine,
		Health:      sampler,
		Logger:      logger,
	})

	lockPath := filepath.Join(cfg.Logging.Dir, "sortlined.lock")
	d := &Daemon{
		cfgStore:  cfgStore,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		registry:  registry,
		counters:  counters,
		prom:      prom,
		devices:   devices,
		bank:      bank,
		db:        db,
		watchdog:  watchdog,
		sampler:   sampler,
		engine:    engine,
		scheduler: scheduler,
		orch:      orch,
	}

	d.manager = d.buildLifecycle(logger)
	d.camera = newCameraMonitor(cfg.Vision.Device, logger, d.handleCameraEvent)
	d.apiSrv = newAPIServer(cfg, d, logger)

	watchdog.OnStateChange(d.onEmergencyStop, d.onEmergencyClear)
	sampler.OnAlert(d.onHealthAlert)
	registerStrategies(engine, strategyDeps{
		frames:   devices.Frames,
		detector: devices.Detector,
		bank:     bank,
		sampler:  sampler,
	})

	return d, nil
}

// fillDevices replaces nil bindings with configured or simulated defaults.
func fillDevices(devices *Devices, cfg *config.Config) error {
	pinBacked := devices.Pins != nil
	if devices.Pins == nil {
		devices.Pins = hardware.NewSimPinner()
	}
	if devices.Trigger == nil {
		if pinBacked {
			debounce := time.Duration(cfg.Sensors.TriggerDebounceMS) * time.Millisecond
			trigger, err := hardware.NewPinTrigger(devices.Pins, cfg.Sensors.TriggerPin, debounce)
			if err != nil {
				return fmt.Errorf("trigger input: %w", err)
			}
			devices.Trigger = trigger
		} else {
			devices.Trigger = hardware.NewSimTriggerSensor()
		}
	}
	if devices.Stop == nil && cfg.Safety.EmergencyStopEnabled {
		if pinBacked {
			stop, err := hardware.NewPinEStop(devices.Pins, cfg.Safety.EmergencyStopPin)
			if err != nil {
				return fmt.Errorf("emergency stop input: %w", err)
			}
			devices.Stop = stop
		} else {
			devices.Stop = hardware.NewSimEStop()
		}
	}
	if devices.Frames == nil {
		devices.Frames = hardware.NewSimFrameSource(cfg.Vision.FrameWidth, cfg.Vision.FrameHeight)
	}
	if devices.Bins == nil {
		devices.Bins = hardware.NewSimBinSensor(cfg.Classifier.ClassNames)
	}
	if devices.Detector == nil {
		devices.Detector = classify.NewCommandDetector(defaultRunnerBinary, cfg.Classifier.ModelPath)
	}
	return nil
}

// buildLifecycle wires the ordered component bring-up. Teardown runs in
// reverse registration order.
func (d *Daemon) buildLifecycle(logger *slog.Logger) *lifecycle.Manager {
	manager := lifecycle.NewManager(logger)
	cfg := d.cfgStore.Current()

	manager.Add(
		lifecycle.Funcs{
			ComponentName: "security",
			IsCritical:    true,
			InitFunc: func(ctx context.Context) error {
				d.watchdog.Check()
				return nil
			},
			ShutdownFunc: func(ctx context.Context) error { return nil },
		},
		lifecycle.Funcs{
			ComponentName: "monitor",
			InitFunc: func(ctx context.Context) error {
				_, err := d.sampler.SampleOnce()
				return err
			},
			ShutdownFunc: func(ctx context.Context) error { return nil },
		},
		lifecycle.Funcs{
			ComponentName: "outputs",
			IsCritical:    true,
			InitFunc: func(ctx context.Context) error {
				return d.bank.StopAll()
			},
			ShutdownFunc: func(ctx context.Context) error {
				return d.bank.ResetOutputs()
			},
		},
		lifecycle.Funcs{
			ComponentName: "vision",
			IsCritical:    true,
			InitFunc: func(ctx context.Context) error {
				if err := d.devices.Frames.Open(ctx); err != nil {
					return err
				}
				for i := 0; i < cfg.Vision.WarmupFrames; i++ {
					if _, err := d.devices.Frames.Capture(ctx); err != nil {
						return fmt.Errorf("warmup capture %d: %w", i+1, err)
					}
				}
				return nil
			},
			ShutdownFunc: func(ctx context.Context) error {
				return d.devices.Frames.Close()
			},
		},
		lifecycle.Funcs{
			ComponentName: "classifier",
			IsCritical:    true,
			InitFunc: func(ctx context.Context) error {
				return d.devices.Detector.Load(ctx)
			},
			ShutdownFunc: func(ctx context.Context) error {
				return d.devices.Detector.Close()
			},
		},
		lifecycle.Funcs{
			ComponentName: "persistence",
			InitFunc: func(ctx context.Context) error {
				return d.db.LogEvent(ctx, "startup", "daemon", "info", "sorting line starting")
			},
			ShutdownFunc: func(ctx context.Context) error {
				_ = d.db.LogEvent(ctx, "shutdown", "daemon", "info", "sorting line stopped")
				return d.db.Close()
			},
		},
	)
	return manager
}

// Start acquires the instance lock, brings up all components, and launches
// the background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sortline daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.StartAll(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.orch.Ready(); err != nil {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		_ = d.manager.StopAll(stopCtx)
		stopCancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.watchdog.Run(runCtx)
	}()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.sampler.Run(runCtx)
	}()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.cfgStore.Watch(runCtx, d.onConfigReload)
	}()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.orch.Run(runCtx); err != nil {
			d.mu.Lock()
			d.runErr = err
			d.mu.Unlock()
			d.logger.Error("pipeline stopped on unrecovered fault", logging.Error(err))
			eventCtx, eventCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = d.db.LogEvent(eventCtx, "pipeline_dead", "orchestrator", "critical", err.Error())
			eventCancel()
		}
	}()

	if err := d.camera.Start(runCtx); err != nil {
		d.logger.Warn("camera monitor unavailable", logging.Error(err))
	}
	if err := d.apiSrv.start(runCtx); err != nil {
		d.logger.Warn("api server unavailable", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pid", os.Getpid()),
	)
	return nil
}

// Stop cancels the background loops, tears down components in reverse order,
// and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	d.apiSrv.stop()
	d.camera.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := d.manager.StopAll(stopCtx); err != nil {
		d.logger.Warn("component teardown reported errors", logging.Error(err))
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon. Persistence is closed by component teardown.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// RunErr returns the terminal pipeline fault, if the loop died.
func (d *Daemon) RunErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Running reports whether the daemon has started and not yet stopped.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status assembles the full daemon snapshot served by the API.
func (d *Daemon) Status() api.StatusResponse {
	orchStatus := d.orch.Status()

	components := make(map[string]string)
	for name, st := range d.manager.Status() {
		components[name] = string(st)
	}
	diverters := make(map[string]string)
	for name, st := range d.bank.Status() {
		diverters[name] = string(st)
	}

	return api.StatusResponse{
		Running:          d.running.Load(),
		PID:              os.Getpid(),
		State:            string(orchStatus.State),
		LastFault:        orchStatus.LastFault,
		EmergencyStop:    d.watchdog.EmergencyStopActive(),
		QueueDepth:       orchStatus.QueueDepth,
		ActiveDiversions: orchStatus.ActiveDiversions,
		Components:       components,
		Diverters:        diverters,
		BinLevels:        orchStatus.BinLevels,
		CameraMonitor:    d.camera.Running(),
		LockPath:         d.lockPath,
		DatabasePath:     d.db.Path(),
	}
}

// onEmergencyStop halts actuation immediately. The orchestrator tick loop
// already gates on the latched flag; homing the paddles is the urgent part.
func (d *Daemon) onEmergencyStop() {
	if err := d.bank.StopAll(); err != nil {
		d.logger.Error("failed to home diverters on emergency stop", logging.Error(err))
	}
	if err := d.orch.Pause(); err != nil {
		d.logger.Warn("pause on emergency stop rejected", logging.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.db.LogEvent(ctx, "estop_engaged", "security", "critical", "emergency stop engaged")
}

// onEmergencyClear lands the line in maintenance. Sorting never auto-resumes
// after a stop; an operator must resume explicitly.
func (d *Daemon) onEmergencyClear() {
	if err := d.orch.EnterMaintenance(); err != nil {
		d.logger.Warn("maintenance transition after stop clear rejected", logging.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.db.LogEvent(ctx, "estop_cleared", "security", "warning", "emergency stop cleared; line in maintenance")
}

func (d *Daemon) onConfigReload(cfg *config.Config) {
	d.logger.Info("configuration reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("path", d.cfgStore.Path()),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.db.LogEvent(ctx, "config_reloaded", "daemon", "info",
		fmt.Sprintf("configuration reloaded from %s", d.cfgStore.Path()))
}

func (d *Daemon) onHealthAlert(alert monitor.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.db.LogEvent(ctx, string(alert.Kind), "monitor", "warning", alert.Message)

	// Memory pressure has a registered strategy; hand it the fault so the
	// allocator gets a chance to release pages before the OOM killer does.
	if alert.Kind == monitor.AlertHighMemory {
		d.engine.Handle(ctx, faults.Hardware(faults.SeverityHigh, "host", alert.Message))
	}
}
