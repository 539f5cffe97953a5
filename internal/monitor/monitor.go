// Package monitor samples host health (CPU, memory, disk, temperature,
// network) and raises threshold alerts for the recovery engine and the
// status API.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sortline/internal/config"
	"sortline/internal/logging"
	"sortline/internal/metrics"
)

// Sample is one host health reading.
type Sample struct {
	At            time.Time `json:"at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	TemperatureC  float64   `json:"temperature_c"`
	NetRxBytes    uint64    `json:"net_rx_bytes"`
	NetTxBytes    uint64    `json:"net_tx_bytes"`
}

// AlertKind names a threshold breach.
type AlertKind string

const (
	AlertHighCPU         AlertKind = "high_cpu"
	AlertHighMemory      AlertKind = "high_memory"
	AlertHighTemperature AlertKind = "high_temperature"
)

// Alert is one raised threshold breach.
type Alert struct {
	ID      string    `json:"id"`
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	Value   float64   `json:"value"`
	At      time.Time `json:"at"`
}

// Summary aggregates the retained history for the status API.
type Summary struct {
	Latest       Sample  `json:"latest"`
	Samples      int     `json:"samples"`
	AvgCPU       float64 `json:"avg_cpu_percent"`
	AvgMemory    float64 `json:"avg_memory_percent"`
	PeakCPU      float64 `json:"peak_cpu_percent"`
	PeakMemory   float64 `json:"peak_memory_percent"`
	PeakTempC    float64 `json:"peak_temperature_c"`
	ActiveAlerts int     `json:"active_alerts"`
}

// alertDedupWindow is how many recent alerts suppress a repeat of the same
// kind, keeping a sustained breach from flooding the alert log.
const alertDedupWindow = 10

// Sampler periodically reads host health and evaluates thresholds.
type Sampler struct {
	cfg    config.Monitoring
	logger *slog.Logger
	prom   *metrics.Collectors

	// Filesystem roots, overridable in tests.
	procRoot string
	sysRoot  string
	diskPath string

	onAlert func(Alert)

	mu      sync.Mutex
	history []Sample
	alerts  []Alert
	lastCPU *cpuTimes
}

// NewSampler returns a sampler with the configured thresholds. Collectors
// may be nil when Prometheus export is disabled.
func NewSampler(cfg config.Monitoring, logger *slog.Logger, prom *metrics.Collectors) *Sampler {
	return &Sampler{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "monitor"),
		prom:     prom,
		procRoot: "/proc",
		sysRoot:  "/sys",
		diskPath: "/",
	}
}

// OnAlert registers a callback invoked for every raised alert. Must be set
// before Run starts.
func (s *Sampler) OnAlert(fn func(Alert)) { s.onAlert = fn }

// Run samples on the configured interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.SampleIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SampleOnce(); err != nil {
				s.logger.Warn("health sample failed", logging.Error(err))
			}
		}
	}
}

// SampleOnce reads one sample, records it, and evaluates thresholds.
func (s *Sampler) SampleOnce() (Sample, error) {
	sample := Sample{At: time.Now()}

	cpu, err := s.readCPUPercent()
	if err != nil {
		return sample, fmt.Errorf("read cpu: %w", err)
	}
	sample.CPUPercent = cpu

	memory, err := s.readMemoryPercent()
	if err != nil {
		return sample, fmt.Errorf("read memory: %w", err)
	}
	sample.MemoryPercent = memory

	if disk, err := s.readDiskPercent(); err == nil {
		sample.DiskPercent = disk
	}
	if temp, err := s.readTemperature(); err == nil {
		sample.TemperatureC = temp
	}
	if rx, tx, err := s.readNetworkBytes(); err == nil {
		sample.NetRxBytes = rx
		sample.NetTxBytes = tx
	}

	s.record(sample)
	s.evaluate(sample)
	s.export(sample)
	return sample, nil
}

func (s *Sampler) record(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, sample)
	if limit := s.cfg.HistorySize; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

func (s *Sampler) export(sample Sample) {
	if s.prom == nil {
		return
	}
	s.prom.CPUPercent.Set(sample.CPUPercent)
	s.prom.MemoryPercent.Set(sample.MemoryPercent)
	s.prom.TemperatureC.Set(sample.TemperatureC)
}

func (s *Sampler) evaluate(sample Sample) {
	if s.cfg.CPUThresholdPct > 0 && sample.CPUPercent > s.cfg.CPUThresholdPct {
		s.raise(AlertHighCPU, sample.CPUPercent,
			fmt.Sprintf("cpu utilization %.1f%% above %.1f%%", sample.CPUPercent, s.cfg.CPUThresholdPct))
	}
	if s.cfg.MemoryThresholdPct > 0 && sample.MemoryPercent > s.cfg.MemoryThresholdPct {
		s.raise(AlertHighMemory, sample.MemoryPercent,
			fmt.Sprintf("memory utilization %.1f%% above %.1f%%", sample.MemoryPercent, s.cfg.MemoryThresholdPct))
	}
	if s.cfg.TemperatureMaxC > 0 && sample.TemperatureC > s.cfg.TemperatureMaxC {
		s.raise(AlertHighTemperature, sample.TemperatureC,
			fmt.Sprintf("temperature %.1fC above %.1fC", sample.TemperatureC, s.cfg.TemperatureMaxC))
	}
}

// raise appends an alert unless the same kind fired within the dedup window.
func (s *Sampler) raise(kind AlertKind, value float64, message string) {
	s.mu.Lock()
	start := len(s.alerts) - alertDedupWindow
	if start < 0 {
		start = 0
	}
	for _, recent := range s.alerts[start:] {
		if recent.Kind == kind {
			s.mu.Unlock()
			return
		}
	}
	alert := Alert{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: message,
		Value:   value,
		At:      time.Now(),
	}
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()

	s.logger.Warn("health alert",
		logging.String(logging.FieldEventType, string(kind)),
		logging.String("alert_id", alert.ID),
		logging.Float64("value", value),
	)
	if s.onAlert != nil {
		s.onAlert(alert)
	}
}

// Latest returns the most recent sample, if any.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Sample{}, false
	}
	return s.history[len(s.history)-1], true
}

// Overheated reports whether the latest temperature reading exceeds the
// configured maximum.
func (s *Sampler) Overheated() bool {
	latest, ok := s.Latest()
	return ok && s.cfg.TemperatureMaxC > 0 && latest.TemperatureC > s.cfg.TemperatureMaxC
}

// Cooled reports whether the latest temperature dropped to the resume point.
func (s *Sampler) Cooled() bool {
	latest, ok := s.Latest()
	return ok && latest.TemperatureC <= s.cfg.TemperatureResumeC
}

// Alerts returns up to limit alerts, newest first.
func (s *Sampler) Alerts(limit int) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]Alert, 0, limit)
	for i := len(s.alerts) - 1; i >= len(s.alerts)-limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out
}

// Summary aggregates the retained history.
func (s *Sampler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{Samples: len(s.history), ActiveAlerts: len(s.alerts)}
	if len(s.history) == 0 {
		return summary
	}
	summary.Latest = s.history[len(s.history)-1]

	var cpuSum, memSum float64
	for _, sample := range s.history {
		cpuSum += sample.CPUPercent
		memSum += sample.MemoryPercent
		if sample.CPUPercent > summary.PeakCPU {
			summary.PeakCPU = sample.CPUPercent
		}
		if sample.MemoryPercent > summary.PeakMemory {
			summary.PeakMemory = sample.MemoryPercent
		}
		if sample.TemperatureC > summary.PeakTempC {
			summary.PeakTempC = sample.TemperatureC
		}
	}
	summary.AvgCPU = cpuSum / float64(len(s.history))
	summary.AvgMemory = memSum / float64(len(s.history))
	return summary
}
