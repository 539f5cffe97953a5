package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"sortline/internal/faults"
)

// Schema version gate. Documents outside [min, max) are rejected so a
// controller never runs against a layout it does not understand.
const (
	minSchemaMajor = 2
	maxSchemaMajor = 3
)

// Validate ensures the configuration is usable. Every failure is a
// configuration fault naming the offending section.
func (c *Config) Validate() error {
	if err := c.validateVersion(); err != nil {
		return err
	}
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateBelt(); err != nil {
		return err
	}
	if err := c.validateSensors(); err != nil {
		return err
	}
	if err := c.validateDiverters(); err != nil {
		return err
	}
	if err := c.validateMonitoring(); err != nil {
		return err
	}
	if err := c.validateSafety(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateAPI()
}

func (c *Config) validateVersion() error {
	major, err := schemaMajor(c.Version)
	if err != nil {
		return faults.Configuration("version", err.Error())
	}
	if major < minSchemaMajor || major >= maxSchemaMajor {
		return faults.Configuration("version", fmt.Sprintf(
			"schema version %s unsupported; supported range is %d.x", c.Version, minSchemaMajor))
	}
	return nil
}

func schemaMajor(version string) (int, error) {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return 0, fmt.Errorf("version must be set")
	}
	head := trimmed
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		head = trimmed[:idx]
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("version %q is not a <major>.<minor> number", version)
	}
	return major, nil
}

func (c *Config) validateVision() error {
	if strings.TrimSpace(c.Vision.Device) == "" {
		return faults.Configuration("vision", "vision.device must be set")
	}
	if c.Vision.FrameWidth <= 0 || c.Vision.FrameHeight <= 0 {
		return faults.Configuration("vision", "vision frame dimensions must be positive")
	}
	if c.Vision.SaveFrames && strings.TrimSpace(c.Vision.FrameDir) == "" {
		return faults.Configuration("vision", "vision.frame_dir must be set when vision.save_frames is true")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if strings.TrimSpace(c.Classifier.ModelPath) == "" {
		return faults.Configuration("classifier", "classifier.model_path must be set")
	}
	if info, err := os.Stat(c.Classifier.ModelPath); err != nil || info.IsDir() {
		return faults.Configuration("classifier", fmt.Sprintf("classifier model file not found: %s", c.Classifier.ModelPath))
	}
	if len(c.Classifier.ClassNames) == 0 {
		return faults.Configuration("classifier", "classifier.class_names must list at least one category")
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return faults.Configuration("classifier", "classifier.min_confidence must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateBelt() error {
	if c.Belt.SpeedMPS <= 0 {
		return faults.Configuration("belt", "belt.speed_mps must be positive")
	}
	if c.Belt.DefaultSpeedPercent <= 0 || c.Belt.DefaultSpeedPercent > 100 {
		return faults.Configuration("belt", "belt.default_speed_percent must be in (0, 100]")
	}
	if c.Belt.ActivationDurationMS <= 0 {
		return faults.Configuration("belt", "belt.activation_duration_ms must be positive")
	}
	if c.Belt.MaxDiversionDelayS <= 0 {
		return faults.Configuration("belt", "belt.max_diversion_delay_s must be positive")
	}
	for category, distance := range c.Belt.DistancesM {
		if distance <= 0 {
			return faults.Configuration("belt", fmt.Sprintf("belt.distance_to_diverter_m[%s] must be positive", category))
		}
	}
	return nil
}

func (c *Config) validateSensors() error {
	if c.Sensors.TriggerPin <= 0 {
		return faults.Configuration("sensors", "sensors.trigger_pin must be set")
	}
	if c.Sensors.TriggerDebounceMS < 0 {
		return faults.Configuration("sensors", "sensors.trigger_debounce_ms must be >= 0")
	}
	if c.Sensors.BinFullThresholdPct <= 0 || c.Sensors.BinFullThresholdPct > 100 {
		return faults.Configuration("sensors", "sensors.bin_full_threshold_percent must be in (0, 100]")
	}
	if c.Sensors.BinCriticalThresholdPct < c.Sensors.BinFullThresholdPct || c.Sensors.BinCriticalThresholdPct > 100 {
		return faults.Configuration("sensors", "sensors.bin_critical_threshold_percent must be in [full threshold, 100]")
	}
	return nil
}

func (c *Config) validateDiverters() error {
	if len(c.Diverters) == 0 {
		return faults.Configuration("diverters", "at least one diverter must be configured")
	}
	seen := make(map[string]struct{}, len(c.Diverters))
	for _, d := range c.Diverters {
		if d.Name == "" {
			return faults.Configuration("diverters", "diverter name must be set")
		}
		if _, dup := seen[strings.ToLower(d.Name)]; dup {
			return faults.Configuration("diverters", fmt.Sprintf("duplicate diverter name %q", d.Name))
		}
		seen[strings.ToLower(d.Name)] = struct{}{}

		switch d.Type {
		case "stepper":
			if d.DirPin <= 0 || d.StepPin <= 0 {
				return faults.Configuration("diverters", fmt.Sprintf(
					"diverter %q: dir_pin and step_pin are required for type stepper", d.Name))
			}
		case "onoff":
			if d.Pin <= 0 {
				return faults.Configuration("diverters", fmt.Sprintf(
					"diverter %q: pin is required for type onoff", d.Name))
			}
		case "":
			return faults.Configuration("diverters", fmt.Sprintf("diverter %q: type must be set", d.Name))
		default:
			return faults.Configuration("diverters", fmt.Sprintf(
				"diverter %q: unknown type %q (want stepper or onoff)", d.Name, d.Type))
		}
	}
	return nil
}

func (c *Config) validateMonitoring() error {
	if c.Monitoring.SampleIntervalS <= 0 {
		return faults.Configuration("monitoring", "monitoring.sample_interval_s must be positive")
	}
	if c.Monitoring.HistorySize <= 0 {
		return faults.Configuration("monitoring", "monitoring.history_size must be positive")
	}
	if c.Monitoring.TemperatureResumeC >= c.Monitoring.TemperatureMaxC {
		return faults.Configuration("monitoring", "monitoring.temperature_resume_c must be below temperature_max_c")
	}
	return nil
}

func (c *Config) validateSafety() error {
	if c.Safety.EmergencyStopEnabled && c.Safety.EmergencyStopPin <= 0 {
		return faults.Configuration("safety", "safety.emergency_stop_pin must be set when the emergency stop is enabled")
	}
	if c.Safety.MaxFailedAttempts <= 0 {
		return faults.Configuration("safety", "safety.max_failed_attempts must be positive")
	}
	if c.Safety.LockoutWindowMin <= 0 {
		return faults.Configuration("safety", "safety.lockout_window_minutes must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	positives := map[string]int{
		"workflow.tick_interval_ms":         c.Workflow.TickIntervalMS,
		"workflow.object_queue_capacity":    c.Workflow.ObjectQueueCapacity,
		"workflow.diversion_batch_size":     c.Workflow.DiversionBatchSize,
		"workflow.max_consecutive_faults":   c.Workflow.MaxConsecutiveFaults,
		"workflow.capture_retries":          c.Workflow.CaptureRetries,
		"workflow.config_check_interval_s":  c.Workflow.ConfigCheckIntervalS,
		"workflow.bin_check_interval_s":     c.Workflow.BinCheckIntervalS,
		"workflow.metrics_interval_s":       c.Workflow.MetricsIntervalS,
		"workflow.shutdown_drain_timeout_s": c.Workflow.ShutdownDrainTimeoutS,
	}
	for key, value := range positives {
		if value <= 0 {
			return faults.Configuration("workflow", fmt.Sprintf("%s must be positive", key))
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Enabled && strings.TrimSpace(c.API.Bind) == "" {
		return faults.Configuration("api", "api.bind must be set when api.enabled is true")
	}
	if c.API.RequireToken && strings.TrimSpace(c.API.Token) == "" {
		return faults.Configuration("api", "api.token must be set when api.require_token is true")
	}
	return nil
}
