package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"sortline/internal/faults"
)

//go:embed sample_config.toml
var sampleConfig string

// Vision contains capture settings for the camera watching the belt.
type Vision struct {
	Device       string `toml:"device"`
	FrameWidth   int    `toml:"frame_width"`
	FrameHeight  int    `toml:"frame_height"`
	WarmupFrames int    `toml:"warmup_frames"`
	SaveFrames   bool   `toml:"save_frames"`
	FrameDir     string `toml:"frame_dir"`
}

// Classifier contains settings for the external detection model binding.
type Classifier struct {
	ModelPath       string   `toml:"model_path"`
	ClassNames      []string `toml:"class_names"`
	MinConfidence   float64  `toml:"min_confidence"`
	UnknownCategory string   `toml:"unknown_category"`
}

// Belt contains conveyor geometry and timing used to convert camera-to-
// diverter distances into actuation delays.
type Belt struct {
	SpeedMPS             float64            `toml:"speed_mps"`
	DefaultSpeedPercent  int                `toml:"default_speed_percent"`
	DistancesM           map[string]float64 `toml:"distance_to_diverter_m"`
	ActivationDurationMS int                `toml:"activation_duration_ms"`
	MaxDiversionDelayS   float64            `toml:"max_diversion_delay_s"`
}

// Sensors contains trigger and bin-level sensor settings.
type Sensors struct {
	TriggerPin              int     `toml:"trigger_pin"`
	TriggerDebounceMS       int     `toml:"trigger_debounce_ms"`
	BinFullThresholdPct     float64 `toml:"bin_full_threshold_percent"`
	BinCriticalThresholdPct float64 `toml:"bin_critical_threshold_percent"`
}

// Diverter describes one physical diverter actuator. Type selects the
// variant and decides which pin fields are required.
type Diverter struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"` // "stepper" or "onoff"
	DirPin     int    `toml:"dir_pin"`
	StepPin    int    `toml:"step_pin"`
	EnablePin  int    `toml:"enable_pin"`
	StepsPerHit int   `toml:"steps_per_activation"`
	Pin        int    `toml:"pin"`
	ActiveHigh bool   `toml:"active_high"`
}

// Persistence contains optional classification/event store settings.
type Persistence struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// API contains optional monitoring API settings.
type API struct {
	Enabled      bool   `toml:"enabled"`
	Bind         string `toml:"bind"`
	Token        string `toml:"token"`
	RequireToken bool   `toml:"require_token"`
}

// Monitoring contains performance sampling thresholds.
type Monitoring struct {
	SampleIntervalS     int     `toml:"sample_interval_s"`
	HistorySize         int     `toml:"history_size"`
	CPUThresholdPct     float64 `toml:"cpu_threshold_percent"`
	MemoryThresholdPct  float64 `toml:"memory_threshold_percent"`
	TemperatureMaxC     float64 `toml:"temperature_max_c"`
	TemperatureResumeC  float64 `toml:"temperature_resume_c"`
}

// Safety contains emergency-stop and access-lockout settings.
type Safety struct {
	EmergencyStopEnabled bool `toml:"emergency_stop_enabled"`
	EmergencyStopPin     int  `toml:"emergency_stop_pin"`
	MaxFailedAttempts    int  `toml:"max_failed_attempts"`
	LockoutWindowMin     int  `toml:"lockout_window_minutes"`
}

// Workflow contains orchestrator loop timing and fault tolerance tunables.
type Workflow struct {
	TickIntervalMS        int `toml:"tick_interval_ms"`
	ObjectQueueCapacity   int `toml:"object_queue_capacity"`
	DiversionBatchSize    int `toml:"diversion_batch_size"`
	MaxConsecutiveFaults  int `toml:"max_consecutive_faults"`
	CaptureRetries        int `toml:"capture_retries"`
	ConfigCheckIntervalS  int `toml:"config_check_interval_s"`
	BinCheckIntervalS     int `toml:"bin_check_interval_s"`
	MetricsIntervalS      int `toml:"metrics_interval_s"`
	ShutdownDrainTimeoutS int `toml:"shutdown_drain_timeout_s"`
}

// Logging contains log output settings.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Config is the full sorting-line configuration document.
type Config struct {
	Version     string      `toml:"version"`
	Vision      Vision      `toml:"vision"`
	Classifier  Classifier  `toml:"classifier"`
	Belt        Belt        `toml:"belt"`
	Sensors     Sensors     `toml:"sensors"`
	Diverters   []Diverter  `toml:"diverters"`
	Persistence Persistence `toml:"persistence"`
	API         API         `toml:"api"`
	Monitoring  Monitoring  `toml:"monitoring"`
	Safety      Safety      `toml:"safety"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the conventional configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sortline/config.toml")
}

// Load parses, normalizes, and validates a configuration file. The file must
// exist: an industrial line never runs on implicit defaults.
func Load(path string) (*Config, error) {
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, faults.Configuration("file", fmt.Sprintf("configuration file %s unreadable: %v", resolved, err))
	}
	return Parse(data)
}

// Parse decodes, normalizes, and validates a raw TOML document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, faults.Configuration("file", fmt.Sprintf("parse config: %v", err))
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DiverterFor returns the diverter entry for a category name, if configured.
func (c *Config) DiverterFor(category string) (Diverter, bool) {
	for _, d := range c.Diverters {
		if strings.EqualFold(d.Name, category) {
			return d, true
		}
	}
	return Diverter{}, false
}

// DistanceFor returns the camera-to-diverter distance for a category.
func (c *Config) DistanceFor(category string) (float64, bool) {
	distance, ok := c.Belt.DistancesM[category]
	return distance, ok
}

// CategoryIndex returns the index of a category in the configured class list,
// or -1 when unknown.
func (c *Config) CategoryIndex(category string) int {
	for i, name := range c.Classifier.ClassNames {
		if name == category {
			return i
		}
	}
	return -1
}

// FallbackCategory returns the category used when the classifier reports no
// usable detection.
func (c *Config) FallbackCategory() string {
	if c.Classifier.UnknownCategory != "" {
		return c.Classifier.UnknownCategory
	}
	return "other"
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.Classifier.ModelPath, &c.Persistence.Path, &c.Logging.Dir, &c.Vision.FrameDir} {
		if *field == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return faults.Configuration("paths", err.Error())
		}
		*field = expanded
	}
	for i := range c.Diverters {
		c.Diverters[i].Name = strings.TrimSpace(c.Diverters[i].Name)
		c.Diverters[i].Type = strings.ToLower(strings.TrimSpace(c.Diverters[i].Type))
	}
	return nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Logging.Dir}
	if c.Persistence.Enabled && c.Persistence.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Persistence.Path))
	}
	if c.Vision.SaveFrames && c.Vision.FrameDir != "" {
		dirs = append(dirs, c.Vision.FrameDir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
