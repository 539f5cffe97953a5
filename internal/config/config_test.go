package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sortline/internal/config"
	"sortline/internal/faults"
)

// writeModel creates a stand-in model file so classifier path validation
// passes in tests.
func writeModel(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func validTOML(modelPath string) string {
	return `
version = "2.1"

[vision]
device = "/dev/video0"
frame_width = 640
frame_height = 480

[classifier]
model_path = "` + modelPath + `"
class_names = ["metal", "plastic", "other"]
min_confidence = 0.5
unknown_category = "other"

[belt]
speed_mps = 0.1
activation_duration_ms = 750

[belt.distance_to_diverter_m]
metal = 0.5
plastic = 0.8

[sensors]
trigger_pin = 17

[[diverters]]
name = "metal"
type = "stepper"
dir_pin = 20
step_pin = 21

[[diverters]]
name = "plastic"
type = "onoff"
pin = 23
active_high = true

[safety]
emergency_stop_enabled = true
emergency_stop_pin = 27
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sortline.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	model := writeModel(t, t.TempDir())
	cfg, err := config.Load(writeConfig(t, validTOML(model)))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Belt.SpeedMPS != 0.1 {
		t.Fatalf("unexpected belt speed: %v", cfg.Belt.SpeedMPS)
	}
	if distance, ok := cfg.DistanceFor("metal"); !ok || distance != 0.5 {
		t.Fatalf("unexpected metal distance: %v %v", distance, ok)
	}
	if _, ok := cfg.DistanceFor("other"); ok {
		t.Fatal("did not expect a distance for the fallback category")
	}
	if cfg.Workflow.DiversionBatchSize != 5 {
		t.Fatalf("expected workflow defaults applied, got batch size %d", cfg.Workflow.DiversionBatchSize)
	}
	if idx := cfg.CategoryIndex("plastic"); idx != 1 {
		t.Fatalf("unexpected category index: %d", idx)
	}
	if idx := cfg.CategoryIndex("cardboard"); idx != -1 {
		t.Fatalf("expected -1 for unknown category, got %d", idx)
	}
}

func TestLoadMissingRequiredSectionNamesIt(t *testing.T) {
	model := writeModel(t, t.TempDir())
	base := validTOML(model)

	cases := []struct {
		name    string
		mutate  func(string) string
		section string
	}{
		{
			name:    "vision",
			mutate:  func(s string) string { return strings.Replace(s, `device = "/dev/video0"`, `device = ""`, 1) },
			section: "vision",
		},
		{
			name:    "classifier",
			mutate:  func(s string) string { return strings.Replace(s, `model_path = "`+model+`"`, `model_path = ""`, 1) },
			section: "classifier",
		},
		{
			name:    "belt",
			mutate:  func(s string) string { return strings.Replace(s, "speed_mps = 0.1", "speed_mps = 0.0", 1) },
			section: "belt",
		},
		{
			name:    "sensors",
			mutate:  func(s string) string { return strings.Replace(s, "trigger_pin = 17", "trigger_pin = 0", 1) },
			section: "sensors",
		},
		{
			name: "diverters",
			mutate: func(s string) string {
				idx := strings.Index(s, "[[diverters]]")
				return s[:idx] + "\n[safety]\nemergency_stop_enabled = false\n"
			},
			section: "diverters",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.mutate(base)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var fault *faults.Fault
			if !errors.As(err, &fault) {
				t.Fatalf("expected a configuration fault, got %T: %v", err, err)
			}
			if fault.Category != faults.CategoryConfiguration {
				t.Fatalf("expected configuration category, got %s", fault.Category)
			}
			if fault.Component != tc.section {
				t.Fatalf("expected fault to name section %q, got %q (%v)", tc.section, fault.Component, err)
			}
		})
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	model := writeModel(t, t.TempDir())
	for _, version := range []string{`"1.9"`, `"3.0"`, `""`} {
		body := strings.Replace(validTOML(model), `version = "2.1"`, "version = "+version, 1)
		_, err := config.Load(writeConfig(t, body))
		if err == nil {
			t.Fatalf("expected version %s to be rejected", version)
		}
		var fault *faults.Fault
		if !errors.As(err, &fault) || fault.Component != "version" {
			t.Fatalf("expected fault naming version, got %v", err)
		}
	}
}

func TestDiverterTypeRequiredKeys(t *testing.T) {
	model := writeModel(t, t.TempDir())
	base := validTOML(model)

	missingStep := strings.Replace(base, "step_pin = 21\n", "", 1)
	if _, err := config.Load(writeConfig(t, missingStep)); err == nil {
		t.Fatal("expected stepper without step_pin to fail validation")
	}

	missingPin := strings.Replace(base, "pin = 23\n", "", 1)
	if _, err := config.Load(writeConfig(t, missingPin)); err == nil {
		t.Fatal("expected onoff without pin to fail validation")
	}

	badType := strings.Replace(base, `type = "onoff"`, `type = "solenoid"`, 1)
	if _, err := config.Load(writeConfig(t, badType)); err == nil {
		t.Fatal("expected unknown diverter type to fail validation")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected missing file to fail")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "sortline.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected sample file: %v", err)
	}
}

func TestFallbackCategory(t *testing.T) {
	cfg := config.Default()
	if cfg.FallbackCategory() != "other" {
		t.Fatalf("unexpected fallback: %q", cfg.FallbackCategory())
	}
	cfg.Classifier.UnknownCategory = "unknown"
	if cfg.FallbackCategory() != "unknown" {
		t.Fatalf("unexpected fallback: %q", cfg.FallbackCategory())
	}
}
