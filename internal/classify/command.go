package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"sortline/internal/faults"
	"sortline/internal/hardware"
)

var commandContext = exec.CommandContext

// detectTimeout bounds one model invocation. A wedged runner must not stall
// the belt indefinitely.
const detectTimeout = 5 * time.Second

// CommandDetector shells out to an external model runner per frame. The
// runner receives raw RGB bytes on stdin and prints a JSON detection list
// on stdout.
type CommandDetector struct {
	binary    string
	modelPath string
}

type runnerOutput struct {
	Detections []Detection `json:"detections"`
}

// NewCommandDetector returns a detector invoking binary with modelPath.
func NewCommandDetector(binary, modelPath string) *CommandDetector {
	return &CommandDetector{binary: binary, modelPath: modelPath}
}

func (d *CommandDetector) Name() string { return d.binary }

// Load verifies the runner binary is resolvable.
func (d *CommandDetector) Load(ctx context.Context) error {
	if _, err := exec.LookPath(d.binary); err != nil {
		return faults.Wrap(fmt.Errorf("model runner %q not found: %w", d.binary, err),
			faults.CategoryClassifier, faults.SeverityCritical, "classifier")
	}
	return nil
}

func (d *CommandDetector) Detect(ctx context.Context, frame hardware.Frame) ([]Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	cmd := commandContext(ctx, d.binary,
		"--model", d.modelPath,
		"--width", strconv.Itoa(frame.Width),
		"--height", strconv.Itoa(frame.Height),
		"--format", "json",
	)
	cmd.Stdin = bytes.NewReader(frame.Data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := bytes.TrimSpace(stderr.Bytes())
		if len(detail) > 0 {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, faults.Wrap(fmt.Errorf("model runner failed: %w", err),
			faults.CategoryClassifier, faults.SeverityHigh, "classifier")
	}

	var out runnerOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, faults.Wrap(fmt.Errorf("parse runner output: %w", err),
			faults.CategoryClassifier, faults.SeverityHigh, "classifier")
	}
	return out.Detections, nil
}

func (d *CommandDetector) Close() error { return nil }
