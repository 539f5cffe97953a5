// Package hardware abstracts the sorting line's physical I/O: the camera,
// the trigger and bin sensors, GPIO pins, and the diverter actuators.
// Simulated implementations back every interface so the controller runs on
// a development host without line hardware.
package hardware

import (
	"context"
	"time"
)

// Frame is one captured camera image.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// FrameSource produces frames from the camera watching the belt.
type FrameSource interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// TriggerSensor reports whether an object crossed the camera line since the
// last poll. Implementations debounce internally.
type TriggerSensor interface {
	Triggered() (bool, error)
}

// BinLevelSensor reports collection bin fill levels in percent, by category.
type BinLevelSensor interface {
	Levels() (map[string]float64, error)
}

// EmergencyStopInput reads the physical emergency stop circuit.
type EmergencyStopInput interface {
	Engaged() (bool, error)
}

// Pinner is the minimal GPIO surface the diverters and sensors need.
type Pinner interface {
	SetupOutput(pin int) error
	SetupInput(pin int) error
	Write(pin int, high bool) error
	Read(pin int) (bool, error)
	Cleanup() error
}
