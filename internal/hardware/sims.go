package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimFrameSource replays scripted frames. An empty script produces synthetic
// frames so long-running simulations never starve.
type SimFrameSource struct {
	mu     sync.Mutex
	opened bool
	script []Frame
	errs   []error
	next   int
	width  int
	height int
}

// NewSimFrameSource returns a source producing width x height frames.
func NewSimFrameSource(width, height int) *SimFrameSource {
	return &SimFrameSource{width: width, height: height}
}

// Enqueue appends a scripted frame.
func (s *SimFrameSource) Enqueue(frame Frame) {
	s.mu.Lock()
	s.script = append(s.script, frame)
	s.mu.Unlock()
}

// FailNext makes the next Capture return err.
func (s *SimFrameSource) FailNext(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *SimFrameSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *SimFrameSource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return Frame{}, fmt.Errorf("frame source is not open")
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Frame{}, err
	}
	if s.next < len(s.script) {
		frame := s.script[s.next]
		s.next++
		return frame, nil
	}
	return Frame{
		Data:       make([]byte, s.width*s.height*3),
		Width:      s.width,
		Height:     s.height,
		CapturedAt: time.Now(),
	}, nil
}

func (s *SimFrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// SimTriggerSensor fires once per queued pulse.
type SimTriggerSensor struct {
	mu      sync.Mutex
	pending int
	err     error
}

// NewSimTriggerSensor returns a quiet trigger.
func NewSimTriggerSensor() *SimTriggerSensor { return &SimTriggerSensor{} }

// Pulse queues one trigger event.
func (s *SimTriggerSensor) Pulse() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
}

// Fail makes every subsequent poll return err until cleared with Fail(nil).
func (s *SimTriggerSensor) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *SimTriggerSensor) Triggered() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.pending > 0 {
		s.pending--
		return true, nil
	}
	return false, nil
}

// SimBinSensor reports settable fill levels.
type SimBinSensor struct {
	mu     sync.Mutex
	levels map[string]float64
	err    error
}

// NewSimBinSensor returns a sensor with every configured bin empty.
func NewSimBinSensor(categories []string) *SimBinSensor {
	levels := make(map[string]float64, len(categories))
	for _, category := range categories {
		levels[category] = 0
	}
	return &SimBinSensor{levels: levels}
}

// SetLevel drives one bin's fill percentage.
func (s *SimBinSensor) SetLevel(category string, percent float64) {
	s.mu.Lock()
	s.levels[category] = percent
	s.mu.Unlock()
}

// Fail makes Levels return err until cleared.
func (s *SimBinSensor) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *SimBinSensor) Levels() (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]float64, len(s.levels))
	for category, level := range s.levels {
		out[category] = level
	}
	return out, nil
}

// SimEStop is a settable emergency stop circuit.
type SimEStop struct {
	mu      sync.Mutex
	engaged bool
	err     error
}

// NewSimEStop returns a disengaged circuit.
func NewSimEStop() *SimEStop { return &SimEStop{} }

// SetEngaged drives the circuit state.
func (s *SimEStop) SetEngaged(engaged bool) {
	s.mu.Lock()
	s.engaged = engaged
	s.mu.Unlock()
}

// Fail makes Engaged return err until cleared.
func (s *SimEStop) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *SimEStop) Engaged() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.engaged, nil
}

// PinEStop reads the emergency stop from a GPIO input. The circuit is
// normally closed: a high read means the loop is intact, low means stop.
type PinEStop struct {
	pins Pinner
	pin  int
}

// NewPinEStop configures the input pin and returns the reader.
func NewPinEStop(pins Pinner, pin int) (*PinEStop, error) {
	if err := pins.SetupInput(pin); err != nil {
		return nil, err
	}
	return &PinEStop{pins: pins, pin: pin}, nil
}

func (e *PinEStop) Engaged() (bool, error) {
	high, err := e.pins.Read(e.pin)
	if err != nil {
		return false, err
	}
	return !high, nil
}

// PinTrigger reads the object trigger from a GPIO input with debouncing.
type PinTrigger struct {
	pins     Pinner
	pin      int
	debounce time.Duration

	mu       sync.Mutex
	lastHigh bool
	lastEdge time.Time
}

// NewPinTrigger configures the input pin and returns the sensor.
func NewPinTrigger(pins Pinner, pin int, debounce time.Duration) (*PinTrigger, error) {
	if err := pins.SetupInput(pin); err != nil {
		return nil, err
	}
	return &PinTrigger{pins: pins, pin: pin, debounce: debounce}, nil
}

// Triggered reports a rising edge, at most once per debounce window.
func (t *PinTrigger) Triggered() (bool, error) {
	high, err := t.pins.Read(t.pin)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rising := high && !t.lastHigh
	t.lastHigh = high
	if !rising {
		return false, nil
	}
	now := time.Now()
	if now.Sub(t.lastEdge) < t.debounce {
		return false, nil
	}
	t.lastEdge = now
	return true, nil
}
