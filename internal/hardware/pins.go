package hardware

import (
	"fmt"
	"sync"
)

// SimPinner is an in-memory pin bank. It records levels so tests can assert
// on actuator behavior, and rejects access to pins that were never set up.
type SimPinner struct {
	mu      sync.Mutex
	outputs map[int]bool
	inputs  map[int]bool
	levels  map[int]bool
	writes  []PinWrite
	cleaned bool
}

// PinWrite is one recorded output transition.
type PinWrite struct {
	Pin  int
	High bool
}

// NewSimPinner returns an empty simulated pin bank.
func NewSimPinner() *SimPinner {
	return &SimPinner{
		outputs: make(map[int]bool),
		inputs:  make(map[int]bool),
		levels:  make(map[int]bool),
	}
}

func (p *SimPinner) SetupOutput(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleaned {
		return fmt.Errorf("pin bank already cleaned up")
	}
	p.outputs[pin] = true
	return nil
}

func (p *SimPinner) SetupInput(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleaned {
		return fmt.Errorf("pin bank already cleaned up")
	}
	p.inputs[pin] = true
	return nil
}

func (p *SimPinner) Write(pin int, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.outputs[pin] {
		return fmt.Errorf("pin %d is not configured as an output", pin)
	}
	p.levels[pin] = high
	p.writes = append(p.writes, PinWrite{Pin: pin, High: high})
	return nil
}

func (p *SimPinner) Read(pin int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inputs[pin] && !p.outputs[pin] {
		return false, fmt.Errorf("pin %d is not configured", pin)
	}
	return p.levels[pin], nil
}

// SetInput drives a simulated input level, for tests and the sim harness.
func (p *SimPinner) SetInput(pin int, high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs[pin] = true
	p.levels[pin] = high
}

// Level returns the last written or driven level of a pin.
func (p *SimPinner) Level(pin int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin]
}

// Writes returns the recorded output transitions in order.
func (p *SimPinner) Writes() []PinWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PinWrite, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *SimPinner) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for pin := range p.outputs {
		p.levels[pin] = false
	}
	p.cleaned = true
	return nil
}
