package classify

import (
	"context"
	"sync"

	"sortline/internal/hardware"
)

// ScriptedDetector replays queued detection responses. It backs simulation
// mode and tests; an empty queue reports no detections.
type ScriptedDetector struct {
	mu        sync.Mutex
	loaded    bool
	responses []scriptedResponse
}

type scriptedResponse struct {
	detections []Detection
	err        error
}

// NewScriptedDetector returns an empty scripted detector.
func NewScriptedDetector() *ScriptedDetector { return &ScriptedDetector{} }

// Enqueue queues a detection response for the next frame.
func (s *ScriptedDetector) Enqueue(detections ...Detection) {
	s.mu.Lock()
	s.responses = append(s.responses, scriptedResponse{detections: detections})
	s.mu.Unlock()
}

// EnqueueError queues a failing response.
func (s *ScriptedDetector) EnqueueError(err error) {
	s.mu.Lock()
	s.responses = append(s.responses, scriptedResponse{err: err})
	s.mu.Unlock()
}

func (s *ScriptedDetector) Name() string { return "scripted" }

func (s *ScriptedDetector) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	return nil
}

func (s *ScriptedDetector) Detect(ctx context.Context, frame hardware.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil, nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.detections, next.err
}

func (s *ScriptedDetector) Close() error {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}
