// Package classify binds the controller to the object detection model and
// turns raw detections into a sorting decision.
package classify

import (
	"context"

	"sortline/internal/hardware"
)

// BBox is a detection bounding box in pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one raw model detection.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

// Result is the sorting decision derived from a frame's detections.
type Result struct {
	Category   string
	Confidence float64
	Fallback   bool
	Detection  *Detection
}

// Detector runs the detection model over captured frames.
type Detector interface {
	Name() string
	Load(ctx context.Context) error
	Detect(ctx context.Context, frame hardware.Frame) ([]Detection, error)
	Close() error
}

// Resolve picks the sorting category for a set of detections: the highest
// confidence detection whose label is a known class and clears the
// confidence floor wins. With no qualifying detection the fallback category
// is used so every object still gets routed somewhere.
func Resolve(detections []Detection, classNames []string, minConfidence float64, fallback string) Result {
	known := make(map[string]struct{}, len(classNames))
	for _, name := range classNames {
		known[name] = struct{}{}
	}

	var best *Detection
	for i := range detections {
		d := &detections[i]
		if d.Confidence < minConfidence {
			continue
		}
		if _, ok := known[d.Label]; !ok {
			continue
		}
		if best == nil || d.Confidence > best.Confidence {
			best = d
		}
	}

	if best == nil {
		return Result{Category: fallback, Fallback: true}
	}
	return Result{
		Category:   best.Label,
		Confidence: best.Confidence,
		Detection:  best,
	}
}
