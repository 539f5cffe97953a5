// Package metrics tracks per-run sorting counters and exports them as
// Prometheus collectors.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the run counters.
type Snapshot struct {
	StartedAt          time.Time          `json:"started_at"`
	Uptime             time.Duration      `json:"uptime"`
	ObjectsProcessed   uint64             `json:"objects_processed"`
	ByCategory         map[string]uint64  `json:"by_category"`
	DiversionsOK       uint64             `json:"diversions_ok"`
	DiversionsFailed   uint64             `json:"diversions_failed"`
	DiversionsRejected uint64             `json:"diversions_rejected"`
	CaptureFailures    uint64             `json:"capture_failures"`
	ClassifyFailures   uint64             `json:"classify_failures"`
	FaultsRecovered    uint64             `json:"faults_recovered"`
	FaultsUnrecovered  uint64             `json:"faults_unrecovered"`
	ObjectsPerMinute   float64            `json:"objects_per_minute"`
	AvgProcessingMS    float64            `json:"avg_processing_ms"`
}

// Counters accumulates run statistics. All methods are safe for concurrent
// use; each counter has a single writing component, so the lock is only
// contended by snapshot readers.
type Counters struct {
	mu                 sync.Mutex
	startedAt          time.Time
	objectsProcessed   uint64
	byCategory         map[string]uint64
	diversionsOK       uint64
	diversionsFailed   uint64
	diversionsRejected uint64
	captureFailures    uint64
	classifyFailures   uint64
	faultsRecovered    uint64
	faultsUnrecovered  uint64
	processingTotal    time.Duration

	prom *Collectors
}

// NewCounters returns a counter set starting its uptime clock now.
// Collectors may be nil when Prometheus export is disabled.
func NewCounters(prom *Collectors) *Counters {
	return &Counters{
		startedAt:  time.Now(),
		byCategory: make(map[string]uint64),
		prom:       prom,
	}
}

// RecordObject counts one classified object under its category. processing
// is the capture-to-decision time for the object.
func (c *Counters) RecordObject(category string, processing time.Duration) {
	c.mu.Lock()
	c.objectsProcessed++
	c.byCategory[category]++
	c.processingTotal += processing
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.ObjectsTotal.WithLabelValues(category).Inc()
		c.prom.ProcessingTime.Observe(processing.Seconds())
	}
}

// RecordDiversion counts a completed diversion attempt.
func (c *Counters) RecordDiversion(ok bool) {
	c.mu.Lock()
	if ok {
		c.diversionsOK++
	} else {
		c.diversionsFailed++
	}
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.DiversionsTotal.WithLabelValues(outcomeLabel(ok)).Inc()
	}
}

// RecordDiversionRejected counts a diversion that was refused before
// scheduling, for example because the computed delay was out of range.
func (c *Counters) RecordDiversionRejected() {
	c.mu.Lock()
	c.diversionsRejected++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.DiversionsTotal.WithLabelValues("rejected").Inc()
	}
}

// RecordCaptureFailure counts a frame capture that produced no usable image.
func (c *Counters) RecordCaptureFailure() {
	c.mu.Lock()
	c.captureFailures++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.PipelineFailures.WithLabelValues("capture").Inc()
	}
}

// RecordClassifyFailure counts a classifier invocation that errored.
func (c *Counters) RecordClassifyFailure() {
	c.mu.Lock()
	c.classifyFailures++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.PipelineFailures.WithLabelValues("classify").Inc()
	}
}

// RecordFault counts a fault recovery outcome.
func (c *Counters) RecordFault(recovered bool) {
	c.mu.Lock()
	if recovered {
		c.faultsRecovered++
	} else {
		c.faultsUnrecovered++
	}
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.FaultsTotal.WithLabelValues(outcomeLabel(recovered)).Inc()
	}
}

// Snapshot returns a copy of the counters with derived rates.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byCategory := make(map[string]uint64, len(c.byCategory))
	for category, count := range c.byCategory {
		byCategory[category] = count
	}

	uptime := time.Since(c.startedAt)
	perMinute := 0.0
	if minutes := uptime.Minutes(); minutes > 0 {
		perMinute = float64(c.objectsProcessed) / minutes
	}
	avgProcessing := 0.0
	if c.objectsProcessed > 0 {
		avgProcessing = float64(c.processingTotal.Nanoseconds()) / 1e6 / float64(c.objectsProcessed)
	}

	return Snapshot{
		StartedAt:          c.startedAt,
		Uptime:             uptime,
		ObjectsProcessed:   c.objectsProcessed,
		ByCategory:         byCategory,
		DiversionsOK:       c.diversionsOK,
		DiversionsFailed:   c.diversionsFailed,
		DiversionsRejected: c.diversionsRejected,
		CaptureFailures:    c.captureFailures,
		ClassifyFailures:   c.classifyFailures,
		FaultsRecovered:    c.faultsRecovered,
		FaultsUnrecovered:  c.faultsUnrecovered,
		ObjectsPerMinute:   perMinute,
		AvgProcessingMS:    avgProcessing,
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
