// Package api defines the wire types served by the daemon's HTTP API and a
// client for the CLI. The payloads reuse the domain snapshot types directly;
// both ends of the wire are built from the same tree.
package api

import (
	"sortline/internal/metrics"
	"sortline/internal/monitor"
	"sortline/internal/orchestrator"
	"sortline/internal/recovery"
	"sortline/internal/store"
)

// StatusResponse is the full daemon snapshot behind GET /api/status.
type StatusResponse struct {
	Running          bool                           `json:"running"`
	PID              int                            `json:"pid"`
	State            string                         `json:"state"`
	LastFault        string                         `json:"last_fault,omitempty"`
	EmergencyStop    bool                           `json:"emergency_stop"`
	QueueDepth       int                            `json:"queue_depth"`
	ActiveDiversions []orchestrator.ActiveDiversion `json:"active_diversions"`
	Components       map[string]string              `json:"components"`
	Diverters        map[string]string              `json:"diverters"`
	BinLevels        map[string]float64             `json:"bin_levels,omitempty"`
	CameraMonitor    bool                           `json:"camera_monitor"`
	LockPath         string                         `json:"lock_path,omitempty"`
	DatabasePath     string                         `json:"database_path,omitempty"`
}

// MetricsResponse carries pipeline counters and host health behind
// GET /api/metrics.
type MetricsResponse struct {
	Pipeline metrics.Snapshot `json:"pipeline"`
	System   monitor.Summary  `json:"system"`
}

// AlertsResponse lists recent host health alerts, newest first.
type AlertsResponse struct {
	Alerts []monitor.Alert `json:"alerts"`
}

// RecoveryResponse lists recent recovery attempts, newest first.
type RecoveryResponse struct {
	Attempts []recovery.Attempt `json:"attempts"`
}

// ClassificationsResponse lists recently classified objects, newest first.
type ClassificationsResponse struct {
	Classifications []store.Classification `json:"classifications"`
}

// EventsResponse lists recent system events, newest first.
type EventsResponse struct {
	Events []store.Event `json:"events"`
}

// ControlResponse acknowledges a POST control action.
type ControlResponse struct {
	OK      bool   `json:"ok"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of any non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
