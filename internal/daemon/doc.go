// Package daemon assembles the sorting-line runtime: hardware bindings,
// persistence, monitoring, the orchestrator loop, the recovery strategies,
// the camera hotplug monitor, and the HTTP control API. It enforces
// single-instance execution through a file lock.
package daemon
