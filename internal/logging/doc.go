// Package logging builds the slog loggers used across sortline.
//
// It provides a console handler that renders component-prefixed key=value
// lines for operators watching the daemon, a JSON handler for log shipping,
// and typed attribute helpers plus standardized field-name constants so the
// orchestrator, recovery engine, and background monitors emit uniform
// structured records.
package logging
