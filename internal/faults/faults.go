// Package faults defines the runtime fault taxonomy shared by the
// orchestrator, lifecycle manager, and recovery engine. Faults are plain
// errors carrying enough context (category, severity, component) for the
// recovery engine to pick a strategy and for the lifecycle manager to decide
// whether startup must abort.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Severity ranks how badly a fault degrades the system.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups faults by the subsystem that produced them.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryHardware      Category = "hardware"
	CategoryClassifier    Category = "classifier"
	CategorySecurity      Category = "security"
)

// Fault is the error type raised for anticipated failure modes. Unchecked
// panics remain reserved for programmer errors.
type Fault struct {
	Message   string
	Category  Category
	Severity  Severity
	Component string
	Timestamp time.Time
	Cause     error
}

// New builds a fault with the current timestamp.
func New(category Category, severity Severity, component, message string) *Fault {
	return &Fault{
		Message:   message,
		Category:  category,
		Severity:  severity,
		Component: component,
		Timestamp: time.Now(),
	}
}

// Wrap builds a fault whose message and cause come from err.
func Wrap(err error, category Category, severity Severity, component string) *Fault {
	if err == nil {
		return nil
	}
	fault := New(category, severity, component, err.Error())
	fault.Cause = err
	return fault
}

// Configuration builds a configuration fault naming the offending section.
func Configuration(section, message string) *Fault {
	return New(CategoryConfiguration, SeverityHigh, section, message)
}

// Hardware builds a hardware fault for the named component.
func Hardware(severity Severity, component, message string) *Fault {
	return New(CategoryHardware, severity, component, message)
}

// Classifier builds a classifier fault.
func Classifier(severity Severity, message string) *Fault {
	return New(CategoryClassifier, severity, "classifier", message)
}

// Security builds a security fault.
func Security(severity Severity, component, message string) *Fault {
	return New(CategorySecurity, severity, component, message)
}

func (f *Fault) Error() string {
	if f.Component != "" {
		return fmt.Sprintf("%s fault in %s: %s", f.Category, f.Component, f.Message)
	}
	return fmt.Sprintf("%s fault: %s", f.Category, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// IsCritical reports whether the fault must abort component bring-up.
func (f *Fault) IsCritical() bool { return f.Severity == SeverityCritical }

// As extracts a Fault from an arbitrary error chain. Errors that are not
// faults are normalized into a medium hardware fault so the recovery engine
// always has a category to work with.
func As(err error) *Fault {
	if err == nil {
		return nil
	}
	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}
	return Wrap(err, CategoryHardware, SeverityMedium, "")
}

// SeverityRank orders severities for threshold comparisons.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}
