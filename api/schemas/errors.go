// File: api/schemas/errors.go
package schemas

import (
	"fmt"
	"time"
)

// The error taxonomy for step execution. All browser-facing failures are
// expressed as one of these types so the recovery coordinator can classify
// them with errors.As. Wrapping with %w preserves the classification.

// ElementNotFoundError indicates a locator produced zero matches.
type ElementNotFoundError struct {
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found: %q", e.Selector)
}

// TimeoutError indicates an action or wait exceeded its budget.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Op, e.Budget)
}

// NavigationMismatchError indicates the current URL diverged from the URL
// expected from the last successful navigate step.
type NavigationMismatchError struct {
	Expected string
	Actual   string
}

func (e *NavigationMismatchError) Error() string {
	return fmt.Sprintf("navigation drift: expected %q, browser is at %q", e.Expected, e.Actual)
}

// HealingExhaustedError indicates every healing strategy failed or the best
// candidate fell below the confidence threshold.
type HealingExhaustedError struct {
	Selector       string
	BestConfidence float64
}

func (e *HealingExhaustedError) Error() string {
	return fmt.Sprintf("healing exhausted for %q (best confidence %.2f)", e.Selector, e.BestConfidence)
}

// ActionExecutionError indicates the browser reported an execution fault
// unrelated to locating the element (found but not interactable, JS fault).
// It is retried with backoff but never routed to the selector resolver.
type ActionExecutionError struct {
	Action string
	Err    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }
