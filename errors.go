package cxtfit

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by this package wraps one of these.
var (
	// ErrInvalidInput indicates malformed spline data.
	ErrInvalidInput = errors.New("cxtfit: invalid input")

	// ErrNotReady indicates a spline that cannot be built or queried yet.
	ErrNotReady = errors.New("cxtfit: spline not ready")

	// ErrInvalidConfiguration indicates a SolverInput invariant violation.
	ErrInvalidConfiguration = errors.New("cxtfit: invalid configuration")

	// ErrAllocation indicates the integration state could not be allocated.
	ErrAllocation = errors.New("cxtfit: allocation error")

	// ErrSolverSetup indicates the stiff integrator rejected its configuration.
	ErrSolverSetup = errors.New("cxtfit: solver setup error")

	// ErrIntegration indicates the stiff stepper could not advance.
	ErrIntegration = errors.New("cxtfit: integration error")

	// ErrCanceled indicates a run or optimization was interrupted by its context.
	ErrCanceled = errors.New("cxtfit: canceled")

	// ErrOptimizationFailed indicates a hard numerical failure of the minimizer.
	ErrOptimizationFailed = errors.New("cxtfit: optimization failed")

	// ErrTrialEvaluationFailed indicates a solver run inside an optimization trial failed.
	ErrTrialEvaluationFailed = errors.New("cxtfit: trial evaluation failed")
)

// IntegrationError carries the integrator context of a failed step.
type IntegrationError struct {
	Time   float64 // simulated time in s
	Step   float64 // last attempted step size in s
	Steps  int     // accepted steps so far
	Reason string
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%v: %s (t=%.6g s, h=%.3g s, steps=%d)", ErrIntegration, e.Reason, e.Time, e.Step, e.Steps)
}

func (e *IntegrationError) Unwrap() error {
	return ErrIntegration
}

func invalidConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
