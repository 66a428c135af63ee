package cxtfit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/maorshutman/lm"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Method selects the minimizer of a ParameterOptimizer.
type Method string

const (
	MethodLM         Method = "lm"
	MethodNelderMead Method = "nelder-mead"
)

// ParseMethod parses a method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodLM, "":
		return MethodLM, nil
	case MethodNelderMead, "nm":
		return MethodNelderMead, nil
	}
	return "", fmt.Errorf("%w: unknown optimization method %q", ErrInvalidConfiguration, s)
}

// Options configures a ParameterOptimizer.
type Options struct {
	Method Method

	// Horizon is the simulated time of every trial in s.
	Horizon float64
	// PenaltyScale multiplies the squared bound violation added to every residual.
	PenaltyScale float64

	// Levenberg-Marquardt stopping rules.
	Tau          float64 // initial damping scale
	GradientTol  float64 // ε1
	StepTol      float64 // ε2
	ObjectiveTol float64
	// MaxIterations bounds LM iterations or Nelder-Mead major iterations.
	MaxIterations int

	// DiffStep is the forward difference step relative to the starting
	// value of each parameter.
	DiffStep float64
	// Workers > 1 evaluates Jacobian columns or simplex vertices concurrently.
	Workers int

	// RSquareStep is the quadrature step in h of the final R².
	RSquareStep float64

	Log logrus.FieldLogger
}

// DefaultOptions returns the LM setup used for breakthrough fits.
func DefaultOptions() Options {
	return Options{
		Method:        MethodLM,
		Horizon:       30 * secondsPerHour,
		PenaltyScale:  1e6,
		Tau:           1e-3,
		GradientTol:   1e-15,
		StepTol:       1e-10,
		ObjectiveTol:  1e-20,
		MaxIterations: 1000,
		DiffStep:      1e-4,
		Workers:       1,
		RSquareStep:   DefaultRSquareStep,
		Log:           logrus.StandardLogger(),
	}
}

// OptimizerResult is the outcome of ParameterOptimizer.Optimize.
type OptimizerResult struct {
	Parameters   ParameterSet   `json:"parameters"`
	Input        SolverInput    `json:"input"`
	Simulation   *SolverResults `json:"simulation"`
	ResidualNorm float64        `json:"residualNorm"`
	R2           float64        `json:"r2"`
	Trials       int            `json:"trials"`
	Iterations   int            `json:"iterations"`
	Status       string         `json:"status"`
	Runtime      time.Duration  `json:"runtime"`
}

// ParameterOptimizer fits enabled parameters of a baseline input to a
// measured breakthrough curve (time in h).
type ParameterOptimizer struct {
	opts     Options
	base     SolverInput
	measured *LinearSpline

	ids   []ParameterID
	lower []float64
	scale []float64

	mu       sync.Mutex
	trials   int
	trialErr error
}

// trialAbort carries a trial error out of the minimizer callbacks.
type trialAbort struct{ err error }

// NewParameterOptimizer validates the baseline input and measured curve.
func NewParameterOptimizer(base SolverInput, measured *LinearSpline, opts Options) (*ParameterOptimizer, error) {
	if !measured.Valid() {
		return nil, fmt.Errorf("%w: measured curve is not a valid spline", ErrInvalidInput)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.Method == "" {
		opts.Method = def.Method
	}
	if _, err := ParseMethod(string(opts.Method)); err != nil {
		return nil, err
	}
	if opts.Horizon <= 0 {
		opts.Horizon = def.Horizon
	}
	if opts.PenaltyScale <= 0 {
		opts.PenaltyScale = def.PenaltyScale
	}
	if opts.Tau <= 0 {
		opts.Tau = def.Tau
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.DiffStep <= 0 {
		opts.DiffStep = def.DiffStep
	}
	if opts.RSquareStep <= 0 {
		opts.RSquareStep = def.RSquareStep
	}
	if opts.StepTol <= 0 {
		opts.StepTol = base.Digits
	}
	if opts.Log == nil {
		opts.Log = def.Log
	}
	return &ParameterOptimizer{
		opts:     opts,
		base:     base.Clone(),
		measured: measured.Clone(),
	}, nil
}

// Optimize fits the enabled parameters of params, starting from their values.
func (o *ParameterOptimizer) Optimize(ctx context.Context, params ParameterSet) (*OptimizerResult, error) {
	start := time.Now()
	o.ids = params.Enabled()
	if len(o.ids) == 0 {
		return nil, fmt.Errorf("%w: no parameter selected for optimization", ErrInvalidConfiguration)
	}
	o.trials, o.trialErr = 0, nil

	x0 := make([]float64, len(o.ids))
	o.lower = make([]float64, len(o.ids))
	o.scale = make([]float64, len(o.ids))
	for i, id := range o.ids {
		p := params[id]
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, invalidConfig("start value of %s is not finite", id)
		}
		o.lower[i] = id.LowerBound()
		o.scale[i] = math.Abs(p.Value)
		if o.scale[i] == 0 {
			o.scale[i] = 1
		}
		x0[i] = p.Value / o.scale[i]
	}

	o.opts.Log.WithFields(logrus.Fields{
		"method":     o.opts.Method,
		"parameters": o.ids,
		"points":     o.measured.Len(),
	}).Info("starting parameter optimization")

	var (
		x      []float64
		status string
		iters  int
		err    error
	)
	switch o.opts.Method {
	case MethodNelderMead:
		x, status, iters, err = o.nelderMead(ctx, x0)
	default:
		x, status, iters, err = o.levenbergMarquardt(ctx, x0)
	}
	if err != nil {
		o.opts.Log.WithError(err).Warn("parameter optimization failed")
		return nil, err
	}
	if !allFinite(x) {
		return nil, fmt.Errorf("%w: non-finite parameters %v", ErrOptimizationFailed, x)
	}

	// Final evaluation at the iterate for the report.
	residuals, sim, err := o.evaluate(ctx, x)
	if err != nil {
		return nil, err
	}
	out := params.Clone()
	in := o.base.Clone()
	for i, id := range o.ids {
		p := out[id]
		p.Value = math.Max(x[i]*o.scale[i], o.lower[i])
		out[id] = p
		id.Set(&in, p.Value)
	}
	sim.CalculateRSquareStep(o.measured, o.opts.RSquareStep)

	res := &OptimizerResult{
		Parameters:   out,
		Input:        in,
		Simulation:   sim,
		ResidualNorm: floats.Norm(residuals, 2),
		R2:           sim.R2,
		Trials:       o.trials,
		Iterations:   iters,
		Status:       status,
		Runtime:      time.Since(start),
	}
	o.opts.Log.WithFields(logrus.Fields{
		"status":   status,
		"trials":   res.Trials,
		"residual": res.ResidualNorm,
		"r2":       res.R2,
		"runtime":  res.Runtime,
	}).Info("parameter optimization finished")
	return res, nil
}

// evaluate runs one trial for the scaled parameter vector x.
func (o *ParameterOptimizer) evaluate(ctx context.Context, x []float64) ([]float64, *SolverResults, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	o.mu.Lock()
	if o.trialErr != nil {
		o.mu.Unlock()
		return nil, nil, o.trialErr
	}
	o.trials++
	trial := o.trials
	o.mu.Unlock()

	in := o.base.Clone()
	in.TEnd = o.opts.Horizon
	fields := logrus.Fields{"trial": trial}
	var penalty float64
	for i, id := range o.ids {
		raw := x[i] * o.scale[i]
		v := raw
		if v < o.lower[i] {
			penalty += o.lower[i] - v
			v = o.lower[i]
		}
		id.Set(&in, v)
		if v != raw {
			fields[id.String()] = fmt.Sprintf("%g {%g}", v, raw)
		} else {
			fields[id.String()] = v
		}
	}

	sim, err := SimulateWithLogger(ctx, in, o.opts.Log)
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: trial %d: %w", ErrTrialEvaluationFailed, trial, err)
	}
	spline, err := sim.OutletSpline()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: trial %d: %v", ErrTrialEvaluationFailed, trial, err)
	}

	t, measured := o.measured.X(), o.measured.Y()
	residuals := make([]float64, len(t))
	offset := penalty * penalty * o.opts.PenaltyScale
	for i := range t {
		residuals[i] = spline.Value(t[i]) + offset - measured[i]
	}
	fields["residual"] = floats.Norm(residuals, 2)
	o.opts.Log.WithFields(fields).Debug("trial evaluated")
	return residuals, sim, nil
}

func (o *ParameterOptimizer) recordErr(err error) {
	o.mu.Lock()
	if o.trialErr == nil {
		o.trialErr = err
	}
	o.mu.Unlock()
}

func (o *ParameterOptimizer) firstErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trialErr
}

// levenbergMarquardt reports the accepted steps as iterations. The solver
// evaluates the Jacobian once at the start and once per accepted step.
func (o *ParameterOptimizer) levenbergMarquardt(ctx context.Context, x0 []float64) (x []float64, status string, iters int, err error) {
	m := o.measured.Len()
	jacEvals := 0

	// fill is safe to call from the concurrent Jacobian goroutines.
	fill := func(dst, x []float64) {
		r, _, err := o.evaluate(ctx, x)
		if err != nil {
			o.recordErr(err)
			for i := range dst {
				dst[i] = math.NaN()
			}
			return
		}
		copy(dst, r)
	}
	fnc := func(dst, x []float64) {
		fill(dst, x)
		if err := o.firstErr(); err != nil {
			panic(trialAbort{err})
		}
	}
	jac := func(dst *mat.Dense, x []float64) {
		jacEvals++
		fd.Jacobian(dst, fill, x, &fd.JacobianSettings{
			Formula:    fd.Forward,
			Step:       o.opts.DiffStep,
			Concurrent: o.opts.Workers > 1,
		})
		if err := o.firstErr(); err != nil {
			panic(trialAbort{err})
		}
	}

	problem := lm.LMProblem{
		Dim:        len(x0),
		Size:       m,
		Func:       fnc,
		Jac:        jac,
		InitParams: x0,
		Tau:        o.opts.Tau,
		Eps1:       o.opts.GradientTol,
		Eps2:       o.opts.StepTol,
	}

	// Recover from LM panics (e.g., singular matrix) and trial aborts.
	defer func() {
		if r := recover(); r != nil {
			if ab, ok := r.(trialAbort); ok {
				x, status, iters, err = nil, "", 0, ab.err
				return
			}
			x, status, iters, err = nil, "", 0, fmt.Errorf("%w: levenberg-marquardt: %v", ErrOptimizationFailed, r)
		}
	}()

	res, lmErr := lm.LM(problem, &lm.Settings{Iterations: o.opts.MaxIterations, ObjectiveTol: o.opts.ObjectiveTol})
	if lmErr != nil {
		return nil, "", 0, fmt.Errorf("%w: levenberg-marquardt: %v", ErrOptimizationFailed, lmErr)
	}
	return res.X, "lm: " + res.Status.String(), max(jacEvals-1, 0), nil
}

func (o *ParameterOptimizer) nelderMead(ctx context.Context, x0 []float64) ([]float64, string, int, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			r, _, err := o.evaluate(ctx, x)
			if err != nil {
				o.recordErr(err)
				return math.Inf(1)
			}
			return floats.Dot(r, r)
		},
		Status: func() (optimize.Status, error) {
			if err := o.firstErr(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: o.opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.opts.ObjectiveTol,
			Relative:   o.opts.StepTol,
			Iterations: 50,
		},
	}
	if o.opts.Workers > 1 {
		settings.Concurrent = o.opts.Workers
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if trialErr := o.firstErr(); trialErr != nil {
		return nil, "", 0, trialErr
	}
	if err != nil && (res == nil || !limitReached(res.Status)) {
		return nil, "", 0, fmt.Errorf("%w: nelder-mead: %v", ErrOptimizationFailed, err)
	}
	return res.X, "nelder-mead: " + res.Status.String(), res.MajorIterations, nil
}

func limitReached(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit:
		return true
	}
	return false
}
