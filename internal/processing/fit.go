package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kacperjurak/cxtfit"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/sirupsen/logrus"
)

// MethodAll runs every optimization method and keeps the best fit.
const MethodAll = "all"

// FitProcessor turns service requests into simulations and parameter fits.
type FitProcessor struct {
	// Options are the defaults of every fit. Requests may override the
	// method, the iteration limit and the horizon.
	Options cxtfit.Options
	Log     logrus.FieldLogger
}

// NewFitProcessor creates a new processor using opts as fit defaults
func NewFitProcessor(opts cxtfit.Options, log logrus.FieldLogger) *FitProcessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FitProcessor{Options: opts, Log: log}
}

// Process runs the fit described by req.
func (p *FitProcessor) Process(ctx context.Context, req models.FitRequest) (*cxtfit.OptimizerResult, error) {
	in, err := prepareInput(req.Input, req.Inlet)
	if err != nil {
		return nil, err
	}
	measured, err := req.Measured.Spline()
	if err != nil {
		return nil, fmt.Errorf("measured curve: %w", err)
	}
	ids, err := cxtfit.ParseParameterList(strings.Join(req.Fit, ","))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no parameter selected for fitting", cxtfit.ErrInvalidConfiguration)
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = string(p.Options.Method)
	}
	if method == MethodAll {
		return p.runAllMethods(ctx, in, measured, ids, req)
	}
	m, err := cxtfit.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	return p.runSingleMethod(ctx, in, measured, ids, req, m)
}

func (p *FitProcessor) runSingleMethod(ctx context.Context, in cxtfit.SolverInput, measured *cxtfit.LinearSpline,
	ids []cxtfit.ParameterID, req models.FitRequest, method cxtfit.Method) (*cxtfit.OptimizerResult, error) {
	opts := p.Options
	opts.Method = method
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.HorizonHours > 0 {
		opts.Horizon = req.HorizonHours * 3600
	}
	log := p.Log.WithFields(logrus.Fields{"request": req.ID, "method": method})
	opts.Log = log

	opt, err := cxtfit.NewParameterOptimizer(in, measured, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := opt.Optimize(ctx, cxtfit.NewParameterSet(in, ids...))
	if err != nil {
		log.WithError(err).Warn("fit failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"r2":       res.R2,
		"residual": res.ResidualNorm,
		"trials":   res.Trials,
		"duration": time.Since(start),
	}).Info("fit completed")
	return res, nil
}

// runAllMethods fits with every method and keeps the smallest residual.
func (p *FitProcessor) runAllMethods(ctx context.Context, in cxtfit.SolverInput, measured *cxtfit.LinearSpline,
	ids []cxtfit.ParameterID, req models.FitRequest) (*cxtfit.OptimizerResult, error) {
	var (
		best    *cxtfit.OptimizerResult
		lastErr error
	)
	for _, m := range []cxtfit.Method{cxtfit.MethodLM, cxtfit.MethodNelderMead} {
		res, err := p.runSingleMethod(ctx, in, measured, ids, req, m)
		if err != nil {
			if errors.Is(err, cxtfit.ErrCanceled) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if best == nil || res.ResidualNorm < best.ResidualNorm {
			best = res
		}
	}
	if best == nil {
		return nil, fmt.Errorf("all optimization methods failed: %w", lastErr)
	}
	p.Log.WithFields(logrus.Fields{"request": req.ID, "status": best.Status, "residual": best.ResidualNorm}).
		Info("best of all methods selected")
	return best, nil
}

// Simulate runs one simulation and evaluates it against the measured curve.
func (p *FitProcessor) Simulate(ctx context.Context, req models.SimulateRequest) (*models.SimulateResponse, error) {
	in, err := prepareInput(req.Input, req.Inlet)
	if err != nil {
		return nil, err
	}
	var measured *cxtfit.LinearSpline
	if req.Measured != nil {
		if measured, err = req.Measured.Spline(); err != nil {
			return nil, fmt.Errorf("measured curve: %w", err)
		}
	}
	if req.Partition && (in.CInletData == nil || measured == nil) {
		return nil, fmt.Errorf("%w: partition estimate needs inlet and measured curves", cxtfit.ErrInvalidInput)
	}

	start := time.Now()
	res, err := cxtfit.SimulateWithLogger(ctx, in, p.Log)
	if err != nil {
		return nil, err
	}
	if measured != nil {
		res.CalculateRSquareStep(measured, p.Options.RSquareStep)
	}
	out := &models.SimulateResponse{
		Success:   true,
		OutletT:   res.OutletT,
		OutletC:   res.OutletC,
		R2:        res.R2,
		Stats:     res.Stats,
		RuntimeMs: float64(time.Since(start).Nanoseconds()) / 1e6,
	}
	if req.Profiles {
		out.Profiles = res.Profiles
	}
	if req.Partition {
		k, err := cxtfit.EstimatePartition(in.CInletData, measured, in)
		if err != nil {
			return nil, err
		}
		out.Partition = &k
	}
	return out, nil
}

// ProcessorFunc creates a function compatible with the worker pool
func (p *FitProcessor) ProcessorFunc() func(ctx context.Context, req models.FitRequest) (*cxtfit.OptimizerResult, error) {
	return p.Process
}

// prepareInput derives a missing velocity and attaches the inlet curve.
func prepareInput(in cxtfit.SolverInput, inlet *models.Curve) (cxtfit.SolverInput, error) {
	in = in.Clone()
	if in.V == 0 {
		in.DeriveVelocity()
	}
	if inlet != nil {
		s, err := inlet.Spline()
		if err != nil {
			return in, fmt.Errorf("inlet curve: %w", err)
		}
		in.CInletData = s
	}
	return in, nil
}
