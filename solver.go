package cxtfit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Solver.
type State int

const (
	Uninitialized State = iota
	Initialized
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Profile is a snapshot of the concentrations along the bed.
type Profile struct {
	T  float64   `json:"t"` // time in h
	Cc []float64 `json:"cc"`
	Sc []float64 `json:"sc"`
}

// Solver integrates the bed balance of one SolverInput and records the
// breakthrough curve and concentration profiles.
//
// A Solver owns all of its state. Use one Solver per goroutine.
type Solver struct {
	Log logrus.FieldLogger

	state State
	input SolverInput
	model *TransportModel
	bdf   *BDF
	y     []float64

	outT     []float64
	outC     []float64
	profiles []Profile
	nOutputs int
}

// NewSolver returns an uninitialized solver.
func NewSolver() *Solver {
	return &Solver{Log: logrus.StandardLogger()}
}

// Init validates in and prepares a run starting from an empty bed.
func (s *Solver) Init(in SolverInput) error {
	s.Clear()
	if err := in.Validate(); err != nil {
		return err
	}
	s.input = in.Clone()

	vars := s.input.Model.VarsPerCell()
	bw := 2*vars + 1
	if float64(s.input.N)*float64(vars) > maxWorkspace {
		return fmt.Errorf("%w: %d elements exceed the integrator limit", ErrAllocation, s.input.N)
	}
	size := s.input.N * vars
	if need := Workspace(size, bw); need > maxWorkspace {
		return fmt.Errorf("%w: %d elements need %.0f integrator values, limit %d",
			ErrAllocation, s.input.N, need, maxWorkspace)
	}
	model, err := NewTransportModel(&s.input)
	if err != nil {
		return err
	}
	s.model = model
	s.y = make([]float64, size)

	atol := make([]float64, size)
	for i := range atol {
		atol[i] = s.input.AbsTol
	}
	s.bdf, err = NewBDF(model, 0, s.y, BDFConfig{
		RelTol:    s.input.RelTol,
		AbsTol:    atol,
		MinStep:   s.input.MinDt,
		MaxStep:   s.input.MaxDt,
		FirstStep: 1e-6 / float64(s.input.N),
		MaxSteps:  defaultMaxSteps,
		MaxOrder:  bdfMaxOrder,
		Bandwidth: bw,
		TStop:     s.input.TEnd,
	})
	if err != nil {
		s.Clear()
		return err
	}
	s.state = Initialized
	return nil
}

// Run integrates up to TEnd. It does nothing unless the solver is
// Initialized. On failure the outputs captured so far are kept.
func (s *Solver) Run(ctx context.Context) error {
	if s.state != Initialized {
		return nil
	}
	s.state = Running
	in := &s.input

	if err := s.store(0, false); err != nil {
		return s.abort(err)
	}
	for k := 1; ; k++ {
		if err := ctx.Err(); err != nil {
			return s.abort(fmt.Errorf("%w: %v", ErrCanceled, err))
		}
		tOut := float64(k) * in.OutputDt
		last := tOut >= in.TEnd*(1-1e-12)
		if last {
			tOut = in.TEnd
		}
		if err := s.bdf.AdvanceTo(tOut, s.y); err != nil {
			return s.abort(err)
		}
		if err := s.store(tOut, last); err != nil {
			return s.abort(err)
		}
		if last {
			break
		}
	}
	s.state = Completed

	st := s.bdf.Stats()
	s.logger().WithFields(logrus.Fields{
		"n":        in.N,
		"model":    in.Model,
		"steps":    st.Steps,
		"rhsEvals": st.RHSEvals,
		"jacEvals": st.JacEvals,
		"outputs":  len(s.outT),
	}).Debug("simulation completed")
	return nil
}

func (s *Solver) abort(err error) error {
	s.state = Failed
	s.logger().WithError(err).WithField("t", s.bdf.T()).Warn("simulation aborted")
	return err
}

func (s *Solver) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// store records the outlet concentration and, every OutputN-th output or
// when forced, a full profile for the state interpolated at t.
func (s *Solver) store(t float64, forceProfile bool) error {
	if err := s.model.Evaluate(t, s.y, nil); err != nil {
		return err
	}
	th := t / secondsPerHour
	if n := len(s.outT); n == 0 || th > s.outT[n-1] {
		s.outT = append(s.outT, th)
		s.outC = append(s.outC, s.model.Outlet())
	}
	stride := s.nOutputs%s.input.OutputN == 0
	s.nOutputs++
	if !stride && !forceProfile {
		return nil
	}
	if n := len(s.profiles); n > 0 && s.profiles[n-1].T >= th {
		return nil
	}
	d := s.model.diag
	s.profiles = append(s.profiles, Profile{
		T:  th,
		Cc: append([]float64(nil), d.Cc...),
		Sc: append([]float64(nil), d.Sc...),
	})
	return nil
}

// Clear releases the integration state and returns to Uninitialized.
func (s *Solver) Clear() {
	s.state = Uninitialized
	s.model = nil
	s.bdf = nil
	s.y = nil
	s.outT = nil
	s.outC = nil
	s.profiles = nil
	s.nOutputs = 0
}

// State returns the lifecycle state.
func (s *Solver) State() State { return s.state }

// Input returns the input of the current run.
func (s *Solver) Input() SolverInput { return s.input }

// OutletT returns the output times in h.
func (s *Solver) OutletT() []float64 { return s.outT }

// OutletC returns the outlet concentrations in kg/m3.
func (s *Solver) OutletC() []float64 { return s.outC }

// Profiles returns the stored concentration profiles.
func (s *Solver) Profiles() []Profile { return s.profiles }

// Y returns the current state vector.
func (s *Solver) Y() []float64 { return s.y }

// Stats returns the integrator counters.
func (s *Solver) Stats() BDFStats {
	if s.bdf == nil {
		return BDFStats{}
	}
	return s.bdf.Stats()
}

// Results returns a snapshot of the captured outputs.
func (s *Solver) Results() *SolverResults {
	return &SolverResults{
		Input:    s.input.Clone(),
		OutletT:  append([]float64(nil), s.outT...),
		OutletC:  append([]float64(nil), s.outC...),
		Profiles: append([]Profile(nil), s.profiles...),
		R2:       -1,
		Stats:    s.Stats(),
	}
}

// Simulate runs in to completion. On an integration failure the partial
// results are returned together with the error.
func Simulate(ctx context.Context, in SolverInput) (*SolverResults, error) {
	return SimulateWithLogger(ctx, in, logrus.StandardLogger())
}

// SimulateWithLogger is Simulate with an explicit logger.
func SimulateWithLogger(ctx context.Context, in SolverInput, log logrus.FieldLogger) (*SolverResults, error) {
	s := NewSolver()
	if log != nil {
		s.Log = log
	}
	if err := s.Init(in); err != nil {
		return nil, err
	}
	if err := s.Run(ctx); err != nil {
		return s.Results(), err
	}
	return s.Results(), nil
}
