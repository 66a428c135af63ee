package cxtfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Evaluator computes time derivatives of an ODE system.
type Evaluator interface {
	// Evaluate writes dy/dt at (t, y) into ydot.
	Evaluate(t float64, y, ydot []float64) error
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(t float64, y, ydot []float64) error

// Evaluate calls f(t, y, ydot).
func (f EvaluatorFunc) Evaluate(t float64, y, ydot []float64) error { return f(t, y, ydot) }

// Diagnostics are the per-element arrays of the last RHS evaluation.
// Interface fluxes are in kg/s, reaction, source and exchange terms in
// kg/(m3 s), concentrations in kg/m3.
type Diagnostics struct {
	Cc    []float64 // mobile concentration, n
	Sc    []float64 // immobile concentration, n
	JDiff []float64 // diffusive interface flux, n+1
	JConv []float64 // convective interface flux, n+1
	Rc    []float64 // mobile reaction sink, n
	Gc    []float64 // mobile source, n
	Rs    []float64 // immobile reaction sink, n
	Gs    []float64 // immobile source, n
	Ex    []float64 // mobile to immobile exchange, n
}

func newDiagnostics(n int) Diagnostics {
	return Diagnostics{
		Cc:    make([]float64, n),
		Sc:    make([]float64, n),
		JDiff: make([]float64, n+1),
		JConv: make([]float64, n+1),
		Rc:    make([]float64, n),
		Gc:    make([]float64, n),
		Rs:    make([]float64, n),
		Gs:    make([]float64, n),
		Ex:    make([]float64, n),
	}
}

func (d Diagnostics) clone() Diagnostics {
	cp := func(s []float64) []float64 { return append([]float64(nil), s...) }
	return Diagnostics{
		Cc: cp(d.Cc), Sc: cp(d.Sc),
		JDiff: cp(d.JDiff), JConv: cp(d.JConv),
		Rc: cp(d.Rc), Gc: cp(d.Gc),
		Rs: cp(d.Rs), Gs: cp(d.Gs),
		Ex: cp(d.Ex),
	}
}

// TransportModel is the finite-volume right-hand side of the bed balance.
//
// State layout is one total mass density per element for
// EquilibriumSorption and interleaved mobile/immobile densities
// [c0, s0, c1, s1, ...] for EquilibriumPlusExchange.
type TransportModel struct {
	in    *SolverInput
	n     int
	nVars int
	dx    float64 // element length in m
	vrev  float64 // element volume in m3

	diag Diagnostics
}

// NewTransportModel prepares a model for a validated input.
func NewTransportModel(in *SolverInput) (*TransportModel, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil input", ErrInvalidConfiguration)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	dx := in.L / float64(in.N)
	return &TransportModel{
		in:    in,
		n:     in.N,
		nVars: in.Model.VarsPerCell(),
		dx:    dx,
		vrev:  dx * in.A,
		diag:  newDiagnostics(in.N),
	}, nil
}

// Size returns the length of the state vector.
func (m *TransportModel) Size() int { return m.n * m.nVars }

// CellVolume returns the volume of one element in m3.
func (m *TransportModel) CellVolume() float64 { return m.vrev }

// Evaluate fills ydot with the mass balance of every element. A nil ydot
// only refreshes the diagnostics.
func (m *TransportModel) Evaluate(t float64, y, ydot []float64) error {
	if len(y) != m.Size() {
		return fmt.Errorf("%w: state has %d values, want %d", ErrIntegration, len(y), m.Size())
	}
	if ydot != nil && len(ydot) != len(y) {
		return fmt.Errorf("%w: derivative has %d values, want %d", ErrIntegration, len(ydot), len(y))
	}

	in := m.in
	d := &m.diag
	n, nv := m.n, m.nVars
	twoPhase := nv == 2

	// Negative concentrations are clipped before any flux is formed.
	for i := 0; i < n; i++ {
		d.Cc[i] = math.Max(y[i*nv]/in.Rc, 0)
		if twoPhase {
			d.Sc[i] = math.Max(y[i*nv+1]/in.Rs, 0)
		} else {
			d.Sc[i] = 0
		}
	}

	cIn := math.Max(in.InletConcentration(t), 0)
	da := in.D * in.A / m.dx
	va := in.V * in.A

	// Inlet: pure downstream transport, dispersion driven by the feed.
	d.JDiff[0] = da * (cIn - d.Cc[0])
	d.JConv[0] = va * cIn
	for i := 1; i < n; i++ {
		d.JDiff[i] = da * (d.Cc[i-1] - d.Cc[i])
		d.JConv[i] = va * d.Cc[i-1]
	}
	// Outlet: no back-diffusion.
	d.JDiff[n] = 0
	d.JConv[n] = va * d.Cc[n-1]

	for i := 0; i < n; i++ {
		d.Rc[i] = in.MuC * d.Cc[i]
		d.Gc[i] = in.GammaC
		if twoPhase {
			d.Rs[i] = in.MuS * d.Sc[i]
			d.Gs[i] = in.GammaS
			d.Ex[i] = in.Beta * (d.Cc[i] - d.Sc[i])
		} else {
			d.Rs[i], d.Gs[i], d.Ex[i] = 0, 0, 0
		}
	}

	if ydot == nil {
		return nil
	}
	for i := 0; i < n; i++ {
		div := d.JDiff[i] + d.JConv[i] - d.JDiff[i+1] - d.JConv[i+1]
		if twoPhase {
			// exchange is negative for the mobile balance, positive for the immobile one
			ydot[i*2] = (div - d.Ex[i] - d.Rc[i] + d.Gc[i]) / m.vrev
			ydot[i*2+1] = (d.Ex[i] - d.Rs[i] + d.Gs[i]) / m.vrev
		} else {
			ydot[i] = (div - d.Rc[i] + d.Gc[i]) / m.vrev
		}
	}
	for i, v := range ydot {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite derivative at index %d (t=%g s)", ErrIntegration, i, t)
		}
	}
	return nil
}

// Outlet returns the mobile concentration of the last element from the
// most recent evaluation.
func (m *TransportModel) Outlet() float64 { return m.diag.Cc[m.n-1] }

// Diagnostics returns a copy of the arrays of the most recent evaluation.
func (m *TransportModel) Diagnostics() Diagnostics { return m.diag.clone() }

// Mass returns the total mass in the bed in kg for state y.
func (m *TransportModel) Mass(y []float64) float64 {
	return floats.Sum(y) * m.vrev
}

// BoundaryFlux returns the net interface flow into the bed plus the
// element sources minus sinks, each term as it enters the numerator of the
// balance. It equals the sum of ydot times the cell volume of the most
// recent evaluation.
func (m *TransportModel) BoundaryFlux() float64 {
	d := &m.diag
	net := d.JDiff[0] + d.JConv[0] - d.JDiff[m.n] - d.JConv[m.n]
	for i := 0; i < m.n; i++ {
		net += d.Gc[i] - d.Rc[i] + d.Gs[i] - d.Rs[i]
	}
	return net
}
