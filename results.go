package cxtfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultRSquareStep is the sampling step in h of the R² quadrature.
const DefaultRSquareStep = 0.1

// partitionSteps is the number of rectangles used by EstimatePartition.
const partitionSteps = 10000

// SolverResults is the snapshot of one completed (or aborted) run.
type SolverResults struct {
	Input    SolverInput `json:"input"`
	OutletT  []float64   `json:"outletT"` // h
	OutletC  []float64   `json:"outletC"` // kg/m3
	Profiles []Profile   `json:"profiles"`
	// R2 is the coefficient of determination against the last reference
	// curve, -1 when not computed or not computable.
	R2    float64  `json:"r2"`
	Stats BDFStats `json:"stats"`
}

// OutletSpline builds a spline of the outlet curve.
func (r *SolverResults) OutletSpline() (*LinearSpline, error) {
	return NewLinearSpline(r.OutletT, r.OutletC)
}

// CalculateRSquare computes and stores R² against ref with the default step.
func (r *SolverResults) CalculateRSquare(ref *LinearSpline) float64 {
	return r.CalculateRSquareStep(ref, DefaultRSquareStep)
}

// CalculateRSquareStep computes and stores R² against ref sampling every dx h.
func (r *SolverResults) CalculateRSquareStep(ref *LinearSpline, dx float64) float64 {
	sim, err := r.OutletSpline()
	if err != nil {
		r.R2 = -1
		return r.R2
	}
	r.R2 = RSquare(sim, ref, dx)
	return r.R2
}

// RSquare returns 1 - SSR/SSY of sim against ref, both sampled every dx
// over the common domain. It returns -1 if either spline is invalid, the
// domains do not overlap or the reference is constant there. A
// non-positive dx selects DefaultRSquareStep.
func RSquare(sim, ref *LinearSpline, dx float64) float64 {
	if !sim.Valid() || !ref.Valid() {
		return -1
	}
	if dx <= 0 || math.IsNaN(dx) {
		dx = DefaultRSquareStep
	}
	lo := math.Max(sim.Min(), ref.Min())
	hi := math.Min(sim.Max(), ref.Max())
	if hi <= lo {
		return -1
	}

	n := int(math.Floor((hi-lo)/dx*(1+1e-12))) + 1
	refs := make([]float64, n)
	sims := make([]float64, n)
	for i := 0; i < n; i++ {
		t := math.Min(lo+float64(i)*dx, hi)
		refs[i] = ref.Value(t)
		sims[i] = sim.Value(t)
	}
	mean := stat.Mean(refs, nil)
	var ssr, ssy float64
	for i := range refs {
		ssr += (sims[i] - refs[i]) * (sims[i] - refs[i])
		ssy += (refs[i] - mean) * (refs[i] - mean)
	}
	if ssy == 0 {
		return -1
	}
	return 1 - ssr/ssy
}

// EstimatePartition estimates the solid/fluid partition coefficient from
// measured inlet and outlet curves (time in h). The retained mass is the
// area between the curves times the flow rate; it is divided by the solid
// volume of the bed and the mean inlet concentration.
func EstimatePartition(inlet, outlet *LinearSpline, in SolverInput) (float64, error) {
	if !inlet.Valid() || !outlet.Valid() {
		return 0, fmt.Errorf("%w: inlet and outlet curves must be valid splines", ErrNotReady)
	}
	if in.Porosity >= 1 || in.L <= 0 || in.A <= 0 {
		return 0, invalidConfig("partition estimate needs a bed with solid volume")
	}
	tMax := math.Min(inlet.Max(), outlet.Max())
	if tMax <= 0 {
		return 0, fmt.Errorf("%w: curves end at t=%g h", ErrInvalidInput, tMax)
	}
	dt := tMax / partitionSteps
	var area float64
	for i := 1; i <= partitionSteps; i++ {
		t := float64(i) * dt
		area += dt * (inlet.Value(t) - outlet.Value(t))
	}
	area *= secondsPerHour

	meanInlet := stat.Mean(inlet.Y(), nil)
	if meanInlet == 0 {
		return 0, fmt.Errorf("%w: mean inlet concentration is zero", ErrInvalidInput)
	}
	deltaM := in.Q * area
	vSolid := in.L * in.A * (1 - in.Porosity)
	return deltaM / vSolid / meanInlet, nil
}
