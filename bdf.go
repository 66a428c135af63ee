package cxtfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BDF step control constants.
const (
	bdfMaxOrder     = 5
	newtonMaxIter   = 4
	minStepFactor   = 0.2
	maxStepFactor   = 10.0
	defaultMaxSteps = 100000

	// maxWorkspace bounds the float64 values an integrator allocates.
	maxWorkspace = 1 << 25
)

var (
	bdfKappa = [bdfMaxOrder + 1]float64{0, -0.1850, -1.0 / 9, -0.0823, -0.0415, 0}

	bdfGamma, bdfAlpha, bdfErrorConst [bdfMaxOrder + 2]float64
)

func init() {
	for k := 1; k <= bdfMaxOrder; k++ {
		bdfGamma[k] = bdfGamma[k-1] + 1/float64(k)
	}
	for k := 0; k <= bdfMaxOrder; k++ {
		bdfAlpha[k] = (1 - bdfKappa[k]) * bdfGamma[k]
		bdfErrorConst[k] = bdfKappa[k]*bdfGamma[k] + 1/float64(k+1)
	}
}

// BDFConfig configures the stiff integrator.
type BDFConfig struct {
	RelTol float64
	// AbsTol holds one tolerance per component, or a single value used
	// for all components.
	AbsTol []float64

	MinStep   float64
	MaxStep   float64
	FirstStep float64

	// MaxSteps limits the accepted steps of a single AdvanceTo call.
	MaxSteps int
	// MaxOrder is clamped to [1, 5]. Zero means 5.
	MaxOrder int
	// Bandwidth is the Jacobian half-bandwidth. Negative values are
	// rejected, values beyond the system size mean a dense Jacobian.
	Bandwidth int

	// TStop, when positive, is never stepped over.
	TStop float64
}

// BDFStats counts the work done by the integrator.
type BDFStats struct {
	Steps          int `json:"steps"`
	RejectedSteps  int `json:"rejectedSteps"`
	RHSEvals       int `json:"rhsEvals"`
	JacEvals       int `json:"jacEvals"`
	LUDecomps      int `json:"luDecomps"`
	NewtonFailures int `json:"newtonFailures"`
}

// BDF is a variable-order, variable-step backward differentiation formula
// integrator in Nordsieck-free difference form with a Newton corrector.
type BDF struct {
	f   Evaluator
	cfg BDFConfig
	n   int
	bw  int

	t, tOld float64
	y       []float64
	atol    []float64

	// d holds the backward differences of the solution, scaled by the
	// current step size.
	d           [][]float64
	order       int
	maxOrder    int
	hAbs        float64
	nEqualSteps int

	jac       *mat.BandDense
	jacData   []float64
	lu        *bandLU
	luValid   bool
	newtonTol float64

	// scratch
	yPred, psi, scale, fval, rhs, dCorr, yNew, yTmp, f1, inc, dy []float64

	stats BDFStats
}

// NewBDF prepares an integrator for y' = f(t, y) starting at (t0, y0).
// y0 is copied.
func NewBDF(f Evaluator, t0 float64, y0 []float64, cfg BDFConfig) (*BDF, error) {
	n := len(y0)
	switch {
	case f == nil:
		return nil, fmt.Errorf("%w: nil right-hand side", ErrSolverSetup)
	case n == 0:
		return nil, fmt.Errorf("%w: empty state vector", ErrAllocation)
	case cfg.RelTol <= 0:
		return nil, fmt.Errorf("%w: relative tolerance %g", ErrSolverSetup, cfg.RelTol)
	case len(cfg.AbsTol) != 1 && len(cfg.AbsTol) != n:
		return nil, fmt.Errorf("%w: %d absolute tolerances for %d components", ErrSolverSetup, len(cfg.AbsTol), n)
	case cfg.MinStep <= 0 || cfg.MaxStep < cfg.MinStep:
		return nil, fmt.Errorf("%w: step bounds [%g, %g]", ErrSolverSetup, cfg.MinStep, cfg.MaxStep)
	case cfg.Bandwidth < 0:
		return nil, fmt.Errorf("%w: negative Jacobian bandwidth %d", ErrSolverSetup, cfg.Bandwidth)
	}

	b := &BDF{
		f:        f,
		cfg:      cfg,
		n:        n,
		bw:       cfg.Bandwidth,
		t:        t0,
		tOld:     t0,
		y:        append([]float64(nil), y0...),
		atol:     make([]float64, n),
		order:    1,
		maxOrder: cfg.MaxOrder,
	}
	if b.bw > n-1 {
		b.bw = n - 1
	}
	if size := Workspace(n, b.bw); size > maxWorkspace {
		return nil, fmt.Errorf("%w: %d state variables with bandwidth %d need %.0f values, limit %d",
			ErrAllocation, n, b.bw, size, maxWorkspace)
	}
	if b.maxOrder <= 0 || b.maxOrder > bdfMaxOrder {
		b.maxOrder = bdfMaxOrder
	}
	if b.cfg.MaxSteps <= 0 {
		b.cfg.MaxSteps = defaultMaxSteps
	}
	for i := range b.atol {
		if len(cfg.AbsTol) == 1 {
			b.atol[i] = cfg.AbsTol[0]
		} else {
			b.atol[i] = cfg.AbsTol[i]
		}
		if b.atol[i] <= 0 {
			return nil, fmt.Errorf("%w: absolute tolerance %g at component %d", ErrSolverSetup, b.atol[i], i)
		}
	}
	b.newtonTol = math.Max(10*eps/cfg.RelTol, math.Min(0.03, math.Sqrt(cfg.RelTol)))

	b.d = make([][]float64, bdfMaxOrder+3)
	for i := range b.d {
		b.d[i] = make([]float64, n)
	}
	for _, s := range []*[]float64{&b.yPred, &b.psi, &b.scale, &b.fval, &b.rhs, &b.dCorr, &b.yNew, &b.yTmp, &b.f1, &b.inc, &b.dy} {
		*s = make([]float64, n)
	}
	b.jacData = make([]float64, n*(2*b.bw+1))
	b.jac = mat.NewBandDense(n, n, b.bw, b.bw, b.jacData)
	b.lu = newBandLU(n, b.bw)

	h := cfg.FirstStep
	if h <= 0 {
		h = cfg.MinStep
	}
	b.hAbs = math.Min(math.Max(h, cfg.MinStep), cfg.MaxStep)

	if err := b.eval(t0, b.y, b.fval); err != nil {
		return nil, err
	}
	copy(b.d[0], b.y)
	floats.ScaleTo(b.d[1], b.hAbs, b.fval)
	return b, nil
}

const eps = 2.220446049250313e-16

// Workspace returns the number of float64 values an integrator for n
// state variables with Jacobian half-bandwidth bw allocates.
func Workspace(n, bw int) float64 {
	if bw > n-1 {
		bw = n - 1
	}
	perState := float64(bdfMaxOrder+3) + 12 + float64(2*bw+1)
	return float64(n)*perState + bandLUSize(n, bw)
}

// T returns the time of the last accepted step.
func (b *BDF) T() float64 { return b.t }

// Y returns the state of the last accepted step. The slice must not be modified.
func (b *BDF) Y() []float64 { return b.y }

// Order returns the order that will be used for the next step.
func (b *BDF) Order() int { return b.order }

// StepSize returns the step size that will be tried next.
func (b *BDF) StepSize() float64 { return b.hAbs }

// Stats returns the work counters.
func (b *BDF) Stats() BDFStats { return b.stats }

func (b *BDF) eval(t float64, y, dst []float64) error {
	b.stats.RHSEvals++
	if err := b.f.Evaluate(t, y, dst); err != nil {
		return err
	}
	return nil
}

func (b *BDF) fail(reason string) error {
	return &IntegrationError{Time: b.t, Step: b.hAbs, Steps: b.stats.Steps, Reason: reason}
}

// AdvanceTo steps until tout is reached or passed and writes the
// interpolated state at tout into dst.
func (b *BDF) AdvanceTo(tout float64, dst []float64) error {
	if len(dst) != b.n {
		return fmt.Errorf("%w: output has %d values, want %d", ErrIntegration, len(dst), b.n)
	}
	if tout < b.tOld {
		return fmt.Errorf("%w: output time %g before current interval [%g, %g]", ErrIntegration, tout, b.tOld, b.t)
	}
	for steps := 0; b.t < tout; steps++ {
		if steps >= b.cfg.MaxSteps {
			return b.fail(fmt.Sprintf("more than %d steps before t=%g", b.cfg.MaxSteps, tout))
		}
		if err := b.Step(); err != nil {
			return err
		}
	}
	b.Interpolate(tout, dst)
	return nil
}

// Interpolate evaluates the interpolating polynomial of the last step at t.
// t should lie within the last step.
func (b *BDF) Interpolate(t float64, dst []float64) {
	if t == b.t || b.t == b.tOld {
		copy(dst, b.y)
		return
	}
	copy(dst, b.d[0])
	p := 1.0
	for j := 0; j < b.order; j++ {
		shift := b.t - b.hAbs*float64(j)
		denom := b.hAbs * float64(j+1)
		p *= (t - shift) / denom
		floats.AddScaled(dst, p, b.d[j+1])
	}
}

// Step performs one accepted integration step.
func (b *BDF) Step() error {
	minStep := math.Max(b.cfg.MinStep, 10*(math.Nextafter(b.t, math.Inf(1))-b.t))
	maxStep := b.cfg.MaxStep

	hAbs := b.hAbs
	if hAbs > maxStep {
		b.changeD(b.order, maxStep/hAbs)
		hAbs = maxStep
		b.nEqualSteps = 0
		b.luValid = false
	} else if hAbs < minStep {
		b.changeD(b.order, minStep/hAbs)
		hAbs = minStep
		b.nEqualSteps = 0
		b.luValid = false
	}

	order := b.order
	currentJac := false
	var (
		tNew      float64
		nIter     int
		errorNorm float64
	)
	for {
		if hAbs < minStep*(1-1e-12) {
			b.hAbs = hAbs
			return b.fail("step size below minimum")
		}
		tNew = b.t + hAbs
		if b.cfg.TStop > 0 && tNew > b.cfg.TStop && b.t < b.cfg.TStop {
			tNew = b.cfg.TStop
			b.changeD(order, (tNew-b.t)/hAbs)
			b.nEqualSteps = 0
			b.luValid = false
		}
		h := tNew - b.t
		hAbs = h

		for i := range b.yPred {
			b.yPred[i] = 0
		}
		for k := 0; k <= order; k++ {
			floats.Add(b.yPred, b.d[k])
		}
		for i := range b.scale {
			b.scale[i] = b.atol[i] + b.cfg.RelTol*math.Abs(b.yPred[i])
		}
		for i := range b.psi {
			b.psi[i] = 0
		}
		for k := 1; k <= order; k++ {
			floats.AddScaled(b.psi, bdfGamma[k], b.d[k])
		}
		floats.Scale(1/bdfAlpha[order], b.psi)

		c := h / bdfAlpha[order]
		converged := false
		for !converged {
			if !b.luValid {
				if !currentJac && b.stats.JacEvals == 0 {
					if err := b.jacobian(tNew, b.yPred); err != nil {
						return err
					}
					currentJac = true
				}
				if !b.factorize(c) {
					break
				}
			}
			var err error
			converged, nIter, err = b.solveSystem(tNew, c)
			if err != nil {
				return err
			}
			if !converged {
				if currentJac {
					break
				}
				if err := b.jacobian(tNew, b.yPred); err != nil {
					return err
				}
				b.luValid = false
				currentJac = true
			}
		}

		if !converged {
			b.stats.NewtonFailures++
			b.stats.RejectedSteps++
			hAbs *= 0.5
			b.changeD(order, 0.5)
			b.nEqualSteps = 0
			b.luValid = false
			continue
		}

		for i := range b.scale {
			b.scale[i] = b.atol[i] + b.cfg.RelTol*math.Abs(b.yNew[i])
		}
		errorNorm = bdfErrorConst[order] * rmsNorm(b.dCorr, b.scale)
		if errorNorm > 1 {
			safety := 0.9 * (2*newtonMaxIter + 1) / float64(2*newtonMaxIter+nIter)
			factor := math.Max(minStepFactor, safety*math.Pow(errorNorm, -1/float64(order+1)))
			hAbs *= factor
			b.changeD(order, factor)
			b.nEqualSteps = 0
			b.stats.RejectedSteps++
			continue
		}
		break
	}

	b.stats.Steps++
	b.nEqualSteps++
	b.tOld = b.t
	b.t = tNew
	copy(b.y, b.yNew)
	b.hAbs = hAbs

	d := b.d
	for i := range d[order+2] {
		d[order+2][i] = b.dCorr[i] - d[order+1][i]
	}
	copy(d[order+1], b.dCorr)
	for k := order; k >= 0; k-- {
		floats.Add(d[k], d[k+1])
	}

	if b.nEqualSteps < order+1 {
		return nil
	}

	safety := 0.9 * (2*newtonMaxIter + 1) / float64(2*newtonMaxIter+nIter)
	errM, errP := math.Inf(1), math.Inf(1)
	if order > 1 {
		errM = bdfErrorConst[order-1] * rmsNorm(d[order], b.scale)
	}
	if order < b.maxOrder {
		errP = bdfErrorConst[order+1] * rmsNorm(d[order+2], b.scale)
	}
	factors := [3]float64{
		math.Pow(errM, -1/float64(order)),
		math.Pow(errorNorm, -1/float64(order+1)),
		math.Pow(errP, -1/float64(order+2)),
	}
	best := 0
	for i := 1; i < 3; i++ {
		if factors[i] > factors[best] {
			best = i
		}
	}
	order += best - 1
	b.order = order

	factor := math.Min(maxStepFactor, safety*factors[best])
	b.hAbs *= factor
	b.changeD(order, factor)
	b.nEqualSteps = 0
	b.luValid = false
	return nil
}

// solveSystem runs the simplified Newton iteration of the corrector.
func (b *BDF) solveSystem(tNew, c float64) (converged bool, iters int, err error) {
	copy(b.yNew, b.yPred)
	for i := range b.dCorr {
		b.dCorr[i] = 0
	}
	dyNormOld := -1.0
	for k := 0; k < newtonMaxIter; k++ {
		iters = k + 1
		if err := b.eval(tNew, b.yNew, b.fval); err != nil {
			return false, iters, err
		}
		if !allFinite(b.fval) {
			return false, iters, nil
		}
		for i := range b.rhs {
			b.rhs[i] = c*b.fval[i] - b.psi[i] - b.dCorr[i]
		}
		dy := b.dy
		copy(dy, b.rhs)
		b.lu.solve(dy)
		if !allFinite(dy) {
			return false, iters, nil
		}
		dyNorm := rmsNorm(dy, b.scale)
		rate := -1.0
		if dyNormOld >= 0 {
			rate = dyNorm / dyNormOld
		}
		if rate >= 0 && (rate >= 1 || math.Pow(rate, float64(newtonMaxIter-k))/(1-rate)*dyNorm > b.newtonTol) {
			return false, iters, nil
		}
		floats.Add(b.yNew, dy)
		floats.Add(b.dCorr, dy)
		if dyNorm == 0 || (rate >= 0 && rate/(1-rate)*dyNorm < b.newtonTol) {
			return true, iters, nil
		}
		dyNormOld = dyNorm
	}
	return false, iters, nil
}

// factorize decomposes I - c*J. It reports false for a singular matrix.
func (b *BDF) factorize(c float64) bool {
	b.stats.LUDecomps++
	b.luValid = b.lu.factorize(b.jac, c)
	return b.luValid
}

// jacobian approximates the banded Jacobian by forward differences,
// perturbing every column group of stride 2·bw+1 in one evaluation.
func (b *BDF) jacobian(t float64, y []float64) error {
	b.stats.JacEvals++
	f0 := b.rhs
	if err := b.eval(t, y, f0); err != nil {
		return err
	}
	n, bw := b.n, b.bw
	stride := 2*bw + 1
	if stride > n {
		stride = n
	}
	for i := range b.jacData {
		b.jacData[i] = 0
	}
	sqrtEps := math.Sqrt(eps)
	for g := 0; g < stride; g++ {
		copy(b.yTmp, y)
		for j := g; j < n; j += stride {
			inc := sqrtEps * math.Max(math.Abs(y[j]), b.atol[j]+b.cfg.RelTol*math.Abs(y[j]))
			b.yTmp[j] = y[j] + inc
			b.inc[j] = b.yTmp[j] - y[j]
		}
		if err := b.eval(t, b.yTmp, b.f1); err != nil {
			return err
		}
		for j := g; j < n; j += stride {
			lo, hi := j-bw, j+bw
			if lo < 0 {
				lo = 0
			}
			if hi > n-1 {
				hi = n - 1
			}
			for i := lo; i <= hi; i++ {
				b.jac.SetBand(i, j, (b.f1[i]-f0[i])/b.inc[j])
			}
		}
	}
	b.luValid = false
	return nil
}

// changeD rescales the difference array for a step size change by factor.
func (b *BDF) changeD(order int, factor float64) {
	r := computeR(order, factor)
	u := computeR(order, 1)
	var ru [bdfMaxOrder + 1][bdfMaxOrder + 1]float64
	for i := 0; i <= order; i++ {
		for j := 0; j <= order; j++ {
			var s float64
			for k := 0; k <= order; k++ {
				s += r[i][k] * u[k][j]
			}
			ru[i][j] = s
		}
	}
	tmp := make([][]float64, order+1)
	for i := 0; i <= order; i++ {
		tmp[i] = make([]float64, b.n)
		for k := 0; k <= order; k++ {
			floats.AddScaled(tmp[i], ru[k][i], b.d[k])
		}
	}
	for i := 0; i <= order; i++ {
		copy(b.d[i], tmp[i])
	}
}

func computeR(order int, factor float64) [bdfMaxOrder + 1][bdfMaxOrder + 1]float64 {
	var m [bdfMaxOrder + 1][bdfMaxOrder + 1]float64
	for j := 0; j <= order; j++ {
		m[0][j] = 1
	}
	for i := 1; i <= order; i++ {
		for j := 1; j <= order; j++ {
			m[i][j] = (float64(i-1) - factor*float64(j)) / float64(i)
		}
	}
	for i := 1; i <= order; i++ {
		for j := 0; j <= order; j++ {
			m[i][j] *= m[i-1][j]
		}
	}
	return m
}

func rmsNorm(x, scale []float64) float64 {
	var s float64
	for i, v := range x {
		q := v / scale[i]
		s += q * q
	}
	return math.Sqrt(s / float64(len(x)))
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
