package cxtfit

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decay(k float64) Evaluator {
	return EvaluatorFunc(func(t float64, y, ydot []float64) error {
		for i := range y {
			ydot[i] = -k * y[i]
		}
		return nil
	})
}

func TestBDFExponentialDecay(t *testing.T) {
	b, err := NewBDF(decay(2), 0, []float64{1, 3}, BDFConfig{
		RelTol: 1e-8, AbsTol: []float64{1e-12},
		MinStep: 1e-14, MaxStep: 0.5, FirstStep: 1e-6,
	})
	require.NoError(t, err)

	y := make([]float64, 2)
	for _, tout := range []float64{0, 0.1, 0.5, 1, 2} {
		require.NoError(t, b.AdvanceTo(tout, y))
		assert.InEpsilon(t, math.Exp(-2*tout), y[0], 1e-5, "t=%g", tout)
		assert.InEpsilon(t, 3*math.Exp(-2*tout), y[1], 1e-5, "t=%g", tout)
	}
	st := b.Stats()
	assert.Greater(t, st.Steps, 10)
	assert.Greater(t, st.RHSEvals, st.Steps)
	assert.GreaterOrEqual(t, st.JacEvals, 1)
	assert.GreaterOrEqual(t, b.Order(), 1)
	assert.LessOrEqual(t, b.Order(), 5)
}

func TestBDFStiffSystem(t *testing.T) {
	// fast mode decays with rate 1e4, slow mode with rate 1
	f := EvaluatorFunc(func(t float64, y, ydot []float64) error {
		ydot[0] = -1e4*y[0] + y[1]
		ydot[1] = -y[1]
		return nil
	})
	b, err := NewBDF(f, 0, []float64{1, 1}, BDFConfig{
		RelTol: 1e-6, AbsTol: []float64{1e-10},
		MinStep: 1e-14, MaxStep: 10, FirstStep: 1e-6, Bandwidth: 1,
	})
	require.NoError(t, err)

	y := make([]float64, 2)
	require.NoError(t, b.AdvanceTo(5, y))
	slow := math.Exp(-5.0)
	assert.InEpsilon(t, slow, y[1], 1e-3)
	// quasi steady state of the fast mode
	assert.InEpsilon(t, slow/(1e4-1), y[0], 5e-3)
	// an explicit method would need ~1e4 steps here
	assert.Less(t, b.Stats().Steps, 1000)
}

func TestBDFTStop(t *testing.T) {
	b, err := NewBDF(decay(1), 0, []float64{1}, BDFConfig{
		RelTol: 1e-6, AbsTol: []float64{1e-10},
		MinStep: 1e-12, MaxStep: 100, TStop: 0.75,
	})
	require.NoError(t, err)
	y := make([]float64, 1)
	require.NoError(t, b.AdvanceTo(0.75, y))
	assert.LessOrEqual(t, b.T(), 0.75)
	assert.InEpsilon(t, math.Exp(-0.75), y[0], 1e-4)
}

func TestBDFBandedJacobian(t *testing.T) {
	// tridiagonal linear system
	n := 7
	f := EvaluatorFunc(func(t float64, y, ydot []float64) error {
		for i := range y {
			ydot[i] = -2 * y[i]
			if i > 0 {
				ydot[i] += 1.5 * y[i-1]
			}
			if i < n-1 {
				ydot[i] += 0.5 * y[i+1]
			}
		}
		return nil
	})
	y0 := make([]float64, n)
	for i := range y0 {
		y0[i] = float64(i + 1)
	}
	b, err := NewBDF(f, 0, y0, BDFConfig{
		RelTol: 1e-6, AbsTol: []float64{1e-8},
		MinStep: 1e-12, MaxStep: 1, Bandwidth: 1,
	})
	require.NoError(t, err)
	require.NoError(t, b.jacobian(0, y0))

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := 0.0
			switch j - i {
			case 0:
				want = -2
			case -1:
				want = 1.5
			case 1:
				want = 0.5
			}
			assert.InDelta(t, want, b.jac.At(i, j), 1e-6, "J[%d,%d]", i, j)
		}
	}
	// 2·bw+1 grouped evaluations plus the base point
	assert.Equal(t, 1+1+3, b.Stats().RHSEvals)
}

func TestBDFSetupErrors(t *testing.T) {
	good := BDFConfig{RelTol: 1e-6, AbsTol: []float64{1e-8}, MinStep: 1e-12, MaxStep: 1}
	tests := []struct {
		name   string
		modify func(*BDFConfig)
		y0     []float64
		want   error
	}{
		{"negative bandwidth", func(c *BDFConfig) { c.Bandwidth = -1 }, []float64{1}, ErrSolverSetup},
		{"zero rel tol", func(c *BDFConfig) { c.RelTol = 0 }, []float64{1}, ErrSolverSetup},
		{"tolerance count", func(c *BDFConfig) { c.AbsTol = []float64{1, 2} }, []float64{1, 2, 3}, ErrSolverSetup},
		{"zero abs tol", func(c *BDFConfig) { c.AbsTol = []float64{0} }, []float64{1}, ErrSolverSetup},
		{"step bounds", func(c *BDFConfig) { c.MaxStep = 1e-13 }, []float64{1}, ErrSolverSetup},
		{"empty state", func(c *BDFConfig) {}, nil, ErrAllocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good
			tt.modify(&cfg)
			_, err := NewBDF(decay(1), 0, tt.y0, cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBDFMaxSteps(t *testing.T) {
	b, err := NewBDF(decay(1), 0, []float64{1}, BDFConfig{
		RelTol: 1e-6, AbsTol: []float64{1e-8},
		MinStep: 1e-3, MaxStep: 1e-3, MaxSteps: 50,
	})
	require.NoError(t, err)
	err = b.AdvanceTo(1, make([]float64, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegration)

	var ie *IntegrationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 50, ie.Steps)
	assert.InDelta(t, 0.05, ie.Time, 1e-9)
}

func TestBDFPropagatesEvaluatorErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	f := EvaluatorFunc(func(t float64, y, ydot []float64) error {
		calls++
		if calls > 3 {
			return boom
		}
		ydot[0] = -y[0]
		return nil
	})
	b, err := NewBDF(f, 0, []float64{1}, BDFConfig{
		RelTol: 1e-6, AbsTol: []float64{1e-8}, MinStep: 1e-12, MaxStep: 1,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, b.AdvanceTo(10, make([]float64, 1)), boom)
}

func TestBDFRejectsNonFiniteDerivatives(t *testing.T) {
	f := EvaluatorFunc(func(t float64, y, ydot []float64) error {
		if t > 0.5 {
			ydot[0] = math.NaN()
			return nil
		}
		ydot[0] = -y[0]
		return nil
	})
	b, err := NewBDF(f, 0, []float64{1}, BDFConfig{
		RelTol: 1e-6, AbsTol: []float64{1e-8}, MinStep: 1e-6, MaxStep: 0.1,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, b.AdvanceTo(1, make([]float64, 1)), ErrIntegration)
}

func TestComputeRIdentity(t *testing.T) {
	// R(1)·U with U = R(1) is the identity since U² = I
	for order := 1; order <= bdfMaxOrder; order++ {
		u := computeR(order, 1)
		for i := 0; i <= order; i++ {
			for j := 0; j <= order; j++ {
				var s float64
				for k := 0; k <= order; k++ {
					s += u[i][k] * u[k][j]
				}
				want := 0.0
				if i == j {
					want = 1
				}
				assert.InDelta(t, want, s, 1e-12, "order %d [%d,%d]", order, i, j)
			}
		}
	}
}
