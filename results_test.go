package cxtfit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSpline(t *testing.T, x, y []float64) *LinearSpline {
	t.Helper()
	s, err := NewLinearSpline(x, y)
	require.NoError(t, err)
	return s
}

func TestRSquareSelfIsOne(t *testing.T) {
	s := mustSpline(t, []float64{0, 1, 2, 5, 10}, []float64{0, 3, 8, 9, 9.5})
	assert.InDelta(t, 1.0, RSquare(s, s, DefaultRSquareStep), 1e-12)
	assert.InDelta(t, 1.0, RSquare(s, s.Clone(), 0.01), 1e-12)
}

func TestRSquareNoOverlap(t *testing.T) {
	a := mustSpline(t, []float64{0, 1}, []float64{0, 1})
	b := mustSpline(t, []float64{2, 3}, []float64{0, 1})
	assert.Equal(t, -1.0, RSquare(a, b, DefaultRSquareStep))
	assert.Equal(t, -1.0, RSquare(b, a, DefaultRSquareStep))
}

func TestRSquareInvalidOrConstant(t *testing.T) {
	a := mustSpline(t, []float64{0, 1}, []float64{0, 1})
	assert.Equal(t, -1.0, RSquare(a, &LinearSpline{}, 0.1))
	assert.Equal(t, -1.0, RSquare(nil, a, 0.1))

	flat := mustSpline(t, []float64{0, 1}, []float64{2, 2})
	assert.Equal(t, -1.0, RSquare(a, flat, 0.1))
}

func TestRSquareOffsetCurve(t *testing.T) {
	ref := mustSpline(t, []float64{0, 1}, []float64{0, 1})
	sim := mustSpline(t, []float64{0, 1}, []float64{0.1, 1.1})

	// samples at 0, 0.25, ..., 1
	var ssy float64
	for _, v := range []float64{0, 0.25, 0.5, 0.75, 1} {
		ssy += (v - 0.5) * (v - 0.5)
	}
	want := 1 - 5*0.01/ssy
	assert.InDelta(t, want, RSquare(sim, ref, 0.25), 1e-12)

	// a non-positive step falls back to the default
	assert.Equal(t, RSquare(sim, ref, DefaultRSquareStep), RSquare(sim, ref, 0))
}

func TestCalculateRSquare(t *testing.T) {
	res := &SolverResults{
		OutletT: []float64{0, 1, 2},
		OutletC: []float64{0, 1, 2},
		R2:      -1,
	}
	ref := mustSpline(t, []float64{0, 2}, []float64{0, 2})
	assert.InDelta(t, 1.0, res.CalculateRSquare(ref), 1e-12)
	assert.InDelta(t, 1.0, res.R2, 1e-12)

	short := &SolverResults{OutletT: []float64{0}, OutletC: []float64{0}}
	assert.Equal(t, -1.0, short.CalculateRSquare(ref))
}

func TestEstimatePartition(t *testing.T) {
	in := DefaultInput()
	inlet := mustSpline(t, []float64{0, 10}, []float64{1, 1})
	outlet := mustSpline(t, []float64{0, 10}, []float64{0, 0})

	k, err := EstimatePartition(inlet, outlet, in)
	require.NoError(t, err)
	// 10 h of full retention: q·36000 s / (L·A·(1-p)) / 1
	want := in.Q * 36000 / (in.L * in.A * (1 - in.Porosity))
	assert.InEpsilon(t, want, k, 1e-9)

	_, err = EstimatePartition(inlet, &LinearSpline{}, in)
	assert.ErrorIs(t, err, ErrNotReady)

	zero := mustSpline(t, []float64{0, 10}, []float64{0, 0})
	_, err = EstimatePartition(zero, outlet, in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEstimatePartitionFromSimulation(t *testing.T) {
	in := fastBed(EquilibriumSorption)
	in.D = 0
	res, err := Simulate(context.Background(), in)
	require.NoError(t, err)
	outlet, err := res.OutletSpline()
	require.NoError(t, err)
	inlet := mustSpline(t, []float64{0, in.TEnd / 3600}, []float64{in.CInlet, in.CInlet})

	k, err := EstimatePartition(inlet, outlet, in)
	require.NoError(t, err)
	// the bed holds Rc·c per unit volume and is fed at v·A = q/p
	want := in.Porosity * in.Rc / (1 - in.Porosity)
	assert.InEpsilon(t, want, k, 0.05)
}
