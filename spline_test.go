package cxtfit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearSplineExactAtSamples(t *testing.T) {
	x := []float64{0, 0.5, 1.25, 3, 7}
	y := []float64{1, -2, 4.5, 4.5, 10}
	s, err := NewLinearSpline(x, y)
	require.NoError(t, err)
	require.True(t, s.Valid())
	for i := range x {
		assert.Equal(t, y[i], s.Value(x[i]), "sample %d", i)
	}
}

func TestLinearSplineInterpolation(t *testing.T) {
	s, err := NewLinearSpline([]float64{0, 2, 4}, []float64{0, 10, 6})
	require.NoError(t, err)

	assert.InDelta(t, 5.0, s.Value(1), 1e-12)
	assert.InDelta(t, 2.5, s.Value(0.5), 1e-12)
	assert.InDelta(t, 8.0, s.Value(3), 1e-12)

	// between two samples the value stays within their range
	for v := 2.0; v <= 4; v += 0.1 {
		got := s.Value(v)
		assert.True(t, got <= 10+1e-12 && got >= 6-1e-12, "value %g at %g", got, v)
	}
}

func TestLinearSplineConstantExtrapolation(t *testing.T) {
	s, err := NewLinearSpline([]float64{1, 2}, []float64{3, 5})
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Value(-100))
	assert.Equal(t, 3.0, s.Value(0.999))
	assert.Equal(t, 5.0, s.Value(2.001))
	assert.Equal(t, 5.0, s.Value(1e9))
}

func TestLinearSplineInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
	}{
		{"length mismatch", []float64{0, 1, 2}, []float64{0, 1}},
		{"one point", []float64{0}, []float64{1}},
		{"empty", nil, nil},
		{"not increasing", []float64{0, 2, 1}, []float64{0, 1, 2}},
		{"duplicate x", []float64{0, 1, 1}, []float64{0, 1, 2}},
		{"nan", []float64{0, math.NaN()}, []float64{0, 1}},
		{"inf", []float64{0, 1}, []float64{math.Inf(1), 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLinearSpline(tt.x, tt.y)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, s)

			var sp LinearSpline
			assert.ErrorIs(t, sp.SetPoints(tt.x, tt.y), ErrInvalidInput)
			assert.False(t, sp.Valid())
		})
	}
}

func TestLinearSplineNotReady(t *testing.T) {
	var s LinearSpline
	assert.ErrorIs(t, s.Build(), ErrNotReady)
	assert.False(t, s.Valid())
	assert.True(t, math.IsNaN(s.Value(1)))

	var nilSpline *LinearSpline
	assert.False(t, nilSpline.Valid())
}

func TestLinearSplineSetPointsInvalidates(t *testing.T) {
	s, err := NewLinearSpline([]float64{0, 1}, []float64{0, 1})
	require.NoError(t, err)

	require.NoError(t, s.SetPoints([]float64{0, 1, 2}, []float64{2, 2, 2}))
	assert.False(t, s.Valid())
	assert.True(t, math.IsNaN(s.Value(0.5)))

	require.NoError(t, s.Build())
	assert.Equal(t, 2.0, s.Value(0.5))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 0.0, s.Min())
	assert.Equal(t, 2.0, s.Max())

	s.Clear()
	assert.False(t, s.Valid())
	assert.ErrorIs(t, s.Build(), ErrNotReady)
}

func TestLinearSplineCopiesSamples(t *testing.T) {
	x := []float64{0, 1}
	y := []float64{0, 1}
	s, err := NewLinearSpline(x, y)
	require.NoError(t, err)
	y[1] = 100
	assert.Equal(t, 1.0, s.Value(1))

	c := s.Clone()
	require.True(t, c.Valid())
	require.NoError(t, s.SetPoints([]float64{0, 1}, []float64{5, 5}))
	assert.Equal(t, 0.5, c.Value(0.5))
}
