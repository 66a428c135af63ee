package cxtfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// LinearSpline interpolates linearly between ordered samples. Outside
// [X()[0], X()[n-1]] it returns the nearest boundary value.
//
// Points set with SetPoints are not usable until Build succeeds; any later
// SetPoints or Clear invalidates the spline again.
type LinearSpline struct {
	x, y  []float64
	pl    interp.PiecewiseLinear
	valid bool
}

// NewLinearSpline stores the samples and builds the spline.
func NewLinearSpline(x, y []float64) (*LinearSpline, error) {
	s := new(LinearSpline)
	if err := s.SetPoints(x, y); err != nil {
		return nil, err
	}
	if err := s.Build(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetPoints copies the samples into the spline. x must be strictly
// increasing, both slices must have equal length and hold at least two
// finite values.
func (s *LinearSpline) SetPoints(x, y []float64) error {
	s.valid = false
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d x values but %d y values", ErrInvalidInput, len(x), len(y))
	}
	if len(x) < 2 {
		return fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidInput, len(x))
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return fmt.Errorf("%w: non-finite sample at index %d", ErrInvalidInput, i)
		}
		if i > 0 && x[i] <= x[i-1] {
			return fmt.Errorf("%w: x not strictly increasing at index %d (%g <= %g)", ErrInvalidInput, i, x[i], x[i-1])
		}
	}
	s.x = append(s.x[:0], x...)
	s.y = append(s.y[:0], y...)
	return nil
}

// Build prepares the interpolation coefficients (makeSpline).
func (s *LinearSpline) Build() error {
	s.valid = false
	if len(s.x) < 2 {
		return fmt.Errorf("%w: %d points", ErrNotReady, len(s.x))
	}
	if err := s.pl.Fit(s.x, s.y); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.valid = true
	return nil
}

// Clear removes all samples.
func (s *LinearSpline) Clear() {
	s.x = s.x[:0]
	s.y = s.y[:0]
	s.valid = false
}

// Valid reports whether Value can be called.
func (s *LinearSpline) Valid() bool {
	return s != nil && s.valid
}

// Value returns the interpolated value at t, or NaN if the spline is not built.
func (s *LinearSpline) Value(t float64) float64 {
	if !s.Valid() {
		return math.NaN()
	}
	return s.pl.Predict(t)
}

// Len returns the number of samples.
func (s *LinearSpline) Len() int { return len(s.x) }

// X returns the sample positions. The slice must not be modified.
func (s *LinearSpline) X() []float64 { return s.x }

// Y returns the sample values. The slice must not be modified.
func (s *LinearSpline) Y() []float64 { return s.y }

// Min returns the first sample position.
func (s *LinearSpline) Min() float64 { return s.x[0] }

// Max returns the last sample position.
func (s *LinearSpline) Max() float64 { return s.x[len(s.x)-1] }

// Clone returns an independent copy of the spline.
func (s *LinearSpline) Clone() *LinearSpline {
	if s == nil {
		return nil
	}
	c := &LinearSpline{
		x: append([]float64(nil), s.x...),
		y: append([]float64(nil), s.y...),
	}
	if s.valid {
		_ = c.Build()
	}
	return c
}
