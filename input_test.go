package cxtfit

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultInput(t *testing.T) {
	in := DefaultInput()
	require.NoError(t, in.Validate())
	assert.Equal(t, 3, in.N)
	assert.InDelta(t, 0.5, in.V, 1e-12)
	assert.Equal(t, 24*3600.0, in.TEnd)
	assert.Equal(t, 71.0, in.CInlet)
	assert.Equal(t, EquilibriumSorption, in.Model)
}

func TestValidateRejectsInvariantViolations(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SolverInput)
	}{
		{"no elements", func(in *SolverInput) { in.N = 0 }},
		{"zero length", func(in *SolverInput) { in.L = 0 }},
		{"zero area", func(in *SolverInput) { in.A = 0 }},
		{"zero velocity", func(in *SolverInput) { in.Q = 0; in.V = 0 }},
		{"Rc below one", func(in *SolverInput) { in.Rc = 0.5 }},
		{"Rs below one", func(in *SolverInput) { in.Model = EquilibriumPlusExchange; in.Rs = 0.1 }},
		{"negative beta", func(in *SolverInput) { in.Model = EquilibriumPlusExchange; in.Beta = -1 }},
		{"zero min step", func(in *SolverInput) { in.MinDt = 0 }},
		{"max below min step", func(in *SolverInput) { in.MaxDt = 1e-13 }},
		{"zero rel tol", func(in *SolverInput) { in.RelTol = 0 }},
		{"negative abs tol", func(in *SolverInput) { in.AbsTol = -1e-10 }},
		{"zero end time", func(in *SolverInput) { in.TEnd = 0 }},
		{"zero output step", func(in *SolverInput) { in.OutputDt = 0 }},
		{"zero profile stride", func(in *SolverInput) { in.OutputN = 0 }},
		{"negative diffusion", func(in *SolverInput) { in.D = -1 }},
		{"porosity above one", func(in *SolverInput) { in.Porosity = 1.5 }},
		{"negative inlet", func(in *SolverInput) { in.CInlet = -1 }},
		{"nan coefficient", func(in *SolverInput) { in.MuC = math.NaN() }},
		{"unknown model", func(in *SolverInput) { in.Model = Model(7) }},
		{"unbuilt inlet curve", func(in *SolverInput) { in.CInletData = &LinearSpline{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := DefaultInput()
			tt.modify(&in)
			assert.ErrorIs(t, in.Validate(), ErrInvalidConfiguration)
		})
	}
}

func TestSingleModelIgnoresImmobileCoefficients(t *testing.T) {
	in := DefaultInput()
	in.Rs = 0
	in.Beta = -5
	assert.NoError(t, in.Validate())
}

func TestExplicitVelocityWithoutFlow(t *testing.T) {
	in := DefaultInput()
	in.Q = 0
	in.V = 0.01
	in.DeriveVelocity()
	assert.Equal(t, 0.01, in.V)
	assert.NoError(t, in.Validate())
}

func TestInletConcentration(t *testing.T) {
	in := DefaultInput()
	assert.Equal(t, 71.0, in.InletConcentration(1234))

	curve, err := NewLinearSpline([]float64{0, 1, 2}, []float64{0, 10, 30})
	require.NoError(t, err)
	in.CInletData = curve
	assert.InDelta(t, 10.0, in.InletConcentration(3600), 1e-12)
	assert.InDelta(t, 20.0, in.InletConcentration(5400), 1e-12)
	assert.InDelta(t, 30.0, in.InletConcentration(1e6), 1e-12)
}

func TestModelText(t *testing.T) {
	for _, m := range []Model{EquilibriumSorption, EquilibriumPlusExchange} {
		parsed, err := ParseModel(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseModel("kinetic")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	in := DefaultInput()
	in.Model = EquilibriumPlusExchange
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"model":"exchange"`)

	var back SolverInput
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, EquilibriumPlusExchange, back.Model)
	assert.Equal(t, in.Rc, back.Rc)
}
