package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kacperjurak/cxtfit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProject = `
[input]
n = 10
tEnd = 7200.0
flowRate = 0.2
model = "exchange"
rc = 50.0
beta = 0.001

[fit]
parameters = ["Rc", "beta"]
method = "nelder-mead"
outletFile = "outlet.txt"
`

func TestLoadProject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bed.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProject), 0o644))

	p, err := LoadProject(path)
	require.NoError(t, err)

	def := cxtfit.DefaultInput()
	assert.Equal(t, 10, p.Input.N)
	assert.Equal(t, 7200.0, p.Input.TEnd)
	assert.Equal(t, cxtfit.EquilibriumPlusExchange, p.Input.Model)
	assert.Equal(t, 50.0, p.Input.Rc)
	assert.Equal(t, def.L, p.Input.L, "missing keys keep defaults")
	assert.InDelta(t, 0.2/(def.A*def.Porosity), p.Input.V, 1e-12)
	assert.Equal(t, filepath.Join(dir, "outlet.txt"), p.Fit.OutletFile)
	assert.Equal(t, "", p.Fit.InletFile)

	ids, err := p.FitParameters()
	require.NoError(t, err)
	assert.Equal(t, []cxtfit.ParameterID{cxtfit.ParamRc, cxtfit.ParamBeta}, ids)
}

func TestLoadProjectRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bed.toml")
	require.NoError(t, os.WriteFile(path, []byte("[input]\nlenght = 1.0\n"), 0o644))
	_, err := LoadProject(path)
	assert.ErrorIs(t, err, cxtfit.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "lenght")
}

func TestLoadProjectBadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bed.toml")
	require.NoError(t, os.WriteFile(path, []byte("[input]\nmodel = \"plug\"\n"), 0o644))
	_, err := LoadProject(path)
	assert.ErrorIs(t, err, cxtfit.ErrInvalidConfiguration)
}

func TestSaveProjectRoundTrip(t *testing.T) {
	in := cxtfit.DefaultInput()
	in.Model = cxtfit.EquilibriumPlusExchange
	in.Beta = 2e-4
	p := NewProject(in)
	p.Fit.Parameters = []string{"Rc"}

	fitted := in.Clone()
	fitted.Rc = 1234
	ps := cxtfit.NewParameterSet(fitted, cxtfit.ParamRc)
	p.SetResult(&cxtfit.OptimizerResult{Parameters: ps, Input: fitted, R2: 0.99, Trials: 7, Status: "converged"})

	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, SaveProject(path, p))

	back, err := LoadProject(path)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, back.Input.Rc)
	assert.Equal(t, cxtfit.EquilibriumPlusExchange, back.Input.Model)
	assert.Equal(t, in.V, back.Input.V)
	require.NotNil(t, back.Result)
	assert.Equal(t, map[string]float64{"Rc": 1234}, back.Result.Values)
	assert.Equal(t, 7, back.Result.Trials)
	assert.Equal(t, "converged", back.Result.Status)
}
