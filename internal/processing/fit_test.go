package processing

import (
	"context"
	"testing"

	"github.com/kacperjurak/cxtfit"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// shortBed breaks through within the first hour.
func shortBed() cxtfit.SolverInput {
	in := cxtfit.DefaultInput()
	in.N = 5
	in.Rc = 1000
	in.D = 0.01
	in.TEnd = 3600
	in.OutputDt = 60
	in.MaxDt = 60
	in.RelTol = 1e-8
	in.AbsTol = 1e-8
	return in
}

func newProcessor() *FitProcessor {
	opts := cxtfit.DefaultOptions()
	opts.Horizon = 3600
	return NewFitProcessor(opts, quietLogger())
}

func measuredCurve(t *testing.T, in cxtfit.SolverInput) models.Curve {
	t.Helper()
	res, err := cxtfit.Simulate(context.Background(), in)
	require.NoError(t, err)
	return models.Curve{T: res.OutletT, C: res.OutletC}
}

func TestProcessRecoversRetention(t *testing.T) {
	truth := shortBed()
	start := truth
	start.Rc = 1300
	req := models.FitRequest{ID: "job-1", Input: start, Fit: []string{"Rc"}, Measured: measuredCurve(t, truth)}

	res, err := newProcessor().Process(context.Background(), req)
	require.NoError(t, err)
	assert.InEpsilon(t, truth.Rc, res.Parameters[cxtfit.ParamRc].Value, 0.01)
	assert.Greater(t, res.R2, 0.999)
}

func TestProcessAllMethodsKeepsBest(t *testing.T) {
	truth := shortBed()
	start := truth
	start.Rc = 1200
	req := models.FitRequest{Input: start, Fit: []string{"rc"}, Method: "all", Measured: measuredCurve(t, truth)}

	res, err := newProcessor().Process(context.Background(), req)
	require.NoError(t, err)
	assert.InEpsilon(t, truth.Rc, res.Input.Rc, 0.01)
}

func TestProcessRejectsBadRequests(t *testing.T) {
	p := newProcessor()
	good := models.Curve{T: []float64{0, 1}, C: []float64{0, 1}}
	cases := []struct {
		name string
		req  models.FitRequest
		err  error
	}{
		{"no parameters", models.FitRequest{Input: shortBed(), Measured: good}, cxtfit.ErrInvalidConfiguration},
		{"unknown parameter", models.FitRequest{Input: shortBed(), Fit: []string{"x"}, Measured: good}, cxtfit.ErrInvalidConfiguration},
		{"unknown method", models.FitRequest{Input: shortBed(), Fit: []string{"Rc"}, Method: "bfgs", Measured: good}, cxtfit.ErrInvalidConfiguration},
		{"short curve", models.FitRequest{Input: shortBed(), Fit: []string{"Rc"}, Measured: models.Curve{T: []float64{0}, C: []float64{0}}}, cxtfit.ErrInvalidInput},
		{"bad inlet", models.FitRequest{Input: shortBed(), Fit: []string{"Rc"}, Measured: good, Inlet: &models.Curve{T: []float64{1, 0}, C: []float64{0, 0}}}, cxtfit.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestProcessCanceled(t *testing.T) {
	truth := shortBed()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := models.FitRequest{Input: truth, Fit: []string{"Rc"}, Measured: measuredCurve(t, truth)}
	_, err := newProcessor().Process(ctx, req)
	assert.ErrorIs(t, err, cxtfit.ErrCanceled)
}

func TestSimulate(t *testing.T) {
	in := shortBed()
	measured := measuredCurve(t, in)
	in.V = 0 // derived from the flow rate

	resp, err := newProcessor().Simulate(context.Background(), models.SimulateRequest{
		Input:    in,
		Measured: &measured,
		Profiles: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.OutletC, len(measured.C))
	assert.InDelta(t, 1, resp.R2, 1e-9)
	assert.NotEmpty(t, resp.Profiles)
	assert.Nil(t, resp.Partition)
	assert.Positive(t, resp.Stats.Steps)
}

func TestSimulatePartition(t *testing.T) {
	in := shortBed()
	in.D = 0
	inlet := models.Curve{T: []float64{0, 1}, C: []float64{in.CInlet, in.CInlet}}
	measured := measuredCurve(t, in)

	resp, err := newProcessor().Simulate(context.Background(), models.SimulateRequest{
		Input: in, Inlet: &inlet, Measured: &measured, Partition: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Partition)
	assert.Positive(t, *resp.Partition)
	assert.Empty(t, resp.Profiles)

	_, err = newProcessor().Simulate(context.Background(), models.SimulateRequest{Input: in, Partition: true})
	assert.ErrorIs(t, err, cxtfit.ErrInvalidInput)
}

func TestSimulateInvalidInput(t *testing.T) {
	in := shortBed()
	in.N = 0
	_, err := newProcessor().Simulate(context.Background(), models.SimulateRequest{Input: in})
	assert.ErrorIs(t, err, cxtfit.ErrInvalidConfiguration)
}
