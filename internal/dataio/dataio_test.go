package dataio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kacperjurak/cxtfit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCurve(t *testing.T) {
	data := "# breakthrough, column 3\n0 0\n0.5\t1.5\n1.0 3,\n2 4.25 extra\n\nnotes after the data\n3 9\n"
	ts, cs, err := ReadCurve(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1, 2}, ts)
	assert.Equal(t, []float64{0, 1.5, 3, 4.25}, cs)
}

func TestReadCurveStopsAtUnparsableLine(t *testing.T) {
	ts, cs, err := ReadCurve(strings.NewReader("1 2\n2 x\n3 4\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, ts)
	assert.Equal(t, []float64{2}, cs)
}

func TestReadCurveReadsOutletCSV(t *testing.T) {
	res := &cxtfit.SolverResults{OutletT: []float64{0, 0.5, 1}, OutletC: []float64{0, 35.5, 71}}
	var buf bytes.Buffer
	require.NoError(t, WriteOutletCSV(&buf, res))

	ts, cs, err := ReadCurve(&buf)
	require.NoError(t, err)
	assert.Equal(t, res.OutletT, ts)
	assert.Equal(t, res.OutletC, cs)
}

func TestReadCurveCommaSeparated(t *testing.T) {
	ts, cs, err := ReadCurve(strings.NewReader("1,2\n2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, ts)
	assert.Equal(t, []float64{2, 3}, cs)
}

func TestLoadCurve(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "outlet.txt")
	require.NoError(t, os.WriteFile(good, []byte("0 0\n1 10\n2 20\n"), 0o644))

	s, err := LoadCurve(good)
	require.NoError(t, err)
	assert.True(t, s.Valid())
	assert.InDelta(t, 15, s.Value(1.5), 1e-12)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("0 0\n0 1\n"), 0o644))
	_, err = LoadCurve(bad)
	assert.ErrorIs(t, err, cxtfit.ErrInvalidInput)

	short := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(short, []byte("# only a comment\n"), 0o644))
	_, err = LoadCurve(short)
	assert.ErrorIs(t, err, cxtfit.ErrInvalidInput)

	_, err = LoadCurve(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestWriteOutletCSV(t *testing.T) {
	res := &cxtfit.SolverResults{OutletT: []float64{0, 0.5}, OutletC: []float64{0, 1.25e-3}}
	var buf bytes.Buffer
	require.NoError(t, WriteOutletCSV(&buf, res))
	assert.Equal(t, "t_h,c_kg_m3\n0,0\n0.5,0.00125\n", buf.String())
}

func TestWriteProfileCSV(t *testing.T) {
	in := cxtfit.DefaultInput()
	in.N = 2
	in.L = 1
	res := &cxtfit.SolverResults{
		Input: in,
		Profiles: []cxtfit.Profile{
			{T: 1, Cc: []float64{3, 4}, Sc: []float64{5}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteProfileCSV(&buf, res))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "t_h,element,x_m,cc_kg_m3,sc_kg_m3", lines[0])
	assert.Equal(t, "1,0,0.25,3,5", lines[1])
	assert.Equal(t, "1,1,0.75,4,0", lines[2])
}
