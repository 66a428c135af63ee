package cxtfit

import (
	"fmt"
	"math"
	"strings"
)

// Model selects the physical model of the filter bed.
type Model int

const (
	// EquilibriumSorption treats the bed as homogeneous material with
	// instantaneous sorption equilibrium. One balance equation per element.
	EquilibriumSorption Model = iota
	// EquilibriumPlusExchange adds an immobile storage phase coupled to the
	// mobile phase through a mass transfer coefficient. Two balance
	// equations per element.
	EquilibriumPlusExchange
)

const secondsPerHour = 3600.0

func (m Model) String() string {
	switch m {
	case EquilibriumSorption:
		return "equilibrium"
	case EquilibriumPlusExchange:
		return "exchange"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// ParseModel parses the names returned by Model.String.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equilibrium", "equilibrium-sorption", "0":
		return EquilibriumSorption, nil
	case "exchange", "equilibrium-plus-exchange", "1":
		return EquilibriumPlusExchange, nil
	}
	return 0, fmt.Errorf("%w: unknown model %q", ErrInvalidConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	if m != EquilibriumSorption && m != EquilibriumPlusExchange {
		return nil, fmt.Errorf("%w: unknown model %d", ErrInvalidConfiguration, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(text []byte) error {
	v, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// VarsPerCell returns the number of state variables per bed element.
func (m Model) VarsPerCell() int {
	if m == EquilibriumPlusExchange {
		return 2
	}
	return 1
}

// SolverInput holds everything a single solver run needs.
// Times are in seconds unless noted, concentrations in kg/m3.
type SolverInput struct {
	// Numerical parameters
	N        int     `json:"n" toml:"n"`       // number of bed elements
	TEnd     float64 `json:"tEnd" toml:"tEnd"` // end time
	RelTol   float64 `json:"relTol" toml:"relTol"`
	AbsTol   float64 `json:"absTol" toml:"absTol"`
	MinDt    float64 `json:"minDt" toml:"minDt"`
	MaxDt    float64 `json:"maxDt" toml:"maxDt"`
	OutputDt float64 `json:"outputDt" toml:"outputDt"` // breakthrough output interval
	OutputN  int     `json:"outputN" toml:"outputN"`   // every OutputN-th output also stores profiles
	Digits   float64 `json:"digits" toml:"digits"`     // step-size stopping threshold of the LM optimizer

	// Geometry and flow
	A        float64 `json:"area" toml:"area"`         // cross section in m2
	L        float64 `json:"length" toml:"length"`     // bed length in m
	Q        float64 `json:"flowRate" toml:"flowRate"` // free stream flow rate in m3/s
	Porosity float64 `json:"porosity" toml:"porosity"` // m3/m3
	V        float64 `json:"velocity" toml:"velocity"` // interstitial velocity in m/s, derived from Q when Q > 0

	Model Model `json:"model" toml:"model"`

	// Mobile phase
	D      float64 `json:"d" toml:"d"`           // axial dispersion coefficient in m2/s
	Rc     float64 `json:"rc" toml:"rc"`         // retention coefficient
	MuC    float64 `json:"muC" toml:"muC"`       // linear reaction rate in 1/s
	GammaC float64 `json:"gammaC" toml:"gammaC"` // source/sink in kg/m3s

	// Immobile phase, EquilibriumPlusExchange only
	Rs     float64 `json:"rs" toml:"rs"`
	MuS    float64 `json:"muS" toml:"muS"`
	GammaS float64 `json:"gammaS" toml:"gammaS"`
	Beta   float64 `json:"beta" toml:"beta"` // mass transfer coefficient in 1/s

	CInlet     float64       `json:"cInlet" toml:"cInlet"` // constant inlet concentration, used without CInletData
	CInletData *LinearSpline `json:"-" toml:"-"`           // inlet concentration over time in h
}

// DefaultInput returns the default filter setup.
func DefaultInput() SolverInput {
	in := SolverInput{
		N:        3,
		TEnd:     24 * secondsPerHour,
		RelTol:   1e-5,
		AbsTol:   1e-10,
		MinDt:    1e-12,
		MaxDt:    600,
		OutputDt: 1800,
		OutputN:  2,
		Digits:   1e-10,
		A:        1,
		L:        0.3,
		Q:        0.1,
		Porosity: 0.2,
		Model:    EquilibriumSorption,
		D:        0,
		Rc:       100000,
		Rs:       100000,
		CInlet:   71,
	}
	in.DeriveVelocity()
	return in
}

// DeriveVelocity sets V = Q/(A·p) when flow rate, area and porosity are positive.
func (in *SolverInput) DeriveVelocity() {
	if in.Q > 0 && in.A > 0 && in.Porosity > 0 {
		in.V = in.Q / in.A / in.Porosity
	}
}

// Clone returns a copy that does not share the inlet spline.
func (in SolverInput) Clone() SolverInput {
	in.CInletData = in.CInletData.Clone()
	return in
}

// InletConcentration returns the inlet concentration at time t in s.
func (in *SolverInput) InletConcentration(t float64) float64 {
	if in.CInletData.Valid() {
		return in.CInletData.Value(t / secondsPerHour)
	}
	return in.CInlet
}

// Validate checks all invariants of the input.
func (in *SolverInput) Validate() error {
	finite := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalidConfig("%s is not finite", name)
		}
		return nil
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"TEnd", in.TEnd}, {"RelTol", in.RelTol}, {"AbsTol", in.AbsTol},
		{"MinDt", in.MinDt}, {"MaxDt", in.MaxDt}, {"OutputDt", in.OutputDt},
		{"A", in.A}, {"L", in.L}, {"Q", in.Q}, {"Porosity", in.Porosity}, {"V", in.V},
		{"D", in.D}, {"Rc", in.Rc}, {"MuC", in.MuC}, {"GammaC", in.GammaC},
		{"Rs", in.Rs}, {"MuS", in.MuS}, {"GammaS", in.GammaS}, {"Beta", in.Beta},
		{"CInlet", in.CInlet},
	} {
		if err := finite(f.name, f.v); err != nil {
			return err
		}
	}

	switch {
	case in.N < 1:
		return invalidConfig("number of elements must be >= 1, got %d", in.N)
	case in.Model != EquilibriumSorption && in.Model != EquilibriumPlusExchange:
		return invalidConfig("unknown model %d", int(in.Model))
	case in.TEnd <= 0:
		return invalidConfig("simulation end time must be > 0, got %g", in.TEnd)
	case in.RelTol <= 0:
		return invalidConfig("relative tolerance must be > 0, got %g", in.RelTol)
	case in.AbsTol <= 0:
		return invalidConfig("absolute tolerance must be > 0, got %g", in.AbsTol)
	case in.MinDt <= 0:
		return invalidConfig("minimum time step must be > 0, got %g", in.MinDt)
	case in.MaxDt < in.MinDt:
		return invalidConfig("maximum time step %g below minimum time step %g", in.MaxDt, in.MinDt)
	case in.OutputDt <= 0:
		return invalidConfig("output time step must be > 0, got %g", in.OutputDt)
	case in.OutputN < 1:
		return invalidConfig("profile output stride must be >= 1, got %d", in.OutputN)
	case in.A <= 0:
		return invalidConfig("cross section must be > 0, got %g", in.A)
	case in.L <= 0:
		return invalidConfig("bed length must be > 0, got %g", in.L)
	case in.Q < 0:
		return invalidConfig("flow rate must be >= 0, got %g", in.Q)
	case in.Porosity <= 0 || in.Porosity > 1:
		return invalidConfig("porosity must be within (0,1], got %g", in.Porosity)
	case in.V <= 0:
		return invalidConfig("convection velocity must be > 0, got %g", in.V)
	case in.D < 0:
		return invalidConfig("diffusion/dispersion coefficient must be >= 0, got %g", in.D)
	case in.Rc < 1:
		return invalidConfig("retention coefficient Rc must be >= 1, got %g", in.Rc)
	case in.CInlet < 0:
		return invalidConfig("inlet concentration must be >= 0, got %g", in.CInlet)
	case in.CInletData != nil && !in.CInletData.Valid():
		return invalidConfig("inlet concentration curve is not a valid spline")
	}

	if in.Model == EquilibriumPlusExchange {
		switch {
		case in.Rs < 1:
			return invalidConfig("retention coefficient Rs must be >= 1, got %g", in.Rs)
		case in.Beta < 0:
			return invalidConfig("mass transfer coefficient must be >= 0, got %g", in.Beta)
		}
	}
	return nil
}
