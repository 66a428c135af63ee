package cxtfit

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ParameterID identifies a fittable physical parameter of SolverInput.
type ParameterID int

const (
	ParamPorosity ParameterID = iota
	ParamD
	ParamRc
	ParamMuC
	ParamGammaC
	ParamRs
	ParamMuS
	ParamGammaS
	ParamBeta
	numParameters
)

var parameterNames = [numParameters]string{
	ParamPorosity: "porosity",
	ParamD:        "D",
	ParamRc:       "Rc",
	ParamMuC:      "muC",
	ParamGammaC:   "gammaC",
	ParamRs:       "Rs",
	ParamMuS:      "muS",
	ParamGammaS:   "gammaS",
	ParamBeta:     "beta",
}

// Physical lower bounds enforced by the optimizer penalty.
var parameterLower = [numParameters]float64{
	ParamPorosity: 1e-10,
	ParamD:        1e-14,
	ParamRc:       1,
	ParamMuC:      math.Inf(-1),
	ParamGammaC:   math.Inf(-1),
	ParamRs:       1,
	ParamMuS:      math.Inf(-1),
	ParamGammaS:   math.Inf(-1),
	ParamBeta:     math.Inf(-1),
}

func (id ParameterID) String() string {
	if id < 0 || id >= numParameters {
		return fmt.Sprintf("ParameterID(%d)", int(id))
	}
	return parameterNames[id]
}

// LowerBound returns the physical lower bound of the parameter, -Inf if
// it is unbounded.
func (id ParameterID) LowerBound() float64 {
	if id < 0 || id >= numParameters {
		return math.Inf(-1)
	}
	return parameterLower[id]
}

// ParseParameterID parses a parameter name, ignoring case.
func ParseParameterID(s string) (ParameterID, error) {
	s = strings.TrimSpace(s)
	for id, name := range parameterNames {
		if strings.EqualFold(name, s) {
			return ParameterID(id), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler so parameter maps encode
// with names as keys.
func (id ParameterID) MarshalText() ([]byte, error) {
	if id < 0 || id >= numParameters {
		return nil, fmt.Errorf("%w: unknown parameter %d", ErrInvalidConfiguration, int(id))
	}
	return []byte(parameterNames[id]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ParameterID) UnmarshalText(text []byte) error {
	v, err := ParseParameterID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseParameterList parses a comma separated list of parameter names.
func ParseParameterList(s string) ([]ParameterID, error) {
	var ids []ParameterID
	for _, f := range strings.Split(s, ",") {
		if strings.TrimSpace(f) == "" {
			continue
		}
		id, err := ParseParameterID(f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AllParameters lists every parameter in declaration order.
func AllParameters() []ParameterID {
	ids := make([]ParameterID, numParameters)
	for i := range ids {
		ids[i] = ParameterID(i)
	}
	return ids
}

// Value reads the parameter from in.
func (id ParameterID) Value(in *SolverInput) float64 {
	switch id {
	case ParamPorosity:
		return in.Porosity
	case ParamD:
		return in.D
	case ParamRc:
		return in.Rc
	case ParamMuC:
		return in.MuC
	case ParamGammaC:
		return in.GammaC
	case ParamRs:
		return in.Rs
	case ParamMuS:
		return in.MuS
	case ParamGammaS:
		return in.GammaS
	case ParamBeta:
		return in.Beta
	}
	return math.NaN()
}

// Set writes v into in. Setting the porosity re-derives the velocity.
func (id ParameterID) Set(in *SolverInput, v float64) {
	switch id {
	case ParamPorosity:
		in.Porosity = v
		in.DeriveVelocity()
	case ParamD:
		in.D = v
	case ParamRc:
		in.Rc = v
	case ParamMuC:
		in.MuC = v
	case ParamGammaC:
		in.GammaC = v
	case ParamRs:
		in.Rs = v
	case ParamMuS:
		in.MuS = v
	case ParamGammaS:
		in.GammaS = v
	case ParamBeta:
		in.Beta = v
	}
}

// Parameter is one entry of a ParameterSet. Its lower bound is
// ParameterID.LowerBound.
type Parameter struct {
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value"`
}

// ParameterSet maps parameters to their fit settings.
type ParameterSet map[ParameterID]Parameter

// NewParameterSet reads every parameter from in and enables the given ones.
func NewParameterSet(in SolverInput, enabled ...ParameterID) ParameterSet {
	ps := make(ParameterSet, numParameters)
	for _, id := range AllParameters() {
		ps[id] = Parameter{Value: id.Value(&in)}
	}
	for _, id := range enabled {
		p := ps[id]
		p.Enabled = true
		ps[id] = p
	}
	return ps
}

// Enabled returns the enabled parameters in declaration order.
func (ps ParameterSet) Enabled() []ParameterID {
	var ids []ParameterID
	for id, p := range ps {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Apply writes all parameter values into in.
func (ps ParameterSet) Apply(in *SolverInput) {
	for _, id := range AllParameters() {
		if p, ok := ps[id]; ok {
			id.Set(in, p.Value)
		}
	}
}

// Clone returns an independent copy.
func (ps ParameterSet) Clone() ParameterSet {
	c := make(ParameterSet, len(ps))
	for id, p := range ps {
		c[id] = p
	}
	return c
}
