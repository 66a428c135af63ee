package config

import (
	"fmt"
	"strings"

	"github.com/kacperjurak/cxtfit"
	"github.com/spf13/cast"
)

// ApplyOverrides applies "name=value" assignments to in. Names are the
// solver input keys of a project file or parameter names such as Rc.
// Changing flow rate, area or porosity re-derives the velocity unless the
// velocity is set explicitly.
func ApplyOverrides(in *cxtfit.SolverInput, sets []string) error {
	derive, explicitV := false, false
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" {
			return fmt.Errorf("%w: override %q is not name=value", cxtfit.ErrInvalidConfiguration, s)
		}
		key := strings.ToLower(name)
		switch key {
		case "flowrate", "q", "area", "a", "porosity":
			derive = true
		case "velocity", "v":
			explicitV = true
		}
		if err := setField(in, key, value); err != nil {
			return fmt.Errorf("%w: override %s: %v", cxtfit.ErrInvalidConfiguration, name, err)
		}
	}
	if derive && !explicitV {
		in.DeriveVelocity()
	}
	return nil
}

func setField(in *cxtfit.SolverInput, key, value string) error {
	switch key {
	case "n":
		return setInt(&in.N, value)
	case "outputn":
		return setInt(&in.OutputN, value)
	case "model":
		m, err := cxtfit.ParseModel(value)
		if err != nil {
			return err
		}
		in.Model = m
		return nil
	case "tend":
		return setFloat(&in.TEnd, value)
	case "reltol":
		return setFloat(&in.RelTol, value)
	case "abstol":
		return setFloat(&in.AbsTol, value)
	case "mindt":
		return setFloat(&in.MinDt, value)
	case "maxdt":
		return setFloat(&in.MaxDt, value)
	case "outputdt":
		return setFloat(&in.OutputDt, value)
	case "digits":
		return setFloat(&in.Digits, value)
	case "area", "a":
		return setFloat(&in.A, value)
	case "length", "l":
		return setFloat(&in.L, value)
	case "flowrate", "q":
		return setFloat(&in.Q, value)
	case "velocity", "v":
		return setFloat(&in.V, value)
	case "cinlet":
		return setFloat(&in.CInlet, value)
	}
	id, err := cxtfit.ParseParameterID(key)
	if err != nil {
		return fmt.Errorf("unknown key")
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return err
	}
	// porosity is applied without deriving, ApplyOverrides does that last
	if id == cxtfit.ParamPorosity {
		in.Porosity = f
		return nil
	}
	id.Set(in, f)
	return nil
}

func setInt(dst *int, value string) error {
	v, err := cast.ToIntE(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, value string) error {
	v, err := cast.ToFloat64E(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// FitOptions derives the optimizer setup from the configuration. The method
// "all" is kept as is and resolved by the fit processor.
func (c *Config) FitOptions() (cxtfit.Options, error) {
	opts := cxtfit.DefaultOptions()
	if strings.EqualFold(c.Method, "all") {
		opts.Method = "all"
	} else {
		m, err := cxtfit.ParseMethod(strings.ToLower(c.Method))
		if err != nil {
			return opts, err
		}
		opts.Method = m
	}
	if c.MaxIterations > 0 {
		opts.MaxIterations = c.MaxIterations
	}
	if c.HorizonHours > 0 {
		opts.Horizon = c.HorizonHours * 3600
	}
	if c.RSquareStep > 0 {
		opts.RSquareStep = c.RSquareStep
	}
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	return opts, nil
}
