package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kacperjurak/cxtfit"
)

// Project is the on-disk description of one filter: the solver input, the
// parameters to fit and, after a fit, the fitted values.
type Project struct {
	Input  cxtfit.SolverInput `toml:"input"`
	Fit    FitSection         `toml:"fit"`
	Result *ResultSection     `toml:"result,omitempty"`
}

// FitSection selects the parameters and data of a fit. File names are
// relative to the project file.
type FitSection struct {
	Parameters    []string `toml:"parameters"`
	Method        string   `toml:"method,omitempty"`
	MaxIterations int      `toml:"maxIterations,omitempty"`
	HorizonHours  float64  `toml:"horizonHours,omitempty"`
	OutletFile    string   `toml:"outletFile,omitempty"`
	InletFile     string   `toml:"inletFile,omitempty"`
}

// ResultSection records the outcome of a fit.
type ResultSection struct {
	Values       map[string]float64 `toml:"values"`
	R2           float64            `toml:"r2"`
	ResidualNorm float64            `toml:"residualNorm"`
	Trials       int                `toml:"trials"`
	Status       string             `toml:"status"`
}

// NewProject returns a project holding in and nothing to fit.
func NewProject(in cxtfit.SolverInput) *Project {
	return &Project{Input: in.Clone()}
}

// LoadProject decodes a TOML project file. Keys missing from the file keep
// the values of cxtfit.DefaultInput, unknown keys are an error.
func LoadProject(path string) (*Project, error) {
	p := NewProject(cxtfit.DefaultInput())
	md, err := toml.DecodeFile(path, p)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s: %v", cxtfit.ErrInvalidConfiguration, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: project %s: unknown keys %s",
			cxtfit.ErrInvalidConfiguration, path, strings.Join(keys, ", "))
	}
	if !md.IsDefined("input", "velocity") {
		p.Input.DeriveVelocity()
	}
	dir := filepath.Dir(path)
	p.Fit.OutletFile = resolve(dir, p.Fit.OutletFile)
	p.Fit.InletFile = resolve(dir, p.Fit.InletFile)
	return p, nil
}

// SaveProject writes p to path as TOML.
func SaveProject(path string, p *Project) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return toml.NewEncoder(f).Encode(p)
}

// FitParameters parses the parameter names of the fit section.
func (p *Project) FitParameters() ([]cxtfit.ParameterID, error) {
	return cxtfit.ParseParameterList(strings.Join(p.Fit.Parameters, ","))
}

// SetResult stores the fitted values and updates the input with them.
func (p *Project) SetResult(res *cxtfit.OptimizerResult) {
	values := make(map[string]float64)
	for _, id := range res.Parameters.Enabled() {
		values[id.String()] = res.Parameters[id].Value
	}
	data := p.Input.CInletData
	p.Input = res.Input.Clone()
	p.Input.CInletData = data
	p.Result = &ResultSection{
		Values:       values,
		R2:           res.R2,
		ResidualNorm: res.ResidualNorm,
		Trials:       res.Trials,
		Status:       res.Status,
	}
}

func resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
