package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kacperjurak/cxtfit"
	"github.com/kacperjurak/cxtfit/internal/processing"
	"github.com/kacperjurak/cxtfit/pkg/config"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newFitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fit",
		Short: "Fit transport parameters to a measured breakthrough curve",
		Long: `fit adjusts the parameters named by --fit (e.g. --fit D,Rc) until the
simulated outlet matches the curve in --outlet. The fitted values and the
R² are logged, --save writes the updated project and the outlet of the
best fit goes to --output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fit(cmd)
		},
	}
}

func (a *app) fit(cmd *cobra.Command) error {
	p, err := a.loadProject(cmd)
	if err != nil {
		return err
	}
	if p.Fit.OutletFile == "" {
		return fmt.Errorf("%w: fit needs measured outlet data, use --outlet", cxtfit.ErrInvalidConfiguration)
	}
	ids, err := p.FitParameters()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: no parameter to fit, use --fit", cxtfit.ErrInvalidConfiguration)
	}

	measured, err := loadCurve(p.Fit.OutletFile)
	if err != nil {
		return fmt.Errorf("outlet: %w", err)
	}
	inlet, err := loadCurve(p.Fit.InletFile)
	if err != nil {
		return fmt.Errorf("inlet: %w", err)
	}

	opts, err := a.cfg.FitOptions()
	if err != nil {
		return err
	}
	proc := processing.NewFitProcessor(opts, a.log)
	id := "cli"
	if a.cfg.ProjectFile != "" {
		id = strings.TrimSuffix(filepath.Base(a.cfg.ProjectFile), filepath.Ext(a.cfg.ProjectFile))
	}
	res, err := proc.Process(cmd.Context(), models.FitRequest{
		ID:            id,
		Input:         p.Input,
		Fit:           []string{joinIDs(ids)},
		Method:        p.Fit.Method,
		MaxIterations: p.Fit.MaxIterations,
		HorizonHours:  p.Fit.HorizonHours,
		Measured:      *measured,
		Inlet:         inlet,
	})
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"r2":       res.R2,
		"residual": res.ResidualNorm,
		"trials":   res.Trials,
		"status":   res.Status,
		"runtime":  res.Runtime,
	}
	for _, pid := range res.Parameters.Enabled() {
		fields[pid.String()] = res.Parameters[pid].Value
	}
	a.log.WithFields(fields).Info("fit finished")

	if res.Simulation != nil {
		if err := a.writeResults(res.Simulation); err != nil {
			return err
		}
	}
	if a.cfg.ProjectOut != "" {
		p.SetResult(res)
		if err := config.SaveProject(a.cfg.ProjectOut, p); err != nil {
			return fmt.Errorf("saving project: %w", err)
		}
		a.log.WithField("project", a.cfg.ProjectOut).Info("fitted project saved")
	}
	return nil
}
