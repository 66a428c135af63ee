package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kacperjurak/cxtfit"
	"github.com/kacperjurak/cxtfit/internal/chart"
	"github.com/kacperjurak/cxtfit/internal/dataio"
	"github.com/kacperjurak/cxtfit/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSimulateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Simulate the breakthrough curve of a project",
		Long: `simulate runs the transport model of --project (or the default column
with --set overrides) and writes the outlet concentration as CSV to
--output. With --outlet the R² against the measured curve is logged,
--partition estimates the partition coefficient from the measured inlet
and outlet curves, --profile writes the stored concentration profiles and
--plot draws the breakthrough chart.

Project files given as arguments are simulated concurrently on --workers
goroutines, each outlet is written next to its project as
<project>_outlet.csv.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return a.simulateProjects(cmd, args)
			}
			return a.simulate(cmd)
		},
	}
}

func (a *app) simulate(cmd *cobra.Command) error {
	p, err := a.loadProject(cmd)
	if err != nil {
		return err
	}
	in := p.Input
	if p.Fit.InletFile != "" {
		if in.CInletData, err = dataio.LoadCurve(p.Fit.InletFile); err != nil {
			return fmt.Errorf("inlet: %w", err)
		}
	}
	var measured *cxtfit.LinearSpline
	if p.Fit.OutletFile != "" {
		if measured, err = dataio.LoadCurve(p.Fit.OutletFile); err != nil {
			return fmt.Errorf("outlet: %w", err)
		}
	}

	if a.cfg.Partition && (in.CInletData == nil || measured == nil) {
		return fmt.Errorf("%w: --partition needs --inlet and --outlet", cxtfit.ErrInvalidConfiguration)
	}

	res, err := cxtfit.SimulateWithLogger(cmd.Context(), in, a.log)
	if err != nil {
		if res == nil || len(res.OutletT) == 0 {
			return err
		}
		a.log.WithError(err).Warn("simulation stopped early, writing partial results")
	}

	if err := a.writeResults(res); err != nil {
		return err
	}
	if measured != nil {
		r2 := res.CalculateRSquareStep(measured, a.cfg.RSquareStep)
		a.log.WithField("r2", r2).Info("compared with measured outlet")
	}
	if a.cfg.Partition {
		k, perr := cxtfit.EstimatePartition(in.CInletData, measured, in)
		if perr != nil {
			return perr
		}
		a.log.WithField("partition", k).Info("partition coefficient estimated")
	}
	if a.cfg.PlotFile != "" {
		plt, perr := chart.Breakthrough(res, measured, in.CInletData)
		if perr != nil {
			return perr
		}
		if perr := chart.Save(plt, a.cfg.PlotFile, a.cfg.PlotWidth, a.cfg.PlotHeight); perr != nil {
			return fmt.Errorf("plot: %w", perr)
		}
	}

	a.log.WithFields(logrus.Fields{
		"steps":   res.Stats.Steps,
		"outputs": len(res.OutletT),
	}).Info("simulation finished")
	return err
}

// simulateProjects runs every project file in paths on the batch runner.
func (a *app) simulateProjects(cmd *cobra.Command, paths []string) error {
	inputs := make([]cxtfit.SolverInput, len(paths))
	for i, path := range paths {
		p, err := config.LoadProject(path)
		if err != nil {
			return err
		}
		if err := config.ApplyOverrides(&p.Input, a.cfg.Sets); err != nil {
			return err
		}
		if p.Fit.InletFile != "" {
			if p.Input.CInletData, err = dataio.LoadCurve(p.Fit.InletFile); err != nil {
				return fmt.Errorf("inlet of %s: %w", path, err)
			}
		}
		inputs[i] = p.Input
	}

	results, runErr := cxtfit.RunBatch(cmd.Context(), inputs, a.cfg.Workers)
	for i, res := range results {
		if res == nil || len(res.OutletT) == 0 {
			continue
		}
		out := strings.TrimSuffix(paths[i], filepath.Ext(paths[i])) + "_outlet.csv"
		if err := writeFile(out, func(w io.Writer) error { return dataio.WriteOutletCSV(w, res) }); err != nil {
			return err
		}
		a.log.WithFields(logrus.Fields{"project": paths[i], "output": out, "steps": res.Stats.Steps}).
			Info("project simulated")
	}
	return runErr
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}

// writeResults writes the outlet and, if requested, the profile CSV.
func (a *app) writeResults(res *cxtfit.SolverResults) error {
	w, closeOut, err := create(a.cfg.OutputFile, a.stdout)
	if err != nil {
		return err
	}
	if err := dataio.WriteOutletCSV(w, res); err != nil {
		closeOut()
		return fmt.Errorf("writing outlet: %w", err)
	}
	if err := closeOut(); err != nil {
		return err
	}

	if a.cfg.ProfileFile == "" {
		return nil
	}
	w, closeOut, err = create(a.cfg.ProfileFile, a.stdout)
	if err != nil {
		return err
	}
	if err := dataio.WriteProfileCSV(w, res); err != nil {
		closeOut()
		return fmt.Errorf("writing profiles: %w", err)
	}
	return closeOut()
}
