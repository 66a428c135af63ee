package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kacperjurak/cxtfit"
	"github.com/kacperjurak/cxtfit/internal/dataio"
	"github.com/kacperjurak/cxtfit/pkg/config"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// app carries the state shared by all sub commands.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	stdout io.Writer
}

// newRootCmd builds the command tree writing results to stdout and logs
// to stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{log: logrus.New(), stdout: stdout}
	a.log.SetOutput(stderr)

	root := &cobra.Command{
		Use:   "cxtfit",
		Short: "Reactive transport in packed beds and breakthrough curve fitting.",
		Long: `cxtfit simulates solute transport through a packed column with
advection, dispersion, sorption, first order decay and two-phase mass
transfer, and fits transport parameters to measured breakthrough curves.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.startup(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newSimulateCmd(a),
		newFitCmd(a),
		newServeCmd(a),
		newVersionCmd(stdout),
	)
	return root
}

// startup merges flags, environment and config file and sets up logging.
func (a *app) startup(cmd *cobra.Command) error {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	if a.cfg, err = config.Load(v); err != nil {
		return err
	}

	a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", cxtfit.ErrInvalidConfiguration, err)
	}
	if a.cfg.Quiet && level > logrus.WarnLevel {
		level = logrus.WarnLevel
	}
	a.log.SetLevel(level)
	return nil
}

// loadProject returns the project named by --project or the default input,
// with --set overrides applied. Command line settings take precedence over
// the fit section of the project.
func (a *app) loadProject(cmd *cobra.Command) (*config.Project, error) {
	p := config.NewProject(cxtfit.DefaultInput())
	if a.cfg.ProjectFile != "" {
		var err error
		if p, err = config.LoadProject(a.cfg.ProjectFile); err != nil {
			return nil, err
		}
		a.log.WithField("project", a.cfg.ProjectFile).Info("project loaded")
	}
	if err := config.ApplyOverrides(&p.Input, a.cfg.Sets); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if a.cfg.OutletFile != "" {
		p.Fit.OutletFile = a.cfg.OutletFile
	}
	if a.cfg.InletFile != "" {
		p.Fit.InletFile = a.cfg.InletFile
	}
	if len(a.cfg.Fit) > 0 {
		p.Fit.Parameters = a.cfg.Fit
	}
	if p.Fit.Method == "" || flags.Changed("method") {
		p.Fit.Method = a.cfg.Method
	}
	if p.Fit.MaxIterations == 0 || flags.Changed("max-iterations") {
		p.Fit.MaxIterations = a.cfg.MaxIterations
	}
	if p.Fit.HorizonHours == 0 || flags.Changed("horizon") {
		p.Fit.HorizonHours = a.cfg.HorizonHours
	}
	return p, nil
}

// loadCurve reads a measured curve file, nil for an empty path.
func loadCurve(path string) (*models.Curve, error) {
	if path == "" {
		return nil, nil
	}
	t, c, err := dataio.ReadCurveFile(path)
	if err != nil {
		return nil, err
	}
	return &models.Curve{T: t, C: c}, nil
}

// create opens path for writing, "-" is w.
func create(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "-" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cxtfit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "cxtfit v%s\n", version)
		},
		// the version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}

func joinIDs(ids []cxtfit.ParameterID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return strings.Join(names, ",")
}
