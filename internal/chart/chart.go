// Package chart draws breakthrough curves.
package chart

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kacperjurak/cxtfit"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Breakthrough plots the simulated outlet curve of res and, when given,
// the measured outlet and inlet curves as points.
func Breakthrough(res *cxtfit.SolverResults, measured, inlet *cxtfit.LinearSpline) (*plot.Plot, error) {
	if res == nil || len(res.OutletT) == 0 {
		return nil, fmt.Errorf("%w: nothing to plot", cxtfit.ErrNotReady)
	}
	p := plot.New()
	p.Title.Text = "Breakthrough curve"
	if res.R2 >= 0 && measured.Valid() {
		p.Title.Text = fmt.Sprintf("Breakthrough curve, R² = %.4f", res.R2)
	}
	p.X.Label.Text = "Time (h)"
	p.Y.Label.Text = "Concentration (kg/m³)"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	if err := plotutil.AddLines(p, "simulated", xys(res.OutletT, res.OutletC)); err != nil {
		return nil, err
	}
	if measured.Valid() {
		if err := plotutil.AddScatters(p, "measured", xys(measured.X(), measured.Y())); err != nil {
			return nil, err
		}
	}
	if inlet.Valid() {
		if err := plotutil.AddScatters(p, "inlet", xys(inlet.X(), inlet.Y())); err != nil {
			return nil, err
		}
	}
	p.Legend.Top = false
	p.Legend.Left = false
	return p, nil
}

// Save writes p to path. The format follows the file extension.
func Save(p *plot.Plot, path string, widthIn, heightIn float64) error {
	return p.Save(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch, path)
}

// Write renders p in format ("png" or "svg") to w.
func Write(w io.Writer, p *plot.Plot, format string, widthIn, heightIn float64) error {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	switch format {
	case "png", "svg":
	default:
		return fmt.Errorf("%w: unsupported chart format %q", cxtfit.ErrInvalidConfiguration, format)
	}
	wt, err := p.WriterTo(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// FormatOf returns the chart format implied by a file name.
func FormatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}
