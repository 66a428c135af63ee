// Package dataio reads measured concentration curves and writes simulation
// results as CSV.
package dataio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kacperjurak/cxtfit"
)

// ReadCurve reads "time value" pairs, one per line, separated by blanks,
// tabs or commas. Lines starting with # are skipped and so is a header row
// before the first pair, which makes the outlet CSV readable. Reading stops
// at the first empty or unparsable line, so trailing notes after a blank
// line are ignored. Times are in h.
func ReadCurve(r io.Reader) (t, c []float64, err error) {
	scanner := bufio.NewScanner(r)
	header := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) < 2 {
			break
		}
		tv, err1 := strconv.ParseFloat(fields[0], 64)
		cv, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			if header {
				header = false
				continue
			}
			break
		}
		header = false
		t = append(t, tv)
		c = append(c, cv)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return t, c, nil
}

// ReadCurveFile reads the curve stored in path.
func ReadCurveFile(path string) (t, c []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	if t, c, err = ReadCurve(f); err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, c, nil
}

// LoadCurve reads a curve file and builds its spline.
func LoadCurve(path string) (*cxtfit.LinearSpline, error) {
	t, c, err := ReadCurveFile(path)
	if err != nil {
		return nil, err
	}
	s, err := cxtfit.NewLinearSpline(t, c)
	if err != nil {
		return nil, fmt.Errorf("curve %s: %w", path, err)
	}
	return s, nil
}

// WriteOutletCSV writes the breakthrough curve with a header row.
func WriteOutletCSV(w io.Writer, res *cxtfit.SolverResults) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"t_h", "c_kg_m3"}); err != nil {
		return err
	}
	for i := range res.OutletT {
		if err := writer.Write([]string{formatFloat(res.OutletT[i]), formatFloat(res.OutletC[i])}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteProfileCSV writes every stored profile in long format, one row per
// time and element. x is the element centre in m.
func WriteProfileCSV(w io.Writer, res *cxtfit.SolverResults) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"t_h", "element", "x_m", "cc_kg_m3", "sc_kg_m3"}); err != nil {
		return err
	}
	n := res.Input.N
	dx := 0.0
	if n > 0 {
		dx = res.Input.L / float64(n)
	}
	for _, p := range res.Profiles {
		for i := range p.Cc {
			sc := 0.0
			if i < len(p.Sc) {
				sc = p.Sc[i]
			}
			record := []string{
				formatFloat(p.T),
				strconv.Itoa(i),
				formatFloat((float64(i) + 0.5) * dx),
				formatFloat(p.Cc[i]),
				formatFloat(sc),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
