package analysis

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	// density is evaluated this many bandwidths past the extreme values
	kdeCut     = 2.0
	kdePoints  = 200
	violinHalf = 0.4
)

// Group is a named set of returns drawn as one violin
type Group struct {
	Name   string
	Values []float64
}

// ScottBandwidth is σ·n^(-1/5), 1 when the sample has no spread
func ScottBandwidth(values []float64) float64 {
	if len(values) < 2 {
		return 1
	}
	bw := stat.StdDev(values, nil) * math.Pow(float64(len(values)), -0.2)
	if bw <= 0 || math.IsNaN(bw) {
		return 1
	}
	return bw
}

// KDE evaluates the Gaussian kernel density estimate of values at points
func KDE(values, points []float64, bandwidth float64) []float64 {
	kernel := distuv.Normal{Mu: 0, Sigma: bandwidth}
	out := make([]float64, len(points))
	for i, x := range points {
		sum := 0.0
		for _, v := range values {
			sum += kernel.Prob(x - v)
		}
		out[i] = sum / float64(len(values))
	}
	return out
}

// violin is the outline of a single group centered at x
type violin struct {
	outline plotter.XYs
	median  float64
	q1, q3  float64
}

func newViolin(x float64, values []float64) violin {
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	bw := ScottBandwidth(sorted)
	lo := sorted[0] - kdeCut*bw
	hi := sorted[len(sorted)-1] + kdeCut*bw
	ys := make([]float64, kdePoints)
	floats.Span(ys, lo, hi)
	density := KDE(sorted, ys, bw)
	scale := violinHalf / floats.Max(density)

	outline := make(plotter.XYs, 0, 2*kdePoints)
	for i, y := range ys {
		outline = append(outline, plotter.XY{X: x + density[i]*scale, Y: y})
	}
	for i := len(ys) - 1; i >= 0; i-- {
		outline = append(outline, plotter.XY{X: x - density[i]*scale, Y: ys[i]})
	}
	return violin{
		outline: outline,
		median:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		q1:      stat.Quantile(0.25, stat.Empirical, sorted, nil),
		q3:      stat.Quantile(0.75, stat.Empirical, sorted, nil),
	}
}

// ViolinPlot draws one violin per group with the interquartile range and the median marked
func ViolinPlot(title string, groups ...Group) (*plot.Plot, error) {
	if len(groups) == 0 {
		return nil, ErrNoReturns
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Episode Return"

	names := make([]string, 0, len(groups))
	for i, g := range groups {
		if len(g.Values) == 0 {
			return nil, fmt.Errorf("%w: group %s", ErrNoReturns, g.Name)
		}
		v := newViolin(float64(i), g.Values)

		body, err := plotter.NewPolygon(v.outline)
		if err != nil {
			return nil, err
		}
		body.Color = plotutil.Color(i)
		body.LineStyle.Width = vg.Points(1)
		p.Add(body)

		box, err := plotter.NewLine(plotter.XYs{{X: float64(i), Y: v.q1}, {X: float64(i), Y: v.q3}})
		if err != nil {
			return nil, err
		}
		box.Width = vg.Points(4)
		p.Add(box)

		median, err := plotter.NewScatter(plotter.XYs{{X: float64(i), Y: v.median}})
		if err != nil {
			return nil, err
		}
		median.GlyphStyle.Shape = draw.CircleGlyph{}
		median.GlyphStyle.Radius = vg.Points(3)
		median.GlyphStyle.Color = plotutil.Color(len(groups) + i)
		p.Add(median)

		names = append(names, g.Name)
	}
	p.NominalX(names...)
	return p, nil
}

// SaveViolinPlot writes the violin plot of the groups to path
func SaveViolinPlot(path, title string, groups ...Group) error {
	p, err := ViolinPlot(title, groups...)
	if err != nil {
		return err
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := p.Save(7*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving violin plot: %w", err)
	}
	return nil
}

// ViolinComparator plots the returns datasets of a comparison side by side
func ViolinComparator(path, title string) types.Comparator {
	return func(names []string, ds []types.DataSet) error {
		groups := make([]Group, len(names))
		for i, name := range names {
			returns, ok := ds[i].([]float64)
			if !ok {
				return fmt.Errorf("dataset of %s is %T, expected returns", name, ds[i])
			}
			groups[i] = Group{Name: name, Values: returns}
		}
		return SaveViolinPlot(path, title, groups...)
	}
}
