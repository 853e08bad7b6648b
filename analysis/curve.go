package analysis

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/zeu5/highway-rl/util"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var ErrNoReturns = errors.New("no returns to plot")

// RollingMean is the centered moving average of values, windows at the edges
// are truncated so every point has a value
func RollingMean(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(values))
	for i := range values {
		start := i - window/2
		end := i + (window-1)/2
		if start < 0 {
			start = 0
		}
		if end > len(values)-1 {
			end = len(values) - 1
		}
		out[i] = stat.Mean(values[start:end+1], nil)
	}
	return out
}

// LearningCurve holds the series of the learning curve figure, episodes are numbered from 1
type LearningCurve struct {
	Window   int
	Episodes []float64
	Returns  []float64
	Rolling  []float64
	Trend    []float64
	// Trend = Intercept + Slope·episode
	Intercept float64
	Slope     float64
}

func NewLearningCurve(returns []float64, window int) (*LearningCurve, error) {
	if len(returns) == 0 {
		return nil, ErrNoReturns
	}
	l := &LearningCurve{
		Window:   window,
		Episodes: make([]float64, len(returns)),
		Returns:  append([]float64{}, returns...),
		Rolling:  RollingMean(returns, window),
		Trend:    make([]float64, len(returns)),
	}
	for i := range returns {
		l.Episodes[i] = float64(i + 1)
	}
	if len(returns) > 1 {
		l.Intercept, l.Slope = stat.LinearRegression(l.Episodes, l.Rolling, nil, false)
	} else {
		l.Intercept = l.Rolling[0]
	}
	for i, x := range l.Episodes {
		l.Trend[i] = l.Intercept + l.Slope*x
	}
	return l, nil
}

func series(xs, ys []float64) plotter.XYs {
	points := make(plotter.XYs, len(xs))
	for i := range xs {
		points[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	return points
}

// Plot draws the raw returns, the rolling mean and the linear trend, the y axis starts at yMin
func (l *LearningCurve) Plot(yMin float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Learning Curve (Raw, Rolling Mean, and Linear Fit)"
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = "Return"
	p.Add(plotter.NewGrid())

	raw, err := plotter.NewLine(series(l.Episodes, l.Returns))
	if err != nil {
		return nil, err
	}
	raw.Color = color.RGBA{R: 0, G: 0, B: 255, A: 77}
	p.Add(raw)
	p.Legend.Add("Raw Episode Return (r)", raw)

	rolling, err := plotter.NewLine(series(l.Episodes, l.Rolling))
	if err != nil {
		return nil, err
	}
	rolling.Color = color.RGBA{R: 255, A: 255}
	rolling.Width = vg.Points(2)
	p.Add(rolling)
	p.Legend.Add(fmt.Sprintf("%d-Episode Moving Average", l.Window), rolling)

	trend, err := plotter.NewLine(series(l.Episodes, l.Trend))
	if err != nil {
		return nil, err
	}
	trend.Color = color.RGBA{G: 128, A: 255}
	trend.Width = vg.Points(2)
	trend.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	p.Add(trend)
	p.Legend.Add("Overall Linear Trend", trend)
	p.Legend.Top = true
	p.Legend.Left = false // right-aligned legend

	p.Y.Min = yMin
	if p.Y.Max <= yMin {
		p.Y.Max = yMin + 1
	}
	return p, nil
}

// SaveLearningCurve plots the returns and writes the figure to path, the format follows the extension
func SaveLearningCurve(path string, returns []float64, window int, yMin float64) (*LearningCurve, error) {
	l, err := NewLearningCurve(returns, window)
	if err != nil {
		return nil, err
	}
	p, err := l.Plot(yMin)
	if err != nil {
		return nil, err
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return nil, fmt.Errorf("saving learning curve: %w", err)
	}
	return l, nil
}
