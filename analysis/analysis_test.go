package analysis

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/types"
	"gonum.org/v1/gonum/floats"
)

var pngMagic = []byte("\x89PNG")

func requirePNG(t *testing.T, path string) {
	t.Helper()
	bs, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(bs, pngMagic), "%s is not a png", path)
}

func TestRollingMean(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	require.Equal(t, []float64{1.5, 2, 3, 4, 4.5}, RollingMean(values, 3))
	// even windows lean backwards: [i-2, i+1]
	require.Equal(t, []float64{1.5, 2, 2.5, 3.5, 4}, RollingMean(values, 4))
	require.Equal(t, values, RollingMean(values, 1))
	require.Equal(t, []float64{3, 3, 3, 3, 3}, RollingMean(values, 100))
}

func TestLearningCurveTrend(t *testing.T) {
	returns := make([]float64, 50)
	for i := range returns {
		returns[i] = 2*float64(i+1) - 10
	}
	l, err := NewLearningCurve(returns, 1)
	require.NoError(t, err)
	require.InDelta(t, 2, l.Slope, 1e-9)
	require.InDelta(t, -10, l.Intercept, 1e-9)
	require.InDelta(t, 90, l.Trend[49], 1e-9)
	require.Equal(t, 1.0, l.Episodes[0])

	single, err := NewLearningCurve([]float64{-7}, 100)
	require.NoError(t, err)
	require.Equal(t, []float64{-7}, single.Trend)

	_, err = NewLearningCurve(nil, 100)
	require.ErrorIs(t, err, ErrNoReturns)
}

func TestSaveLearningCurve(t *testing.T) {
	returns := make([]float64, 300)
	for i := range returns {
		returns[i] = float64(i%17) - 250
	}
	path := filepath.Join(t.TempDir(), "plots", "learning_curve.png")
	l, err := SaveLearningCurve(path, returns, 100, -200)
	require.NoError(t, err)
	require.Len(t, l.Rolling, 300)
	requirePNG(t, path)
}

func TestScottBandwidth(t *testing.T) {
	require.Equal(t, 1.0, ScottBandwidth([]float64{4}))
	require.Equal(t, 1.0, ScottBandwidth([]float64{-300, -300, -300}))
	// sample standard deviation 1, times 3^(-1/5)
	bw := ScottBandwidth([]float64{-1, 0, 1})
	require.InDelta(t, 0.80274, bw, 1e-4)
}

func TestKDEIntegratesToOne(t *testing.T) {
	values := []float64{-3, 0, 0.5, 2, 10}
	bw := ScottBandwidth(values)
	xs := make([]float64, 4001)
	floats.Span(xs, -60, 70)
	density := KDE(values, xs, bw)
	step := xs[1] - xs[0]
	require.InDelta(t, 1.0, floats.Sum(density)*step, 1e-3)
}

func TestSaveViolinPlot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "violin_plot.png")
	require.NoError(t, SaveViolinPlot(path, "Evaluation",
		Group{Name: "qrdqn", Values: []float64{120, 130, 90, -300, 125}},
		Group{Name: "crashes", Values: []float64{-300, -300}},
	))
	requirePNG(t, path)

	require.ErrorIs(t, SaveViolinPlot(path, "Evaluation"), ErrNoReturns)
	require.ErrorIs(t, SaveViolinPlot(path, "Evaluation", Group{Name: "empty"}), ErrNoReturns)

	cmp := ViolinComparator(filepath.Join(dir, "compare.png"), "Comparison")
	require.NoError(t, cmp([]string{"a", "b"}, []types.DataSet{[]float64{1, 2, 3}, []float64{4, 5}}))
	requirePNG(t, filepath.Join(dir, "compare.png"))
	require.Error(t, cmp([]string{"a"}, []types.DataSet{"nope"}))
}

func TestReturnsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "returns.npy")
	returns := []float64{1.5, -300, 42}
	require.NoError(t, SaveReturns(path, returns))

	bs, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(bs, []byte("\x93NUMPY")))

	loaded, err := LoadReturns(path)
	require.NoError(t, err)
	require.Equal(t, returns, loaded)
}
