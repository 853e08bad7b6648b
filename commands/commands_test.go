package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/analysis"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/monitor"
	"github.com/zeu5/highway-rl/policies"
	"github.com/zeu5/highway-rl/qrdqn"
)

// smallConfig trains a tiny network on short episodes
func smallConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.OutDir = t.TempDir()
	cfg.Seed = 1
	cfg.LogLevel = "error"

	cfg.Env.VehiclesCount = 6
	cfg.Env.SlowVehiclesCount = 1
	cfg.Env.Duration = 4
	cfg.Env.MaxTime = 4

	tc := &cfg.Train
	tc.ModelName = "tiny"
	tc.Phase1Timesteps = 100
	tc.Phase2Timesteps = 100
	tc.Phase3Timesteps = 50
	tc.LearningStarts = 50
	tc.BufferSize = 1000
	tc.BatchSize = 16
	tc.TargetUpdateInterval = 50
	tc.NetArch = []int{16}
	tc.NQuantiles = 8
	tc.LogInterval = 0

	cfg.Continue.ModelName = "tiny_final"
	cfg.Continue.AdditionalTimesteps = 60

	cfg.Eval.ModelPath = "tiny_final.zip"
	cfg.Eval.Episodes = 2
	cfg.Visualize.ModelPath = "tiny_final.zip"
	cfg.Visualize.Episodes = 2
	cfg.Visualize.Realtime = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func trained(t *testing.T) config.Config {
	cfg := smallConfig(t)
	out := &bytes.Buffer{}
	require.NoError(t, runTrain(context.Background(), cfg, out))
	return cfg
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := GetRootCommand()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, name := range []string{"train", "continue", "eval", "visualize", "random", "plot"} {
		require.Contains(t, names, name)
	}
	outdir := root.PersistentFlags().Lookup("outdir")
	require.NotNil(t, outdir)
	require.Equal(t, "o", outdir.Shorthand)
}

func TestTrainWritesModelStatsAndMonitor(t *testing.T) {
	cfg := smallConfig(t)
	out := &bytes.Buffer{}
	require.NoError(t, runTrain(context.Background(), cfg, out))

	require.FileExists(t, filepath.Join(cfg.OutDir, "tiny_final.zip"))
	require.FileExists(t, filepath.Join(cfg.OutDir, cfg.Train.StatsFile))
	require.FileExists(t, filepath.Join(cfg.OutDir, cfg.Train.MonitorFile))
	require.Contains(t, out.String(), "Phase 1 (LR=0.0005) for 100 timesteps.")
	require.Contains(t, out.String(), "Training completed successfully without interruption.")

	model, err := qrdqn.Load(filepath.Join(cfg.OutDir, "tiny_final.zip"))
	require.NoError(t, err)
	require.Equal(t, 250, model.NumTimesteps())
}

func TestTrainInterruptedStillSaves(t *testing.T) {
	cfg := smallConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := &bytes.Buffer{}
	require.NoError(t, runTrain(ctx, cfg, out))
	require.Contains(t, out.String(), "Training interrupted by user")
	require.FileExists(t, filepath.Join(cfg.OutDir, "tiny_final.zip"))
}

func TestTrainQTable(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Train.Algo = "qtable"
	require.NoError(t, runTrain(context.Background(), cfg, &bytes.Buffer{}))
	require.FileExists(t, filepath.Join(cfg.OutDir, "tiny_final.json"))
}

func TestTrainSoftMax(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Train.Algo = "softmax"
	cfg.Train.SoftMaxTemperature = 0.5
	out := &bytes.Buffer{}
	require.NoError(t, runTrain(context.Background(), cfg, out))
	require.Contains(t, out.String(), "Q-table covers")

	learner, err := loadLearner(filepath.Join(cfg.OutDir, "tiny_final.json"))
	require.NoError(t, err)
	softmax, ok := learner.(*policies.SoftMaxPolicy)
	require.True(t, ok)
	require.Equal(t, 0.5, softmax.Temperature())
	require.Equal(t, 250, softmax.NumTimesteps())
}

func TestContinueNeedsStats(t *testing.T) {
	cfg := smallConfig(t)
	out := &bytes.Buffer{}
	err := runContinue(context.Background(), cfg, out)
	require.ErrorIs(t, err, errStatsMissing)
	require.Contains(t, out.String(), "CRITICAL ERROR")
}

func TestContinueAccumulatesTimesteps(t *testing.T) {
	cfg := trained(t)
	cfg.Continue.SaveAs = "tiny_more"
	out := &bytes.Buffer{}
	require.NoError(t, runContinue(context.Background(), cfg, out))
	require.Contains(t, out.String(), "Total cumulative timesteps trained: 310")

	model, err := qrdqn.Load(filepath.Join(cfg.OutDir, "tiny_more.zip"))
	require.NoError(t, err)
	require.Equal(t, 310, model.NumTimesteps())
	require.Equal(t, cfg.Continue.LearningRate, model.LearningRate())

	history, err := os.ReadFile(filepath.Join(cfg.OutDir, historyFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(history)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "tiny_more.zip\ttimesteps=310"))

	// the monitor file of the first run is appended to
	results, err := monitor.LoadResults(filepath.Join(cfg.OutDir, cfg.Train.MonitorFile))
	require.NoError(t, err)
	require.Len(t, results.Headers, 2)
}

func TestEvalSavesReturnsAndPlot(t *testing.T) {
	cfg := trained(t)
	cfg.Eval.CompareRandom = true
	out := &bytes.Buffer{}
	require.NoError(t, runEval(context.Background(), cfg, out))
	require.Contains(t, out.String(), "Evaluation complete! Saved:")
	require.Contains(t, out.String(), "property crash")

	returns, err := analysis.LoadReturns(filepath.Join(cfg.OutDir, cfg.Eval.ReturnsFile))
	require.NoError(t, err)
	require.Len(t, returns, cfg.Eval.Episodes)
	require.FileExists(t, filepath.Join(cfg.OutDir, cfg.Eval.PlotFile))
}

func TestEvalMissingModel(t *testing.T) {
	cfg := smallConfig(t)
	require.Error(t, runEval(context.Background(), cfg, &bytes.Buffer{}))
}

func TestPlotLearningCurve(t *testing.T) {
	cfg := trained(t)
	out := &bytes.Buffer{}
	require.NoError(t, runPlot(cfg, out))
	require.Contains(t, out.String(), "Learning curve saved to:")
	require.FileExists(t, filepath.Join(cfg.OutDir, cfg.Plot.OutPlot))
}

func TestPlotRejectsBadWindow(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Plot.WindowSize = 0
	err := runPlot(cfg, &bytes.Buffer{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "plot.window_size")
}

func TestInterruptContextOnSIGTERM(t *testing.T) {
	ctx, stop := interruptContext(context.Background())
	defer stop()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestVisualizeWritesFrames(t *testing.T) {
	cfg := trained(t)
	cfg.Visualize.FramesDir = filepath.Join(cfg.OutDir, "frames")
	out := &bytes.Buffer{}
	require.NoError(t, runVisualize(context.Background(), cfg, false, strings.NewReader(""), out))
	require.Contains(t, out.String(), "model loaded successfully!")
	require.Equal(t, 2, strings.Count(out.String(), "Episode finished after"))

	frames, err := os.ReadDir(cfg.Visualize.FramesDir)
	require.NoError(t, err)
	require.NotEmpty(t, frames)
}

func TestVisualizeFallsBackToRandom(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Visualize.Episodes = 1
	cfg.Visualize.Wait = true
	out := &bytes.Buffer{}
	require.NoError(t, runVisualize(context.Background(), cfg, false, strings.NewReader("\n"), out))
	require.Contains(t, out.String(), "Running with random actions")
	require.Contains(t, out.String(), "Visualization complete.")
}
