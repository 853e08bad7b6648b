package normalize

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/types"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

type noop string

func (n noop) Hash() string { return string(n) }

type vecState []float64

func (v vecState) Hash() string            { return strconv.Itoa(len(v)) }
func (v vecState) Actions() []types.Action { return []types.Action{noop("a")} }
func (v vecState) Vector() []float64       { return v }

// gaussEnv emits observations N(5, 2) and N(-3, 0.5) with constant reward 4
type gaussEnv struct {
	x, y  distuv.Normal
	steps int
}

func newGaussEnv(seed uint64) *gaussEnv {
	src := rand.NewSource(seed)
	return &gaussEnv{
		x: distuv.Normal{Mu: 5, Sigma: 2, Src: src},
		y: distuv.Normal{Mu: -3, Sigma: 0.5, Src: src},
	}
}

func (g *gaussEnv) Reset(_ *types.EpisodeContext) (types.State, error) {
	g.steps = 0
	return vecState{g.x.Rand(), g.y.Rand()}, nil
}

func (g *gaussEnv) Step(_ types.Action, sCtx *types.StepContext) (types.State, error) {
	g.steps += 1
	sCtx.Reward = 4
	sCtx.RawReward = 4
	sCtx.Truncated = g.steps >= 50
	return vecState{g.x.Rand(), g.y.Rand()}, nil
}

func TestRunningMeanStdMatchesBatch(t *testing.T) {
	data := [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}, {5, 50}, {6, 60}}
	r := NewRunningMeanStd(2)
	r.Update(data[:2])
	r.Update(data[2:5])
	r.Update(data[5:])

	xs := []float64{1, 2, 3, 4, 5, 6}
	mean, variance := stat.PopMeanVariance(xs, nil)
	require.InDelta(t, mean, r.Mean[0], 1e-3)
	require.InDelta(t, variance, r.Var[0], 1e-3)
	require.InDelta(t, 10*mean, r.Mean[1], 1e-2)
	require.InDelta(t, 6.0001, r.Count, 1e-9)
}

func runEpisodes(t *testing.T, env types.Environment, episodes int) []float64 {
	t.Helper()
	agent := types.NewAgent(&types.AgentConfig{Policy: types.NewSeededRandomPolicy(1), Environment: env})
	var last []float64
	for i := 0; i < episodes; i++ {
		eCtx := types.NewEpisodeContext(context.Background(), i, 0)
		agent.RunEpisode(eCtx)
		require.NoError(t, eCtx.Err)
		_, _, ns, ok := eCtx.Trace.Get(eCtx.Trace.Len() - 1)
		require.True(t, ok)
		last = ns.(types.VectorState).Vector()
	}
	return last
}

func TestObservationsConverge(t *testing.T) {
	env := NewEnv(newGaussEnv(1), DefaultConfig(), 2)
	runEpisodes(t, env, 40)

	require.InDelta(t, 5, env.ObsRMS.Mean[0], 0.2)
	require.InDelta(t, 4, env.ObsRMS.Var[0], 0.4)
	require.InDelta(t, -3, env.ObsRMS.Mean[1], 0.05)

	// normalized stream is roughly standard
	xs := make([]float64, 0)
	env.Training = false
	agent := types.NewAgent(&types.AgentConfig{Policy: types.NewSeededRandomPolicy(1), Environment: env})
	eCtx := types.NewEpisodeContext(context.Background(), 0, 0)
	agent.RunEpisode(eCtx)
	for i := 0; i < eCtx.Trace.Len(); i++ {
		_, _, ns, _ := eCtx.Trace.Get(i)
		xs = append(xs, ns.(types.VectorState).Vector()[0])
	}
	mean, std := stat.MeanStdDev(xs, nil)
	require.InDelta(t, 0, mean, 0.4)
	require.InDelta(t, 1, std, 0.4)
}

func TestFrozenStatisticsDoNotMove(t *testing.T) {
	env := NewEnv(newGaussEnv(2), DefaultConfig(), 2)
	runEpisodes(t, env, 2)
	env.Training = false
	obs := env.ObsRMS.Copy()
	ret := env.RetRMS.Copy()
	runEpisodes(t, env, 2)
	require.Equal(t, obs, env.ObsRMS)
	require.Equal(t, ret, env.RetRMS)
}

func TestRewardScaledAndClipped(t *testing.T) {
	cfg := DefaultConfig()
	env := NewEnv(newGaussEnv(3), cfg, 2)
	agent := types.NewAgent(&types.AgentConfig{Policy: types.NewSeededRandomPolicy(1), Environment: env})
	for i := 0; i < 5; i++ {
		eCtx := types.NewEpisodeContext(context.Background(), i, 0)
		agent.RunEpisode(eCtx)
		// raw rewards are untouched in the trace
		require.Equal(t, 200.0, eCtx.Return)
	}
	r := env.NormalizeReward(4)
	require.Less(t, r, 4.0)
	require.Greater(t, r, 0.0)
	require.Equal(t, cfg.ClipReward, env.NormalizeReward(1e9))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	env := NewEnv(newGaussEnv(4), DefaultConfig(), 2)
	runEpisodes(t, env, 3)
	require.NoError(t, env.Save(path))

	loaded, err := Load(path, newGaussEnv(4), 2)
	require.NoError(t, err)
	require.Equal(t, env.ObsRMS, loaded.ObsRMS)
	require.Equal(t, env.RetRMS, loaded.RetRMS)
	require.Equal(t, env.Config(), loaded.Config())
	require.Equal(t, env.NormalizeObs([]float64{1, 2}), loaded.NormalizeObs([]float64{1, 2}))

	_, err = Load(path, newGaussEnv(4), 25)
	require.ErrorIs(t, err, ErrStatsMismatch)
	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), newGaussEnv(4), 2)
	require.Error(t, err)
}

func TestDimensionMismatchAtRuntime(t *testing.T) {
	env := NewEnv(newGaussEnv(5), DefaultConfig(), 3)
	_, err := env.Reset(types.NewEpisodeContext(context.Background(), 0, 0))
	require.ErrorIs(t, err, ErrStatsMismatch)
	require.Equal(t, types.Environment(env.env), types.Unwrap(env))
}
