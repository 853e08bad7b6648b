package qrdqn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/types"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type arm int

func (a arm) Hash() string { return []string{"left", "right"}[a] }
func (a arm) Index() int   { return int(a) }

type banditState struct{}

func (banditState) Hash() string            { return "s" }
func (banditState) Actions() []types.Action { return []types.Action{arm(0), arm(1)} }
func (banditState) Vector() []float64       { return []float64{1, 0.5} }

// bandit pays 1 for the right arm and ends every episode after one step
type bandit struct{}

func (bandit) Reset(_ *types.EpisodeContext) (types.State, error) {
	return banditState{}, nil
}

func (bandit) Step(a types.Action, sCtx *types.StepContext) (types.State, error) {
	if a.(arm) == 1 {
		sCtx.Reward, sCtx.RawReward = 1, 1
	}
	sCtx.Terminated = true
	return banditState{}, nil
}

func smallConfig() Config {
	return Config{
		NetArch:              []int{16},
		NQuantiles:           8,
		Gamma:                0.9,
		BufferSize:           500,
		LearningStarts:       50,
		TrainFreq:            1,
		GradientSteps:        1,
		BatchSize:            32,
		TargetUpdateInterval: 50,
		ExplorationFraction:  0.3,
		ExplorationInitial:   1,
		ExplorationFinal:     0.05,
		MaxGradNorm:          10,
	}
}

func trainBandit(t *testing.T, steps int) *QRDQN {
	t.Helper()
	agent := NewSeeded(smallConfig(), 2, 2, ConstantSchedule{Constant: 1e-2}, 11)
	trainer := types.NewTrainer(&types.TrainerConfig{Name: "bandit", TotalTimesteps: steps, ResetNumTimesteps: true}, agent, bandit{})
	result := trainer.Learn(context.Background())
	require.NoError(t, result.Err)
	return agent
}

func TestThreePhaseSchedule(t *testing.T) {
	s := ThreePhaseSchedule{Total: 400, Phase1: 100, Phase2: 200, LR1: 5e-4, LR2: 3e-4, LR3: 1e-4}
	require.Equal(t, 5e-4, s.Value(1))
	require.Equal(t, 5e-4, s.Value(0.8))
	require.Equal(t, 3e-4, s.Value(0.75))
	require.Equal(t, 3e-4, s.Value(0.5))
	require.Equal(t, 1e-4, s.Value(0.25))
	require.Equal(t, 1e-4, s.Value(0))
}

func TestLinearSchedule(t *testing.T) {
	s := LinearSchedule{Start: 1, End: 0.01, Fraction: 0.005}
	require.Equal(t, 1.0, s.Value(1))
	require.InDelta(t, 0.505, s.Value(0.9975), 1e-6)
	require.Equal(t, 0.01, s.Value(0.5))
	require.Equal(t, 0.01, s.Value(0))
	require.Equal(t, 2.0, ConstantSchedule{Constant: 2}.Value(0.3))
}

func TestScheduleEncoding(t *testing.T) {
	for _, s := range []Schedule{
		ConstantSchedule{Constant: 1e-4},
		ThreePhaseSchedule{Total: 10, Phase1: 2, Phase2: 3, LR1: 1, LR2: 2, LR3: 3},
		LinearSchedule{Start: 1, End: 0, Fraction: 0.5},
	} {
		spec, err := encodeSchedule(s)
		require.NoError(t, err)
		decoded, err := decodeSchedule(spec)
		require.NoError(t, err)
		require.Equal(t, s, decoded)
	}
	_, err := decodeSchedule(scheduleSpec{Kind: "cosine"})
	require.Error(t, err)
}

func TestReplayBufferWraps(t *testing.T) {
	b := NewReplayBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(Transition{Obs: []float64{float64(i)}, NextObs: []float64{0}, Action: i})
	}
	require.Equal(t, 3, b.Len())
	actions := map[int]bool{}
	for _, tr := range b.data {
		actions[tr.Action] = true
	}
	require.Equal(t, map[int]bool{2: true, 3: true, 4: true}, actions)

	batch := b.Sample(10, rand.New(rand.NewSource(1)))
	r, c := batch.Obs.Dims()
	require.Equal(t, 10, r)
	require.Equal(t, 1, c)
	for i, a := range batch.Actions {
		require.Equal(t, float64(a), batch.Obs.At(i, 0))
	}
}

func TestMLPGradients(t *testing.T) {
	m := NewMLP(3, []int{5}, 2, rand.NewSource(3))
	x := mat.NewDense(2, 3, []float64{0.3, -0.2, 0.9, -0.5, 0.4, 0.1})
	coef := mat.NewDense(2, 2, []float64{1, -2, 0.5, 3})
	loss := func() float64 {
		out := m.Forward(x)
		var prod mat.Dense
		prod.MulElem(out, coef)
		return mat.Sum(&prod)
	}

	loss()
	m.ZeroGrad()
	grad := mat.DenseCopyOf(coef)
	m.Backward(grad)

	const h = 1e-6
	for pi, p := range m.Params() {
		g := m.Grads()[pi]
		for j := range p {
			orig := p[j]
			p[j] = orig + h
			up := loss()
			p[j] = orig - h
			down := loss()
			p[j] = orig
			require.InDelta(t, (up-down)/(2*h), g[j], 1e-4, "param %d/%d", pi, j)
		}
	}
}

func TestClipGradNorm(t *testing.T) {
	m := NewMLP(1, nil, 1, rand.NewSource(1))
	grads := m.Grads()
	grads[0][0], grads[1][0] = 30, 40
	norm := m.ClipGradNorm(10)
	require.InDelta(t, 50, norm, 1e-9)
	require.InDelta(t, 6, grads[0][0], 1e-5)
	require.InDelta(t, 8, grads[1][0], 1e-5)
}

func TestSetupLearn(t *testing.T) {
	agent := NewSeeded(smallConfig(), 2, 2, nil, 1)
	require.Equal(t, 1e-4, agent.LearningRate())
	require.Equal(t, 100, agent.SetupLearn(100, true))
	require.Equal(t, 1.0, agent.ExplorationRate())
	agent.numTimesteps = 100
	// progress continues from the current count, past the exploration fraction
	require.Equal(t, 250, agent.SetupLearn(150, false))
	require.Equal(t, 0.05, agent.ExplorationRate())
	require.Equal(t, 150, agent.SetupLearn(150, true))
	require.Equal(t, 0, agent.NumTimesteps())
}

func TestLearnsBandit(t *testing.T) {
	agent := trainBandit(t, 1500)
	require.Equal(t, 1500, agent.NumTimesteps())
	require.InDelta(t, 0.05, agent.ExplorationRate(), 1e-9)

	values := agent.QValues(banditState{}.Vector())
	require.Greater(t, values[1], values[0])
	require.InDelta(t, 1.0, values[1], 0.2)
	require.InDelta(t, 0.0, values[0], 0.2)

	a, ok := agent.Predict(banditState{}, true)
	require.True(t, ok)
	require.Equal(t, arm(1), a)
}

func TestCheckpointRoundTrip(t *testing.T) {
	agent := trainBandit(t, 300)
	path := filepath.Join(t.TempDir(), "models", "agent.zip")
	require.NoError(t, agent.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, agent.NumTimesteps(), loaded.NumTimesteps())
	require.Equal(t, agent.Config(), loaded.Config())
	require.Equal(t, agent.optimizer.Step, loaded.optimizer.Step)
	obs := banditState{}.Vector()
	require.Equal(t, agent.QValues(obs), loaded.QValues(obs))
	require.Equal(t, agent.target.Params(), loaded.target.Params())
	require.Equal(t, 0, loaded.buffer.Len())

	// continuing overrides the schedule and keeps counting
	loaded.SetLearningRate(1e-4)
	require.Equal(t, 1e-4, loaded.LearningRate())
	require.Equal(t, 450, loaded.SetupLearn(150, false))
	require.NoError(t, loaded.Save(path))
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ConstantSchedule{Constant: 1e-4}, again.lrSchedule)
}

func TestLoadDoesNotReplayRandomStream(t *testing.T) {
	agent := trainBandit(t, 300)
	path := filepath.Join(t.TempDir(), "agent.zip")
	require.NoError(t, agent.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	fresh := rand.New(rand.NewSource(agent.seed))
	require.NotEqual(t, fresh.Uint64(), loaded.rand.Uint64())

	loaded.Reseed(42)
	expected := rand.New(rand.NewSource(42))
	require.Equal(t, expected.Uint64(), loaded.rand.Uint64())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.zip")
	require.NoError(t, os.WriteFile(garbage, []byte("not a zip"), 0644))
	_, err = Load(garbage)
	require.ErrorIs(t, err, ErrBadCheckpoint)
}
