package types

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/config"
)

type move string

func (m move) Hash() string { return string(m) }

type linePos struct {
	pos int
}

func (l linePos) Hash() string { return strconv.Itoa(l.pos) }

func (l linePos) Actions() []Action { return []Action{move("left"), move("right")} }

// lineEnv is a corridor of length n, reaching the end terminates with reward 1
type lineEnv struct {
	n        int
	maxSteps int
	pos      int
	steps    int
	resets   int
}

func (e *lineEnv) Reset(_ *EpisodeContext) (State, error) {
	e.pos = 0
	e.steps = 0
	e.resets += 1
	return linePos{0}, nil
}

func (e *lineEnv) Step(a Action, sCtx *StepContext) (State, error) {
	e.steps += 1
	if a.Hash() == "right" {
		e.pos += 1
	} else if e.pos > 0 {
		e.pos -= 1
	}
	if e.pos == e.n {
		sCtx.Terminated = true
		sCtx.Reward = 1
		sCtx.RawReward = 1
	}
	if e.steps >= e.maxSteps {
		sCtx.Truncated = true
	}
	return linePos{e.pos}, nil
}

type alwaysRight struct{}

func (alwaysRight) NextAction(_ int, _ State, _ []Action) (Action, bool) { return move("right"), true }
func (alwaysRight) Update(_ *StepContext)                                 {}
func (alwaysRight) UpdateIteration(_ int, _ *Trace)                       {}
func (alwaysRight) Reset()                                                {}

type countingLearner struct {
	alwaysRight
	timesteps int
	episodes  int
}

func (c *countingLearner) Update(_ *StepContext)            { c.timesteps += 1 }
func (c *countingLearner) UpdateIteration(_ int, _ *Trace) { c.episodes += 1 }
func (c *countingLearner) Predict(s State, _ bool) (Action, bool) {
	return c.NextAction(0, s, nil)
}
func (c *countingLearner) SetupLearn(total int, reset bool) int {
	if reset {
		c.timesteps = 0
	}
	return c.timesteps + total
}
func (c *countingLearner) NumTimesteps() int   { return c.timesteps }
func (c *countingLearner) Save(_ string) error { return nil }

func TestAgentRunEpisodeTerminates(t *testing.T) {
	env := &lineEnv{n: 3, maxSteps: 10}
	agent := NewAgent(&AgentConfig{Policy: alwaysRight{}, Environment: env})

	eCtx := NewEpisodeContext(context.Background(), 0, 0)
	agent.RunEpisode(eCtx)

	require.NoError(t, eCtx.Err)
	require.True(t, eCtx.Terminated)
	require.False(t, eCtx.Truncated)
	require.Equal(t, 3, eCtx.Timesteps)
	require.Equal(t, 1.0, eCtx.Return)
	require.Equal(t, 3, eCtx.Trace.Len())
	require.Equal(t, 1.0, eCtx.Return)
}

func TestAgentRunEpisodeTruncates(t *testing.T) {
	env := &lineEnv{n: 100, maxSteps: 5}
	agent := NewAgent(&AgentConfig{Policy: NewSeededRandomPolicy(1), Environment: env})

	eCtx := NewEpisodeContext(context.Background(), 0, 0)
	agent.RunEpisode(eCtx)

	require.True(t, eCtx.Truncated)
	require.Equal(t, 5, eCtx.Timesteps)
}

func TestAgentStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := &lineEnv{n: 3, maxSteps: 10}
	agent := NewAgent(&AgentConfig{Policy: alwaysRight{}, Environment: env})

	eCtx := NewEpisodeContext(ctx, 0, 0)
	agent.RunEpisode(eCtx)
	require.True(t, eCtx.Interrupted)
	require.Equal(t, 0, eCtx.Timesteps)
}

func TestTrainerConsumesBudget(t *testing.T) {
	env := &lineEnv{n: 3, maxSteps: 10}
	learner := &countingLearner{}
	out := &bytes.Buffer{}
	trainer := NewTrainer(&TrainerConfig{Name: "test", TotalTimesteps: 10, ResetNumTimesteps: true, LogInterval: 1, Out: out}, learner, env)

	result := trainer.Learn(context.Background())
	require.NoError(t, result.Err)
	require.False(t, result.Interrupted)
	require.Equal(t, 10, learner.NumTimesteps())
	// 3 full episodes and one cut short by the budget
	require.Equal(t, 4, result.Episodes)
	require.Contains(t, out.String(), "TSteps:10/10")

	// continuing keeps the counter
	trainer = NewTrainer(&TrainerConfig{TotalTimesteps: 6}, learner, env)
	trainer.config.Out = out
	result = trainer.Learn(context.Background())
	require.NoError(t, result.Err)
	require.Equal(t, 16, learner.NumTimesteps())
}

func TestTrainerInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := &lineEnv{n: 3, maxSteps: 10}
	learner := &countingLearner{}
	trainer := NewTrainer(&TrainerConfig{
		TotalTimesteps:    1000,
		ResetNumTimesteps: true,
		Out:               &bytes.Buffer{},
		OnEpisode: func(eCtx *EpisodeContext) {
			if eCtx.Episode == 1 {
				cancel()
			}
		},
	}, learner, env)

	result := trainer.Learn(ctx)
	require.True(t, result.Interrupted)
	require.Equal(t, 6, learner.NumTimesteps())
}

type failingEnv struct{ lineEnv }

func (f *failingEnv) Step(_ Action, _ *StepContext) (State, error) {
	return nil, errors.New("simulator exploded")
}

func TestTrainerReportsEpisodeError(t *testing.T) {
	trainer := NewTrainer(&TrainerConfig{TotalTimesteps: 10, Out: &bytes.Buffer{}}, &countingLearner{}, &failingEnv{})
	result := trainer.Learn(context.Background())
	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "simulator exploded")
}

func TestComparisonRunsAnalyzers(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewComparison(4, out)
	reached := NewProperty("ReachedEnd")
	reached.Build().On(func(_ State, _ Action, ns State) bool {
		return ns.(linePos).pos == 3
	}, "end").MarkSuccess()

	var got []DataSet
	c.AddAnalysis("returns", NewReturnsAnalyzer(), func(names []string, ds []DataSet) error {
		require.Equal(t, []string{"right", "random"}, names)
		got = ds
		return nil
	})
	c.AddAnalysis("properties", NewPropertyAnalyzer(reached), PropertyComparator(out))
	c.AddExperiment(NewExperiment("right", alwaysRight{}, &lineEnv{n: 3, maxSteps: 10}))
	c.AddExperiment(NewExperiment("random", NewSeededRandomPolicy(3), &lineEnv{n: 50, maxSteps: 5}))

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, got, 2)
	require.Equal(t, []float64{1, 1, 1, 1}, got[0].([]float64))
	require.Equal(t, []float64{0, 0, 0, 0}, got[1].([]float64))
	require.Contains(t, out.String(), "right: property ReachedEnd satisfied in 4/4 episodes")
	require.Contains(t, out.String(), "random: property ReachedEnd satisfied in 0/4 episodes")
}

func TestPropertyPrefix(t *testing.T) {
	trace := NewTrace()
	for i := 0; i < 5; i++ {
		trace.Append(i, linePos{i}, move("right"), linePos{i + 1}, 0)
	}
	p := NewProperty("ReachTwoThenFour")
	p.Build().
		On(func(_ State, _ Action, ns State) bool { return ns.(linePos).pos == 2 }, "two").
		On(func(_ State, _ Action, ns State) bool { return ns.(linePos).pos == 4 }, "four").
		MarkSuccess()

	prefix, ok := p.Check(trace)
	require.True(t, ok)
	require.Equal(t, 4, prefix.Len())
}

func TestRegistry(t *testing.T) {
	ctor := func(_ config.EnvConfig, _ uint64) (Environment, error) {
		return &lineEnv{n: 2, maxSteps: 2}, nil
	}
	require.NoError(t, RegisterEnv("line-test-v0", ctor))
	require.ErrorIs(t, RegisterEnv("line-test-v0", ctor), ErrEnvExists)

	env, err := MakeEnv("line-test-v0", config.EnvConfig{}, 0)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Contains(t, RegisteredEnvs(), "line-test-v0")

	_, err = MakeEnv("missing-v0", config.EnvConfig{}, 0)
	require.ErrorIs(t, err, ErrUnknownEnv)
}
