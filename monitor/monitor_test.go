package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/types"
)

type tick string

func (t tick) Hash() string { return string(t) }

type counter int

func (c counter) Hash() string            { return "c" }
func (c counter) Actions() []types.Action { return []types.Action{tick("t")} }

// fixedEnv runs episodes of n steps with reward 1.5 per step
type fixedEnv struct {
	n     int
	steps int
}

func (f *fixedEnv) Reset(_ *types.EpisodeContext) (types.State, error) {
	f.steps = 0
	return counter(0), nil
}

func (f *fixedEnv) Step(_ types.Action, sCtx *types.StepContext) (types.State, error) {
	f.steps += 1
	sCtx.Reward = 1.5
	sCtx.RawReward = 1.5
	sCtx.Terminated = f.steps >= f.n
	return counter(f.steps), nil
}

func runEpisodes(t *testing.T, env types.Environment, n int) {
	t.Helper()
	agent := types.NewAgent(&types.AgentConfig{Policy: types.NewSeededRandomPolicy(1), Environment: env})
	for i := 0; i < n; i++ {
		eCtx := types.NewEpisodeContext(context.Background(), i, 0)
		agent.RunEpisode(eCtx)
		require.NoError(t, eCtx.Err)
	}
}

type fakeStream struct {
	added []*redis.XAddArgs
	err   error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestMonitorWritesEpisodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.csv")
	m, err := NewEnv(&fixedEnv{n: 4}, Config{Filename: path, EnvID: "fixed-v0", OverrideExisting: true})
	require.NoError(t, err)
	runEpisodes(t, m, 3)
	require.NoError(t, m.Close())

	eps := m.Episodes()
	require.Len(t, eps, 3)
	require.Equal(t, 6.0, eps[0].Return)
	require.Equal(t, 4, eps[0].Length)
	require.Equal(t, 12, m.TotalSteps())

	bs, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(bs)), "\n")
	require.Len(t, lines, 5)
	require.True(t, strings.HasPrefix(lines[0], `#{"t_start":`))
	require.Contains(t, lines[0], `"env_id":"fixed-v0"`)
	require.Contains(t, lines[0], m.RunID())
	require.Equal(t, "r,l,t", lines[1])
	require.True(t, strings.HasPrefix(lines[2], "6,4,"))
}

func TestMonitorAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.csv")
	first, err := NewEnv(&fixedEnv{n: 2}, Config{Filename: path, OverrideExisting: true})
	require.NoError(t, err)
	runEpisodes(t, first, 2)
	require.NoError(t, first.Close())

	second, err := NewEnv(&fixedEnv{n: 3}, Config{Filename: path})
	require.NoError(t, err)
	runEpisodes(t, second, 2)
	require.NoError(t, second.Close())

	bs, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(bs), "r,l,t"))
	require.Equal(t, 2, strings.Count(string(bs), "#{"))

	results, err := LoadResults(path)
	require.NoError(t, err)
	require.Len(t, results.Headers, 2)
	require.Equal(t, []float64{3, 3, 4.5, 4.5}, results.Returns())
	require.Equal(t, 3, results.Episodes[3].Length)

	// overriding starts from scratch
	third, err := NewEnv(&fixedEnv{n: 1}, Config{Filename: path, OverrideExisting: true})
	require.NoError(t, err)
	runEpisodes(t, third, 1)
	require.NoError(t, third.Close())
	results, err = LoadResults(path)
	require.NoError(t, err)
	require.Equal(t, []float64{1.5}, results.Returns())
}

func TestEarlyResets(t *testing.T) {
	env := &fixedEnv{n: 10}
	strict, err := NewEnv(env, Config{})
	require.NoError(t, err)
	agent := types.NewAgent(&types.AgentConfig{Horizon: 3, Policy: types.NewSeededRandomPolicy(1), Environment: strict})
	eCtx := types.NewEpisodeContext(context.Background(), 0, 0)
	agent.RunEpisode(eCtx)
	require.NoError(t, eCtx.Err)
	eCtx = types.NewEpisodeContext(context.Background(), 1, 0)
	agent.RunEpisode(eCtx)
	require.ErrorIs(t, eCtx.Err, ErrEarlyReset)

	lenient, err := NewEnv(env, Config{AllowEarlyResets: true})
	require.NoError(t, err)
	agent = types.NewAgent(&types.AgentConfig{Horizon: 3, Policy: types.NewSeededRandomPolicy(1), Environment: lenient})
	agent.RunEpisode(types.NewEpisodeContext(context.Background(), 0, 0))
	runEpisodes(t, lenient, 1)
	// the partial episode is discarded
	require.Len(t, lenient.Episodes(), 1)
	require.Equal(t, 10, lenient.Episodes()[0].Length)
}

func TestRedisSink(t *testing.T) {
	stream := &fakeStream{}
	m, err := NewEnv(&fixedEnv{n: 2}, Config{})
	require.NoError(t, err)
	m.AddSink(NewRedisSink(stream, "highway:episodes", m.RunID()))
	runEpisodes(t, m, 2)

	require.Len(t, stream.added, 2)
	require.Equal(t, "highway:episodes", stream.added[0].Stream)
	values := stream.added[0].Values.(map[string]interface{})
	require.Equal(t, 3.0, values["r"])
	require.Equal(t, 2, values["l"])
	require.Equal(t, m.RunID(), values["run_id"])

	// sink failures do not interrupt the episode
	stream.err = errors.New("connection refused")
	runEpisodes(t, m, 1)
	require.Len(t, m.Episodes(), 3)
}

func TestLoadResultsErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadResults(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty_monitor.csv")
	m, err := NewEnv(&fixedEnv{n: 1}, Config{Filename: empty, OverrideExisting: true})
	require.NoError(t, err)
	require.NoError(t, m.Close())
	_, err = LoadResults(empty)
	require.ErrorIs(t, err, ErrNoEpisodes)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("r,l,t\nx,1,2\n"), 0644))
	_, err = LoadResults(bad)
	require.Error(t, err)
}

func TestLoadResultsDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.monitor.csv", "b.monitor.csv"} {
		m, err := NewEnv(&fixedEnv{n: 2}, Config{Filename: filepath.Join(dir, name), OverrideExisting: true})
		require.NoError(t, err)
		runEpisodes(t, m, 2)
		require.NoError(t, m.Close())
	}
	results, err := LoadResults(dir)
	require.NoError(t, err)
	require.Len(t, results.Episodes, 4)
	require.Len(t, results.Headers, 2)
}
