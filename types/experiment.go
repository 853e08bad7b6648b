package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// TrainerConfig configures a timestep-bounded learning run
type TrainerConfig struct {
	Name              string
	TotalTimesteps    int
	ResetNumTimesteps bool
	// LogInterval is the number of episodes between progress lines, 0 disables them
	LogInterval int
	Out         io.Writer
	// OnEpisode is called after every finished episode
	OnEpisode func(*EpisodeContext)
}

type TrainResult struct {
	Episodes    int
	Timesteps   int
	Interrupted bool
	Err         error
}

// Trainer runs episodes until the learner has consumed its timestep budget
type Trainer struct {
	config      *TrainerConfig
	learner     Learner
	environment Environment
}

func NewTrainer(config *TrainerConfig, learner Learner, environment Environment) *Trainer {
	if config.Out == nil {
		config.Out = os.Stdout
	}
	return &Trainer{
		config:      config,
		learner:     learner,
		environment: environment,
	}
}

// Learn runs the training loop. It returns when the budget is reached, the
// context is cancelled or an episode fails. The learner keeps its progress
// in every case so that the caller can still persist it.
func (t *Trainer) Learn(ctx context.Context) *TrainResult {
	result := &TrainResult{}
	target := t.learner.SetupLearn(t.config.TotalTimesteps, t.config.ResetNumTimesteps)
	agent := NewAgent(&AgentConfig{
		Policy:      t.learner,
		Environment: t.environment,
	})

	recent := make([]float64, 0, 100)
	TSPadding := len(strconv.Itoa(target))

	for t.learner.NumTimesteps() < target {
		select {
		case <-ctx.Done():
			result.Interrupted = true
			return t.finish(result)
		default:
		}

		eCtx := NewEpisodeContext(ctx, result.Episodes, t.learner.NumTimesteps())
		eCtx.MaxTimesteps = target - t.learner.NumTimesteps()
		agent.RunEpisode(eCtx)
		result.Timesteps += eCtx.Timesteps

		if eCtx.Err != nil {
			result.Err = eCtx.Err
			return t.finish(result)
		}
		if eCtx.Interrupted {
			result.Interrupted = true
			return t.finish(result)
		}
		if eCtx.Timesteps == 0 {
			result.Err = errors.New("episode made no progress")
			return t.finish(result)
		}

		result.Episodes += 1
		if eCtx.Done() {
			if len(recent) == cap(recent) {
				recent = recent[1:]
			}
			recent = append(recent, eCtx.Return)
		}
		if t.config.OnEpisode != nil {
			t.config.OnEpisode(eCtx)
		}

		// terminal execution display
		if t.config.LogInterval > 0 && result.Episodes%t.config.LogInterval == 0 {
			meanReturn := 0.0
			if len(recent) > 0 {
				meanReturn = stat.Mean(recent, nil)
			}
			fmt.Fprintf(t.config.Out, "\rExp:%s, TSteps:%*d/%d || Eps:%6d, Len:%4d, Return:%9.2f, Mean(%d):%9.2f",
				t.config.Name, TSPadding, t.learner.NumTimesteps(), target, result.Episodes,
				eCtx.Timesteps, eCtx.Return, len(recent), meanReturn)
		}
	}
	return t.finish(result)
}

func (t *Trainer) finish(result *TrainResult) *TrainResult {
	if t.config.LogInterval > 0 {
		fmt.Fprintln(t.config.Out, "")
	}
	return result
}

// Experiment encapsulates a policy and an environment to evaluate
type Experiment struct {
	Name        string
	policy      Policy
	environment Environment
}

// NewExperiment creates a new experiment instance
func NewExperiment(name string, policy Policy, environment Environment) *Experiment {
	return &Experiment{
		Name:        name,
		policy:      policy,
		environment: environment,
	}
}

// Run the experiment for the specified number of episodes, feeding every episode to the analyzers
func (e *Experiment) Run(ctx context.Context, episodes int, analyzers []Analyzer, out io.Writer) error {
	agent := NewAgent(&AgentConfig{
		Policy:      e.policy,
		Environment: e.environment,
	})
	EPPadding := len(strconv.Itoa(episodes))
	for i := 0; i < episodes; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		eCtx := NewEpisodeContext(ctx, i, 0)
		agent.RunEpisode(eCtx)
		if eCtx.Err != nil {
			return fmt.Errorf("experiment %s: %w", e.Name, eCtx.Err)
		}
		if eCtx.Interrupted {
			return ctx.Err()
		}
		for _, a := range analyzers {
			a.Analyze(i, e.Name, eCtx)
		}
		fmt.Fprintf(out, "\rExp:%s, Eps:%*d/%d, Return:%9.2f", e.Name, EPPadding, i+1, episodes, eCtx.Return)
	}
	fmt.Fprintln(out, "")
	return nil
}

// Reset cleans the policy state between runs
func (e *Experiment) Reset() {
	e.policy.Reset()
}

// Generic Dataset that contains information after processing the episodes
type DataSet interface{}

// Analyzer compresses the information of the episodes to a DataSet
type Analyzer interface {
	// episode, experiment, finished episode
	Analyze(int, string, *EpisodeContext)
	// Resulting dataset
	DataSet() DataSet
	// Reset the analyzer
	Reset()
}

// Comparator differentiates between different datasets with associated names
type Comparator func([]string, []DataSet) error

// Comparison contains the different experiments to compare
// The episodes obtained from the experiments are analyzed
// The analyzed datasets are then compared
type Comparison struct {
	Experiments []*Experiment
	episodes    int
	out         io.Writer
	names       []string
	analyzers   map[string]Analyzer
	comparators map[string]Comparator
}

// NewComparison creates a comparison instance
func NewComparison(episodes int, out io.Writer) *Comparison {
	if out == nil {
		out = os.Stdout
	}
	return &Comparison{
		Experiments: make([]*Experiment, 0),
		episodes:    episodes,
		out:         out,
		names:       make([]string, 0),
		analyzers:   make(map[string]Analyzer),
		comparators: make(map[string]Comparator),
	}
}

// AddAnalysis adds an analyzer and comparator to the comparison
func (c *Comparison) AddAnalysis(name string, analyzer Analyzer, comparator Comparator) {
	if _, ok := c.analyzers[name]; !ok {
		c.names = append(c.names, name)
	}
	c.analyzers[name] = analyzer
	c.comparators[name] = comparator
}

// Add experiments to compare
func (c *Comparison) AddExperiment(e *Experiment) {
	c.Experiments = append(c.Experiments, e)
}

// Run the comparison
func (c *Comparison) Run(ctx context.Context) error {
	datasets := make(map[string][]DataSet)
	for _, name := range c.names {
		datasets[name] = make([]DataSet, len(c.Experiments))
	}
	analyzers := make([]Analyzer, 0, len(c.names))
	for _, name := range c.names {
		analyzers = append(analyzers, c.analyzers[name])
	}

	names := make([]string, len(c.Experiments))
	for i, e := range c.Experiments {
		if err := e.Run(ctx, c.episodes, analyzers, c.out); err != nil {
			return err
		}
		for _, name := range c.names {
			a := c.analyzers[name]
			datasets[name][i] = a.DataSet()
			a.Reset()
		}
		names[i] = e.Name
		e.Reset()
	}
	for _, name := range c.names {
		if err := c.comparators[name](names, datasets[name]); err != nil {
			return fmt.Errorf("comparator %s: %w", name, err)
		}
	}
	return nil
}
