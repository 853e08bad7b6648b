package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zeu5/highway-rl/analysis"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/highway"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/normalize"
	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
)

// evalEnv wraps a fresh scenario with the saved normalization statistics,
// frozen. Without statistics the raw observations are used.
func evalEnv(cfg config.Config, seed uint64) (types.Environment, error) {
	base, err := types.MakeEnv(cfg.Env.ID, cfg.Env, seed)
	if err != nil {
		return nil, err
	}
	statsPath := outPath(cfg, cfg.Train.StatsFile)
	if !util.FileExists(statsPath) {
		logging.Warn("No normalization stats, using raw observations", logging.Eval, "path", statsPath)
		return base, nil
	}
	env, err := normalize.Load(statsPath, base, obsDim(cfg))
	if err != nil {
		return nil, err
	}
	env.Training = false
	return env, nil
}

// returnsComparator prints the return summary, saves the returns of the
// first experiment and plots all of them
func returnsComparator(out io.Writer, returnsPath, plotPath string) types.Comparator {
	summary := types.ReturnsSummaryComparator(out)
	violin := analysis.ViolinComparator(plotPath, "Custom Env - Evaluation")
	return func(names []string, ds []types.DataSet) error {
		if err := summary(names, ds); err != nil {
			return err
		}
		if len(ds) > 0 {
			if err := analysis.SaveReturns(returnsPath, ds[0].([]float64)); err != nil {
				return err
			}
		}
		return violin(names, ds)
	}
}

func runEval(ctx context.Context, cfg config.Config, out io.Writer) error {
	e := cfg.Eval
	modelPath := inPath(cfg, e.ModelPath)
	learner, err := loadLearner(modelPath)
	if err != nil {
		return fmt.Errorf("loading model from %s: %w", modelPath, err)
	}
	fmt.Fprintf(out, "Loaded model from %s (%d timesteps trained)\n", modelPath, learner.NumTimesteps())

	seed := runSeed(cfg)
	env, err := evalEnv(cfg, seed)
	if err != nil {
		return err
	}
	defer types.CloseEnv(env)

	returnsPath := outPath(cfg, e.ReturnsFile)
	plotPath := outPath(cfg, e.PlotFile)
	c := types.NewComparison(e.Episodes, out)
	c.AddAnalysis("returns", types.NewReturnsAnalyzer(), returnsComparator(out, returnsPath, plotPath))
	c.AddAnalysis("properties", types.NewPropertyAnalyzer(highway.Properties(cfg.Env)...), types.PropertyComparator(out))

	name := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	c.AddExperiment(types.NewExperiment(name, types.NewDeterministicPolicy(learner), env))
	if e.CompareRandom {
		randomEnv, err := types.MakeEnv(cfg.Env.ID, cfg.Env, seed)
		if err != nil {
			return err
		}
		c.AddExperiment(types.NewExperiment("random", types.NewSeededRandomPolicy(seed), randomEnv))
	}

	if err := c.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Evaluation complete! Saved:")
	fmt.Fprintf(out, "%s, %s\n", returnsPath, plotPath)
	return nil
}

func EvalCommand() *cobra.Command {
	var episodes int
	var model string
	var compareRandom bool
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a saved agent with deterministic actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("episodes") {
				cfg.Eval.Episodes = episodes
			}
			if flags.Changed("model") {
				cfg.Eval.ModelPath = model
			}
			if flags.Changed("compare-random") {
				cfg.Eval.CompareRandom = compareRandom
			}
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			return runEval(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&episodes, "episodes", "e", 100, "Number of evaluation episodes")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Saved model, .zip for QR-DQN or .json for the q-table")
	cmd.Flags().BoolVar(&compareRandom, "compare-random", false, "Also evaluate a random policy")
	return cmd
}
