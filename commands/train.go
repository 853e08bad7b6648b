package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/highway"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/policies"
	"github.com/zeu5/highway-rl/qrdqn"
	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
)

// newLearner creates an untrained learner for the configured algorithm
func newLearner(cfg config.Config) (types.Learner, string) {
	t := cfg.Train
	switch t.Algo {
	case "qtable":
		return policies.NewSeededQLearningPolicy(t.TabularAlpha, t.Gamma, t.TabularEpsilon, runSeed(cfg)), ".json"
	case "softmax":
		return policies.NewSoftMaxPolicy(t.TabularAlpha, t.Gamma, t.SoftMaxTemperature, runSeed(cfg)), ".json"
	default:
		schedule := qrdqn.ThreePhaseSchedule{
			Total:  t.TotalTimesteps(),
			Phase1: t.Phase1Timesteps,
			Phase2: t.Phase2Timesteps,
			LR1:    t.LRPhase1,
			LR2:    t.LRPhase2,
			LR3:    t.LRPhase3,
		}
		return qrdqn.NewSeeded(qrdqn.ConfigFromTrain(t), obsDim(cfg), len(highway.AllActions), schedule, runSeed(cfg)), ".zip"
	}
}

// tabular is implemented by the q-learning and softmax learners
type tabular interface {
	QTable() *policies.QTable
}

// loadLearner picks the loader from the file extension
func loadLearner(path string) (types.Learner, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return policies.LoadTabular(path)
	}
	return qrdqn.Load(path)
}

// historyFile lists the runs that produced the models of the output folder
const historyFile = "training_history.txt"

func historyLine(model string, timesteps int, result *types.TrainResult, lr float64) string {
	return fmt.Sprintf("%s\ttimesteps=%d\tepisodes=%d\tinterrupted=%t\tlr=%v",
		model, timesteps, result.Episodes, result.Interrupted, lr)
}

// reportOutcome prints how a learning run ended
func reportOutcome(out io.Writer, result *types.TrainResult, name string) {
	switch {
	case result.Err != nil:
		logging.Error("Training failed", logging.Train, "name", name, "error", result.Err)
		fmt.Fprintf(out, "\nAn unexpected error occurred: %v. Saving model and stats\n", result.Err)
	case result.Interrupted:
		fmt.Fprintln(out, "\nTraining interrupted by user. Saving model and stats")
	default:
		fmt.Fprintln(out, "Training completed successfully without interruption.")
	}
}

// saveRun persists the learner and the normalization statistics, both are attempted
func saveRun(out io.Writer, learner types.Learner, env *trainingEnv, modelPath, statsPath string) error {
	var errs []error
	fmt.Fprintf(out, "Saving model to %s\n", modelPath)
	if err := learner.Save(modelPath); err != nil {
		errs = append(errs, fmt.Errorf("saving model: %w", err))
	}
	fmt.Fprintf(out, "Saving normalization stats to %s\n", statsPath)
	if err := env.normalize.Save(statsPath); err != nil {
		errs = append(errs, fmt.Errorf("saving stats: %w", err))
	}
	return errors.Join(errs...)
}

func runTrain(ctx context.Context, cfg config.Config, out io.Writer) error {
	if err := util.EnsureDir(cfg.OutDir); err != nil {
		return err
	}
	stopProfiling := startProfiling(cfg)
	defer stopProfiling()

	env, err := newTrainingEnv(ctx, cfg, false, "")
	if err != nil {
		return err
	}
	defer env.Close()

	learner, ext := newLearner(cfg)
	t := cfg.Train
	fmt.Fprintf(out, "Starting %s training on %s\n", t.Algo, cfg.Env.ID)
	fmt.Fprintf(out, "GAMMA: %v\n", t.Gamma)
	fmt.Fprintln(out, strings.Repeat("-", 30))
	if t.Algo == "qrdqn" {
		fmt.Fprintf(out, "Phase 1 (LR=%v) for %d timesteps.\n", t.LRPhase1, t.Phase1Timesteps)
		fmt.Fprintf(out, "Phase 2 (LR=%v) for %d timesteps.\n", t.LRPhase2, t.Phase2Timesteps)
		fmt.Fprintf(out, "Phase 3 (LR=%v) for %d timesteps.\n", t.LRPhase3, t.Phase3Timesteps)
	}
	fmt.Fprintf(out, "Total training duration: %d timesteps.\n", t.TotalTimesteps())

	trainer := types.NewTrainer(&types.TrainerConfig{
		Name:              t.ModelName,
		TotalTimesteps:    t.TotalTimesteps(),
		ResetNumTimesteps: true,
		LogInterval:       t.LogInterval,
		Out:               out,
	}, learner, env.Env())
	result := trainer.Learn(ctx)
	reportOutcome(out, result, t.ModelName)

	fileName := t.ModelName + "_final" + ext
	if err := saveRun(out, learner, env, outPath(cfg, fileName), outPath(cfg, t.StatsFile)); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTraining finished after %d timesteps.\n", learner.NumTimesteps())
	fmt.Fprintf(out, "Final model saved as %s.\n", fileName)
	if tab, ok := learner.(tabular); ok {
		fmt.Fprintf(out, "Q-table covers %d states.\n", tab.QTable().States())
	}
	if err := util.WriteToFile(outPath(cfg, historyFile), historyLine(fileName, learner.NumTimesteps(), result, t.LRPhase1)); err != nil {
		logging.Warn("Could not write training history", logging.Train, "error", err)
	}
	logging.Info("Training run finished", logging.Train,
		"episodes", result.Episodes, "timesteps", result.Timesteps, "monitor_episodes", len(env.monitor.Episodes()), "monitor_steps", env.monitor.TotalSteps())
	return nil
}

func TrainCommand() *cobra.Command {
	var algo string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent from scratch with the three phase learning rate schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("algo") {
				cfg.Train.Algo = algo
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			return runTrain(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&algo, "algo", "qrdqn", "Learning algorithm, qrdqn, qtable or softmax")
	return cmd
}
