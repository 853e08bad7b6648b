package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/qrdqn"
	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
)

var errStatsMissing = errors.New("normalization statistics not found")

func runContinue(ctx context.Context, cfg config.Config, out io.Writer) error {
	c := cfg.Continue
	statsPath := outPath(cfg, cfg.Train.StatsFile)
	if !util.FileExists(statsPath) {
		fmt.Fprintf(out, "CRITICAL ERROR: normalization stats file not found at %s. Exiting.\n", statsPath)
		return fmt.Errorf("%w: %s", errStatsMissing, statsPath)
	}
	fmt.Fprintf(out, "Loading normalization stats from %s\n", statsPath)

	modelFile := inPath(cfg, c.ModelName+".zip")
	fmt.Fprintf(out, "Loading existing model from %s...\n", modelFile)
	model, err := qrdqn.Load(modelFile)
	if err != nil {
		fmt.Fprintf(out, "Error loading model: %v\n", err)
		return err
	}
	if dim, _ := model.Spaces(); dim != obsDim(cfg) {
		err := fmt.Errorf("model expects %d observation features, the environment produces %d", dim, obsDim(cfg))
		fmt.Fprintf(out, "Error loading model: %v\n", err)
		return err
	}
	fmt.Fprintln(out, "Model loaded successfully. training")
	model.SetLearningRate(c.LearningRate)
	model.Reseed(runSeed(cfg) + uint64(model.NumTimesteps()))
	fmt.Fprintf(out, "Learning rate overridden to: %v\n", c.LearningRate)

	stopProfiling := startProfiling(cfg)
	defer stopProfiling()

	env, err := newTrainingEnv(ctx, cfg, true, statsPath)
	if err != nil {
		return err
	}
	defer env.Close()

	fmt.Fprintf(out, "\nContinuing training for %d more timesteps\n", c.AdditionalTimesteps)
	trainer := types.NewTrainer(&types.TrainerConfig{
		Name:              c.ModelName,
		TotalTimesteps:    c.AdditionalTimesteps,
		ResetNumTimesteps: false,
		LogInterval:       cfg.Train.LogInterval,
		Out:               out,
	}, model, env.Env())
	result := trainer.Learn(ctx)
	reportOutcome(out, result, c.ModelName)

	saveAs := c.SaveAs
	if saveAs == "" {
		saveAs = c.ModelName
	}
	if err := saveRun(out, model, env, outPath(cfg, saveAs+".zip"), statsPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal cumulative timesteps trained: %d\n", model.NumTimesteps())
	if err := util.AppendToFile(outPath(cfg, historyFile), historyLine(saveAs+".zip", model.NumTimesteps(), result, c.LearningRate)); err != nil {
		logging.Warn("Could not append training history", logging.Train, "error", err)
	}
	return nil
}

func ContinueCommand() *cobra.Command {
	var timesteps int
	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Continue training a saved agent with a fixed learning rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timesteps") {
				cfg.Continue.AdditionalTimesteps = timesteps
			}
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			return runContinue(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&timesteps, "timesteps", "t", 150000, "Additional timesteps to train for")
	return cmd
}
