package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/viewer"
)

var errNoScene = errors.New("environment cannot be rendered")

// runVisualize plays episodes with the saved model, or random actions when
// random is set or the model cannot be loaded
func runVisualize(ctx context.Context, cfg config.Config, random bool, in io.Reader, out io.Writer) error {
	vc := cfg.Visualize
	seed := runSeed(cfg)

	var policy types.Policy
	var env types.Environment
	var err error
	if !random {
		modelPath := inPath(cfg, vc.ModelPath)
		learner, lerr := loadLearner(modelPath)
		if lerr != nil {
			fmt.Fprintf(out, "Error, could not load model from %s. Running with random actions. Error: %v\n", modelPath, lerr)
		} else {
			fmt.Fprintln(out, "model loaded successfully!")
			policy = types.NewDeterministicPolicy(learner)
			if env, err = evalEnv(cfg, seed); err != nil {
				return err
			}
		}
	}
	if policy == nil {
		policy = types.NewSeededRandomPolicy(seed)
		if env, err = types.MakeEnv(cfg.Env.ID, cfg.Env, seed); err != nil {
			return err
		}
	}
	defer types.CloseEnv(env)

	scene, ok := types.Unwrap(env).(viewer.Scene)
	if !ok {
		return fmt.Errorf("%w: %s", errNoScene, cfg.Env.ID)
	}
	v := viewer.NewViewer(ctx, vc.ServeAddr, vc.FramesDir)
	if vc.ServeAddr != "" {
		v.Start()
	}

	pause := time.Second / time.Duration(cfg.Env.SimulationFrequency)
	agent := types.NewAgent(&types.AgentConfig{
		Horizon:     cfg.Env.Duration * cfg.Env.SimulationFrequency,
		Policy:      policy,
		Environment: env,
		StepHook: func(sCtx *types.StepContext) {
			if err := v.Record(scene, sCtx); err != nil {
				logging.Error("Dropping frame", logging.Viewer, "error", err)
			}
			if vc.Realtime {
				time.Sleep(pause)
			}
		},
	})

	reader := bufio.NewReader(in)
	for episode := 0; episode < vc.Episodes; episode++ {
		fmt.Fprintf(out, "\n--- Starting Episode %d/%d ---\n", episode+1, vc.Episodes)
		eCtx := types.NewEpisodeContext(ctx, episode, 0)
		agent.RunEpisode(eCtx)
		if eCtx.Err != nil {
			return eCtx.Err
		}
		if eCtx.Interrupted {
			fmt.Fprintln(out, "Episode manually terminated by user.")
			break
		}
		v.EndEpisode(eCtx)
		fmt.Fprintf(out, "Episode finished after %d steps. Total Reward: %.2f\n", eCtx.Timesteps, eCtx.Return)

		if vc.Wait && episode+1 < vc.Episodes {
			fmt.Fprint(out, "Press Enter for the next episode...")
			if _, err := reader.ReadString('\n'); err != nil {
				break
			}
		}
	}
	fmt.Fprintln(out, "Visualization complete.")
	return nil
}

func visualizeCommand(use, short string, random bool) *cobra.Command {
	var episodes int
	var model, serve, frames string
	var wait, noRealtime bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("episodes") {
				cfg.Visualize.Episodes = episodes
			}
			if flags.Changed("model") {
				cfg.Visualize.ModelPath = model
			}
			if flags.Changed("serve") {
				cfg.Visualize.ServeAddr = serve
			}
			if flags.Changed("frames") {
				cfg.Visualize.FramesDir = frames
			}
			if flags.Changed("wait") {
				cfg.Visualize.Wait = wait
			}
			if noRealtime {
				cfg.Visualize.Realtime = false
			}
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			return runVisualize(ctx, cfg, random, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&episodes, "episodes", "e", 20, "Number of episodes to show")
	if !random {
		cmd.Flags().StringVarP(&model, "model", "m", "", "Saved model, random actions are used when it cannot be loaded")
	}
	cmd.Flags().StringVar(&serve, "serve", "", "Serve the frames over http on this address, e.g. :8080")
	cmd.Flags().StringVar(&frames, "frames", "", "Write every frame as a png into this folder")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for Enter between episodes")
	cmd.Flags().BoolVar(&noRealtime, "fast", false, "Do not pause between steps")
	return cmd
}

func VisualizeCommand() *cobra.Command {
	return visualizeCommand("visualize", "Watch a saved agent drive", false)
}

func RandomCommand() *cobra.Command {
	return visualizeCommand("random", "Watch a random agent drive", true)
}
