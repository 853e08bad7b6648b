package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zeu5/highway-rl/analysis"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/monitor"
)

func runPlot(cfg config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p := cfg.Plot
	monitorPath := inPath(cfg, p.MonitorPath)
	results, err := monitor.LoadResults(monitorPath)
	if err != nil {
		return fmt.Errorf("loading monitor data from %s: %w", monitorPath, err)
	}
	returns := results.Returns()
	plotPath := outPath(cfg, p.OutPlot)
	curve, err := analysis.SaveLearningCurve(plotPath, returns, p.WindowSize, p.YMin)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Episodes: %d, trend slope: %.4f per episode\n", len(curve.Episodes), curve.Slope)
	fmt.Fprintf(out, "Learning curve saved to: %s\n", plotPath)
	return nil
}

func PlotCommand() *cobra.Command {
	var monitorPath string
	var window int
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot the learning curve of the monitor file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("monitor") {
				cfg.Plot.MonitorPath = monitorPath
			}
			if cmd.Flags().Changed("window") {
				cfg.Plot.WindowSize = window
			}
			return runPlot(cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&monitorPath, "monitor", "monitor.csv", "Monitor file, or a folder of them")
	cmd.Flags().IntVarP(&window, "window", "w", 100, "Rolling mean window in episodes")
	return cmd
}
