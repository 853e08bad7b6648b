package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/util"
)

var (
	configFile string
	outDir     string
	seed       uint64
	logLevel   string
	logJSON    bool
	redisAddr  string
	cpuprofile string
	memprofile string
)

func GetRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "highway-rl",
		Short:         "Train and evaluate driving agents on the highway-construction scenario",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCommand.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCommand.PersistentFlags().StringVarP(&outDir, "outdir", "o", "", "Output folder for models, statistics and plots")
	rootCommand.PersistentFlags().Uint64Var(&seed, "seed", 0, "Random seed, 0 picks one from the clock")
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCommand.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON")
	rootCommand.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address to publish finished episodes to")
	rootCommand.PersistentFlags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile to this file in the output folder")
	rootCommand.PersistentFlags().StringVar(&memprofile, "memprofile", "", "Write a heap profile to this file in the output folder")
	// adding the subcommands here
	rootCommand.AddCommand(TrainCommand())
	rootCommand.AddCommand(ContinueCommand())
	rootCommand.AddCommand(EvalCommand())
	rootCommand.AddCommand(VisualizeCommand())
	rootCommand.AddCommand(RandomCommand())
	rootCommand.AddCommand(PlotCommand())
	return rootCommand
}

// loadConfig reads the configuration and applies the global flags on top of it
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("outdir") {
		cfg.OutDir = outDir
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = logJSON
	}
	if flags.Changed("redis") {
		cfg.Monitor.RedisAddr = redisAddr
	}
	logging.Setup(cfg.LogLevel, cfg.LogJSON)
	return cfg, nil
}

// outPath places relative paths under the output folder
func outPath(cfg config.Config, p string) string {
	if filepath.IsAbs(p) || cfg.OutDir == "" {
		return p
	}
	return filepath.Join(cfg.OutDir, p)
}

// inPath is outPath for files that are read, an existing path is used as given
func inPath(cfg config.Config, p string) string {
	if util.FileExists(p) {
		return p
	}
	return outPath(cfg, p)
}
