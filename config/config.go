package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/zeu5/highway-rl/logging"
)

const envPrefix = "HRL_"

type Config struct {
	LogLevel string `koanf:"log_level"`
	LogJSON  bool   `koanf:"log_json"`
	OutDir   string `koanf:"outdir"`
	Seed     uint64 `koanf:"seed"`

	Env       EnvConfig       `koanf:"env"`
	Train     TrainConfig     `koanf:"train"`
	Continue  ContinueConfig  `koanf:"continue"`
	Eval      EvalConfig      `koanf:"eval"`
	Visualize VisualizeConfig `koanf:"visualize"`
	Plot      PlotConfig      `koanf:"plot"`
	Monitor   MonitorConfig   `koanf:"monitor"`
}

// EnvConfig holds the scenario parameters of the highway-construction environment
type EnvConfig struct {
	ID                  string    `koanf:"id"`
	LanesCount          int       `koanf:"lanes_count"`
	VehiclesCount       int       `koanf:"vehicles_count"`
	SlowVehiclesCount   int       `koanf:"slow_vehicles_count"`
	Duration            int       `koanf:"duration"`
	MaxTime             float64   `koanf:"max_time"`
	HighwayLength       float64   `koanf:"highway_length"`
	LaneWidth           float64   `koanf:"lane_width"`
	SimulationFrequency int       `koanf:"simulation_frequency"`
	PolicyFrequency     int       `koanf:"policy_frequency"`
	CollisionReward     float64   `koanf:"collision_reward"`
	RewardClipLow       float64   `koanf:"reward_clip_low"`
	RewardClipHigh      float64   `koanf:"reward_clip_high"`
	ConstructionStart   float64   `koanf:"construction_start"`
	ConstructionEnd     float64   `koanf:"construction_end"`
	ConeOffsets         []float64 `koanf:"cone_offsets"`
	ObservedVehicles    int       `koanf:"observed_vehicles"`
	ScreenWidth         int       `koanf:"screen_width"`
	ScreenHeight        int       `koanf:"screen_height"`
	Scaling             float64   `koanf:"scaling"`
	CenteringPosition   []float64 `koanf:"centering_position"`
}

type TrainConfig struct {
	Algo                 string  `koanf:"algo"`
	ModelName            string  `koanf:"model_name"`
	Phase1Timesteps      int     `koanf:"phase1_timesteps"`
	Phase2Timesteps      int     `koanf:"phase2_timesteps"`
	Phase3Timesteps      int     `koanf:"phase3_timesteps"`
	LRPhase1             float64 `koanf:"lr_phase1"`
	LRPhase2             float64 `koanf:"lr_phase2"`
	LRPhase3             float64 `koanf:"lr_phase3"`
	Gamma                float64 `koanf:"gamma"`
	BufferSize           int     `koanf:"buffer_size"`
	LearningStarts       int     `koanf:"learning_starts"`
	TrainFreq            int     `koanf:"train_freq"`
	GradientSteps        int     `koanf:"gradient_steps"`
	BatchSize            int     `koanf:"batch_size"`
	NQuantiles           int     `koanf:"n_quantiles"`
	NetArch              []int   `koanf:"net_arch"`
	TargetUpdateInterval int     `koanf:"target_update_interval"`
	ExplorationFraction  float64 `koanf:"exploration_fraction"`
	ExplorationInitial   float64 `koanf:"exploration_initial_eps"`
	ExplorationFinal     float64 `koanf:"exploration_final_eps"`
	MaxGradNorm          float64 `koanf:"max_grad_norm"`
	NormObs              bool    `koanf:"norm_obs"`
	NormReward           bool    `koanf:"norm_reward"`
	ClipObs              float64 `koanf:"clip_obs"`
	LogInterval          int     `koanf:"log_interval"`
	TabularAlpha         float64 `koanf:"tabular_alpha"`
	TabularEpsilon       float64 `koanf:"tabular_epsilon"`
	SoftMaxTemperature   float64 `koanf:"softmax_temperature"`
	StatsFile            string  `koanf:"stats_file"`
	MonitorFile          string  `koanf:"monitor_file"`
}

type ContinueConfig struct {
	ModelName           string  `koanf:"model_name"`
	SaveAs              string  `koanf:"save_as"`
	AdditionalTimesteps int     `koanf:"additional_timesteps"`
	LearningRate        float64 `koanf:"learning_rate"`
}

type EvalConfig struct {
	ModelPath     string `koanf:"model_path"`
	Episodes      int    `koanf:"episodes"`
	ReturnsFile   string `koanf:"returns_file"`
	PlotFile      string `koanf:"plot_file"`
	CompareRandom bool   `koanf:"compare_random"`
}

type VisualizeConfig struct {
	ModelPath string `koanf:"model_path"`
	Episodes  int    `koanf:"episodes"`
	Wait      bool   `koanf:"wait"`
	Realtime  bool   `koanf:"realtime"`
	ServeAddr string `koanf:"serve_addr"`
	FramesDir string `koanf:"frames_dir"`
}

type PlotConfig struct {
	MonitorPath string  `koanf:"monitor_path"`
	OutPlot     string  `koanf:"out_plot"`
	WindowSize  int     `koanf:"window_size"`
	YMin        float64 `koanf:"y_min"`
}

type MonitorConfig struct {
	RedisAddr   string `koanf:"redis_addr"`
	RedisStream string `koanf:"redis_stream"`
}

// Default returns the configuration used when no file or environment overrides are given
func Default() Config {
	return Config{
		LogLevel: "info",
		OutDir:   "data",
		Env: EnvConfig{
			ID:                  "highway-construction-v0",
			LanesCount:          4,
			VehiclesCount:       25,
			SlowVehiclesCount:   3,
			Duration:            120,
			MaxTime:             120,
			HighwayLength:       1000,
			LaneWidth:           4.0,
			SimulationFrequency: 10,
			PolicyFrequency:     5,
			CollisionReward:     -300,
			RewardClipLow:       -50,
			RewardClipHigh:      3,
			ConstructionStart:   400,
			ConstructionEnd:     460,
			ConeOffsets:         []float64{400, 410, 420, 430, 440, 450},
			ObservedVehicles:    5,
			ScreenWidth:         1200,
			ScreenHeight:        400,
			Scaling:             5.5,
			CenteringPosition:   []float64{0.3, 0.5},
		},
		Train: TrainConfig{
			Algo:                 "qrdqn",
			ModelName:            "qrdqn_agent_low_gamma_96",
			Phase1Timesteps:      100000,
			Phase2Timesteps:      200000,
			Phase3Timesteps:      50000,
			LRPhase1:             5e-4,
			LRPhase2:             3e-4,
			LRPhase3:             1e-4,
			Gamma:                0.9999,
			BufferSize:           1_000_000,
			LearningStarts:       50000,
			TrainFreq:            4,
			GradientSteps:        1,
			BatchSize:            512,
			NQuantiles:           50,
			NetArch:              []int{64, 64},
			TargetUpdateInterval: 10000,
			ExplorationFraction:  0.005,
			ExplorationInitial:   1.0,
			ExplorationFinal:     0.01,
			MaxGradNorm:          10,
			NormObs:              true,
			NormReward:           true,
			ClipObs:              10,
			LogInterval:          1,
			TabularAlpha:         0.1,
			TabularEpsilon:       0.05,
			SoftMaxTemperature:   1.0,
			StatsFile:            "vec_normalize_stats.json",
			MonitorFile:          "monitor.csv",
		},
		Continue: ContinueConfig{
			ModelName:           "qrdqn_agent_final",
			AdditionalTimesteps: 150000,
			LearningRate:        1e-4,
		},
		Eval: EvalConfig{
			ModelPath:   "qrdqn_agent_final.zip",
			Episodes:    100,
			ReturnsFile: "returns.npy",
			PlotFile:    "violin_plot.png",
		},
		Visualize: VisualizeConfig{
			ModelPath: "qrdqn_agent_final.zip",
			Episodes:  20,
			Realtime:  true,
		},
		Plot: PlotConfig{
			MonitorPath: "monitor.csv",
			OutPlot:     "learning_curve.png",
			WindowSize:  100,
			YMin:        -200,
		},
		Monitor: MonitorConfig{
			RedisStream: "highway:episodes",
		},
	}
}

// TotalTimesteps sums the three learning-rate phases
func (t TrainConfig) TotalTimesteps() int {
	return t.Phase1Timesteps + t.Phase2Timesteps + t.Phase3Timesteps
}

// Load reads the defaults, then the provider (if any), then HRL_ environment variables
func Load(provider koanf.Provider) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}
	if provider != nil {
		if err := k.Load(provider, yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config: %w", err)
		}
	}
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads the configuration from a YAML file, a missing path means defaults only
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Load(nil)
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	logging.Info("Loading config", logging.Config, "path", path)
	return Load(file.Provider(path))
}

func (c Config) Validate() error {
	var errs []error
	e := c.Env
	if e.LanesCount < 2 {
		// the ego starts on lane 1
		errs = append(errs, fmt.Errorf("env.lanes_count must be at least 2, got %d", e.LanesCount))
	}
	if e.VehiclesCount < 0 || e.SlowVehiclesCount < 0 {
		errs = append(errs, errors.New("env vehicle counts must not be negative"))
	}
	if e.SimulationFrequency < 1 || e.PolicyFrequency < 1 {
		errs = append(errs, errors.New("env frequencies must be positive"))
	} else if e.PolicyFrequency > e.SimulationFrequency {
		errs = append(errs, fmt.Errorf("env.policy_frequency %d exceeds simulation_frequency %d", e.PolicyFrequency, e.SimulationFrequency))
	}
	if e.HighwayLength <= 0 || e.LaneWidth <= 0 {
		errs = append(errs, errors.New("env road dimensions must be positive"))
	}
	if e.RewardClipLow > e.RewardClipHigh {
		errs = append(errs, errors.New("env.reward_clip_low exceeds reward_clip_high"))
	}
	if e.ObservedVehicles < 1 {
		errs = append(errs, errors.New("env.observed_vehicles must be positive"))
	}
	if len(e.CenteringPosition) != 2 {
		errs = append(errs, errors.New("env.centering_position needs two values"))
	}

	t := c.Train
	if t.TotalTimesteps() <= 0 {
		errs = append(errs, errors.New("train phases must add up to a positive number of timesteps"))
	}
	if t.BatchSize < 1 || t.BatchSize > t.BufferSize {
		errs = append(errs, fmt.Errorf("train.batch_size %d must be in [1, buffer_size]", t.BatchSize))
	}
	if t.TrainFreq < 1 || t.NQuantiles < 1 {
		errs = append(errs, errors.New("train.train_freq and n_quantiles must be positive"))
	}
	if t.Gamma <= 0 || t.Gamma > 1 {
		errs = append(errs, fmt.Errorf("train.gamma must be in (0, 1], got %v", t.Gamma))
	}
	switch t.Algo {
	case "qrdqn", "qtable":
	case "softmax":
		if t.SoftMaxTemperature <= 0 {
			errs = append(errs, fmt.Errorf("train.softmax_temperature must be positive, got %v", t.SoftMaxTemperature))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown train.algo %q", t.Algo))
	}
	if c.Plot.WindowSize < 1 {
		errs = append(errs, errors.New("plot.window_size must be positive"))
	}
	return errors.Join(errs...)
}
