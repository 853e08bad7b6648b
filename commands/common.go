package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/highway"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/monitor"
	"github.com/zeu5/highway-rl/normalize"
	"github.com/zeu5/highway-rl/types"
)

// interruptContext is cancelled on the first SIGINT or SIGTERM, stop releases the signal handler
func interruptContext(parent context.Context) (context.Context, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, interruptSignals...)

	doneCh := make(chan struct{})

	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-sigCh:
		case <-doneCh:
		}
		cancel()
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		close(doneCh)
	}
}

var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func runSeed(cfg config.Config) uint64 {
	if cfg.Seed != 0 {
		return cfg.Seed
	}
	return uint64(time.Now().UnixNano())
}

func obsDim(cfg config.Config) int {
	return highway.ObservationSize(cfg.Env.ObservedVehicles)
}

// trainingEnv is the wrapper chain used for learning: scenario, monitor, normalization
type trainingEnv struct {
	base      types.Environment
	monitor   *monitor.Env
	normalize *normalize.Env
	closeSink func() error
}

// newTrainingEnv builds the chain, the normalization statistics are loaded
// from statsPath when it is not empty
func newTrainingEnv(ctx context.Context, cfg config.Config, appendMonitor bool, statsPath string) (*trainingEnv, error) {
	base, err := types.MakeEnv(cfg.Env.ID, cfg.Env, runSeed(cfg))
	if err != nil {
		return nil, err
	}
	m, err := monitor.NewEnv(base, monitor.Config{
		Filename:         outPath(cfg, cfg.Train.MonitorFile),
		EnvID:            cfg.Env.ID,
		AllowEarlyResets: true,
		OverrideExisting: !appendMonitor,
	})
	if err != nil {
		return nil, err
	}
	t := &trainingEnv{base: base, monitor: m}
	if cfg.Monitor.RedisAddr != "" {
		sink, closeSink, err := monitor.DialRedisSink(ctx, cfg.Monitor.RedisAddr, cfg.Monitor.RedisStream, m.RunID())
		if err != nil {
			logging.Warn("Episodes will not be published", logging.Monitor, "error", err)
		} else {
			m.AddSink(sink)
			t.closeSink = closeSink
		}
	}

	if statsPath != "" {
		t.normalize, err = normalize.Load(statsPath, m, obsDim(cfg))
		if err != nil {
			t.Close()
			return nil, err
		}
	} else {
		nc := normalize.DefaultConfig()
		nc.NormObs = cfg.Train.NormObs
		nc.NormReward = cfg.Train.NormReward
		nc.ClipObs = cfg.Train.ClipObs
		t.normalize = normalize.NewEnv(m, nc, obsDim(cfg))
	}
	return t, nil
}

func (t *trainingEnv) Env() types.Environment {
	return t.normalize
}

func (t *trainingEnv) Close() error {
	err := types.CloseEnv(t.monitor)
	if t.closeSink != nil {
		t.closeSink()
	}
	return err
}

// startProfiling starts the CPU profile, the returned function stops it and writes the heap profile
func startProfiling(cfg config.Config) func() {
	stops := make([]func(), 0)
	if cpuprofile != "" {
		cpuProfPath := outPath(cfg, cpuprofile)
		fmt.Println("Profiling CPU to ", cpuProfPath)
		f, err := os.Create(cpuProfPath)
		if err != nil {
			logging.Error("could not create CPU profile", logging.Train, "error", err)
		} else if err := pprof.StartCPUProfile(f); err != nil {
			logging.Error("could not start CPU profile", logging.Train, "error", err)
			f.Close()
		} else {
			stops = append(stops, func() {
				pprof.StopCPUProfile()
				f.Close()
			})
		}
	}

	if memprofile != "" {
		stops = append(stops, func() {
			memProfPath := outPath(cfg, memprofile)
			fmt.Println("Profiling Memory to ", memProfPath)
			f, err := os.Create(memProfPath)
			if err != nil {
				logging.Error("could not create memory profile", logging.Train, "error", err)
				return
			}
			defer f.Close()
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				logging.Error("could not write memory profile", logging.Train, "error", err)
			}
		})
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
