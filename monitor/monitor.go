package monitor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
)

var (
	ErrNoEpisodes = errors.New("no episodes recorded")
	ErrEarlyReset = errors.New("reset before the episode ended, set AllowEarlyResets to allow it")
)

// Episode is one row of the monitor log
type Episode struct {
	Return float64 `json:"r"`
	Length int     `json:"l"`
	// Time is the wall clock time in seconds since the monitor started
	Time float64 `json:"t"`
}

// Header is the first line of a monitor file, prefixed by '#'
type Header struct {
	TStart float64 `json:"t_start"`
	EnvID  string  `json:"env_id"`
	RunID  string  `json:"run_id"`
}

// Sink receives every finished episode besides the CSV file
type Sink interface {
	Record(context.Context, Episode) error
}

type Config struct {
	Filename string
	EnvID    string
	// AllowEarlyResets discards the running episode on reset instead of failing
	AllowEarlyResets bool
	// OverrideExisting truncates the file, otherwise episodes are appended
	OverrideExisting bool
	Sinks            []Sink
}

// Env records return, length and time of every episode of the wrapped environment
type Env struct {
	env    types.Environment
	config Config
	runID  string

	tStart  time.Time
	file    *os.File
	writer  *csv.Writer
	rewards []float64
	// running is set between a reset and the end of the episode
	running  bool
	episodes []Episode
}

var _ types.Environment = &Env{}
var _ types.Wrapper = &Env{}
var _ types.Closer = &Env{}

// NewEnv wraps env. An empty filename keeps the episodes in memory only.
func NewEnv(env types.Environment, config Config) (*Env, error) {
	m := &Env{
		env:      env,
		config:   config,
		runID:    uuid.New().String(),
		tStart:   time.Now(),
		rewards:  make([]float64, 0),
		episodes: make([]Episode, 0),
	}
	if config.Filename == "" {
		return m, nil
	}
	if err := m.open(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Env) open() error {
	if err := util.EnsureDir(filepath.Dir(m.config.Filename)); err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if m.config.OverrideExisting {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(m.config.Filename, flags, 0644)
	if err != nil {
		return fmt.Errorf("opening monitor file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	m.file = f
	m.writer = csv.NewWriter(f)

	// every run starts with its own header line, the column names are
	// only written once per file
	header, err := json.Marshal(Header{
		TStart: float64(m.tStart.UnixNano()) / 1e9,
		EnvID:  m.config.EnvID,
		RunID:  m.runID,
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "#%s\n", header); err != nil {
		return err
	}
	if info.Size() == 0 {
		if err := m.writer.Write([]string{"r", "l", "t"}); err != nil {
			return err
		}
		m.writer.Flush()
	} else {
		logging.Info("Appending to existing monitor file", logging.Monitor, "path", m.config.Filename)
	}
	return m.writer.Error()
}

func (m *Env) Unwrap() types.Environment {
	return m.env
}

func (m *Env) RunID() string {
	return m.runID
}

func (m *Env) AddSink(s Sink) {
	m.config.Sinks = append(m.config.Sinks, s)
}

func (m *Env) Reset(eCtx *types.EpisodeContext) (types.State, error) {
	if m.running && len(m.rewards) > 0 {
		if !m.config.AllowEarlyResets {
			return nil, ErrEarlyReset
		}
		logging.Debug("Discarding unfinished episode", logging.Monitor, "steps", len(m.rewards))
	}
	m.rewards = m.rewards[:0]
	m.running = true
	return m.env.Reset(eCtx)
}

func (m *Env) Step(a types.Action, sCtx *types.StepContext) (types.State, error) {
	ns, err := m.env.Step(a, sCtx)
	if err != nil {
		return nil, err
	}
	m.rewards = append(m.rewards, sCtx.RawReward)
	if sCtx.Done() {
		ep := m.finish()
		sCtx.Info["episode"] = ep
		if err := m.record(sCtx.EpisodeContext, ep); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

func (m *Env) finish() Episode {
	total := 0.0
	for _, r := range m.rewards {
		total += r
	}
	ep := Episode{
		Return: round6(total),
		Length: len(m.rewards),
		Time:   round6(time.Since(m.tStart).Seconds()),
	}
	m.episodes = append(m.episodes, ep)
	m.running = false
	m.rewards = m.rewards[:0]
	return ep
}

func (m *Env) record(eCtx *types.EpisodeContext, ep Episode) error {
	if m.writer != nil {
		err := m.writer.Write([]string{
			strconv.FormatFloat(ep.Return, 'f', -1, 64),
			strconv.Itoa(ep.Length),
			strconv.FormatFloat(ep.Time, 'f', -1, 64),
		})
		if err != nil {
			return fmt.Errorf("writing monitor row: %w", err)
		}
		m.writer.Flush()
		if err := m.writer.Error(); err != nil {
			return fmt.Errorf("writing monitor row: %w", err)
		}
	}
	ctx := context.Background()
	if eCtx != nil && eCtx.Context != nil {
		ctx = eCtx.Context
	}
	for _, s := range m.config.Sinks {
		// sink errors are logged only
		if err := s.Record(ctx, ep); err != nil {
			logging.Warn("Failed to record episode in sink", logging.Monitor, "error", err)
		}
	}
	return nil
}

// Episodes returns the episodes finished since the monitor was created
func (m *Env) Episodes() []Episode {
	out := make([]Episode, len(m.episodes))
	copy(out, m.episodes)
	return out
}

func (m *Env) TotalSteps() int {
	total := 0
	for _, e := range m.episodes {
		total += e.Length
	}
	return total
}

func (m *Env) Close() error {
	if m.file == nil {
		return nil
	}
	m.writer.Flush()
	err := m.file.Close()
	m.file = nil
	m.writer = nil
	return err
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
