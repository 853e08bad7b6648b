package normalize

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
)

var ErrStatsMismatch = errors.New("normalization statistics do not match the observation space")

type Config struct {
	NormObs    bool    `json:"norm_obs"`
	NormReward bool    `json:"norm_reward"`
	ClipObs    float64 `json:"clip_obs"`
	ClipReward float64 `json:"clip_reward"`
	Gamma      float64 `json:"gamma"`
	Epsilon    float64 `json:"epsilon"`
}

func DefaultConfig() Config {
	return Config{
		NormObs:    true,
		NormReward: true,
		ClipObs:    10,
		ClipReward: 10,
		Gamma:      0.99,
		Epsilon:    1e-8,
	}
}

// State is a normalized view of the wrapped environment state. Hash and
// actions are those of the original state.
type State struct {
	types.VectorState
	vector []float64
}

var _ types.VectorState = &State{}

func (s *State) Vector() []float64 {
	out := make([]float64, len(s.vector))
	copy(out, s.vector)
	return out
}

// Raw returns the unnormalized state
func (s *State) Raw() types.VectorState {
	return s.VectorState
}

// Env normalizes observations by their running mean and variance and scales
// rewards by the running standard deviation of the discounted return.
// Statistics only move while Training is set.
type Env struct {
	env    types.Environment
	config Config

	ObsRMS *RunningMeanStd
	RetRMS *RunningMeanStd

	Training bool
	returns  float64
}

var _ types.Environment = &Env{}
var _ types.Wrapper = &Env{}

func NewEnv(env types.Environment, config Config, obsDim int) *Env {
	return &Env{
		env:      env,
		config:   config,
		ObsRMS:   NewRunningMeanStd(obsDim),
		RetRMS:   NewRunningMeanStd(1),
		Training: true,
	}
}

func (e *Env) Unwrap() types.Environment {
	return e.env
}

func (e *Env) Config() Config {
	return e.config
}

func (e *Env) Reset(eCtx *types.EpisodeContext) (types.State, error) {
	s, err := e.env.Reset(eCtx)
	if err != nil {
		return nil, err
	}
	e.returns = 0
	return e.process(s)
}

func (e *Env) Step(a types.Action, sCtx *types.StepContext) (types.State, error) {
	ns, err := e.env.Step(a, sCtx)
	if err != nil {
		return nil, err
	}
	if e.config.NormReward {
		e.returns = e.returns*e.config.Gamma + sCtx.Reward
		if e.Training {
			e.RetRMS.Update([][]float64{{e.returns}})
		}
		sCtx.Reward = e.NormalizeReward(sCtx.Reward)
	}
	if sCtx.Done() {
		e.returns = 0
	}
	return e.process(ns)
}

func (e *Env) process(s types.State) (types.State, error) {
	vs, ok := s.(types.VectorState)
	if !ok || !e.config.NormObs {
		return s, nil
	}
	obs := vs.Vector()
	if len(obs) != e.ObsRMS.Dim() {
		return nil, fmt.Errorf("%w: observation has %d features, statistics %d", ErrStatsMismatch, len(obs), e.ObsRMS.Dim())
	}
	if e.Training {
		e.ObsRMS.Update([][]float64{obs})
	}
	return &State{VectorState: vs, vector: e.NormalizeObs(obs)}, nil
}

// NormalizeObs scales obs with the current statistics without updating them
func (e *Env) NormalizeObs(obs []float64) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		v := (o - e.ObsRMS.Mean[i]) / math.Sqrt(e.ObsRMS.Var[i]+e.config.Epsilon)
		out[i] = clip(v, e.config.ClipObs)
	}
	return out
}

func (e *Env) NormalizeReward(r float64) float64 {
	return clip(r/math.Sqrt(e.RetRMS.Var[0]+e.config.Epsilon), e.config.ClipReward)
}

func clip(x, bound float64) float64 {
	return math.Max(-bound, math.Min(bound, x))
}

type stats struct {
	Config Config          `json:"config"`
	Obs    *RunningMeanStd `json:"obs_rms"`
	Ret    *RunningMeanStd `json:"ret_rms"`
}

// Save writes the statistics and the normalization settings as JSON
func (e *Env) Save(path string) error {
	return util.WriteJSON(path, &stats{
		Config: e.config,
		Obs:    e.ObsRMS,
		Ret:    e.RetRMS,
	})
}

// Load wraps env with the statistics saved at path
func Load(path string, env types.Environment, obsDim int) (*Env, error) {
	var s stats
	if err := util.ReadJSON(path, &s); err != nil {
		return nil, fmt.Errorf("loading normalization statistics: %w", err)
	}
	if s.Obs == nil || s.Ret == nil || s.Ret.Dim() != 1 {
		return nil, fmt.Errorf("%w: incomplete statistics in %s", ErrStatsMismatch, path)
	}
	if s.Obs.Dim() != obsDim || len(s.Obs.Var) != obsDim {
		return nil, fmt.Errorf("%w: saved %d features, expected %d", ErrStatsMismatch, s.Obs.Dim(), obsDim)
	}
	e := NewEnv(env, s.Config, obsDim)
	e.ObsRMS = s.Obs
	e.RetRMS = s.Ret
	return e, nil
}
