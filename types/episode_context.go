package types

import (
	"context"
	"time"
)

// EpisodeContext carries the static information of an episode (number, budget)
// and the information collected while running it (trace, return, outcome)
type EpisodeContext struct {
	Context context.Context

	Episode       int
	StartTimestep int
	// MaxTimesteps stops the episode early when positive
	MaxTimesteps int

	Trace       *Trace
	Timesteps   int
	Return      float64
	Terminated  bool
	Truncated   bool
	Interrupted bool
	Err         error

	StartTime   time.Time
	RunDuration time.Duration
}

func NewEpisodeContext(ctx context.Context, episode, startTimestep int) *EpisodeContext {
	return &EpisodeContext{
		Context:       ctx,
		Episode:       episode,
		StartTimestep: startTimestep,
		Trace:         NewTrace(),
		StartTime:     time.Now(),
	}
}

func (e *EpisodeContext) SetError(err error) {
	e.Err = err
}

// Done reports whether the episode reached a terminal or truncated state
func (e *EpisodeContext) Done() bool {
	return e.Terminated || e.Truncated
}

// StepContext is passed to Environment.Step and Policy.Update.
// The environment fills Reward, RawReward and the ending flags
type StepContext struct {
	*EpisodeContext

	Step      int
	State     State
	Action    Action
	NextState State

	// Reward is what learners consume, wrappers may rescale it
	Reward float64
	// RawReward is the unscaled environment reward
	RawReward  float64
	Terminated bool
	Truncated  bool
	Info       map[string]interface{}
}

func NewStepContext(eCtx *EpisodeContext, step int, state State, action Action) *StepContext {
	return &StepContext{
		EpisodeContext: eCtx,
		Step:           step,
		State:          state,
		Action:         action,
		Info:           make(map[string]interface{}),
	}
}

// Done reports whether this step ended the episode
func (s *StepContext) Done() bool {
	return s.Terminated || s.Truncated
}
