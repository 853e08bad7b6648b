package types

import (
	"fmt"
	"time"
)

type AgentConfig struct {
	// Horizon caps the steps of an episode, 0 means the environment decides
	Horizon     int
	Policy      Policy
	Environment Environment
	// StepHook is called after every step, used for rendering and pacing
	StepHook func(*StepContext)
}

// RL Agent configured with the corresponding
// policy and environment
type Agent struct {
	config      *AgentConfig
	policy      Policy
	environment Environment
}

// Instantiates a new Agent
func NewAgent(config *AgentConfig) *Agent {
	return &Agent{
		config:      config,
		policy:      config.Policy,
		environment: config.Environment,
	}
}

// RunEpisode runs a single episode, the outcome is stored in the episode context
func (a *Agent) RunEpisode(eCtx *EpisodeContext) {
	defer func() {
		if r := recover(); r != nil {
			eCtx.SetError(fmt.Errorf("episode %d panicked: %v", eCtx.Episode, r))
		}
		eCtx.RunDuration = time.Since(eCtx.StartTime)
	}()

	state, err := a.environment.Reset(eCtx)
	if err != nil {
		eCtx.SetError(fmt.Errorf("resetting environment: %w", err))
		return
	}

	for i := 0; a.config.Horizon <= 0 || i < a.config.Horizon; i++ {
		select {
		case <-eCtx.Context.Done():
			eCtx.Interrupted = true
			a.policy.UpdateIteration(eCtx.Episode, eCtx.Trace)
			return
		default:
		}
		if eCtx.MaxTimesteps > 0 && eCtx.Timesteps >= eCtx.MaxTimesteps {
			break
		}

		actions := state.Actions()
		if len(actions) == 0 {
			break
		}
		nextAction, ok := a.policy.NextAction(i, state, actions)
		if !ok {
			break
		}

		sCtx := NewStepContext(eCtx, i, state, nextAction)
		nextState, err := a.environment.Step(nextAction, sCtx)
		if err != nil {
			eCtx.SetError(fmt.Errorf("step %d: %w", i, err))
			return
		}
		sCtx.NextState = nextState
		a.policy.Update(sCtx)

		eCtx.Trace.Append(i, state, nextAction, nextState, sCtx.RawReward)
		eCtx.Timesteps += 1
		eCtx.Return += sCtx.RawReward
		if a.config.StepHook != nil {
			a.config.StepHook(sCtx)
		}

		state = nextState
		if sCtx.Done() {
			eCtx.Terminated = sCtx.Terminated
			eCtx.Truncated = sCtx.Truncated
			break
		}
	}
	a.policy.UpdateIteration(eCtx.Episode, eCtx.Trace)
}
