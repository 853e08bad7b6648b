package types

import (
	"time"

	"golang.org/x/exp/rand"
)

type Policy interface {
	// NextAction picks an action among the available ones, false ends the episode
	NextAction(int, State, []Action) (Action, bool)
	// Update is invoked after every environment step
	Update(*StepContext)
	// UpdateIteration is invoked at the end of every episode
	UpdateIteration(int, *Trace)
	Reset()
}

// Learner is a trainable policy that can be persisted and queried greedily
type Learner interface {
	Policy
	// Predict returns the action for the state, deterministic disables exploration
	Predict(State, bool) (Action, bool)
	// SetupLearn prepares a learning run and returns the timestep count to stop at
	SetupLearn(totalTimesteps int, resetNumTimesteps bool) int
	NumTimesteps() int
	Save(string) error
}

type RandomPolicy struct {
	rand *rand.Rand
}

var _ Policy = &RandomPolicy{}

func NewRandomPolicy() *RandomPolicy {
	return NewSeededRandomPolicy(uint64(time.Now().UnixNano()))
}

func NewSeededRandomPolicy(seed uint64) *RandomPolicy {
	return &RandomPolicy{
		rand: rand.New(rand.NewSource(seed)),
	}
}

func (r *RandomPolicy) Reset() {

}

func (r *RandomPolicy) UpdateIteration(_ int, _ *Trace) {

}

func (r *RandomPolicy) NextAction(step int, state State, actions []Action) (Action, bool) {
	if len(actions) == 0 {
		return nil, false
	}
	i := r.rand.Intn(len(actions))
	return actions[i], true
}

func (r *RandomPolicy) Update(_ *StepContext) {}

// DeterministicPolicy follows the greedy action of a learner without updating it
type DeterministicPolicy struct {
	learner Learner
}

var _ Policy = &DeterministicPolicy{}

func NewDeterministicPolicy(learner Learner) *DeterministicPolicy {
	return &DeterministicPolicy{learner: learner}
}

func (d *DeterministicPolicy) NextAction(_ int, state State, _ []Action) (Action, bool) {
	return d.learner.Predict(state, true)
}

func (d *DeterministicPolicy) Update(_ *StepContext) {}

func (d *DeterministicPolicy) UpdateIteration(_ int, _ *Trace) {}

func (d *DeterministicPolicy) Reset() {}
