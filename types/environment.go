package types

// Environment is the simulation the agent interacts with.
// Step fills the reward and the episode ending flags of the StepContext
type Environment interface {
	// Reset called at the start of each episode
	Reset(*EpisodeContext) (State, error)
	// Step applies the action and returns the next state
	Step(Action, *StepContext) (State, error)
}

// Closer is implemented by environments holding resources (files, connections)
type Closer interface {
	Close() error
}

// State of the system that RL policies observe
type State interface {
	// Indexed by the Hash
	// Should be deterministic
	Hash() string
	// Actions possible from the state
	Actions() []Action
}

// VectorState is a state with a numeric observation, used by function approximators
type VectorState interface {
	State
	Vector() []float64
}

// An Action that RL policy can take
type Action interface {
	// Index of the action
	// Should be deterministic
	Hash() string
}

// IndexedAction belongs to a finite discrete action space
type IndexedAction interface {
	Action
	Index() int
}

// Wrapper is implemented by environments decorating another environment
type Wrapper interface {
	Unwrap() Environment
}

// Unwrap returns the innermost environment of a chain of wrappers
func Unwrap(env Environment) Environment {
	for {
		w, ok := env.(Wrapper)
		if !ok {
			return env
		}
		env = w.Unwrap()
	}
}

// CloseEnv closes every environment in the wrapper chain that holds resources
func CloseEnv(env Environment) error {
	var firstErr error
	for env != nil {
		if c, ok := env.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		w, ok := env.(Wrapper)
		if !ok {
			break
		}
		env = w.Unwrap()
	}
	return firstErr
}
