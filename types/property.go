package types

var (
	InitState string = "init"
)

// PropertyCondition is a predicate on a transition (state, action, nextState)
type PropertyCondition func(State, Action, State) bool

// Or operator between PropertyCondition's
func (m PropertyCondition) Or(other PropertyCondition) PropertyCondition {
	return func(s State, a Action, ns State) bool {
		return m(s, a, ns) || other(s, a, ns)
	}
}

// And operator between PropertyCondition's
func (m PropertyCondition) And(other PropertyCondition) PropertyCondition {
	return func(s State, a Action, ns State) bool {
		return m(s, a, ns) && other(s, a, ns)
	}
}

// PropertyState is a state in the state machine (Property)
// Use PropertyBuilder to create states (do not instantiate directly)
type PropertyState struct {
	Success bool
	Name    string
	// ordered so that the first matching transition wins deterministically
	transitions []propertyTransition
}

type propertyTransition struct {
	next string
	cond PropertyCondition
}

// Property is a state machine over the transitions of an episode,
// an episode satisfies it when the machine reaches a success state
type Property struct {
	Name   string
	states map[string]*PropertyState
}

// Creates a new Property
// with a default initial state
func NewProperty(name string) *Property {
	m := &Property{
		Name:   name,
		states: make(map[string]*PropertyState),
	}
	m.states[InitState] = &PropertyState{
		Name:        InitState,
		Success:     false,
		transitions: make([]propertyTransition, 0),
	}
	return m
}

// Checks if a trace satisfies the property
// Simulates the state machine and returns the prefix
// that results in a transition to a success state
func (m *Property) Check(t *Trace) (*Trace, bool) {
	curState := m.states[InitState]
	if t.Len() == 0 || curState.Success {
		// The case when the initial state is successful
		// Or there are no steps in the trace
		return NewTrace(), curState.Success
	}
	for i := 0; i < t.Len(); i++ {
		s, a, ns, _ := t.Get(i)
		for _, tr := range curState.transitions {
			if tr.cond(s, a, ns) {
				curState = m.states[tr.next]
				break
			}
		}
		if curState.Success {
			return t.GetPrefix(i + 1)
		}
	}
	return nil, false
}

// Returns a PropertyBuilder to construct the remainder of the state machine
// Initialized at the initial state
func (m *Property) Build() *PropertyBuilder {
	return &PropertyBuilder{
		property: m,
		curState: m.states[InitState],
	}
}

// Encodes a Builder pattern to create the state machine
// The builder is indexed at a particular state of the state machine
type PropertyBuilder struct {
	property *Property
	curState *PropertyState
}

// On defines a transition from the current state based on the condition to the next state
// returns a new builder instance that is indexed at the next state.
// To construct a chain of states one can call s1.On().On().On()...
// Note: If `next` is not part of the state machine, then its newly created otherwise the existing state is indexed
func (m *PropertyBuilder) On(cond PropertyCondition, next string) *PropertyBuilder {
	nextState, ok := m.property.states[next]
	if !ok {
		nextState = &PropertyState{
			Name:        next,
			Success:     false,
			transitions: make([]propertyTransition, 0),
		}
		m.property.states[next] = nextState
	}
	m.curState.transitions = append(m.curState.transitions, propertyTransition{next: next, cond: cond})
	return &PropertyBuilder{
		property: m.property,
		curState: nextState,
	}
}

// Mark the corresponding state indexed at this builder instance as a success state
func (m *PropertyBuilder) MarkSuccess() *PropertyBuilder {
	m.curState.Success = true
	return m
}
