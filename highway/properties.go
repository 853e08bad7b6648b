package highway

import (
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/types"
)

// rawState is implemented by wrappers that transform the observation vector
type rawState interface {
	Raw() types.VectorState
}

// AsObservation returns the scenario observation behind a (possibly wrapped) state
func AsObservation(s types.State) (*Observation, bool) {
	for s != nil {
		switch st := s.(type) {
		case *Observation:
			return st, true
		case rawState:
			s = st.Raw()
		default:
			return nil, false
		}
	}
	return nil, false
}

func onNext(check func(*Observation) bool) types.PropertyCondition {
	return func(_ types.State, _ types.Action, ns types.State) bool {
		o, ok := AsObservation(ns)
		return ok && check(o)
	}
}

// Crashed holds when the ego collided during the step
func Crashed() types.PropertyCondition {
	return onNext(func(o *Observation) bool { return o.Crashed })
}

// ReachedX holds once the ego is past the longitudinal position x
func ReachedX(x float64) types.PropertyCondition {
	return onNext(func(o *Observation) bool { return o.X >= x })
}

// InLane holds when the ego is on lane id
func InLane(id int) types.PropertyCondition {
	return onNext(func(o *Observation) bool { return o.Lane == id })
}

// OnClosedLane holds when the ego is on the lane closed by the cones
func OnClosedLane() types.PropertyCondition {
	return onNext(func(o *Observation) bool { return o.Lane == o.ConstructionLane })
}

// InZone holds when the ego is between the longitudinal positions start and end
func InZone(start, end float64) types.PropertyCondition {
	return onNext(func(o *Observation) bool { return o.X > start && o.X < end })
}

// Properties checked on evaluation episodes
func Properties(cfg config.EnvConfig) []*types.Property {
	crash := types.NewProperty("crash")
	crash.Build().On(Crashed(), "crashed").MarkSuccess()

	passed := types.NewProperty("passed_construction")
	// crashing first is absorbing
	passed.Build().On(Crashed(), "crashed")
	passed.Build().On(ReachedX(cfg.ConstructionEnd), "passed").MarkSuccess()

	closedLane := types.NewProperty("entered_closed_lane")
	zone := InZone(cfg.ConstructionStart-100, cfg.ConstructionEnd)
	closedLane.Build().On(zone.And(OnClosedLane()), "entered").MarkSuccess()

	edgeLane := types.NewProperty("edge_lane_in_zone")
	edges := InLane(0).Or(InLane(cfg.LanesCount - 1))
	edgeLane.Build().On(InZone(cfg.ConstructionStart, cfg.ConstructionEnd).And(edges), "edge").MarkSuccess()

	return []*types.Property{crash, passed, closedLane, edgeLane}
}
