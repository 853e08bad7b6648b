package highway

import (
	"fmt"

	"github.com/zeu5/highway-rl/types"
)

// MetaAction is a discrete high level command of the ego vehicle
type MetaAction int

const (
	LaneLeft MetaAction = iota
	Idle
	LaneRight
	Faster
	Slower
)

var _ types.IndexedAction = Idle

// AllActions lists the meta-actions in index order
var AllActions = []types.Action{LaneLeft, Idle, LaneRight, Faster, Slower}

func (a MetaAction) String() string {
	switch a {
	case LaneLeft:
		return "LANE_LEFT"
	case Idle:
		return "IDLE"
	case LaneRight:
		return "LANE_RIGHT"
	case Faster:
		return "FASTER"
	case Slower:
		return "SLOWER"
	}
	return fmt.Sprintf("ACTION_%d", int(a))
}

func (a MetaAction) Hash() string {
	return a.String()
}

func (a MetaAction) Index() int {
	return int(a)
}

// ActionFromIndex converts a discrete index to its meta-action
func ActionFromIndex(i int) (MetaAction, error) {
	if i < 0 || i >= len(AllActions) {
		return Idle, fmt.Errorf("%w: %d", ErrInvalidAction, i)
	}
	return MetaAction(i), nil
}

// toMetaAction accepts any action exposing a valid discrete index
func toMetaAction(a types.Action) (MetaAction, error) {
	if m, ok := a.(MetaAction); ok {
		return ActionFromIndex(int(m))
	}
	indexed, ok := a.(types.IndexedAction)
	if !ok {
		return Idle, fmt.Errorf("%w: %v", ErrInvalidAction, a)
	}
	return ActionFromIndex(indexed.Index())
}
