package highway

import (
	"fmt"
	"math"
	"sort"

	"github.com/zeu5/highway-rl/types"
	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// ObservationFeatures per observed vehicle: presence, x, y, vx, vy
	ObservationFeatures = 5
	perceptionDistance  = 5 * MaxSpeed
)

// Observation is the kinematics view of the ego vehicle and its nearest
// neighbours, flattened row by row. The ego row is absolute, the others are
// relative to the ego. Every feature is scaled to [-1, 1].
type Observation struct {
	vector []float64
	hash   string

	Lane    int
	Speed   float64
	X       float64
	Crashed bool

	ConstructionLane int
}

var _ types.VectorState = &Observation{}

func (o *Observation) Hash() string {
	return o.hash
}

func (o *Observation) Actions() []types.Action {
	return AllActions
}

func (o *Observation) Vector() []float64 {
	out := make([]float64, len(o.vector))
	copy(out, o.vector)
	return out
}

// ObservationSize is the flattened length of an observation
func ObservationSize(observedVehicles int) int {
	return observedVehicles * ObservationFeatures
}

type featureRanges struct {
	x, y, v float64
}

func (e *Env) featureRanges() featureRanges {
	return featureRanges{
		x: 5 * MaxSpeed,
		y: DefaultLaneWidth * float64(e.config.LanesCount),
		v: 2 * MaxSpeed,
	}
}

func vehicleRow(v *Vehicle, origin *Vehicle, fr featureRanges) []float64 {
	pos := v.Position
	vel := v.Velocity()
	if origin != nil {
		pos = r2.Sub(pos, origin.Position)
		vel = r2.Sub(vel, origin.Velocity())
	}
	return []float64{
		1,
		clip(pos.X/fr.x, -1, 1),
		clip(pos.Y/fr.y, -1, 1),
		clip(vel.X/fr.v, -1, 1),
		clip(vel.Y/fr.v, -1, 1),
	}
}

// closeVehicles returns up to count vehicles within perception distance
// of the ego and not far behind it, nearest first
func (e *Env) closeVehicles(count int) []*Vehicle {
	ego := e.ego
	nearby := make([]*Vehicle, 0)
	for _, v := range e.road.Vehicles {
		if v == ego {
			continue
		}
		if r2.Norm(r2.Sub(v.Position, ego.Position)) >= perceptionDistance {
			continue
		}
		if ego.laneDistanceTo(v) <= -2*ego.Length {
			continue
		}
		nearby = append(nearby, v)
	}
	sort.SliceStable(nearby, func(i, j int) bool {
		return math.Abs(ego.laneDistanceTo(nearby[i])) < math.Abs(ego.laneDistanceTo(nearby[j]))
	})
	if len(nearby) > count {
		nearby = nearby[:count]
	}
	return nearby
}

func (e *Env) observe() *Observation {
	fr := e.featureRanges()
	n := e.config.ObservedVehicles
	vector := make([]float64, 0, ObservationSize(n))
	vector = append(vector, vehicleRow(e.ego, nil, fr)...)
	for _, v := range e.closeVehicles(n - 1) {
		vector = append(vector, vehicleRow(v, e.ego, fr)...)
	}
	for len(vector) < ObservationSize(n) {
		vector = append(vector, 0)
	}

	return &Observation{
		vector:  vector,
		hash:    e.hashState(),
		Lane:    e.ego.LaneIndex.ID,
		Speed:   e.ego.Speed,
		X:       e.ego.Position.X,
		Crashed: e.ego.Crashed,

		ConstructionLane: e.constructionLane,
	}
}

// hashState discretizes the ego situation for tabular policies
func (e *Env) hashState() string {
	ego := e.ego
	gap := 3
	if front, _ := e.road.Neighbours(ego, ego.LaneIndex); front != nil {
		switch d := ego.laneDistanceTo(front); {
		case d < 15:
			gap = 0
		case d < 40:
			gap = 1
		case d < 80:
			gap = 2
		}
	}
	zone := 0
	x := ego.Position.X
	if x > e.config.ConstructionStart-100 && x < e.config.ConstructionEnd {
		zone = 1
	}
	speed := int(math.Max(ego.Speed, 0) / 5)
	return fmt.Sprintf("l%d|v%d|g%d|z%d", ego.LaneIndex.ID, speed, gap, zone)
}
