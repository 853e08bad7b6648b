package highway

import (
	"math"
)

// IDM and MOBIL parameters
const (
	accMax         = 6.0
	comfortAccMax  = 3.0
	comfortAccMin  = -5.0
	distanceWanted = 5.0 + VehicleLength
	timeWanted     = 1.5
	idmDelta       = 4.0

	politeness                  = 0.0
	laneChangeMinAccGain        = 0.2
	laneChangeMaxBrakingImposed = 2.0
	laneChangeDelay             = 1.0
)

// Road holds the network and every road user. The ego vehicle is also in Vehicles.
type Road struct {
	Network  *RoadNetwork
	Vehicles []*Vehicle
}

func NewRoad(network *RoadNetwork) *Road {
	return &Road{
		Network:  network,
		Vehicles: make([]*Vehicle, 0),
	}
}

// AddVehicle appends v and assigns it the next id
func (r *Road) AddVehicle(v *Vehicle) {
	v.ID = len(r.Vehicles)
	v.road = r
	r.Vehicles = append(r.Vehicles, v)
}

// act decides the controls of every vehicle except the ego, which is driven
// through actMeta by the environment
func (r *Road) act() {
	for _, v := range r.Vehicles {
		switch {
		case v.Static:
		case v.Kind == KindEgo:
			v.followRoad()
			v.controls()
		default:
			v.actIDM()
		}
	}
}

// step advances the road by dt and marks colliding vehicles as crashed
func (r *Road) step(dt float64) {
	for _, v := range r.Vehicles {
		v.step(dt)
		if !v.Static && v.Kind != KindEgo {
			v.timer += dt
		}
	}
	for i, v := range r.Vehicles {
		for _, other := range r.Vehicles[i+1:] {
			if v.Static && other.Static {
				continue
			}
			if v.intersects(other) {
				v.Crashed = true
				other.Crashed = true
			}
		}
	}
}

// Neighbours finds the closest vehicles ahead and behind v on the lane
// of idx. Either may be nil.
func (r *Road) Neighbours(v *Vehicle, idx LaneIndex) (front *Vehicle, rear *Vehicle) {
	lane := r.Network.Lane(idx)
	if lane == nil {
		return nil, nil
	}
	s, _ := lane.LocalCoordinates(v.Position)
	var sFront, sRear float64
	for _, other := range r.Vehicles {
		if other == v || !lane.OnLane(other.Position, 1) {
			continue
		}
		sOther, _ := lane.LocalCoordinates(other.Position)
		if s <= sOther && (front == nil || sOther <= sFront) {
			front, sFront = other, sOther
		}
		if sOther < s && (rear == nil || sOther > sRear) {
			rear, sRear = other, sOther
		}
	}
	return front, rear
}

// laneDistanceTo is the longitudinal gap to other measured along the current lane
func (v *Vehicle) laneDistanceTo(other *Vehicle) float64 {
	lane := v.lane()
	if lane == nil || other == nil {
		return math.Inf(1)
	}
	sOther, _ := lane.LocalCoordinates(other.Position)
	s, _ := lane.LocalCoordinates(v.Position)
	return sOther - s
}

// idmAcceleration is the IDM command of ego following front. A nil or
// static ego yields zero.
func idmAcceleration(ego, front *Vehicle) float64 {
	if ego == nil || ego.Static {
		return 0
	}
	targetSpeed := notZero(ego.TargetSpeed)
	acc := comfortAccMax * (1 - math.Pow(math.Max(ego.Speed, 0)/math.Abs(targetSpeed), idmDelta))
	if front != nil {
		d := ego.laneDistanceTo(front)
		acc -= comfortAccMax * math.Pow(desiredGap(ego, front)/notZero(d), 2)
	}
	return acc
}

func desiredGap(ego, front *Vehicle) float64 {
	ab := -comfortAccMax * comfortAccMin
	dv := ego.Speed - front.Speed
	return distanceWanted + ego.Speed*timeWanted + ego.Speed*dv/(2*math.Sqrt(ab))
}

// actIDM computes steering towards the target lane and the IDM acceleration,
// possibly switching target lane with MOBIL
func (v *Vehicle) actIDM() {
	v.followRoad()
	v.changeLanePolicy()
	if target := v.targetLane(); target != nil {
		v.steering = v.steeringControl(target)
	}

	front, _ := v.road.Neighbours(v, v.LaneIndex)
	acc := idmAcceleration(v, front)
	if v.LaneIndex != v.TargetLaneIndex {
		targetFront, _ := v.road.Neighbours(v, v.TargetLaneIndex)
		acc = math.Min(acc, idmAcceleration(v, targetFront))
	}
	v.acceleration = clip(acc, -accMax, accMax)
}

func (v *Vehicle) changeLanePolicy() {
	// a lane change is in progress, abort it if another vehicle merges into the same lane too close
	if v.LaneIndex != v.TargetLaneIndex {
		if v.LaneIndex.From != v.TargetLaneIndex.From || v.LaneIndex.To != v.TargetLaneIndex.To {
			return
		}
		for _, other := range v.road.Vehicles {
			if other == v || other.Static || other.LaneIndex == v.TargetLaneIndex || other.TargetLaneIndex != v.TargetLaneIndex {
				continue
			}
			d := v.laneDistanceTo(other)
			if 0 < d && d < desiredGap(v, other) {
				v.TargetLaneIndex = v.LaneIndex
				break
			}
		}
		return
	}

	if v.timer < laneChangeDelay {
		return
	}
	v.timer = 0
	for _, idx := range v.road.Network.SideLanes(v.LaneIndex) {
		lane := v.road.Network.Lane(idx)
		if !lane.ReachableFrom(v.Position) || math.Abs(v.Speed) < 1 {
			continue
		}
		if v.mobil(idx) {
			v.TargetLaneIndex = idx
		}
	}
}

// mobil decides whether moving to the lane idx is both safe for the new
// follower and advantageous
func (v *Vehicle) mobil(idx LaneIndex) bool {
	newPreceding, newFollowing := v.road.Neighbours(v, idx)
	newFollowingA := idmAcceleration(newFollowing, newPreceding)
	newFollowingPredA := idmAcceleration(newFollowing, v)
	if newFollowingPredA < -laneChangeMaxBrakingImposed {
		return false
	}

	oldPreceding, oldFollowing := v.road.Neighbours(v, v.LaneIndex)
	selfPredA := idmAcceleration(v, newPreceding)
	selfA := idmAcceleration(v, oldPreceding)
	oldFollowingA := idmAcceleration(oldFollowing, v)
	oldFollowingPredA := idmAcceleration(oldFollowing, oldPreceding)
	jerk := selfPredA - selfA + politeness*(newFollowingPredA-newFollowingA+oldFollowingPredA-oldFollowingA)
	return jerk >= laneChangeMinAccGain
}
