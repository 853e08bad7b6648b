package highway

import (
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	VehicleLength = 5.0
	VehicleWidth  = 2.0
	MaxSpeed      = 40.0
	MinSpeed      = -40.0

	// controller time constants
	tauAcc      = 0.6
	tauHeading  = 0.2
	tauLateral  = 0.6
	tauPursuit  = 0.5 * tauHeading
	kpA         = 1 / tauAcc
	kpHeading   = 1 / tauHeading
	kpLateral   = 1 / tauLateral
	maxSteering = math.Pi / 3
	deltaSpeed  = 5.0
)

// Kind of road user
type Kind int

const (
	KindEgo Kind = iota
	KindTraffic
	KindSlow
	KindCone
)

func (k Kind) String() string {
	switch k {
	case KindEgo:
		return "ego"
	case KindTraffic:
		return "traffic"
	case KindSlow:
		return "slow"
	case KindCone:
		return "cone"
	}
	return "unknown"
}

var (
	egoColor     = color.RGBA{R: 50, G: 200, B: 0, A: 255}
	trafficColor = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	slowColor    = color.RGBA{R: 200, G: 200, B: 0, A: 255}
	coneColor    = color.RGBA{R: 255, G: 120, B: 0, A: 255}
	crashedColor = color.RGBA{R: 255, G: 100, B: 100, A: 255}
)

// Vehicle is a kinematic bicycle model following a target lane at a target speed.
// Static vehicles (cones) never move.
type Vehicle struct {
	ID       int
	Kind     Kind
	Position r2.Vec
	Heading  float64
	Speed    float64
	Length   float64
	Width    float64
	Crashed  bool
	Static   bool
	Color    color.RGBA

	LaneIndex       LaneIndex
	TargetLaneIndex LaneIndex
	TargetSpeed     float64

	acceleration float64
	steering     float64
	// time since the last lane change decision of IDM vehicles
	timer float64

	road *Road
}

func newVehicle(road *Road, kind Kind, position r2.Vec, heading, speed float64) *Vehicle {
	v := &Vehicle{
		Kind:        kind,
		Position:    position,
		Heading:     heading,
		Speed:       speed,
		Length:      VehicleLength,
		Width:       VehicleWidth,
		TargetSpeed: speed,
		road:        road,
	}
	switch kind {
	case KindEgo:
		v.Color = egoColor
	case KindSlow:
		v.Color = slowColor
	case KindCone:
		v.Color = coneColor
		v.Static = true
		v.TargetSpeed = 0
	default:
		v.Color = trafficColor
	}
	v.LaneIndex = road.Network.ClosestLaneIndex(position, heading)
	v.TargetLaneIndex = v.LaneIndex
	return v
}

func (v *Vehicle) lane() *StraightLane {
	return v.road.Network.Lane(v.LaneIndex)
}

func (v *Vehicle) targetLane() *StraightLane {
	return v.road.Network.Lane(v.TargetLaneIndex)
}

// Velocity is the world-frame velocity vector
func (v *Vehicle) Velocity() r2.Vec {
	return r2.Scale(v.Speed, v.Direction())
}

func (v *Vehicle) Direction() r2.Vec {
	return r2.Vec{X: math.Cos(v.Heading), Y: math.Sin(v.Heading)}
}

// Mph is the speed in miles per hour
func (v *Vehicle) Mph() float64 {
	return v.Speed / MphToMs
}

// step integrates the kinematic bicycle model over dt
func (v *Vehicle) step(dt float64) {
	if v.Static {
		return
	}
	v.clipActions()
	beta := math.Atan(0.5 * math.Tan(v.steering))
	velocity := r2.Scale(v.Speed, r2.Vec{X: math.Cos(v.Heading + beta), Y: math.Sin(v.Heading + beta)})
	v.Position = r2.Add(v.Position, r2.Scale(dt, velocity))
	v.Heading += v.Speed * math.Sin(beta) / (v.Length / 2) * dt
	v.Speed += v.acceleration * dt
	v.LaneIndex = v.road.Network.ClosestLaneIndex(v.Position, v.Heading)
}

func (v *Vehicle) clipActions() {
	if v.Crashed {
		v.steering = 0
		v.acceleration = -1.0 * v.Speed
	}
	v.steering = clip(v.steering, -maxSteering, maxSteering)
	if v.Speed > MaxSpeed {
		v.acceleration = math.Min(v.acceleration, 1.0*(MaxSpeed-v.Speed))
	} else if v.Speed < MinSpeed {
		v.acceleration = math.Max(v.acceleration, 1.0*(MinSpeed-v.Speed))
	}
}

// followRoad moves the target lane to the next lane once the current target lane ends
func (v *Vehicle) followRoad() {
	v.TargetLaneIndex = v.road.Network.NextLane(v.TargetLaneIndex, v.Position)
}

// steeringControl steers towards the center line of the target lane
func (v *Vehicle) steeringControl(target *StraightLane) float64 {
	long, lat := target.LocalCoordinates(v.Position)
	laneNext := long + v.Speed*tauPursuit
	laneFutureHeading := target.HeadingAt(laneNext)

	lateralSpeedCommand := -kpLateral * lat
	headingCommand := math.Asin(clip(lateralSpeedCommand/notZero(v.Speed), -1, 1))
	headingRef := laneFutureHeading + clip(headingCommand, -math.Pi/4, math.Pi/4)
	headingRateCommand := kpHeading * wrapToPi(headingRef-v.Heading)
	slipAngle := math.Asin(clip(v.Length/2/notZero(v.Speed)*headingRateCommand, -1, 1))
	return clip(math.Atan(2*math.Tan(slipAngle)), -maxSteering, maxSteering)
}

func (v *Vehicle) speedControl(targetSpeed float64) float64 {
	return kpA * (targetSpeed - v.Speed)
}

// actMeta moves the targets of the ego vehicle, the controls follow on the next road act
func (v *Vehicle) actMeta(action MetaAction) {
	v.followRoad()
	switch action {
	case Faster:
		v.TargetSpeed = clip(v.TargetSpeed+deltaSpeed, 0, MaxSpeed)
	case Slower:
		v.TargetSpeed = clip(v.TargetSpeed-deltaSpeed, 0, MaxSpeed)
	case LaneLeft, LaneRight:
		delta := -1
		if action == LaneRight {
			delta = 1
		}
		idx := v.TargetLaneIndex
		count := v.road.Network.EdgeLanes(idx)
		candidate := LaneIndex{From: idx.From, To: idx.To, ID: clipInt(idx.ID+delta, 0, count-1)}
		if lane := v.road.Network.Lane(candidate); lane != nil && lane.ReachableFrom(v.Position) {
			v.TargetLaneIndex = candidate
		}
	}
}

// controls refreshes steering and acceleration for the current targets
func (v *Vehicle) controls() {
	if target := v.targetLane(); target != nil {
		v.steering = v.steeringControl(target)
	}
	v.acceleration = v.speedControl(v.TargetSpeed)
}

// corners of the vehicle rectangle in world coordinates
func (v *Vehicle) corners() [4]r2.Vec {
	dir := v.Direction()
	normal := r2.Vec{X: -dir.Y, Y: dir.X}
	hl := r2.Scale(v.Length/2, dir)
	hw := r2.Scale(v.Width/2, normal)
	return [4]r2.Vec{
		r2.Add(v.Position, r2.Add(hl, hw)),
		r2.Add(v.Position, r2.Sub(hl, hw)),
		r2.Sub(v.Position, r2.Add(hl, hw)),
		r2.Sub(v.Position, r2.Sub(hl, hw)),
	}
}

// intersects runs a separating axis test between two vehicle rectangles
func (v *Vehicle) intersects(other *Vehicle) bool {
	if r2.Norm(r2.Sub(v.Position, other.Position)) > (v.Length+other.Length)/2+v.Width {
		return false
	}
	a := v.corners()
	b := other.corners()
	axes := [4]r2.Vec{
		v.Direction(),
		{X: -math.Sin(v.Heading), Y: math.Cos(v.Heading)},
		other.Direction(),
		{X: -math.Sin(other.Heading), Y: math.Cos(other.Heading)},
	}
	for _, axis := range axes {
		minA, maxA := project(a, axis)
		minB, maxB := project(b, axis)
		if maxA < minB || maxB < minA {
			return false
		}
	}
	return true
}

func project(corners [4]r2.Vec, axis r2.Vec) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range corners {
		p := r2.Dot(c, axis)
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	return lo, hi
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func clipInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func notZero(x float64) float64 {
	const eps = 1e-2
	if math.Abs(x) > eps {
		return x
	}
	if x >= 0 {
		return eps
	}
	return -eps
}
