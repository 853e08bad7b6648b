package highway

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

const DefaultLaneWidth = 4.0

// LaneIndex identifies a lane by the edge (From -> To) it belongs to and its position on the edge
type LaneIndex struct {
	From string
	To   string
	ID   int
}

func (l LaneIndex) String() string {
	return fmt.Sprintf("(%s, %s, %d)", l.From, l.To, l.ID)
}

// StraightLane is a lane going from Start to End
type StraightLane struct {
	Start      r2.Vec
	End        r2.Vec
	Width      float64
	SpeedLimit float64

	heading   float64
	length    float64
	direction r2.Vec
	lateral   r2.Vec
}

func NewStraightLane(start, end r2.Vec, width float64) *StraightLane {
	delta := r2.Sub(end, start)
	direction := r2.Unit(delta)
	return &StraightLane{
		Start:      start,
		End:        end,
		Width:      width,
		SpeedLimit: 40,
		heading:    math.Atan2(delta.Y, delta.X),
		length:     r2.Norm(delta),
		direction:  direction,
		lateral:    r2.Vec{X: -direction.Y, Y: direction.X},
	}
}

func (l *StraightLane) Length() float64 {
	return l.length
}

func (l *StraightLane) HeadingAt(_ float64) float64 {
	return l.heading
}

// Position converts lane coordinates to a world position
func (l *StraightLane) Position(longitudinal, lateral float64) r2.Vec {
	return r2.Add(l.Start, r2.Add(r2.Scale(longitudinal, l.direction), r2.Scale(lateral, l.lateral)))
}

// LocalCoordinates converts a world position to (longitudinal, lateral) lane coordinates
func (l *StraightLane) LocalCoordinates(p r2.Vec) (float64, float64) {
	delta := r2.Sub(p, l.Start)
	return r2.Dot(delta, l.direction), r2.Dot(delta, l.lateral)
}

// OnLane reports whether the position lies on the lane, with a lateral margin
func (l *StraightLane) OnLane(p r2.Vec, margin float64) bool {
	long, lat := l.LocalCoordinates(p)
	return math.Abs(lat) <= l.Width/2+margin && -VehicleLength <= long && long < l.length+VehicleLength
}

// ReachableFrom reports whether a vehicle at p can steer onto the lane
func (l *StraightLane) ReachableFrom(p r2.Vec) bool {
	long, lat := l.LocalCoordinates(p)
	return math.Abs(lat) <= 2*l.Width && 0 <= long && long < l.length+VehicleLength
}

// distance of p to the lane, zero inside the lane longitudinal range and on the center line
func (l *StraightLane) distance(p r2.Vec) float64 {
	long, lat := l.LocalCoordinates(p)
	return math.Abs(lat) + math.Max(long-l.length, 0) + math.Max(-long, 0)
}

func (l *StraightLane) distanceWithHeading(p r2.Vec, heading float64) float64 {
	return l.distance(p) + 1.0*math.Abs(wrapToPi(heading-l.heading))
}

// RoadNetwork is a graph of nodes connected by edges holding parallel lanes
type RoadNetwork struct {
	graph map[string]map[string][]*StraightLane
	order []LaneIndex
}

func NewRoadNetwork() *RoadNetwork {
	return &RoadNetwork{
		graph: make(map[string]map[string][]*StraightLane),
		order: make([]LaneIndex, 0),
	}
}

// AddLane appends a lane to the edge from -> to and returns its index
func (n *RoadNetwork) AddLane(from, to string, lane *StraightLane) LaneIndex {
	if _, ok := n.graph[from]; !ok {
		n.graph[from] = make(map[string][]*StraightLane)
	}
	n.graph[from][to] = append(n.graph[from][to], lane)
	idx := LaneIndex{From: from, To: to, ID: len(n.graph[from][to]) - 1}
	n.order = append(n.order, idx)
	return idx
}

// Lane returns the lane at the index, nil when it does not exist
func (n *RoadNetwork) Lane(idx LaneIndex) *StraightLane {
	lanes, ok := n.graph[idx.From][idx.To]
	if !ok || idx.ID < 0 || idx.ID >= len(lanes) {
		return nil
	}
	return lanes[idx.ID]
}

// Indices lists every lane index in insertion order
func (n *RoadNetwork) Indices() []LaneIndex {
	out := make([]LaneIndex, len(n.order))
	copy(out, n.order)
	return out
}

// EdgeLanes returns the number of lanes on the edge of idx
func (n *RoadNetwork) EdgeLanes(idx LaneIndex) int {
	return len(n.graph[idx.From][idx.To])
}

// ClosestLaneIndex finds the lane closest to the position, preferring lanes aligned with heading
func (n *RoadNetwork) ClosestLaneIndex(p r2.Vec, heading float64) LaneIndex {
	best := LaneIndex{}
	bestDist := math.Inf(1)
	for _, idx := range n.order {
		d := n.Lane(idx).distanceWithHeading(p, heading)
		if d < bestDist {
			best = idx
			bestDist = d
		}
	}
	return best
}

// SideLanes returns the neighbouring lanes on the same edge
func (n *RoadNetwork) SideLanes(idx LaneIndex) []LaneIndex {
	out := make([]LaneIndex, 0, 2)
	count := n.EdgeLanes(idx)
	if idx.ID > 0 {
		out = append(out, LaneIndex{From: idx.From, To: idx.To, ID: idx.ID - 1})
	}
	if idx.ID < count-1 {
		out = append(out, LaneIndex{From: idx.From, To: idx.To, ID: idx.ID + 1})
	}
	return out
}

// NextLane picks the continuation of idx for a vehicle at p: among the lanes leaving
// the end node of idx, the closest one, as long as p is within a lane width of it.
// Otherwise the vehicle keeps following idx.
func (n *RoadNetwork) NextLane(idx LaneIndex, p r2.Vec) LaneIndex {
	current := n.Lane(idx)
	if current == nil {
		return idx
	}
	long, _ := current.LocalCoordinates(p)
	if long < current.Length() {
		return idx
	}
	best := idx
	bestDist := current.Width
	for to, lanes := range n.graph[idx.To] {
		for id, lane := range lanes {
			if d := lane.distance(p); d < bestDist {
				best = LaneIndex{From: idx.To, To: to, ID: id}
				bestDist = d
			}
		}
	}
	return best
}

func wrapToPi(x float64) float64 {
	m := math.Mod(x+math.Pi, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	return m - math.Pi
}

// createRoad builds the scenario layout: the main highway a -> b, an entrance
// ramp merging into it and an exit ramp leaving it
func createRoad(lanes int, length, laneWidth float64) *RoadNetwork {
	net := NewRoadNetwork()
	for i := 0; i < lanes; i++ {
		y := float64(i) * laneWidth
		net.AddLane("a", "b", NewStraightLane(r2.Vec{X: 0, Y: y}, r2.Vec{X: length, Y: y}, laneWidth))
	}

	rampStart := r2.Vec{X: length * 0.05, Y: -laneWidth * 2}
	rampEnd := r2.Vec{X: length * 0.2, Y: laneWidth}
	net.AddLane("entrance", "a", NewStraightLane(rampStart, rampEnd, laneWidth))

	exitStart := r2.Vec{X: length * 0.8, Y: 0}
	exitEnd := r2.Vec{X: length * 0.9, Y: -laneWidth * 2}
	net.AddLane("b", "exit", NewStraightLane(exitStart, exitEnd, laneWidth))

	return net
}
