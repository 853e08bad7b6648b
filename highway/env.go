package highway

import (
	"errors"
	"fmt"

	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/types"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrInvalidAction = errors.New("invalid action")
	ErrNotReset      = errors.New("environment stepped before reset")
)

const (
	egoLane         = 1
	egoLongitudinal = 50.0
	egoSpeedMin     = 26.8
	egoSpeedMax     = 31.3
	trafficSpeedMin = 26.8
	trafficSpeedMax = 44.7
	slowSpeed       = 15.6
	slowLongMin     = 200.0
	slowLongMax     = 800.0

	spawnAttempts = 20
	// centers closer than this are considered overlapping at spawn time
	spawnClearance = 1.5 * VehicleLength
)

// Env is the highway-construction scenario: a multi-lane highway with an
// entrance and an exit ramp, IDM traffic, a few slow vehicles and a line of
// cones closing an edge lane.
type Env struct {
	config config.EnvConfig
	rand   *rand.Rand

	road  *Road
	ego   *Vehicle
	time  float64
	steps int

	constructionLane int
}

var _ types.Environment = &Env{}

func NewEnv(cfg config.EnvConfig, seed uint64) *Env {
	return &Env{
		config: cfg,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

// Seed restarts the random stream used for spawning
func (e *Env) Seed(seed uint64) {
	e.rand.Seed(seed)
}

func (e *Env) Config() config.EnvConfig {
	return e.config
}

func (e *Env) Road() *Road {
	return e.road
}

func (e *Env) Ego() *Vehicle {
	return e.ego
}

// Time is the simulated time of the episode in seconds
func (e *Env) Time() float64 {
	return e.time
}

// ConstructionLane is the lane closed by cones in the current episode
func (e *Env) ConstructionLane() int {
	return e.constructionLane
}

func (e *Env) Reset(_ *types.EpisodeContext) (types.State, error) {
	e.time = 0
	e.steps = 0
	e.road = NewRoad(createRoad(e.config.LanesCount, e.config.HighwayLength, e.config.LaneWidth))
	if err := e.createVehicles(); err != nil {
		return nil, err
	}
	return e.observe(), nil
}

// Step applies the meta-action once, then simulates until the next policy decision
func (e *Env) Step(a types.Action, sCtx *types.StepContext) (types.State, error) {
	if e.ego == nil {
		return nil, ErrNotReset
	}
	action, err := toMetaAction(a)
	if err != nil {
		return nil, err
	}

	frames := e.config.SimulationFrequency / e.config.PolicyFrequency
	dt := 1 / float64(e.config.SimulationFrequency)
	for frame := 0; frame < frames; frame++ {
		if frame == 0 {
			e.ego.actMeta(action)
		}
		e.road.act()
		e.road.step(dt)
	}
	e.time += 1 / float64(e.config.PolicyFrequency)
	e.steps += 1

	ego := e.ego
	reward := Reward(e.config, RewardInput{
		Speed:   ego.Speed,
		X:       ego.Position.X,
		LaneID:  ego.LaneIndex.ID,
		Crashed: ego.Crashed,
		Action:  action.Index(),
	})
	sCtx.Reward = reward
	sCtx.RawReward = reward
	sCtx.Terminated = Terminated(ego.Crashed)
	sCtx.Truncated = Truncated(e.config, e.time, ego.Position.X)
	sCtx.Info["speed"] = ego.Speed
	sCtx.Info["crashed"] = ego.Crashed
	sCtx.Info["x"] = ego.Position.X
	sCtx.Info["lane"] = ego.LaneIndex.ID
	sCtx.Info["action"] = action.String()
	sCtx.Info["time"] = e.time

	return e.observe(), nil
}

// createVehicles spawns the ego, the cones, the traffic and the slow vehicles.
// Traffic spawns overlapping an existing vehicle are redrawn a bounded
// number of times and dropped if no free spot is found.
func (e *Env) createVehicles() error {
	net := e.road.Network
	mainLane := func(id int) (*StraightLane, error) {
		lane := net.Lane(LaneIndex{From: "a", To: "b", ID: id})
		if lane == nil {
			return nil, fmt.Errorf("highway has no lane %d", id)
		}
		return lane, nil
	}

	lane, err := mainLane(egoLane)
	if err != nil {
		return err
	}
	egoSpeed := distuv.Uniform{Min: egoSpeedMin, Max: egoSpeedMax, Src: e.rand}.Rand()
	e.ego = newVehicle(e.road, KindEgo, lane.Position(egoLongitudinal, 0), lane.HeadingAt(egoLongitudinal), egoSpeed)
	e.road.AddVehicle(e.ego)

	edges := []int{0, e.config.LanesCount - 1}
	e.constructionLane = edges[e.rand.Intn(len(edges))]
	coneLane, err := mainLane(e.constructionLane)
	if err != nil {
		return err
	}
	for _, offset := range e.config.ConeOffsets {
		cone := newVehicle(e.road, KindCone, coneLane.Position(offset, 0), coneLane.HeadingAt(offset), 0)
		e.road.AddVehicle(cone)
	}

	lanes := net.Indices()
	dropped := 0
	for i := 0; i < e.config.VehiclesCount; i++ {
		if !e.spawn(lanes, KindTraffic, func(l *StraightLane) (float64, float64) {
			long := distuv.Uniform{Min: 0, Max: l.Length(), Src: e.rand}.Rand()
			speed := distuv.Uniform{Min: trafficSpeedMin, Max: trafficSpeedMax, Src: e.rand}.Rand()
			return long, speed
		}) {
			dropped += 1
		}
	}
	for i := 0; i < e.config.SlowVehiclesCount; i++ {
		if !e.spawn(lanes, KindSlow, func(_ *StraightLane) (float64, float64) {
			return distuv.Uniform{Min: slowLongMin, Max: slowLongMax, Src: e.rand}.Rand(), slowSpeed
		}) {
			dropped += 1
		}
	}
	if dropped > 0 {
		logging.Debug("Dropped vehicles without a free spawn spot", logging.Env, "dropped", dropped)
	}
	return nil
}

// spawn draws a lane and a (longitudinal, speed) pair until the vehicle
// fits, returns false when every attempt overlapped
func (e *Env) spawn(lanes []LaneIndex, kind Kind, draw func(*StraightLane) (float64, float64)) bool {
	for attempt := 0; attempt < spawnAttempts; attempt++ {
		idx := lanes[e.rand.Intn(len(lanes))]
		lane := e.road.Network.Lane(idx)
		long, speed := draw(lane)
		pos := lane.Position(long, 0)
		if e.occupied(pos) {
			continue
		}
		e.road.AddVehicle(newVehicle(e.road, kind, pos, lane.HeadingAt(long), speed))
		return true
	}
	return false
}

func (e *Env) occupied(pos r2.Vec) bool {
	for _, v := range e.road.Vehicles {
		if r2.Norm(r2.Sub(v.Position, pos)) < spawnClearance {
			return true
		}
	}
	return false
}
