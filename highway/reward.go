package highway

import (
	"math"

	"github.com/zeu5/highway-rl/config"
)

// MphToMs converts miles per hour to metres per second
const MphToMs = 0.44704

const (
	speedBandLow    = 60.0
	speedBandHigh   = 70.0
	optimalMph      = 65.0
	speedBandScale  = 5.0
	actionPenalty   = 1.0
	edgeLanePenalty = 5.0
	speedBonus      = 0.03
)

// RewardInput is the slice of the ego state the reward depends on
type RewardInput struct {
	Speed   float64
	X       float64
	LaneID  int
	Crashed bool
	Action  int
}

// Reward scores one policy step. A crash returns exactly the collision reward,
// otherwise the shaped terms are summed and clipped.
func Reward(cfg config.EnvConfig, in RewardInput) float64 {
	if in.Crashed {
		return cfg.CollisionReward
	}
	r := 0.0
	mph := in.Speed / MphToMs
	deviation := math.Pow((mph-optimalMph)/speedBandScale, 2)
	if speedBandLow <= mph && mph <= speedBandHigh {
		if mph == optimalMph {
			r += 2
		} else {
			r += 1 - deviation
		}
	} else {
		r -= deviation
	}

	if in.Action == int(Faster) || in.Action == int(Slower) {
		r -= actionPenalty
	}

	if cfg.ConstructionStart < in.X && in.X < cfg.ConstructionEnd {
		if in.LaneID == 0 || in.LaneID == cfg.LanesCount-1 {
			r -= edgeLanePenalty
		}
	}

	r += speedBonus * in.Speed / 30
	return clip(r, cfg.RewardClipLow, cfg.RewardClipHigh)
}

// Terminated reports an episode ending in a terminal state
func Terminated(crashed bool) bool {
	return crashed
}

// Truncated reports an episode cut by the time limit or by leaving the highway
func Truncated(cfg config.EnvConfig, time, x float64) bool {
	return time >= cfg.MaxTime || x > cfg.HighwayLength
}
