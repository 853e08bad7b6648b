package qrdqn

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/types"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrNotVector = errors.New("state does not expose a feature vector")

// Config holds the QR-DQN hyperparameters
type Config struct {
	NetArch              []int   `json:"net_arch"`
	NQuantiles           int     `json:"n_quantiles"`
	Gamma                float64 `json:"gamma"`
	BufferSize           int     `json:"buffer_size"`
	LearningStarts       int     `json:"learning_starts"`
	TrainFreq            int     `json:"train_freq"`
	GradientSteps        int     `json:"gradient_steps"`
	BatchSize            int     `json:"batch_size"`
	TargetUpdateInterval int     `json:"target_update_interval"`
	ExplorationFraction  float64 `json:"exploration_fraction"`
	ExplorationInitial   float64 `json:"exploration_initial_eps"`
	ExplorationFinal     float64 `json:"exploration_final_eps"`
	MaxGradNorm          float64 `json:"max_grad_norm"`
}

// ConfigFromTrain extracts the agent hyperparameters of the train section
func ConfigFromTrain(t config.TrainConfig) Config {
	return Config{
		NetArch:              append([]int{}, t.NetArch...),
		NQuantiles:           t.NQuantiles,
		Gamma:                t.Gamma,
		BufferSize:           t.BufferSize,
		LearningStarts:       t.LearningStarts,
		TrainFreq:            t.TrainFreq,
		GradientSteps:        t.GradientSteps,
		BatchSize:            t.BatchSize,
		TargetUpdateInterval: t.TargetUpdateInterval,
		ExplorationFraction:  t.ExplorationFraction,
		ExplorationInitial:   t.ExplorationInitial,
		ExplorationFinal:     t.ExplorationFinal,
		MaxGradNorm:          t.MaxGradNorm,
	}
}

// QRDQN is a quantile regression DQN learner over vector states and indexed actions
type QRDQN struct {
	config   Config
	obsDim   int
	nActions int
	seed     uint64
	rand     *rand.Rand

	online    *MLP
	target    *MLP
	optimizer *Adam
	buffer    *ReplayBuffer
	taus      []float64

	lrSchedule          Schedule
	explorationSchedule LinearSchedule

	numTimesteps      int
	totalTimesteps    int
	nCalls            int
	nUpdates          int
	progressRemaining float64
	explorationRate   float64
	learningRate      float64
	lastLoss          float64
}

var _ types.Learner = &QRDQN{}

func New(cfg Config, obsDim, nActions int, lr Schedule) *QRDQN {
	return NewSeeded(cfg, obsDim, nActions, lr, uint64(time.Now().UnixNano()))
}

func NewSeeded(cfg Config, obsDim, nActions int, lr Schedule, seed uint64) *QRDQN {
	if lr == nil {
		lr = ConstantSchedule{Constant: 1e-4}
	}
	if cfg.GradientSteps < 1 {
		cfg.GradientSteps = 1
	}
	if cfg.TrainFreq < 1 {
		cfg.TrainFreq = 1
	}
	if cfg.TargetUpdateInterval < 1 {
		cfg.TargetUpdateInterval = 1
	}
	q := &QRDQN{
		config:   cfg,
		obsDim:   obsDim,
		nActions: nActions,
		seed:     seed,
		rand:     rand.New(rand.NewSource(seed)),
		buffer:   NewReplayBuffer(cfg.BufferSize),
		taus:     make([]float64, cfg.NQuantiles),

		lrSchedule: lr,
		explorationSchedule: LinearSchedule{
			Start:    cfg.ExplorationInitial,
			End:      cfg.ExplorationFinal,
			Fraction: cfg.ExplorationFraction,
		},
		progressRemaining: 1,
		explorationRate:   cfg.ExplorationInitial,
	}
	for i := range q.taus {
		q.taus[i] = (float64(i) + 0.5) / float64(cfg.NQuantiles)
	}
	src := rand.NewSource(seed + 1)
	q.online = NewMLP(obsDim, cfg.NetArch, nActions*cfg.NQuantiles, src)
	q.target = NewMLP(obsDim, cfg.NetArch, nActions*cfg.NQuantiles, src)
	q.target.CopyFrom(q.online)
	q.optimizer = NewAdam(q.online.Params(), 0.01/float64(cfg.BatchSize))
	q.learningRate = lr.Value(1)
	return q
}

func (q *QRDQN) Config() Config {
	return q.config
}

// Spaces returns the observation length and the number of actions of the network
func (q *QRDQN) Spaces() (int, int) {
	return q.obsDim, q.nActions
}

// SetLearningRate replaces the schedule by a constant rate
func (q *QRDQN) SetLearningRate(lr float64) {
	q.lrSchedule = ConstantSchedule{Constant: lr}
	q.learningRate = lr
}

// Reseed restarts the exploration and replay sampling stream
func (q *QRDQN) Reseed(seed uint64) {
	q.rand = rand.New(rand.NewSource(seed))
}

func (q *QRDQN) LearningRate() float64 {
	return q.learningRate
}

func (q *QRDQN) ExplorationRate() float64 {
	return q.explorationRate
}

func (q *QRDQN) Reset() {}

func (q *QRDQN) UpdateIteration(_ int, _ *types.Trace) {}

func (q *QRDQN) NumTimesteps() int {
	return q.numTimesteps
}

// SetupLearn starts a run of totalTimesteps more steps, the exploration and
// learning rate schedules are driven by the progress within the run
func (q *QRDQN) SetupLearn(totalTimesteps int, resetNumTimesteps bool) int {
	if resetNumTimesteps {
		q.numTimesteps = 0
		q.nCalls = 0
	}
	q.totalTimesteps = q.numTimesteps + totalTimesteps
	q.updateProgress()
	return q.totalTimesteps
}

func (q *QRDQN) updateProgress() {
	if q.totalTimesteps > 0 {
		q.progressRemaining = 1 - float64(q.numTimesteps)/float64(q.totalTimesteps)
	}
	q.explorationRate = q.explorationSchedule.Value(q.progressRemaining)
}

// NextAction samples uniformly before learning starts and is epsilon-greedy afterwards
func (q *QRDQN) NextAction(_ int, state types.State, actions []types.Action) (types.Action, bool) {
	if len(actions) == 0 {
		return nil, false
	}
	if q.numTimesteps < q.config.LearningStarts || q.rand.Float64() < q.explorationRate {
		return actions[q.rand.Intn(len(actions))], true
	}
	return q.greedy(state, actions)
}

func (q *QRDQN) Predict(state types.State, deterministic bool) (types.Action, bool) {
	actions := state.Actions()
	if len(actions) == 0 {
		return nil, false
	}
	if !deterministic && q.rand.Float64() < q.explorationRate {
		return actions[q.rand.Intn(len(actions))], true
	}
	return q.greedy(state, actions)
}

func (q *QRDQN) greedy(state types.State, actions []types.Action) (types.Action, bool) {
	obs, err := q.vector(state)
	if err != nil {
		logging.Error("Cannot pick action", logging.Train, "error", err)
		return nil, false
	}
	values := q.QValues(obs)
	best := -1
	bestVal := math.Inf(-1)
	for i, a := range actions {
		idx := actionIndex(a, i)
		if idx < 0 || idx >= q.nActions {
			continue
		}
		if values[idx] > bestVal {
			best, bestVal = i, values[idx]
		}
	}
	if best < 0 {
		return nil, false
	}
	return actions[best], true
}

// QValues is the mean over quantiles of every action
func (q *QRDQN) QValues(obs []float64) []float64 {
	out := q.online.Forward(mat.NewDense(1, len(obs), obs))
	return meanQuantiles(out.RawRowView(0), q.nActions, q.config.NQuantiles)
}

func meanQuantiles(row []float64, nActions, nQuantiles int) []float64 {
	values := make([]float64, nActions)
	for a := 0; a < nActions; a++ {
		values[a] = floats.Sum(row[a*nQuantiles:(a+1)*nQuantiles]) / float64(nQuantiles)
	}
	return values
}

// Update stores the transition and runs the scheduled gradient and target updates
func (q *QRDQN) Update(sCtx *types.StepContext) {
	q.numTimesteps += 1
	q.nCalls += 1
	q.updateProgress()

	obs, err := q.vector(sCtx.State)
	if err != nil {
		logging.Error("Dropping transition", logging.Train, "error", err)
		return
	}
	nextObs, err := q.vector(sCtx.NextState)
	if err != nil {
		logging.Error("Dropping transition", logging.Train, "error", err)
		return
	}
	action := actionIndex(sCtx.Action, -1)
	if action < 0 || action >= q.nActions {
		logging.Error("Dropping transition", logging.Train, "action", sCtx.Action.Hash())
		return
	}
	q.buffer.Add(Transition{
		Obs:        obs,
		Action:     action,
		Reward:     sCtx.Reward,
		NextObs:    nextObs,
		Terminated: sCtx.Terminated,
	})

	if q.nCalls%q.config.TargetUpdateInterval == 0 {
		q.target.CopyFrom(q.online)
	}
	if q.numTimesteps > q.config.LearningStarts && q.numTimesteps%q.config.TrainFreq == 0 {
		q.Train(q.config.GradientSteps)
	}
}

// Train runs gradient steps on batches sampled from the replay buffer
func (q *QRDQN) Train(gradientSteps int) {
	if q.buffer.Len() == 0 {
		return
	}
	q.learningRate = q.lrSchedule.Value(q.progressRemaining)
	losses := make([]float64, 0, gradientSteps)
	for i := 0; i < gradientSteps; i++ {
		batch := q.buffer.Sample(q.config.BatchSize, q.rand)
		losses = append(losses, q.trainStep(batch))
		q.nUpdates += 1
	}
	q.lastLoss = floats.Sum(losses) / float64(len(losses))
	logging.Debug("Train step", logging.Train,
		"n_updates", q.nUpdates, "loss", q.lastLoss, "learning_rate", q.learningRate, "exploration_rate", q.explorationRate)
}

func (q *QRDQN) trainStep(batch *Batch) float64 {
	n := q.config.NQuantiles
	size := len(batch.Actions)

	// target quantiles of the greedy next action of the target network
	next := q.target.Forward(batch.NextObs)
	targets := make([][]float64, size)
	for b := 0; b < size; b++ {
		row := next.RawRowView(b)
		greedy := floats.MaxIdx(meanQuantiles(row, q.nActions, n))
		targets[b] = make([]float64, n)
		for j := 0; j < n; j++ {
			t := batch.Rewards[b]
			if !batch.Terminated[b] {
				t += q.config.Gamma * row[greedy*n+j]
			}
			targets[b][j] = t
		}
	}

	current := q.online.Forward(batch.Obs)
	_, cols := current.Dims()
	grad := mat.NewDense(size, cols, nil)
	norm := 1 / float64(size*n)
	loss := 0.0
	for b := 0; b < size; b++ {
		a := batch.Actions[b]
		row := current.RawRowView(b)
		gradRow := grad.RawRowView(b)
		for i := 0; i < n; i++ {
			theta := row[a*n+i]
			g := 0.0
			for j := 0; j < n; j++ {
				delta := targets[b][j] - theta
				weight := q.taus[i]
				if delta < 0 {
					weight = 1 - q.taus[i]
				}
				abs := math.Abs(delta)
				if abs > 1 {
					loss += weight * (abs - 0.5)
				} else {
					loss += weight * 0.5 * delta * delta
				}
				g -= weight * math.Max(-1, math.Min(1, delta))
			}
			gradRow[a*n+i] = g * norm
		}
	}

	q.online.ZeroGrad()
	q.online.Backward(grad)
	q.online.ClipGradNorm(q.config.MaxGradNorm)
	q.optimizer.Update(q.online.Params(), q.online.Grads(), q.learningRate)
	return loss * norm
}

// LastLoss is the mean loss of the latest Train call
func (q *QRDQN) LastLoss() float64 {
	return q.lastLoss
}

func (q *QRDQN) vector(state types.State) ([]float64, error) {
	vs, ok := state.(types.VectorState)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotVector, state)
	}
	v := vs.Vector()
	if len(v) != q.obsDim {
		return nil, fmt.Errorf("observation has %d features, the network expects %d", len(v), q.obsDim)
	}
	return v, nil
}

// actionIndex is the network output of the action, def when the action is not indexed
func actionIndex(a types.Action, def int) int {
	if ia, ok := a.(types.IndexedAction); ok {
		return ia.Index()
	}
	return def
}
