package policies

import (
	"fmt"
	"math"
	"time"

	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// QLearningPolicy is an epsilon-greedy tabular Q-learner over state hashes
type QLearningPolicy struct {
	qTable  *QTable
	alpha   float64
	gamma   float64
	epsilon float64
	rand    *rand.Rand

	numTimesteps int
}

var _ types.Learner = &QLearningPolicy{}

func NewQLearningPolicy(alpha, gamma, epsilon float64) *QLearningPolicy {
	return NewSeededQLearningPolicy(alpha, gamma, epsilon, uint64(time.Now().UnixNano()))
}

func NewSeededQLearningPolicy(alpha, gamma, epsilon float64, seed uint64) *QLearningPolicy {
	return &QLearningPolicy{
		qTable:  NewQTable(),
		alpha:   alpha,
		gamma:   gamma,
		epsilon: epsilon,
		rand:    rand.New(rand.NewSource(seed)),
	}
}

func (q *QLearningPolicy) QTable() *QTable {
	return q.qTable
}

func (q *QLearningPolicy) Reset() {
	q.qTable = NewQTable()
	q.numTimesteps = 0
}

func (q *QLearningPolicy) NextAction(_ int, state types.State, actions []types.Action) (types.Action, bool) {
	if len(actions) == 0 {
		return nil, false
	}
	if q.rand.Float64() < q.epsilon {
		return actions[q.rand.Intn(len(actions))], true
	}
	return q.greedy(state, actions)
}

func (q *QLearningPolicy) greedy(state types.State, actions []types.Action) (types.Action, bool) {
	actionsMap := make(map[string]types.Action)
	availableActions := make([]string, len(actions))
	for i, a := range actions {
		aHash := a.Hash()
		actionsMap[aHash] = a
		availableActions[i] = aHash
	}
	maxAction, _ := q.qTable.MaxAmong(state.Hash(), availableActions, 0)
	if maxAction == "" {
		return nil, false
	}
	return actionsMap[maxAction], true
}

func (q *QLearningPolicy) Predict(state types.State, deterministic bool) (types.Action, bool) {
	if deterministic {
		return q.greedy(state, state.Actions())
	}
	return q.NextAction(0, state, state.Actions())
}

// Update applies the one step Q-learning rule with the (possibly normalized) step reward
func (q *QLearningPolicy) Update(sCtx *types.StepContext) {
	q.numTimesteps += 1
	stateHash := sCtx.State.Hash()
	actionHash := sCtx.Action.Hash()

	nextVal := 0.0
	if !sCtx.Terminated && sCtx.NextState != nil {
		_, nextVal = q.qTable.MaxAmong(sCtx.NextState.Hash(), hashes(sCtx.NextState.Actions()), 0)
	}
	curVal := q.qTable.Get(stateHash, actionHash, 0)
	newVal := (1-q.alpha)*curVal + q.alpha*(sCtx.Reward+q.gamma*nextVal)
	q.qTable.Set(stateHash, actionHash, newVal)
}

func (q *QLearningPolicy) UpdateIteration(_ int, _ *types.Trace) {}

func (q *QLearningPolicy) SetupLearn(totalTimesteps int, resetNumTimesteps bool) int {
	if resetNumTimesteps {
		q.numTimesteps = 0
	}
	return q.numTimesteps + totalTimesteps
}

func (q *QLearningPolicy) NumTimesteps() int {
	return q.numTimesteps
}

const (
	kindQLearning = "qtable"
	kindSoftMax   = "softmax"
)

type qLearningFile struct {
	Kind         string                        `json:"kind,omitempty"`
	Alpha        float64                       `json:"alpha"`
	Gamma        float64                       `json:"gamma"`
	Epsilon      float64                       `json:"epsilon"`
	Temperature  float64                       `json:"temperature,omitempty"`
	NumTimesteps int                           `json:"num_timesteps"`
	Table        map[string]map[string]float64 `json:"table"`
}

func (q *QLearningPolicy) file(kind string) *qLearningFile {
	return &qLearningFile{
		Kind:         kind,
		Alpha:        q.alpha,
		Gamma:        q.gamma,
		Epsilon:      q.epsilon,
		NumTimesteps: q.numTimesteps,
		Table:        q.qTable.table,
	}
}

func (q *QLearningPolicy) restore(f *qLearningFile) {
	if f.Table != nil {
		q.qTable.table = f.Table
	}
	q.numTimesteps = f.NumTimesteps
}

func (q *QLearningPolicy) Save(path string) error {
	return util.WriteJSON(path, q.file(kindQLearning))
}

func readQLearningFile(path string) (*qLearningFile, error) {
	var f qLearningFile
	if err := util.ReadJSON(path, &f); err != nil {
		return nil, fmt.Errorf("loading q-table: %w", err)
	}
	return &f, nil
}

// LoadTabular loads a saved q-learning or softmax learner, the kind is read from the file
func LoadTabular(path string) (types.Learner, error) {
	f, err := readQLearningFile(path)
	if err != nil {
		return nil, err
	}
	switch f.Kind {
	case kindSoftMax:
		s := NewSoftMaxPolicy(f.Alpha, f.Gamma, f.Temperature, uint64(time.Now().UnixNano()))
		s.restore(f)
		return s, nil
	case "", kindQLearning:
		q := NewQLearningPolicy(f.Alpha, f.Gamma, f.Epsilon)
		q.restore(f)
		return q, nil
	default:
		return nil, fmt.Errorf("loading q-table: unknown kind %q", f.Kind)
	}
}

// SoftMaxPolicy samples actions with probability proportional to exp(Q/temperature)
type SoftMaxPolicy struct {
	*QLearningPolicy
	temperature float64
	src         rand.Source
}

var _ types.Learner = &SoftMaxPolicy{}

func NewSoftMaxPolicy(alpha, gamma, temperature float64, seed uint64) *SoftMaxPolicy {
	src := rand.NewSource(seed)
	return &SoftMaxPolicy{
		QLearningPolicy: NewSeededQLearningPolicy(alpha, gamma, 0, seed+1),
		temperature:     temperature,
		src:             src,
	}
}

func (s *SoftMaxPolicy) NextAction(_ int, state types.State, actions []types.Action) (types.Action, bool) {
	if len(actions) == 0 {
		return nil, false
	}
	stateHash := state.Hash()
	vals := make([]float64, len(actions))
	maxVal := math.Inf(-1)
	for i, action := range actions {
		vals[i] = s.qTable.Get(stateHash, action.Hash(), 0) / s.temperature
		maxVal = math.Max(maxVal, vals[i])
	}
	sum := 0.0
	for i, val := range vals {
		vals[i] = math.Exp(val - maxVal)
		sum += vals[i]
	}
	weights := make([]float64, len(vals))
	for i, v := range vals {
		weights[i] = v / sum
	}
	i, ok := sampleuv.NewWeighted(weights, s.src).Take()
	if !ok {
		return nil, false
	}
	return actions[i], true
}

func (s *SoftMaxPolicy) Temperature() float64 {
	return s.temperature
}

func (s *SoftMaxPolicy) Save(path string) error {
	f := s.file(kindSoftMax)
	f.Temperature = s.temperature
	return util.WriteJSON(path, f)
}

func (s *SoftMaxPolicy) Predict(state types.State, deterministic bool) (types.Action, bool) {
	if deterministic {
		return s.greedy(state, state.Actions())
	}
	return s.NextAction(0, state, state.Actions())
}

func hashes(actions []types.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Hash()
	}
	return out
}
