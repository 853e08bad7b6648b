package qrdqn

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Transition is a single stored environment step
type Transition struct {
	Obs        []float64
	Action     int
	Reward     float64
	NextObs    []float64
	Terminated bool
}

// ReplayBuffer is a fixed capacity ring of transitions, grown on demand up to the capacity
type ReplayBuffer struct {
	capacity int
	pos      int
	full     bool
	data     []Transition
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	return &ReplayBuffer{
		capacity: capacity,
		data:     make([]Transition, 0),
	}
}

func (r *ReplayBuffer) Add(t Transition) {
	if !r.full && len(r.data) < r.capacity {
		r.data = append(r.data, t)
	} else {
		r.data[r.pos] = t
	}
	r.pos += 1
	if r.pos == r.capacity {
		r.pos = 0
		r.full = true
	}
}

func (r *ReplayBuffer) Len() int {
	return len(r.data)
}

func (r *ReplayBuffer) Capacity() int {
	return r.capacity
}

// Batch holds sampled transitions in matrix form
type Batch struct {
	Obs        *mat.Dense
	NextObs    *mat.Dense
	Actions    []int
	Rewards    []float64
	Terminated []bool
}

// Sample draws size transitions uniformly with replacement
func (r *ReplayBuffer) Sample(size int, rnd *rand.Rand) *Batch {
	dim := len(r.data[0].Obs)
	b := &Batch{
		Obs:        mat.NewDense(size, dim, nil),
		NextObs:    mat.NewDense(size, dim, nil),
		Actions:    make([]int, size),
		Rewards:    make([]float64, size),
		Terminated: make([]bool, size),
	}
	for i := 0; i < size; i++ {
		t := r.data[rnd.Intn(len(r.data))]
		b.Obs.SetRow(i, t.Obs)
		b.NextObs.SetRow(i, t.NextObs)
		b.Actions[i] = t.Action
		b.Rewards[i] = t.Reward
		b.Terminated[i] = t.Terminated
	}
	return b
}
