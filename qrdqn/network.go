package qrdqn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// layer is a fully connected layer, Z = X·Wᵀ + b
type layer struct {
	W *mat.Dense // out × in
	B *mat.VecDense

	// cached for the backward pass
	input  *mat.Dense
	output *mat.Dense
	relu   bool

	dW *mat.Dense
	dB *mat.VecDense
}

func newLayer(in, out int, relu bool, src rand.Source) *layer {
	bound := 1 / math.Sqrt(float64(in))
	u := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	w := make([]float64, out*in)
	for i := range w {
		w[i] = u.Rand()
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = u.Rand()
	}
	return &layer{
		W:    mat.NewDense(out, in, w),
		B:    mat.NewVecDense(out, b),
		relu: relu,
		dW:   mat.NewDense(out, in, nil),
		dB:   mat.NewVecDense(out, nil),
	}
}

func (l *layer) forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	out, _ := l.W.Dims()
	z := mat.NewDense(rows, out, nil)
	z.Mul(x, l.W.T())
	bias := l.B.RawVector().Data
	z.Apply(func(_, j int, v float64) float64 {
		v += bias[j]
		if l.relu && v < 0 {
			return 0
		}
		return v
	}, z)
	l.input = x
	l.output = z
	return z
}

// backward accumulates the parameter gradients and returns the gradient wrt the input
func (l *layer) backward(grad *mat.Dense) *mat.Dense {
	if l.relu {
		grad.Apply(func(i, j int, v float64) float64 {
			if l.output.At(i, j) <= 0 {
				return 0
			}
			return v
		}, grad)
	}
	var dW mat.Dense
	dW.Mul(grad.T(), l.input)
	l.dW.Add(l.dW, &dW)

	rows, cols := grad.Dims()
	db := l.dB.RawVector().Data
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			db[j] += grad.At(i, j)
		}
	}

	_, in := l.W.Dims()
	dX := mat.NewDense(rows, in, nil)
	dX.Mul(grad, l.W)
	return dX
}

func (l *layer) zeroGrad() {
	l.dW.Zero()
	l.dB.Zero()
}

// MLP is the quantile network, it maps an observation to NActions·NQuantiles values
type MLP struct {
	layers []*layer
	in     int
	out    int
}

// NewMLP builds a ReLU network with the given hidden sizes
func NewMLP(in int, hidden []int, out int, src rand.Source) *MLP {
	m := &MLP{in: in, out: out}
	prev := in
	for _, h := range hidden {
		m.layers = append(m.layers, newLayer(prev, h, true, src))
		prev = h
	}
	m.layers = append(m.layers, newLayer(prev, out, false, src))
	return m
}

func (m *MLP) Forward(x *mat.Dense) *mat.Dense {
	for _, l := range m.layers {
		x = l.forward(x)
	}
	return x
}

// Backward propagates the loss gradient wrt the last output, Forward must have run before
func (m *MLP) Backward(grad *mat.Dense) {
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].backward(grad)
	}
}

func (m *MLP) ZeroGrad() {
	for _, l := range m.layers {
		l.zeroGrad()
	}
}

// Params returns the parameter slices in a fixed order, weights then bias per layer
func (m *MLP) Params() [][]float64 {
	out := make([][]float64, 0, 2*len(m.layers))
	for _, l := range m.layers {
		out = append(out, l.W.RawMatrix().Data, l.B.RawVector().Data)
	}
	return out
}

// Grads mirrors Params
func (m *MLP) Grads() [][]float64 {
	out := make([][]float64, 0, 2*len(m.layers))
	for _, l := range m.layers {
		out = append(out, l.dW.RawMatrix().Data, l.dB.RawVector().Data)
	}
	return out
}

// CopyFrom overwrites the parameters with the ones of other
func (m *MLP) CopyFrom(other *MLP) error {
	dst, src := m.Params(), other.Params()
	if len(dst) != len(src) {
		return fmt.Errorf("network shapes differ: %d vs %d tensors", len(dst), len(src))
	}
	for i := range dst {
		if len(dst[i]) != len(src[i]) {
			return fmt.Errorf("network shapes differ at tensor %d", i)
		}
		copy(dst[i], src[i])
	}
	return nil
}

// ClipGradNorm scales the gradients so that their global L2 norm is at most maxNorm
func (m *MLP) ClipGradNorm(maxNorm float64) float64 {
	total := 0.0
	for _, g := range m.Grads() {
		for _, v := range g {
			total += v * v
		}
	}
	norm := math.Sqrt(total)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, g := range m.Grads() {
			for i := range g {
				g[i] *= scale
			}
		}
	}
	return norm
}
