package qrdqn

import "math"

// Adam keeps the first and second moment estimates of every parameter
type Adam struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64

	Step int
	M    [][]float64
	V    [][]float64
}

func NewAdam(params [][]float64, epsilon float64) *Adam {
	a := &Adam{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: epsilon,
		M:       make([][]float64, len(params)),
		V:       make([][]float64, len(params)),
	}
	for i, p := range params {
		a.M[i] = make([]float64, len(p))
		a.V[i] = make([]float64, len(p))
	}
	return a
}

// Update applies one bias corrected step with learning rate lr
func (a *Adam) Update(params, grads [][]float64, lr float64) {
	a.Step += 1
	bc1 := 1 - math.Pow(a.Beta1, float64(a.Step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.Step))
	stepSize := lr / bc1
	bc2Sqrt := math.Sqrt(bc2)

	for i, p := range params {
		m, v, g := a.M[i], a.V[i], grads[i]
		for j := range p {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			denom := math.Sqrt(v[j])/bc2Sqrt + a.Epsilon
			p[j] -= stepSize * m[j] / denom
		}
	}
}
