package normalize

import (
	"gonum.org/v1/gonum/stat"
)

// RunningMeanStd tracks mean and variance of a stream of vectors, merging
// batches with the parallel variance algorithm
type RunningMeanStd struct {
	Mean  []float64 `json:"mean"`
	Var   []float64 `json:"var"`
	Count float64   `json:"count"`
}

func NewRunningMeanStd(dim int) *RunningMeanStd {
	r := &RunningMeanStd{
		Mean:  make([]float64, dim),
		Var:   make([]float64, dim),
		Count: 1e-4,
	}
	for i := range r.Var {
		r.Var[i] = 1
	}
	return r
}

func (r *RunningMeanStd) Dim() int {
	return len(r.Mean)
}

// Update folds a batch of samples, each of length Dim
func (r *RunningMeanStd) Update(batch [][]float64) {
	if len(batch) == 0 {
		return
	}
	mean := make([]float64, r.Dim())
	variance := make([]float64, r.Dim())
	column := make([]float64, len(batch))
	for i := range mean {
		for j, sample := range batch {
			column[j] = sample[i]
		}
		// population variance, matching the moments of the merged stream
		m, v := stat.PopMeanVariance(column, nil)
		mean[i] = m
		variance[i] = v
	}
	r.UpdateFromMoments(mean, variance, float64(len(batch)))
}

func (r *RunningMeanStd) UpdateFromMoments(batchMean, batchVar []float64, batchCount float64) {
	total := r.Count + batchCount
	for i := range r.Mean {
		delta := batchMean[i] - r.Mean[i]
		newMean := r.Mean[i] + delta*batchCount/total
		mA := r.Var[i] * r.Count
		mB := batchVar[i] * batchCount
		m2 := mA + mB + delta*delta*r.Count*batchCount/total
		r.Mean[i] = newMean
		r.Var[i] = m2 / total
	}
	r.Count = total
}

func (r *RunningMeanStd) Copy() *RunningMeanStd {
	c := &RunningMeanStd{
		Mean:  make([]float64, len(r.Mean)),
		Var:   make([]float64, len(r.Var)),
		Count: r.Count,
	}
	copy(c.Mean, r.Mean)
	copy(c.Var, r.Var)
	return c
}
