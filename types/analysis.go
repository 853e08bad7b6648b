package types

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
)

// ReturnsAnalyzer collects the undiscounted return of every episode
type ReturnsAnalyzer struct {
	returns []float64
}

var _ Analyzer = &ReturnsAnalyzer{}

func NewReturnsAnalyzer() *ReturnsAnalyzer {
	return &ReturnsAnalyzer{returns: make([]float64, 0)}
}

func (r *ReturnsAnalyzer) Analyze(_ int, _ string, eCtx *EpisodeContext) {
	r.returns = append(r.returns, eCtx.Return)
}

func (r *ReturnsAnalyzer) DataSet() DataSet {
	out := make([]float64, len(r.returns))
	copy(out, r.returns)
	return out
}

func (r *ReturnsAnalyzer) Reset() {
	r.returns = make([]float64, 0)
}

// ReturnsSummaryComparator prints mean and standard deviation of the returns of each experiment
func ReturnsSummaryComparator(out io.Writer) Comparator {
	return func(names []string, ds []DataSet) error {
		for i, name := range names {
			returns := ds[i].([]float64)
			if len(returns) == 0 {
				continue
			}
			mean, std := stat.MeanStdDev(returns, nil)
			fmt.Fprintf(out, "%s: episodes=%d mean=%.2f std=%.2f\n", name, len(returns), mean, std)
		}
		return nil
	}
}

// PropertyAnalyzer counts, per property, the episodes that satisfy it
type PropertyAnalyzer struct {
	properties []*Property
	counts     []int
	episodes   int
}

var _ Analyzer = &PropertyAnalyzer{}

func NewPropertyAnalyzer(properties ...*Property) *PropertyAnalyzer {
	return &PropertyAnalyzer{
		properties: properties,
		counts:     make([]int, len(properties)),
	}
}

type PropertyDataSet struct {
	Names    []string
	Counts   []int
	Episodes int
}

func (p *PropertyAnalyzer) Analyze(_ int, _ string, eCtx *EpisodeContext) {
	p.episodes += 1
	for i, prop := range p.properties {
		if _, ok := prop.Check(eCtx.Trace); ok {
			p.counts[i] += 1
		}
	}
}

func (p *PropertyAnalyzer) DataSet() DataSet {
	names := make([]string, len(p.properties))
	for i, prop := range p.properties {
		names[i] = prop.Name
	}
	counts := make([]int, len(p.counts))
	copy(counts, p.counts)
	return &PropertyDataSet{Names: names, Counts: counts, Episodes: p.episodes}
}

func (p *PropertyAnalyzer) Reset() {
	p.counts = make([]int, len(p.properties))
	p.episodes = 0
}

// PropertyComparator prints how many episodes satisfied each property
func PropertyComparator(out io.Writer) Comparator {
	return func(names []string, ds []DataSet) error {
		for i, name := range names {
			pd := ds[i].(*PropertyDataSet)
			for j, prop := range pd.Names {
				fmt.Fprintf(out, "%s: property %s satisfied in %d/%d episodes\n", name, prop, pd.Counts[j], pd.Episodes)
			}
		}
		return nil
	}
}
