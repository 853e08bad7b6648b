package qrdqn

import (
	"encoding/json"
	"fmt"
)

// Schedule maps the remaining progress (1 at the start of a run, 0 at the end) to a value
type Schedule interface {
	Value(progressRemaining float64) float64
}

type ConstantSchedule struct {
	Constant float64 `json:"value"`
}

func (c ConstantSchedule) Value(_ float64) float64 {
	return c.Constant
}

// ThreePhaseSchedule switches the learning rate after Phase1 and Phase1+Phase2 completed timesteps
type ThreePhaseSchedule struct {
	Total  int     `json:"total"`
	Phase1 int     `json:"phase1"`
	Phase2 int     `json:"phase2"`
	LR1    float64 `json:"lr1"`
	LR2    float64 `json:"lr2"`
	LR3    float64 `json:"lr3"`
}

func (t ThreePhaseSchedule) Value(progressRemaining float64) float64 {
	completed := (1 - progressRemaining) * float64(t.Total)
	switch {
	case completed < float64(t.Phase1):
		return t.LR1
	case completed < float64(t.Phase1+t.Phase2):
		return t.LR2
	default:
		return t.LR3
	}
}

// LinearSchedule moves from Start to End over the first Fraction of the run, then stays at End
type LinearSchedule struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Fraction float64 `json:"fraction"`
}

func (l LinearSchedule) Value(progressRemaining float64) float64 {
	if l.Fraction <= 0 || 1-progressRemaining > l.Fraction {
		return l.End
	}
	return l.Start + (1-progressRemaining)*(l.End-l.Start)/l.Fraction
}

// scheduleSpec is the persisted form of a learning rate schedule
type scheduleSpec struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

func encodeSchedule(s Schedule) (scheduleSpec, error) {
	var kind string
	switch s.(type) {
	case ConstantSchedule:
		kind = "constant"
	case ThreePhaseSchedule:
		kind = "three_phase"
	case LinearSchedule:
		kind = "linear"
	default:
		return scheduleSpec{}, fmt.Errorf("unsupported schedule %T", s)
	}
	bs, err := json.Marshal(s)
	if err != nil {
		return scheduleSpec{}, err
	}
	return scheduleSpec{Kind: kind, Params: bs}, nil
}

func decodeSchedule(spec scheduleSpec) (Schedule, error) {
	switch spec.Kind {
	case "constant":
		var s ConstantSchedule
		err := json.Unmarshal(spec.Params, &s)
		return s, err
	case "three_phase":
		var s ThreePhaseSchedule
		err := json.Unmarshal(spec.Params, &s)
		return s, err
	case "linear":
		var s LinearSchedule
		err := json.Unmarshal(spec.Params, &s)
		return s, err
	}
	return nil, fmt.Errorf("unknown schedule kind %q", spec.Kind)
}
