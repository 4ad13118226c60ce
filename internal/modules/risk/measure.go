// Package risk computes portfolio risk measures from historical return scenarios.
package risk

import (
	"fmt"
	"strings"

	"github.com/aristath/allocator/internal/domain"
)

// Measure is a closed set of supported risk measures.
type Measure int

const (
	Variance Measure = iota + 1
	MeanAbsoluteDeviation
	GiniMeanDifference
	SemiDeviation
	FirstLowerPartialMoment
	SecondLowerPartialMoment
	ValueAtRisk
	ConditionalValueAtRisk
	TailGini
	EntropicValueAtRisk
	WorstRealization
	Range
	CVaRRange
	TailGiniRange
	MaxDrawdown
	AverageDrawdown
	DrawdownAtRisk
	ConditionalDrawdownAtRisk
	EntropicDrawdownAtRisk
	UlcerIndex
	MaxDrawdownRel
	AverageDrawdownRel
	DrawdownAtRiskRel
	ConditionalDrawdownAtRiskRel
	EntropicDrawdownAtRiskRel
	UlcerIndexRel
)

type measureInfo struct {
	tag         string
	display     string
	convex      bool
	homogeneous bool
	drawdown    bool
	compounded  bool
	parity      bool
}

var measures = map[Measure]measureInfo{
	Variance:                     {"MV", "Variance", true, false, false, false, true},
	MeanAbsoluteDeviation:        {"MAD", "Mean Absolute Deviation", true, true, false, false, true},
	GiniMeanDifference:           {"GMD", "Gini Mean Difference", true, true, false, false, false},
	SemiDeviation:                {"MSV", "Semi Standard Deviation", true, true, false, false, true},
	FirstLowerPartialMoment:      {"FLPM", "First Lower Partial Moment (Omega Ratio)", true, true, false, false, true},
	SecondLowerPartialMoment:     {"SLPM", "Second Lower Partial Moment (Sortino Ratio)", true, true, false, false, true},
	ValueAtRisk:                  {"VaR", "Value at Risk", false, true, false, false, false},
	ConditionalValueAtRisk:       {"CVaR", "Conditional Value at Risk", true, true, false, false, true},
	TailGini:                     {"TG", "Tail Gini", true, true, false, false, false},
	EntropicValueAtRisk:          {"EVaR", "Entropic Value at Risk", true, true, false, false, true},
	WorstRealization:             {"WR", "Worst Realization (Minimax)", true, true, false, false, false},
	Range:                        {"RG", "Range of Returns", true, true, false, false, false},
	CVaRRange:                    {"CVRG", "CVaR Range of Returns", true, true, false, false, false},
	TailGiniRange:                {"TGRG", "Tail Gini Range of Returns", true, true, false, false, false},
	MaxDrawdown:                  {"MDD", "Maximum Drawdown of uncompounded cumulative returns (Calmar Ratio)", true, true, true, false, false},
	AverageDrawdown:              {"ADD", "Average Drawdown of uncompounded cumulative returns", true, true, true, false, false},
	DrawdownAtRisk:               {"DaR", "Drawdown at Risk of uncompounded cumulative returns", false, true, true, false, false},
	ConditionalDrawdownAtRisk:    {"CDaR", "Conditional Drawdown at Risk of uncompounded cumulative returns", true, true, true, false, true},
	EntropicDrawdownAtRisk:       {"EDaR", "Entropic Drawdown at Risk of uncompounded cumulative returns", true, true, true, false, true},
	UlcerIndex:                   {"UCI", "Ulcer Index of uncompounded cumulative returns", true, true, true, false, true},
	MaxDrawdownRel:               {"MDD_Rel", "Maximum Drawdown of compounded cumulative returns", false, false, true, true, false},
	AverageDrawdownRel:           {"ADD_Rel", "Average Drawdown of compounded cumulative returns", false, false, true, true, false},
	DrawdownAtRiskRel:            {"DaR_Rel", "Drawdown at Risk of compounded cumulative returns", false, false, true, true, false},
	ConditionalDrawdownAtRiskRel: {"CDaR_Rel", "Conditional Drawdown at Risk of compounded cumulative returns", false, false, true, true, true},
	EntropicDrawdownAtRiskRel:    {"EDaR_Rel", "Entropic Drawdown at Risk of compounded cumulative returns", false, false, true, true, true},
	UlcerIndexRel:                {"UCI_Rel", "Ulcer Index of compounded cumulative returns", false, false, true, true, true},
}

// Measures returns every supported measure in declaration order.
func Measures() []Measure {
	out := make([]Measure, 0, len(measures))
	for m := Variance; m <= UlcerIndexRel; m++ {
		out = append(out, m)
	}
	return out
}

// ParseMeasure resolves a measure tag such as "CVaR" or "mdd_rel" (case-insensitive).
func ParseMeasure(tag string) (Measure, error) {
	for m, info := range measures {
		if strings.EqualFold(info.tag, tag) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown risk measure %q", domain.ErrInvalidConfiguration, tag)
}

// Valid reports whether m is one of the declared measures.
func (m Measure) Valid() bool {
	_, ok := measures[m]
	return ok
}

// String returns the short tag of the measure.
func (m Measure) String() string {
	if info, ok := measures[m]; ok {
		return info.tag
	}
	return fmt.Sprintf("Measure(%d)", int(m))
}

// DisplayName returns the human readable name of the measure.
func (m Measure) DisplayName() string {
	if info, ok := measures[m]; ok {
		return info.display
	}
	return m.String()
}

// Convex reports whether the measure is convex in the weights and so can be optimized.
func (m Measure) Convex() bool { return measures[m].convex }

// Homogeneous reports whether the measure is positively homogeneous of degree one.
func (m Measure) Homogeneous() bool { return measures[m].homogeneous }

// Drawdown reports whether the measure is computed on a drawdown path.
func (m Measure) Drawdown() bool { return measures[m].drawdown }

// Compounded reports whether the drawdown path compounds returns.
func (m Measure) Compounded() bool { return measures[m].compounded }

// SupportsRiskParity reports whether the risk budgeting program accepts the measure.
func (m Measure) SupportsRiskParity() bool { return measures[m].parity }

// Optimizable reports whether the mean-risk programs accept the measure: every convex
// measure, and the compounded drawdowns whose uncompounded form is convex. The compounded
// path is not convex in the weights, so those programs return a local optimum.
func (m Measure) Optimizable() bool {
	if measures[m].convex {
		return true
	}
	base, ok := uncompoundedForms[m]
	return ok && measures[base].convex
}

var uncompoundedForms = map[Measure]Measure{
	MaxDrawdownRel:               MaxDrawdown,
	AverageDrawdownRel:           AverageDrawdown,
	DrawdownAtRiskRel:            DrawdownAtRisk,
	ConditionalDrawdownAtRiskRel: ConditionalDrawdownAtRisk,
	EntropicDrawdownAtRiskRel:    EntropicDrawdownAtRisk,
	UlcerIndexRel:                UlcerIndex,
}

// MarshalText implements encoding.TextMarshaler.
func (m Measure) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: invalid risk measure %d", domain.ErrInvalidConfiguration, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Measure) UnmarshalText(text []byte) error {
	parsed, err := ParseMeasure(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
