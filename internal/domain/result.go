package domain

import "fmt"

// InfeasibleReason classifies why an optimization produced no allocation.
type InfeasibleReason int

const (
	// ReasonConstraints means the constraint set is empty (e.g. an unreachable target).
	ReasonConstraints InfeasibleReason = iota + 1
	// ReasonNonConvergence means the solver did not reach tolerance.
	ReasonNonConvergence
	// ReasonDegenerate means the inputs admit no meaningful allocation.
	ReasonDegenerate
)

func (r InfeasibleReason) String() string {
	switch r {
	case ReasonConstraints:
		return "constraints"
	case ReasonNonConvergence:
		return "non_convergence"
	case ReasonDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Infeasibility describes an infeasible optimization.
type Infeasibility struct {
	Reason InfeasibleReason
	Detail string
}

func (i Infeasibility) String() string {
	return fmt.Sprintf("infeasible (%s): %s", i.Reason, i.Detail)
}

// Result is either a feasible allocation or an infeasibility signal, never both.
type Result struct {
	weights    Weights
	infeasible *Infeasibility
}

// Feasible wraps a valid allocation.
func Feasible(w Weights) Result {
	return Result{weights: w}
}

// InfeasibleResult signals that no allocation satisfies the request.
func InfeasibleResult(reason InfeasibleReason, format string, args ...interface{}) Result {
	return Result{infeasible: &Infeasibility{Reason: reason, Detail: fmt.Sprintf(format, args...)}}
}

// Weights returns the allocation and true, or false when the result is infeasible.
func (r Result) Weights() (Weights, bool) {
	if r.infeasible != nil {
		return Weights{}, false
	}
	return r.weights, true
}

// Infeasibility returns the infeasibility and true, or false when the result is feasible.
func (r Result) Infeasibility() (Infeasibility, bool) {
	if r.infeasible == nil {
		return Infeasibility{}, false
	}
	return *r.infeasible, true
}

// IsFeasible reports whether the result carries an allocation.
func (r Result) IsFeasible() bool {
	return r.infeasible == nil
}

func (r Result) String() string {
	if r.infeasible != nil {
		return r.infeasible.String()
	}
	return fmt.Sprintf("feasible (%d assets)", r.weights.Len())
}
