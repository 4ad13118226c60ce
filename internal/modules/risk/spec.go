package risk

import (
	"fmt"
	"math"

	"github.com/aristath/allocator/internal/domain"
)

const (
	// DefaultAlpha is the default significance level of tail measures.
	DefaultAlpha = 0.05
	// DefaultSimulations is the default number of CVaR levels used by Tail Gini.
	DefaultSimulations = 100
)

// Spec selects a risk measure and its parameters. Build it with NewSpec.
type Spec struct {
	Measure Measure
	// Alpha is the significance level for losses.
	Alpha float64
	// ASim is the number of CVaR levels in the Tail Gini quadrature for losses.
	ASim int
	// Beta is the significance level for gains, used by range measures.
	Beta float64
	// BSim is the number of CVaR levels in the Tail Gini quadrature for gains.
	BSim int
	// Threshold is the minimum acceptable return of lower partial moments, per period.
	Threshold float64
}

// Option customizes a Spec.
type Option func(*Spec)

// WithAlpha sets the loss significance level.
func WithAlpha(alpha float64) Option {
	return func(s *Spec) { s.Alpha = alpha }
}

// WithBeta sets the gain significance level.
func WithBeta(beta float64) Option {
	return func(s *Spec) { s.Beta = beta }
}

// WithSimulations sets a_sim and b_sim.
func WithSimulations(aSim, bSim int) Option {
	return func(s *Spec) {
		s.ASim = aSim
		s.BSim = bSim
	}
}

// WithThreshold sets the lower partial moment threshold.
func WithThreshold(threshold float64) Option {
	return func(s *Spec) { s.Threshold = threshold }
}

// NewSpec builds a validated Spec. Beta defaults to Alpha and BSim to ASim.
func NewSpec(m Measure, opts ...Option) (Spec, error) {
	s := Spec{Measure: m, Alpha: DefaultAlpha, ASim: DefaultSimulations}
	for _, opt := range opts {
		opt(&s)
	}
	if s.Beta == 0 {
		s.Beta = s.Alpha
	}
	if s.BSim == 0 {
		s.BSim = s.ASim
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// MustSpec is NewSpec for known-good literals; it panics on error.
func MustSpec(m Measure, opts ...Option) Spec {
	s, err := NewSpec(m, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the parameters.
func (s Spec) Validate() error {
	if !s.Measure.Valid() {
		return fmt.Errorf("%w: unknown risk measure %d", domain.ErrInvalidConfiguration, int(s.Measure))
	}
	if !(s.Alpha > 0 && s.Alpha <= 1) {
		return fmt.Errorf("%w: alpha must be in (0, 1], got %v", domain.ErrInvalidConfiguration, s.Alpha)
	}
	if !(s.Beta > 0 && s.Beta <= 1) {
		return fmt.Errorf("%w: beta must be in (0, 1], got %v", domain.ErrInvalidConfiguration, s.Beta)
	}
	if s.ASim < 1 || s.BSim < 1 {
		return fmt.Errorf("%w: a_sim and b_sim must be at least 1, got %d and %d", domain.ErrInvalidConfiguration, s.ASim, s.BSim)
	}
	if math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", domain.ErrInvalidConfiguration)
	}
	return nil
}
