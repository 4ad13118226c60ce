package domain

import "errors"

var (
	// ErrInvalidConfiguration is returned for unknown tags, out-of-range parameters,
	// or a risk measure an optimizer cannot handle.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientData is returned when the sample is too short, the universe too
	// small, or a covariance/codependence matrix is degenerate.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNonConvergence is returned by numerical routines that fail to reach tolerance.
	// Optimizers convert it into an Infeasible result.
	ErrNonConvergence = errors.New("numerical non-convergence")

	// ErrNotFound is returned when a stored dataset does not exist.
	ErrNotFound = errors.New("not found")
)
