package steps

import "errors"

var (
	// ErrInvalidParameter reports malformed or contradictory configuration.
	// It is always returned before any computation starts.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrFitDivergence reports an optimizer pass whose objective became
	// non-finite or got worse than the previous pass.
	ErrFitDivergence = errors.New("fit diverged")

	// ErrEmptyModel marks an analysis where no change points were found and
	// the whole trace was fitted as a single step. It is a warning, not a failure.
	ErrEmptyModel = errors.New("no change points detected; trace fitted as a single step")
)
