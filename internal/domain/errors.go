package domain

import "errors"

var (
	// ErrPositionClosed is returned when a close is attempted on a position
	// that is no longer open. Callers racing to close the same position must
	// treat this as a no-op, not a failure.
	ErrPositionClosed = errors.New("position already closed")

	// ErrOpenPositionExists is returned when a second open position would be
	// created for the same signal.
	ErrOpenPositionExists = errors.New("open position already exists for signal")

	// ErrSignalRegression is returned when a signal status update would move
	// the signal backwards in its lifecycle.
	ErrSignalRegression = errors.New("signal status cannot regress")

	// ErrUnknownInterval is returned for interval strings outside the
	// supported set.
	ErrUnknownInterval = errors.New("unknown interval")

	// ErrAnalysisRejected is returned when the reasoning service responds
	// with success=false. Recoverable: the caller retries on its next cycle.
	ErrAnalysisRejected = errors.New("analysis rejected")
)
