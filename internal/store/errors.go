package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrConfiguration  = errors.New("configuration error")
	ErrAccessDenied   = errors.New("access denied")
	ErrRangeExhausted = errors.New("series range exhausted")
	ErrInvalidState   = errors.New("invalid token state")
)

var (
	ErrBranchNotFound     = fmt.Errorf("branch %w", ErrNotFound)
	ErrServiceNotFound    = fmt.Errorf("service %w", ErrNotFound)
	ErrSubServiceNotFound = fmt.Errorf("sub-service %w", ErrNotFound)
	ErrDeskNotFound       = fmt.Errorf("desk %w", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrSeriesNotFound     = fmt.Errorf("series %w", ErrNotFound)
	ErrTokenNotFound      = fmt.Errorf("token %w", ErrNotFound)
	ErrSessionNotFound    = fmt.Errorf("session %w", ErrNotFound)

	ErrNoToken          = errors.New("no token available")
	ErrSeriesInactive   = fmt.Errorf("series inactive: %w", ErrInvalidState)
	ErrNoActiveSeries   = fmt.Errorf("no active series for service: %w", ErrConfiguration)
	ErrDeskUnavailable  = errors.New("desk unavailable")
	ErrNoDeskAssigned   = fmt.Errorf("employee has no desk: %w", ErrAccessDenied)
	ErrEmployeeOnBreak  = fmt.Errorf("employee on break: %w", ErrInvalidState)
	ErrTokenNotAssigned = fmt.Errorf("token bound to another employee: %w", ErrAccessDenied)
	ErrSeriesInUse      = fmt.Errorf("series has open tokens: %w", ErrConflict)
	ErrDuplicateSeries  = fmt.Errorf("duplicate series: %w", ErrConflict)
	ErrEmployeeOffShift = fmt.Errorf("employee not on shift: %w", ErrInvalidState)

	// ErrCorruptHistory is returned when a token's event log fails verification.
	ErrCorruptHistory = errors.New("token event history corrupt")
)

// Invalid wraps ErrValidation with a caller-facing message.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
