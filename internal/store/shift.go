package store

import (
	"fmt"

	"qms/token-service/internal/models"
)

// ApplyShiftEvent returns the working and break flags after a shift log event.
func ApplyShiftEvent(isWorking, isOnBreak bool, eventType string) (bool, bool, error) {
	switch eventType {
	case models.LogWorkStart:
		if isWorking {
			return isWorking, isOnBreak, fmt.Errorf("already working: %w", ErrInvalidState)
		}
		return true, false, nil
	case models.LogWorkEnd:
		if !isWorking {
			return isWorking, isOnBreak, fmt.Errorf("not working: %w", ErrInvalidState)
		}
		return false, false, nil
	case models.LogBreakStart:
		if !isWorking || isOnBreak {
			return isWorking, isOnBreak, fmt.Errorf("cannot start break: %w", ErrInvalidState)
		}
		return true, true, nil
	case models.LogBreakEnd:
		if !isOnBreak {
			return isWorking, isOnBreak, fmt.Errorf("not on break: %w", ErrInvalidState)
		}
		return true, false, nil
	default:
		return isWorking, isOnBreak, Invalid("unknown shift event %q", eventType)
	}
}
