package store

import (
	"fmt"
	"strconv"
	"strings"

	"qms/token-service/internal/models"
)

const (
	minNumberPad = 3
	maxPrefixLen = 3
)

// NormalizePrefix upper-cases a series prefix and checks it is 1-3 ASCII letters.
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" || len(prefix) > maxPrefixLen {
		return "", Invalid("prefix must be 1-%d letters", maxPrefixLen)
	}
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return "", Invalid("prefix must be 1-%d letters", maxPrefixLen)
		}
	}
	return prefix, nil
}

func ValidateRange(startFrom, endAt int) error {
	if startFrom < 0 {
		return Invalid("start_from must not be negative")
	}
	if startFrom >= endAt {
		return Invalid("start_from must be less than end_at")
	}
	return nil
}

// ValidateCurrent checks a manually edited counter value. A counter of
// startFrom-1 means nothing has been issued yet.
func ValidateCurrent(current, startFrom, endAt int) error {
	if current < startFrom-1 || current > endAt {
		return Invalid("current_number must be between %d and %d", startFrom-1, endAt)
	}
	return nil
}

// ResetValue is the counter value that makes the next issue equal startFrom.
func ResetValue(startFrom int) int {
	return startFrom - 1
}

// NextNumber returns the value the series would issue next without mutating it.
func NextNumber(series models.TokenSeries) (int, error) {
	if !series.Active {
		return 0, ErrSeriesInactive
	}
	next := series.CurrentNumber + 1
	if next < series.StartFrom {
		next = series.StartFrom
	}
	if next > series.EndAt {
		return 0, ErrRangeExhausted
	}
	return next, nil
}

// NumberWidth is the zero-padding width for a series, wide enough that
// display numbers of the same series sort like their numeric values.
func NumberWidth(endAt int) int {
	width := len(strconv.Itoa(endAt))
	if width < minNumberPad {
		return minNumberPad
	}
	return width
}

func FormatDisplayNumber(prefix string, number, endAt int) string {
	return fmt.Sprintf("%s-%0*d", prefix, NumberWidth(endAt), number)
}
