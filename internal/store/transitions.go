package store

import "qms/token-service/internal/models"

const (
	ActionServe         = "serve"
	ActionComplete      = "complete"
	ActionForceComplete = "force_complete"
)

type transition struct {
	from []string
	to   string
}

var transitionMap = map[string]transition{
	ActionServe:         {from: []string{models.TokenPending}, to: models.TokenServing},
	ActionComplete:      {from: []string{models.TokenServing}, to: models.TokenCompleted},
	ActionForceComplete: {from: []string{models.TokenPending, models.TokenServing}, to: models.TokenCompleted},
}

func ValidTransition(action, fromStatus string) bool {
	t, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range t.from {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an action moves a token into.
func TargetStatus(action string) (string, bool) {
	t, ok := transitionMap[action]
	if !ok {
		return "", false
	}
	return t.to, true
}

// SourceStatuses lists the statuses an action may start from.
func SourceStatuses(action string) []string {
	t, ok := transitionMap[action]
	if !ok {
		return nil
	}
	return append([]string(nil), t.from...)
}

// CanTransition reports whether any action moves a token from one status to another.
func CanTransition(fromStatus, toStatus string) bool {
	for action, t := range transitionMap {
		if t.to == toStatus && ValidTransition(action, fromStatus) {
			return true
		}
	}
	return false
}
