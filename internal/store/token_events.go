package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/token-service/internal/models"
)

const (
	EventTokenCreated    = "token.created"
	EventTokenServing    = "token.serving"
	EventTokenCompleted  = "token.completed"
	EventTokenForceClose = "token.force_completed"
)

type TokenEvent struct {
	TokenID   string          `json:"token_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// EventPayload is the JSON body stored with every token event.
type EventPayload struct {
	TokenID       string     `json:"token_id"`
	DisplayNumber string     `json:"display_number,omitempty"`
	Number        int        `json:"number,omitempty"`
	Status        string     `json:"status,omitempty"`
	BranchID      string     `json:"branch_id,omitempty"`
	ServiceID     string     `json:"service_id,omitempty"`
	SubServiceID  *string    `json:"sub_service_id,omitempty"`
	SeriesID      string     `json:"series_id,omitempty"`
	DeskID        *string    `json:"desk_id,omitempty"`
	AssignedTo    *string    `json:"assigned_to,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	ServingAt     *time.Time `json:"serving_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func NewEventPayload(token models.Token, reason string) EventPayload {
	createdAt := token.CreatedAt
	return EventPayload{
		TokenID:       token.ID,
		DisplayNumber: token.DisplayNumber,
		Number:        token.Number,
		Status:        token.Status,
		BranchID:      token.BranchID,
		ServiceID:     token.ServiceID,
		SubServiceID:  token.SubServiceID,
		SeriesID:      token.SeriesID,
		DeskID:        token.DeskID,
		AssignedTo:    token.AssignedTo,
		Reason:        reason,
		CreatedAt:     &createdAt,
		ServingAt:     token.ServingAt,
		CompletedAt:   token.CompletedAt,
	}
}

func ComputeTokenEventHash(prevHash, tokenID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, tokenID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain checks sequence continuity and every hash link of a token's events.
func VerifyChain(events []TokenEvent) error {
	prev := ""
	for i, event := range events {
		if event.Seq != i+1 {
			return fmt.Errorf("event %d: expected seq %d, got %d", i, i+1, event.Seq)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: prev hash mismatch", event.Seq)
		}
		want := ComputeTokenEventHash(prev, event.TokenID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", event.Seq)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateToken replays events into the last state they describe.
func RehydrateToken(events []TokenEvent) (models.Token, error) {
	var token models.Token
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload EventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Token{}, err
		}
		if payload.TokenID != "" {
			token.ID = payload.TokenID
		}
		if payload.DisplayNumber != "" {
			token.DisplayNumber = payload.DisplayNumber
		}
		if payload.Number != 0 {
			token.Number = payload.Number
		}
		if payload.BranchID != "" {
			token.BranchID = payload.BranchID
		}
		if payload.ServiceID != "" {
			token.ServiceID = payload.ServiceID
		}
		if payload.SeriesID != "" {
			token.SeriesID = payload.SeriesID
		}
		if payload.SubServiceID != nil {
			token.SubServiceID = payload.SubServiceID
		}
		if payload.Status != "" {
			if token.Status != "" && payload.Status != token.Status && !CanTransition(token.Status, payload.Status) {
				return models.Token{}, fmt.Errorf("event %d: %s to %s: %w", event.Seq, token.Status, payload.Status, ErrInvalidState)
			}
			token.Status = payload.Status
		}
		// desk and employee are cleared on force completion, so copy them as-is
		token.DeskID = payload.DeskID
		token.AssignedTo = payload.AssignedTo
		if payload.CreatedAt != nil {
			token.CreatedAt = *payload.CreatedAt
		}
		if payload.ServingAt != nil {
			token.ServingAt = payload.ServingAt
		}
		if payload.CompletedAt != nil {
			token.CompletedAt = payload.CompletedAt
		}
		token.UpdatedAt = event.CreatedAt
	}
	return token, nil
}
