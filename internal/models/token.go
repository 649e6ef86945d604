package models

import "time"

type Token struct {
	ID             string     `json:"id"`
	Number         int        `json:"number"`
	DisplayNumber  string     `json:"display_number"`
	Status         string     `json:"status"`
	BranchID       string     `json:"branch_id"`
	ServiceID      string     `json:"service_id"`
	SubServiceID   *string    `json:"sub_service_id,omitempty"`
	SeriesID       string     `json:"series_id"`
	DeskID         *string    `json:"desk_id,omitempty"`
	AssignedTo     *string    `json:"assigned_to,omitempty"`
	ServiceName    string     `json:"service_name,omitempty"`
	SubServiceName string     `json:"sub_service_name,omitempty"`
	DeskName       string     `json:"desk_name,omitempty"`
	AssignedToName string     `json:"assigned_to_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ServingAt      *time.Time `json:"serving_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

const (
	TokenPending   = "PENDING"
	TokenServing   = "SERVING"
	TokenCompleted = "COMPLETED"
)

// IsOpen reports whether the token still occupies a place in the queue.
func (t Token) IsOpen() bool {
	return t.Status == TokenPending || t.Status == TokenServing
}

type TokenSeries struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ServiceID     string    `json:"service_id"`
	ServiceName   string    `json:"service_name,omitempty"`
	Prefix        string    `json:"prefix"`
	StartFrom     int       `json:"start_from"`
	EndAt         int       `json:"end_at"`
	CurrentNumber int       `json:"current_number"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
