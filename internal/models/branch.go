package models

import "time"

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	ID          string       `json:"id"`
	BranchID    string       `json:"branch_id"`
	Name        string       `json:"name"`
	Code        string       `json:"code"`
	Status      string       `json:"status"`
	SubServices []SubService `json:"sub_services,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type SubService struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Desk struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	ServiceIDs    []string  `json:"service_ids"`
	SubServiceIDs []string  `json:"sub_service_ids"`
	EmployeeIDs   []string  `json:"employee_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)
