package models

import "time"

type User struct {
	ID             string    `json:"id"`
	BranchID       *string   `json:"branch_id,omitempty"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	AssignedDeskID *string   `json:"assigned_desk_id,omitempty"`
	IsWorking      bool      `json:"is_working"`
	IsOnBreak      bool      `json:"is_on_break"`
	CreatedAt      time.Time `json:"created_at"`
}

type UserLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleSuperadmin = "SUPERADMIN"
	RoleManager    = "MANAGER"
	RoleEmployee   = "EMPLOYEE"
)

const (
	LogWorkStart  = "WORK_START"
	LogWorkEnd    = "WORK_END"
	LogBreakStart = "BREAK_START"
	LogBreakEnd   = "BREAK_END"
)
