package store

import (
	"context"
	"time"

	"qms/token-service/internal/models"
)

type GenerateTokenInput struct {
	BranchID     string
	ServiceID    string
	SubServiceID string
}

type ServeNextInput struct {
	EmployeeID string
	ServedAt   time.Time
}

type CompleteTokenInput struct {
	TokenID     string
	EmployeeID  string
	CompletedAt time.Time
}

type TokenFilter struct {
	BranchID  string
	Statuses  []string
	ServiceID string
	DeskID    string
	Limit     uint64
}

type ResetResult struct {
	ClosedTokens int64 `json:"closed_tokens"`
	ResetSeries  int64 `json:"reset_series"`
}

// IssuedNumber is one value handed out by a series counter.
type IssuedNumber struct {
	SeriesID      string `json:"series_id"`
	Number        int    `json:"number"`
	DisplayNumber string `json:"display_number"`
}

type CreateSeriesInput struct {
	BranchID  string
	ServiceID string
	Prefix    string
	StartFrom int
	EndAt     int
	Active    bool
}

// UpdateSeriesInput carries optional edits; nil fields are left unchanged.
type UpdateSeriesInput struct {
	Prefix        *string
	StartFrom     *int
	EndAt         *int
	CurrentNumber *int
	Active        *bool
}

type ServiceInput struct {
	BranchID string
	Name     string
	Code     string
	Status   string
}

type SubServiceInput struct {
	ServiceID string
	Name      string
	Status    string
}

type DeskInput struct {
	BranchID      string
	Name          string
	Status        string
	ServiceIDs    []string
	SubServiceIDs []string
}

type CreateUserInput struct {
	BranchID       string
	Name           string
	Email          string
	Password       string
	Role           string
	AssignedDeskID string
}

type TokenStore interface {
	GenerateToken(ctx context.Context, input GenerateTokenInput) (models.Token, error)
	ServeNext(ctx context.Context, input ServeNextInput) (models.Token, bool, error)
	CompleteToken(ctx context.Context, input CompleteTokenInput) (models.Token, bool, error)
	ResetBranch(ctx context.Context, branchID string) (ResetResult, error)
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	CurrentToken(ctx context.Context, employeeID string) (models.Token, bool, error)
	ListTokens(ctx context.Context, filter TokenFilter) ([]models.Token, error)
	ListTokenEvents(ctx context.Context, tokenID string) ([]TokenEvent, error)
}

type SeriesStore interface {
	NextNumber(ctx context.Context, seriesID string) (IssuedNumber, error)
	CreateSeries(ctx context.Context, input CreateSeriesInput) (models.TokenSeries, error)
	UpdateSeries(ctx context.Context, seriesID string, input UpdateSeriesInput) (models.TokenSeries, error)
	DeleteSeries(ctx context.Context, seriesID string) error
	GetSeries(ctx context.Context, seriesID string) (models.TokenSeries, error)
	ListSeries(ctx context.Context, branchID string) ([]models.TokenSeries, error)
}

type CatalogStore interface {
	CreateBranch(ctx context.Context, name, address string) (models.Branch, error)
	ListBranches(ctx context.Context) ([]models.Branch, error)
	DeleteBranch(ctx context.Context, branchID string) error
	CreateService(ctx context.Context, input ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, serviceID string, input ServiceInput) (models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	ListServices(ctx context.Context, branchID string) ([]models.Service, error)
	DeleteService(ctx context.Context, serviceID string) (int64, error)
	CreateSubService(ctx context.Context, input SubServiceInput) (models.SubService, error)
	UpdateSubService(ctx context.Context, subServiceID string, input SubServiceInput) (models.SubService, error)
	GetSubService(ctx context.Context, subServiceID string) (models.SubService, error)
	DeleteSubService(ctx context.Context, subServiceID string) (int64, error)
	CreateDesk(ctx context.Context, input DeskInput) (models.Desk, error)
	UpdateDesk(ctx context.Context, deskID string, input DeskInput) (models.Desk, error)
	GetDesk(ctx context.Context, deskID string) (models.Desk, error)
	ListDesks(ctx context.Context, branchID string) ([]models.Desk, error)
	DeleteDesk(ctx context.Context, deskID string) (int64, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	AssignDesk(ctx context.Context, userID string, deskID *string) (models.User, error)
	RecordShiftEvent(ctx context.Context, userID, eventType string) (models.UserLog, models.User, error)
	ListUserLogs(ctx context.Context, userID string, limit int) ([]models.UserLog, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Store interface {
	TokenStore
	SeriesStore
	CatalogStore
	UserStore
}

type Session struct {
	SessionID string
	UserID    string
	BranchID  string
	Role      string
	ExpiresAt time.Time
}
