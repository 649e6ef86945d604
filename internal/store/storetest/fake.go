// Package storetest provides a function-field fake of store.Store for unit
// tests. Unset functions fail with ErrNotStubbed.
package storetest

import (
	"context"
	"errors"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

var ErrNotStubbed = errors.New("storetest: not stubbed")

type Fake struct {
	GenerateTokenFn   func(ctx context.Context, input store.GenerateTokenInput) (models.Token, error)
	ServeNextFn       func(ctx context.Context, input store.ServeNextInput) (models.Token, bool, error)
	CompleteTokenFn   func(ctx context.Context, input store.CompleteTokenInput) (models.Token, bool, error)
	ResetBranchFn     func(ctx context.Context, branchID string) (store.ResetResult, error)
	GetTokenFn        func(ctx context.Context, tokenID string) (models.Token, error)
	CurrentTokenFn    func(ctx context.Context, employeeID string) (models.Token, bool, error)
	ListTokensFn      func(ctx context.Context, filter store.TokenFilter) ([]models.Token, error)
	ListTokenEventsFn func(ctx context.Context, tokenID string) ([]store.TokenEvent, error)

	NextNumberFn   func(ctx context.Context, seriesID string) (store.IssuedNumber, error)
	CreateSeriesFn func(ctx context.Context, input store.CreateSeriesInput) (models.TokenSeries, error)
	UpdateSeriesFn func(ctx context.Context, seriesID string, input store.UpdateSeriesInput) (models.TokenSeries, error)
	DeleteSeriesFn func(ctx context.Context, seriesID string) error
	GetSeriesFn    func(ctx context.Context, seriesID string) (models.TokenSeries, error)
	ListSeriesFn   func(ctx context.Context, branchID string) ([]models.TokenSeries, error)

	CreateBranchFn     func(ctx context.Context, name, address string) (models.Branch, error)
	ListBranchesFn     func(ctx context.Context) ([]models.Branch, error)
	DeleteBranchFn     func(ctx context.Context, branchID string) error
	CreateServiceFn    func(ctx context.Context, input store.ServiceInput) (models.Service, error)
	UpdateServiceFn    func(ctx context.Context, serviceID string, input store.ServiceInput) (models.Service, error)
	GetServiceFn       func(ctx context.Context, serviceID string) (models.Service, error)
	ListServicesFn     func(ctx context.Context, branchID string) ([]models.Service, error)
	DeleteServiceFn    func(ctx context.Context, serviceID string) (int64, error)
	CreateSubServiceFn func(ctx context.Context, input store.SubServiceInput) (models.SubService, error)
	UpdateSubServiceFn func(ctx context.Context, subServiceID string, input store.SubServiceInput) (models.SubService, error)
	GetSubServiceFn    func(ctx context.Context, subServiceID string) (models.SubService, error)
	DeleteSubServiceFn func(ctx context.Context, subServiceID string) (int64, error)
	CreateDeskFn       func(ctx context.Context, input store.DeskInput) (models.Desk, error)
	UpdateDeskFn       func(ctx context.Context, deskID string, input store.DeskInput) (models.Desk, error)
	GetDeskFn          func(ctx context.Context, deskID string) (models.Desk, error)
	ListDesksFn        func(ctx context.Context, branchID string) ([]models.Desk, error)
	DeleteDeskFn       func(ctx context.Context, deskID string) (int64, error)

	CreateUserFn       func(ctx context.Context, input store.CreateUserInput) (models.User, error)
	GetUserFn          func(ctx context.Context, userID string) (models.User, error)
	AssignDeskFn       func(ctx context.Context, userID string, deskID *string) (models.User, error)
	RecordShiftEventFn func(ctx context.Context, userID, eventType string) (models.UserLog, models.User, error)
	ListUserLogsFn     func(ctx context.Context, userID string, limit int) ([]models.UserLog, error)
	GetSessionFn       func(ctx context.Context, sessionID string) (store.Session, error)
}

var _ store.Store = (*Fake)(nil)

func (f *Fake) GenerateToken(ctx context.Context, input store.GenerateTokenInput) (models.Token, error) {
	if f.GenerateTokenFn == nil {
		return models.Token{}, ErrNotStubbed
	}
	return f.GenerateTokenFn(ctx, input)
}

func (f *Fake) ServeNext(ctx context.Context, input store.ServeNextInput) (models.Token, bool, error) {
	if f.ServeNextFn == nil {
		return models.Token{}, false, ErrNotStubbed
	}
	return f.ServeNextFn(ctx, input)
}

func (f *Fake) CompleteToken(ctx context.Context, input store.CompleteTokenInput) (models.Token, bool, error) {
	if f.CompleteTokenFn == nil {
		return models.Token{}, false, ErrNotStubbed
	}
	return f.CompleteTokenFn(ctx, input)
}

func (f *Fake) ResetBranch(ctx context.Context, branchID string) (store.ResetResult, error) {
	if f.ResetBranchFn == nil {
		return store.ResetResult{}, ErrNotStubbed
	}
	return f.ResetBranchFn(ctx, branchID)
}

func (f *Fake) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	if f.GetTokenFn == nil {
		return models.Token{}, ErrNotStubbed
	}
	return f.GetTokenFn(ctx, tokenID)
}

func (f *Fake) CurrentToken(ctx context.Context, employeeID string) (models.Token, bool, error) {
	if f.CurrentTokenFn == nil {
		return models.Token{}, false, ErrNotStubbed
	}
	return f.CurrentTokenFn(ctx, employeeID)
}

func (f *Fake) ListTokens(ctx context.Context, filter store.TokenFilter) ([]models.Token, error) {
	if f.ListTokensFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListTokensFn(ctx, filter)
}

func (f *Fake) ListTokenEvents(ctx context.Context, tokenID string) ([]store.TokenEvent, error) {
	if f.ListTokenEventsFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListTokenEventsFn(ctx, tokenID)
}

func (f *Fake) NextNumber(ctx context.Context, seriesID string) (store.IssuedNumber, error) {
	if f.NextNumberFn == nil {
		return store.IssuedNumber{}, ErrNotStubbed
	}
	return f.NextNumberFn(ctx, seriesID)
}

func (f *Fake) CreateSeries(ctx context.Context, input store.CreateSeriesInput) (models.TokenSeries, error) {
	if f.CreateSeriesFn == nil {
		return models.TokenSeries{}, ErrNotStubbed
	}
	return f.CreateSeriesFn(ctx, input)
}

func (f *Fake) UpdateSeries(ctx context.Context, seriesID string, input store.UpdateSeriesInput) (models.TokenSeries, error) {
	if f.UpdateSeriesFn == nil {
		return models.TokenSeries{}, ErrNotStubbed
	}
	return f.UpdateSeriesFn(ctx, seriesID, input)
}

func (f *Fake) DeleteSeries(ctx context.Context, seriesID string) error {
	if f.DeleteSeriesFn == nil {
		return ErrNotStubbed
	}
	return f.DeleteSeriesFn(ctx, seriesID)
}

func (f *Fake) GetSeries(ctx context.Context, seriesID string) (models.TokenSeries, error) {
	if f.GetSeriesFn == nil {
		return models.TokenSeries{}, ErrNotStubbed
	}
	return f.GetSeriesFn(ctx, seriesID)
}

func (f *Fake) ListSeries(ctx context.Context, branchID string) ([]models.TokenSeries, error) {
	if f.ListSeriesFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListSeriesFn(ctx, branchID)
}

func (f *Fake) CreateBranch(ctx context.Context, name, address string) (models.Branch, error) {
	if f.CreateBranchFn == nil {
		return models.Branch{}, ErrNotStubbed
	}
	return f.CreateBranchFn(ctx, name, address)
}

func (f *Fake) ListBranches(ctx context.Context) ([]models.Branch, error) {
	if f.ListBranchesFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListBranchesFn(ctx)
}

func (f *Fake) DeleteBranch(ctx context.Context, branchID string) error {
	if f.DeleteBranchFn == nil {
		return ErrNotStubbed
	}
	return f.DeleteBranchFn(ctx, branchID)
}

func (f *Fake) CreateService(ctx context.Context, input store.ServiceInput) (models.Service, error) {
	if f.CreateServiceFn == nil {
		return models.Service{}, ErrNotStubbed
	}
	return f.CreateServiceFn(ctx, input)
}

func (f *Fake) UpdateService(ctx context.Context, serviceID string, input store.ServiceInput) (models.Service, error) {
	if f.UpdateServiceFn == nil {
		return models.Service{}, ErrNotStubbed
	}
	return f.UpdateServiceFn(ctx, serviceID, input)
}

func (f *Fake) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	if f.GetServiceFn == nil {
		return models.Service{}, ErrNotStubbed
	}
	return f.GetServiceFn(ctx, serviceID)
}

func (f *Fake) ListServices(ctx context.Context, branchID string) ([]models.Service, error) {
	if f.ListServicesFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListServicesFn(ctx, branchID)
}

func (f *Fake) DeleteService(ctx context.Context, serviceID string) (int64, error) {
	if f.DeleteServiceFn == nil {
		return 0, ErrNotStubbed
	}
	return f.DeleteServiceFn(ctx, serviceID)
}

func (f *Fake) CreateSubService(ctx context.Context, input store.SubServiceInput) (models.SubService, error) {
	if f.CreateSubServiceFn == nil {
		return models.SubService{}, ErrNotStubbed
	}
	return f.CreateSubServiceFn(ctx, input)
}

func (f *Fake) UpdateSubService(ctx context.Context, subServiceID string, input store.SubServiceInput) (models.SubService, error) {
	if f.UpdateSubServiceFn == nil {
		return models.SubService{}, ErrNotStubbed
	}
	return f.UpdateSubServiceFn(ctx, subServiceID, input)
}

func (f *Fake) GetSubService(ctx context.Context, subServiceID string) (models.SubService, error) {
	if f.GetSubServiceFn == nil {
		return models.SubService{}, ErrNotStubbed
	}
	return f.GetSubServiceFn(ctx, subServiceID)
}

func (f *Fake) DeleteSubService(ctx context.Context, subServiceID string) (int64, error) {
	if f.DeleteSubServiceFn == nil {
		return 0, ErrNotStubbed
	}
	return f.DeleteSubServiceFn(ctx, subServiceID)
}

func (f *Fake) CreateDesk(ctx context.Context, input store.DeskInput) (models.Desk, error) {
	if f.CreateDeskFn == nil {
		return models.Desk{}, ErrNotStubbed
	}
	return f.CreateDeskFn(ctx, input)
}

func (f *Fake) UpdateDesk(ctx context.Context, deskID string, input store.DeskInput) (models.Desk, error) {
	if f.UpdateDeskFn == nil {
		return models.Desk{}, ErrNotStubbed
	}
	return f.UpdateDeskFn(ctx, deskID, input)
}

func (f *Fake) GetDesk(ctx context.Context, deskID string) (models.Desk, error) {
	if f.GetDeskFn == nil {
		return models.Desk{}, ErrNotStubbed
	}
	return f.GetDeskFn(ctx, deskID)
}

func (f *Fake) ListDesks(ctx context.Context, branchID string) ([]models.Desk, error) {
	if f.ListDesksFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListDesksFn(ctx, branchID)
}

func (f *Fake) DeleteDesk(ctx context.Context, deskID string) (int64, error) {
	if f.DeleteDeskFn == nil {
		return 0, ErrNotStubbed
	}
	return f.DeleteDeskFn(ctx, deskID)
}

func (f *Fake) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	if f.CreateUserFn == nil {
		return models.User{}, ErrNotStubbed
	}
	return f.CreateUserFn(ctx, input)
}

func (f *Fake) GetUser(ctx context.Context, userID string) (models.User, error) {
	if f.GetUserFn == nil {
		return models.User{}, ErrNotStubbed
	}
	return f.GetUserFn(ctx, userID)
}

func (f *Fake) AssignDesk(ctx context.Context, userID string, deskID *string) (models.User, error) {
	if f.AssignDeskFn == nil {
		return models.User{}, ErrNotStubbed
	}
	return f.AssignDeskFn(ctx, userID, deskID)
}

func (f *Fake) RecordShiftEvent(ctx context.Context, userID, eventType string) (models.UserLog, models.User, error) {
	if f.RecordShiftEventFn == nil {
		return models.UserLog{}, models.User{}, ErrNotStubbed
	}
	return f.RecordShiftEventFn(ctx, userID, eventType)
}

func (f *Fake) ListUserLogs(ctx context.Context, userID string, limit int) ([]models.UserLog, error) {
	if f.ListUserLogsFn == nil {
		return nil, ErrNotStubbed
	}
	return f.ListUserLogsFn(ctx, userID, limit)
}

func (f *Fake) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.GetSessionFn == nil {
		return store.Session{}, ErrNotStubbed
	}
	return f.GetSessionFn(ctx, sessionID)
}
