package queue

import (
	"context"
	"encoding/json"
	"strings"

	"qms/token-service/internal/models"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/policy"
	"qms/token-service/internal/store"

	"go.uber.org/zap"
)

func (m *Manager) ListSeries(ctx context.Context, p policy.Principal, branchID string) ([]models.TokenSeries, error) {
	if err := policy.Authorize(p, policy.OpViewQueue, branchID); err != nil {
		return nil, err
	}
	return m.store.ListSeries(ctx, branchID)
}

func (m *Manager) CreateSeries(ctx context.Context, p policy.Principal, input store.CreateSeriesInput) (series models.TokenSeries, err error) {
	ctx, done := track(ctx, "create_series")
	defer func() { done(err) }()

	if err := policy.Authorize(p, policy.OpManageSeries, input.BranchID); err != nil {
		return models.TokenSeries{}, err
	}
	return m.store.CreateSeries(ctx, input)
}

func (m *Manager) UpdateSeries(ctx context.Context, p policy.Principal, seriesID string, input store.UpdateSeriesInput) (series models.TokenSeries, err error) {
	ctx, done := track(ctx, "update_series")
	defer func() { done(err) }()

	if _, err := m.seriesInScope(ctx, p, policy.OpManageSeries, seriesID); err != nil {
		return models.TokenSeries{}, err
	}
	return m.store.UpdateSeries(ctx, seriesID, input)
}

func (m *Manager) SetSeriesActive(ctx context.Context, p policy.Principal, seriesID string, active bool) (models.TokenSeries, error) {
	return m.UpdateSeries(ctx, p, seriesID, store.UpdateSeriesInput{Active: &active})
}

func (m *Manager) DeleteSeries(ctx context.Context, p policy.Principal, seriesID string) (err error) {
	ctx, done := track(ctx, "delete_series")
	defer func() { done(err) }()

	if _, err := m.seriesInScope(ctx, p, policy.OpManageSeries, seriesID); err != nil {
		return err
	}
	return m.store.DeleteSeries(ctx, seriesID)
}

// NextNumber draws a raw value from a series without creating a token.
func (m *Manager) NextNumber(ctx context.Context, p policy.Principal, seriesID string) (issued store.IssuedNumber, err error) {
	ctx, done := track(ctx, "next_number")
	defer func() { done(err) }()

	if _, err := m.seriesInScope(ctx, p, policy.OpManageSeries, seriesID); err != nil {
		return store.IssuedNumber{}, err
	}
	return m.store.NextNumber(ctx, seriesID)
}

func (m *Manager) seriesInScope(ctx context.Context, p policy.Principal, op policy.Operation, seriesID string) (models.TokenSeries, error) {
	series, err := m.store.GetSeries(ctx, seriesID)
	if err != nil {
		return models.TokenSeries{}, err
	}
	if err := policy.Authorize(p, op, series.BranchID); err != nil {
		return models.TokenSeries{}, err
	}
	return series, nil
}

func (m *Manager) CreateBranch(ctx context.Context, p policy.Principal, name, address string) (models.Branch, error) {
	if err := policy.Authorize(p, policy.OpManageBranches, ""); err != nil {
		return models.Branch{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Branch{}, store.Invalid("name is required")
	}
	return m.store.CreateBranch(ctx, name, strings.TrimSpace(address))
}

// ListBranches returns every branch to a superadmin and the caller's own
// branch to anyone else.
func (m *Manager) ListBranches(ctx context.Context, p policy.Principal) ([]models.Branch, error) {
	if err := policy.Authorize(p, policy.OpViewQueue, ""); err != nil {
		return nil, err
	}
	branches, err := m.store.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role == models.RoleSuperadmin {
		return branches, nil
	}
	scoped := make([]models.Branch, 0, 1)
	for _, branch := range branches {
		if branch.ID == p.BranchID {
			scoped = append(scoped, branch)
		}
	}
	return scoped, nil
}

func (m *Manager) DeleteBranch(ctx context.Context, p policy.Principal, branchID string) (err error) {
	ctx, done := track(ctx, "delete_branch")
	defer func() { done(err) }()

	if err := policy.Authorize(p, policy.OpManageBranches, ""); err != nil {
		return err
	}
	return m.store.DeleteBranch(ctx, branchID)
}

func (m *Manager) ListServices(ctx context.Context, p policy.Principal, branchID string) ([]models.Service, error) {
	if err := policy.Authorize(p, policy.OpViewQueue, branchID); err != nil {
		return nil, err
	}
	return m.store.ListServices(ctx, branchID)
}

func (m *Manager) CreateService(ctx context.Context, p policy.Principal, input store.ServiceInput) (models.Service, error) {
	if err := policy.Authorize(p, policy.OpManageCatalog, input.BranchID); err != nil {
		return models.Service{}, err
	}
	return m.store.CreateService(ctx, input)
}

func (m *Manager) UpdateService(ctx context.Context, p policy.Principal, serviceID string, input store.ServiceInput) (models.Service, error) {
	service, err := m.serviceInScope(ctx, p, serviceID)
	if err != nil {
		return models.Service{}, err
	}
	input.BranchID = service.BranchID
	return m.store.UpdateService(ctx, serviceID, input)
}

// DeleteService removes a service; its open tokens are closed without a desk.
func (m *Manager) DeleteService(ctx context.Context, p policy.Principal, serviceID string) (closed int64, err error) {
	ctx, done := track(ctx, "delete_service")
	defer func() { done(err) }()

	service, err := m.serviceInScope(ctx, p, serviceID)
	if err != nil {
		return 0, err
	}
	closed, err = m.store.DeleteService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	m.closedTokens(notify.Event{Type: notify.EventServiceClosed, BranchID: service.BranchID, ServiceID: serviceID}, closed)
	return closed, nil
}

func (m *Manager) CreateSubService(ctx context.Context, p policy.Principal, input store.SubServiceInput) (models.SubService, error) {
	if _, err := m.serviceInScope(ctx, p, input.ServiceID); err != nil {
		return models.SubService{}, err
	}
	return m.store.CreateSubService(ctx, input)
}

func (m *Manager) UpdateSubService(ctx context.Context, p policy.Principal, subServiceID string, input store.SubServiceInput) (models.SubService, error) {
	sub, _, err := m.subServiceInScope(ctx, p, subServiceID)
	if err != nil {
		return models.SubService{}, err
	}
	input.ServiceID = sub.ServiceID
	return m.store.UpdateSubService(ctx, subServiceID, input)
}

func (m *Manager) DeleteSubService(ctx context.Context, p policy.Principal, subServiceID string) (closed int64, err error) {
	ctx, done := track(ctx, "delete_sub_service")
	defer func() { done(err) }()

	sub, service, err := m.subServiceInScope(ctx, p, subServiceID)
	if err != nil {
		return 0, err
	}
	closed, err = m.store.DeleteSubService(ctx, subServiceID)
	if err != nil {
		return 0, err
	}
	m.closedTokens(notify.Event{Type: notify.EventServiceClosed, BranchID: service.BranchID, ServiceID: sub.ServiceID}, closed)
	return closed, nil
}

func (m *Manager) serviceInScope(ctx context.Context, p policy.Principal, serviceID string) (models.Service, error) {
	service, err := m.store.GetService(ctx, serviceID)
	if err != nil {
		return models.Service{}, err
	}
	if err := policy.Authorize(p, policy.OpManageCatalog, service.BranchID); err != nil {
		return models.Service{}, err
	}
	return service, nil
}

func (m *Manager) subServiceInScope(ctx context.Context, p policy.Principal, subServiceID string) (models.SubService, models.Service, error) {
	sub, err := m.store.GetSubService(ctx, subServiceID)
	if err != nil {
		return models.SubService{}, models.Service{}, err
	}
	service, err := m.serviceInScope(ctx, p, sub.ServiceID)
	if err != nil {
		return models.SubService{}, models.Service{}, err
	}
	return sub, service, nil
}

func (m *Manager) ListDesks(ctx context.Context, p policy.Principal, branchID string) ([]models.Desk, error) {
	if err := policy.Authorize(p, policy.OpViewQueue, branchID); err != nil {
		return nil, err
	}
	return m.store.ListDesks(ctx, branchID)
}

func (m *Manager) CreateDesk(ctx context.Context, p policy.Principal, input store.DeskInput) (models.Desk, error) {
	if err := policy.Authorize(p, policy.OpManageCatalog, input.BranchID); err != nil {
		return models.Desk{}, err
	}
	return m.store.CreateDesk(ctx, input)
}

func (m *Manager) UpdateDesk(ctx context.Context, p policy.Principal, deskID string, input store.DeskInput) (models.Desk, error) {
	desk, err := m.deskInScope(ctx, p, deskID)
	if err != nil {
		return models.Desk{}, err
	}
	input.BranchID = desk.BranchID
	return m.store.UpdateDesk(ctx, deskID, input)
}

// DeleteDesk removes a desk. Tokens bound to it are completed with no desk
// and its employees are unassigned.
func (m *Manager) DeleteDesk(ctx context.Context, p policy.Principal, deskID string) (closed int64, err error) {
	ctx, done := track(ctx, "delete_desk")
	defer func() { done(err) }()

	desk, err := m.deskInScope(ctx, p, deskID)
	if err != nil {
		return 0, err
	}
	closed, err = m.store.DeleteDesk(ctx, deskID)
	if err != nil {
		return 0, err
	}
	m.closedTokens(notify.Event{Type: notify.EventDeskClosed, BranchID: desk.BranchID, DeskID: deskID}, closed)
	return closed, nil
}

func (m *Manager) deskInScope(ctx context.Context, p policy.Principal, deskID string) (models.Desk, error) {
	desk, err := m.store.GetDesk(ctx, deskID)
	if err != nil {
		return models.Desk{}, err
	}
	if err := policy.Authorize(p, policy.OpManageCatalog, desk.BranchID); err != nil {
		return models.Desk{}, err
	}
	return desk, nil
}

// CreateUser adds a user. Managers may only add employees to their branch.
func (m *Manager) CreateUser(ctx context.Context, p policy.Principal, input store.CreateUserInput) (models.User, error) {
	input.Role = strings.ToUpper(strings.TrimSpace(input.Role))
	switch input.Role {
	case models.RoleSuperadmin:
		if err := policy.Authorize(p, policy.OpManageBranches, ""); err != nil {
			return models.User{}, err
		}
		input.BranchID = ""
		input.AssignedDeskID = ""
	case models.RoleManager:
		if err := policy.Authorize(p, policy.OpManageBranches, ""); err != nil {
			return models.User{}, err
		}
	case models.RoleEmployee:
		if err := policy.Authorize(p, policy.OpManageUsers, input.BranchID); err != nil {
			return models.User{}, err
		}
	default:
		return models.User{}, store.Invalid("unknown role %q", input.Role)
	}
	if input.Role != models.RoleSuperadmin && input.BranchID == "" {
		return models.User{}, store.Invalid("branch_id is required")
	}
	if input.Role != models.RoleEmployee && input.AssignedDeskID != "" {
		return models.User{}, store.Invalid("only employees can be assigned to a desk")
	}
	return m.store.CreateUser(ctx, input)
}

func (m *Manager) AssignDesk(ctx context.Context, p policy.Principal, userID string, deskID *string) (models.User, error) {
	if _, err := m.userInScope(ctx, p, policy.OpManageUsers, userID); err != nil {
		return models.User{}, err
	}
	return m.store.AssignDesk(ctx, userID, deskID)
}

// RecordShift appends a work or break event to the caller's own shift log.
func (m *Manager) RecordShift(ctx context.Context, p policy.Principal, employeeID, eventType string) (entry models.UserLog, user models.User, err error) {
	ctx, done := track(ctx, "record_shift")
	defer func() { done(err) }()

	if err := policy.AuthorizeSelf(p, policy.OpRecordShift, p.BranchID, employeeID); err != nil {
		return models.UserLog{}, models.User{}, err
	}
	return m.store.RecordShiftEvent(ctx, employeeID, strings.ToUpper(strings.TrimSpace(eventType)))
}

func (m *Manager) ListShiftLogs(ctx context.Context, p policy.Principal, employeeID string, limit int) ([]models.UserLog, error) {
	if _, err := m.userInScope(ctx, p, policy.OpViewQueue, employeeID); err != nil {
		return nil, err
	}
	return m.store.ListUserLogs(ctx, employeeID, limit)
}

func (m *Manager) closedTokens(event notify.Event, closed int64) {
	tokensForceCompleted.Add(float64(closed))
	if closed > 0 {
		m.logger.Info("open tokens force completed",
			zap.String("type", event.Type),
			zap.String("branch_id", event.BranchID),
			zap.Int64("closed_tokens", closed))
	}
	event.Data = marshalData(map[string]int64{"closed_tokens": closed})
	m.publish(event)
}

func marshalData(value interface{}) json.RawMessage {
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}
