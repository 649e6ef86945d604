package policy

import (
	"fmt"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

type Operation string

const (
	OpGenerateToken  Operation = "generate_token"
	OpServeNext      Operation = "serve_next"
	OpCompleteToken  Operation = "complete_token"
	OpRecordShift    Operation = "record_shift"
	OpViewQueue      Operation = "view_queue"
	OpManageSeries   Operation = "manage_series"
	OpResetSeries    Operation = "reset_series"
	OpManageCatalog  Operation = "manage_catalog"
	OpManageUsers    Operation = "manage_users"
	OpManageBranches Operation = "manage_branches"
)

// Principal is the caller identity supplied by the session layer. The zero
// value is an anonymous caller such as a kiosk.
type Principal struct {
	UserID   string
	Role     string
	BranchID string
}

func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

type rule struct {
	anonymous bool
	roles     []string
}

var rules = map[Operation]rule{
	OpGenerateToken:  {anonymous: true, roles: []string{models.RoleSuperadmin, models.RoleManager, models.RoleEmployee}},
	OpServeNext:      {roles: []string{models.RoleEmployee}},
	OpCompleteToken:  {roles: []string{models.RoleEmployee}},
	OpRecordShift:    {roles: []string{models.RoleEmployee}},
	OpViewQueue:      {roles: []string{models.RoleSuperadmin, models.RoleManager, models.RoleEmployee}},
	OpManageSeries:   {roles: []string{models.RoleSuperadmin, models.RoleManager}},
	OpResetSeries:    {roles: []string{models.RoleSuperadmin, models.RoleManager}},
	OpManageCatalog:  {roles: []string{models.RoleSuperadmin, models.RoleManager}},
	OpManageUsers:    {roles: []string{models.RoleSuperadmin, models.RoleManager}},
	OpManageBranches: {roles: []string{models.RoleSuperadmin}},
}

// Authorize is the single allow/deny decision for an operation on a branch.
// Superadmins are unscoped; every other role is confined to its own branch.
// An empty branchID means the operation is not branch scoped.
func Authorize(p Principal, op Operation, branchID string) error {
	r, ok := rules[op]
	if !ok {
		return fmt.Errorf("unknown operation %q: %w", op, store.ErrAccessDenied)
	}
	if p.Anonymous() {
		if r.anonymous {
			return nil
		}
		return fmt.Errorf("%s requires a signed-in user: %w", op, store.ErrAccessDenied)
	}
	if !contains(r.roles, p.Role) {
		return fmt.Errorf("role %s may not %s: %w", p.Role, op, store.ErrAccessDenied)
	}
	if p.Role == models.RoleSuperadmin || branchID == "" {
		return nil
	}
	if p.BranchID != branchID {
		return fmt.Errorf("branch access denied: %w", store.ErrAccessDenied)
	}
	return nil
}

// AuthorizeSelf additionally requires the principal to act as the given user.
func AuthorizeSelf(p Principal, op Operation, branchID, userID string) error {
	if err := Authorize(p, op, branchID); err != nil {
		return err
	}
	if p.UserID != userID {
		return fmt.Errorf("cannot act for another employee: %w", store.ErrAccessDenied)
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
