package postgres

import (
	"context"
	"errors"
	"strings"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateBranch(ctx context.Context, name, address string) (models.Branch, error) {
	var branch models.Branch
	err := s.pool.QueryRow(ctx, `
		INSERT INTO branches (id, name, address)
		VALUES ($1, $2, $3)
		RETURNING id, name, address, created_at
	`, uuid.NewString(), name, address).Scan(&branch.ID, &branch.Name, &branch.Address, &branch.CreatedAt)
	if err != nil {
		return models.Branch{}, translateError(err)
	}
	return branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]models.Branch, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, address, created_at FROM branches ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]models.Branch, 0)
	for rows.Next() {
		var branch models.Branch
		if err := rows.Scan(&branch.ID, &branch.Name, &branch.Address, &branch.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) DeleteBranch(ctx context.Context, branchID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrBranchNotFound
	}
	return nil
}

func (s *Store) CreateService(ctx context.Context, input store.ServiceInput) (models.Service, error) {
	var service models.Service
	err := s.pool.QueryRow(ctx, `
		INSERT INTO services (id, branch_id, name, code, status)
		SELECT $1, b.id, $3, $4, $5 FROM branches b WHERE b.id = $2
		RETURNING id, branch_id, name, code, status, created_at
	`, uuid.NewString(), input.BranchID, input.Name, strings.ToUpper(input.Code), input.Status).Scan(
		&service.ID, &service.BranchID, &service.Name, &service.Code, &service.Status, &service.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrBranchNotFound
		}
		return models.Service{}, translateError(err)
	}
	return service, nil
}

func (s *Store) UpdateService(ctx context.Context, serviceID string, input store.ServiceInput) (models.Service, error) {
	var service models.Service
	err := s.pool.QueryRow(ctx, `
		UPDATE services
		SET name = $2, code = $3, status = $4
		WHERE id = $1
		RETURNING id, branch_id, name, code, status, created_at
	`, serviceID, input.Name, strings.ToUpper(input.Code), input.Status).Scan(
		&service.ID, &service.BranchID, &service.Name, &service.Code, &service.Status, &service.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, translateError(err)
	}
	return service, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	var service models.Service
	err := s.pool.QueryRow(ctx, `
		SELECT id, branch_id, name, code, status, created_at FROM services WHERE id = $1
	`, serviceID).Scan(&service.ID, &service.BranchID, &service.Name, &service.Code, &service.Status, &service.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, translateError(err)
	}
	subs, err := s.listSubServices(ctx, []string{service.ID})
	if err != nil {
		return models.Service{}, err
	}
	service.SubServices = subs[service.ID]
	return service, nil
}

func (s *Store) ListServices(ctx context.Context, branchID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, name, code, status, created_at
		FROM services
		WHERE branch_id = $1
		ORDER BY name ASC
	`, branchID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	services := make([]models.Service, 0)
	var ids []string
	for rows.Next() {
		var service models.Service
		if err := rows.Scan(&service.ID, &service.BranchID, &service.Name, &service.Code, &service.Status, &service.CreatedAt); err != nil {
			return nil, err
		}
		services = append(services, service)
		ids = append(ids, service.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	subs, err := s.listSubServices(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range services {
		services[i].SubServices = subs[services[i].ID]
	}
	return services, nil
}

func (s *Store) listSubServices(ctx context.Context, serviceIDs []string) (map[string][]models.SubService, error) {
	out := make(map[string][]models.SubService)
	if len(serviceIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, service_id, name, status, created_at
		FROM sub_services
		WHERE service_id = ANY($1::uuid[])
		ORDER BY name ASC
	`, serviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sub models.SubService
		if err := rows.Scan(&sub.ID, &sub.ServiceID, &sub.Name, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out[sub.ServiceID] = append(out[sub.ServiceID], sub)
	}
	return out, rows.Err()
}

// DeleteService closes the service's open tokens with the desk unbound, then
// removes the service together with its series and sub-services.
func (s *Store) DeleteService(ctx context.Context, serviceID string) (int64, error) {
	var closed int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM services WHERE id = $1 FOR UPDATE`, serviceID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrServiceNotFound
			}
			return translateError(err)
		}
		var err error
		closed, err = forceCompleteTokens(ctx, tx, byService, serviceID, true, "service_deleted")
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM services WHERE id = $1`, serviceID)
		return err
	})
	return closed, err
}

func (s *Store) CreateSubService(ctx context.Context, input store.SubServiceInput) (models.SubService, error) {
	var sub models.SubService
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sub_services (id, service_id, name, status)
		SELECT $1, sv.id, $3, $4 FROM services sv WHERE sv.id = $2
		RETURNING id, service_id, name, status, created_at
	`, uuid.NewString(), input.ServiceID, input.Name, input.Status).Scan(&sub.ID, &sub.ServiceID, &sub.Name, &sub.Status, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SubService{}, store.ErrServiceNotFound
		}
		return models.SubService{}, translateError(err)
	}
	return sub, nil
}

func (s *Store) UpdateSubService(ctx context.Context, subServiceID string, input store.SubServiceInput) (models.SubService, error) {
	var sub models.SubService
	err := s.pool.QueryRow(ctx, `
		UPDATE sub_services
		SET name = $2, status = $3
		WHERE id = $1
		RETURNING id, service_id, name, status, created_at
	`, subServiceID, input.Name, input.Status).Scan(&sub.ID, &sub.ServiceID, &sub.Name, &sub.Status, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SubService{}, store.ErrSubServiceNotFound
		}
		return models.SubService{}, translateError(err)
	}
	return sub, nil
}

func (s *Store) GetSubService(ctx context.Context, subServiceID string) (models.SubService, error) {
	var sub models.SubService
	err := s.pool.QueryRow(ctx, `
		SELECT id, service_id, name, status, created_at FROM sub_services WHERE id = $1
	`, subServiceID).Scan(&sub.ID, &sub.ServiceID, &sub.Name, &sub.Status, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SubService{}, store.ErrSubServiceNotFound
		}
		return models.SubService{}, translateError(err)
	}
	return sub, nil
}

func (s *Store) DeleteSubService(ctx context.Context, subServiceID string) (int64, error) {
	var closed int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM sub_services WHERE id = $1 FOR UPDATE`, subServiceID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrSubServiceNotFound
			}
			return translateError(err)
		}
		var err error
		closed, err = forceCompleteTokens(ctx, tx, bySubService, subServiceID, true, "sub_service_deleted")
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM sub_services WHERE id = $1`, subServiceID)
		return err
	})
	return closed, err
}

func (s *Store) CreateDesk(ctx context.Context, input store.DeskInput) (models.Desk, error) {
	var desk models.Desk
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, input.BranchID).Scan(&exists); err != nil {
			return translateError(err)
		}
		if !exists {
			return store.ErrBranchNotFound
		}
		deskID := uuid.NewString()
		_, err := tx.Exec(ctx, `
			INSERT INTO desks (id, branch_id, name, status)
			VALUES ($1, $2, $3, $4)
		`, deskID, input.BranchID, input.Name, input.Status)
		if err != nil {
			return translateError(err)
		}
		if err := replaceDeskAssociations(ctx, tx, deskID, input); err != nil {
			return err
		}
		desk, err = getDesk(ctx, tx, deskID)
		return err
	})
	return desk, err
}

func (s *Store) UpdateDesk(ctx context.Context, deskID string, input store.DeskInput) (models.Desk, error) {
	var desk models.Desk
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var branchID string
		err := tx.QueryRow(ctx, `
			UPDATE desks SET name = $2, status = $3
			WHERE id = $1
			RETURNING branch_id
		`, deskID, input.Name, input.Status).Scan(&branchID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrDeskNotFound
			}
			return translateError(err)
		}
		input.BranchID = branchID
		if err := replaceDeskAssociations(ctx, tx, deskID, input); err != nil {
			return err
		}
		desk, err = getDesk(ctx, tx, deskID)
		return err
	})
	return desk, err
}

// replaceDeskAssociations rewrites the services and sub-services a desk
// serves. Every id must belong to the desk's branch.
func replaceDeskAssociations(ctx context.Context, tx pgx.Tx, deskID string, input store.DeskInput) error {
	serviceIDs := uniqueIDs(input.ServiceIDs)
	subServiceIDs := uniqueIDs(input.SubServiceIDs)

	var matched int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM services WHERE branch_id = $1 AND id = ANY($2::uuid[])
	`, input.BranchID, serviceIDs).Scan(&matched); err != nil {
		return translateError(err)
	}
	if matched != len(serviceIDs) {
		return store.Invalid("desk services must belong to the desk's branch")
	}
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM sub_services ss
		JOIN services sv ON sv.id = ss.service_id
		WHERE sv.branch_id = $1 AND ss.id = ANY($2::uuid[]) AND ss.service_id = ANY($3::uuid[])
	`, input.BranchID, subServiceIDs, serviceIDs).Scan(&matched); err != nil {
		return translateError(err)
	}
	if matched != len(subServiceIDs) {
		return store.Invalid("desk sub-services must belong to the desk's services")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM desk_services WHERE desk_id = $1`, deskID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM desk_sub_services WHERE desk_id = $1`, deskID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO desk_services (desk_id, service_id)
		SELECT $1, unnest($2::uuid[])
	`, deskID, serviceIDs); err != nil {
		return translateError(err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO desk_sub_services (desk_id, sub_service_id)
		SELECT $1, unnest($2::uuid[])
	`, deskID, subServiceIDs); err != nil {
		return translateError(err)
	}
	return nil
}

func getDesk(ctx context.Context, q querier, deskID string) (models.Desk, error) {
	var desk models.Desk
	err := q.QueryRow(ctx, `
		SELECT d.id, d.branch_id, d.name, d.status, d.created_at,
			COALESCE(ARRAY(SELECT service_id::text FROM desk_services WHERE desk_id = d.id ORDER BY service_id), '{}'),
			COALESCE(ARRAY(SELECT sub_service_id::text FROM desk_sub_services WHERE desk_id = d.id ORDER BY sub_service_id), '{}'),
			COALESCE(ARRAY(SELECT id::text FROM users WHERE assigned_desk_id = d.id ORDER BY name), '{}')
		FROM desks d
		WHERE d.id = $1
	`, deskID).Scan(&desk.ID, &desk.BranchID, &desk.Name, &desk.Status, &desk.CreatedAt, &desk.ServiceIDs, &desk.SubServiceIDs, &desk.EmployeeIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Desk{}, store.ErrDeskNotFound
		}
		return models.Desk{}, translateError(err)
	}
	return desk, nil
}

func (s *Store) GetDesk(ctx context.Context, deskID string) (models.Desk, error) {
	return getDesk(ctx, s.pool, deskID)
}

func (s *Store) ListDesks(ctx context.Context, branchID string) ([]models.Desk, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM desks WHERE branch_id = $1 ORDER BY name ASC`, branchID)
	if err != nil {
		return nil, translateError(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	desks := make([]models.Desk, 0, len(ids))
	for _, id := range ids {
		desk, err := getDesk(ctx, s.pool, id)
		if err != nil {
			return nil, err
		}
		desks = append(desks, desk)
	}
	return desks, nil
}

// DeleteDesk completes the desk's open tokens with the desk unbound, detaches
// history and employees, then removes the desk. One transaction.
func (s *Store) DeleteDesk(ctx context.Context, deskID string) (int64, error) {
	var closed int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM desks WHERE id = $1 FOR UPDATE`, deskID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrDeskNotFound
			}
			return translateError(err)
		}
		var err error
		closed, err = forceCompleteTokens(ctx, tx, byDesk, deskID, true, "desk_deleted")
		if err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `UPDATE tokens SET desk_id = NULL, updated_at = now() WHERE desk_id = $1`, deskID); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `UPDATE users SET assigned_desk_id = NULL WHERE assigned_desk_id = $1`, deskID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM desks WHERE id = $1`, deskID)
		return err
	})
	return closed, err
}
