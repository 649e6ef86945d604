package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, branch_id, name, email, role, assigned_desk_id, is_working, is_on_break, created_at`

func scanUser(row scanner) (models.User, error) {
	var user models.User
	var branchID, deskID sql.NullString
	if err := row.Scan(&user.ID, &branchID, &user.Name, &user.Email, &user.Role, &deskID, &user.IsWorking, &user.IsOnBreak, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	user.BranchID = nullStringPtr(branchID)
	user.AssignedDeskID = nullStringPtr(deskID)
	return user, nil
}

func getUser(ctx context.Context, q querier, userID string, forUpdate bool) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	user, err := scanUser(q.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, translateError(err)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return models.User{}, err
	}

	var user models.User
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if input.AssignedDeskID != "" {
			if err := ensureDeskInBranch(ctx, tx, input.AssignedDeskID, input.BranchID); err != nil {
				return err
			}
		}
		userID := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, branch_id, name, email, password_hash, role, assigned_desk_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, userID, nullIfEmpty(input.BranchID), input.Name, strings.ToLower(input.Email), string(hash), input.Role, nullIfEmpty(input.AssignedDeskID)); err != nil {
			return translateError(err)
		}
		var err error
		user, err = getUser(ctx, tx, userID, false)
		return err
	})
	return user, err
}

func ensureDeskInBranch(ctx context.Context, q querier, deskID, branchID string) error {
	var deskBranch string
	if err := q.QueryRow(ctx, `SELECT branch_id FROM desks WHERE id = $1`, deskID).Scan(&deskBranch); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrDeskNotFound
		}
		return translateError(err)
	}
	if deskBranch != branchID {
		return store.Invalid("desk belongs to another branch")
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	return getUser(ctx, s.pool, userID, false)
}

// AssignDesk binds an employee to a desk, or unbinds it when deskID is nil.
// An employee holding a SERVING token cannot move.
func (s *Store) AssignDesk(ctx context.Context, userID string, deskID *string) (models.User, error) {
	var user models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := getUser(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		if current.Role != models.RoleEmployee {
			return store.Invalid("only employees can be assigned to a desk")
		}
		if deskID != nil {
			branchID := ""
			if current.BranchID != nil {
				branchID = *current.BranchID
			}
			if err := ensureDeskInBranch(ctx, tx, *deskID, branchID); err != nil {
				return err
			}
		}
		var serving bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM tokens WHERE assigned_to = $1 AND status = 'SERVING')
		`, userID).Scan(&serving); err != nil {
			return err
		}
		if serving {
			return fmt.Errorf("employee is serving a token: %w", store.ErrInvalidState)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET assigned_desk_id = $2 WHERE id = $1`, userID, deskID); err != nil {
			return translateError(err)
		}
		user, err = getUser(ctx, tx, userID, false)
		return err
	})
	return user, err
}

func (s *Store) RecordShiftEvent(ctx context.Context, userID, eventType string) (models.UserLog, models.User, error) {
	var entry models.UserLog
	var user models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := getUser(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		working, onBreak, err := store.ApplyShiftEvent(current.IsWorking, current.IsOnBreak, eventType)
		if err != nil {
			return err
		}
		entry = models.UserLog{ID: uuid.NewString(), UserID: userID, Type: eventType, CreatedAt: time.Now().UTC()}
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_logs (id, user_id, type, created_at) VALUES ($1, $2, $3, $4)
		`, entry.ID, entry.UserID, entry.Type, entry.CreatedAt); err != nil {
			return translateError(err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE users SET is_working = $2, is_on_break = $3 WHERE id = $1
		`, userID, working, onBreak); err != nil {
			return err
		}
		user, err = getUser(ctx, tx, userID, false)
		return err
	})
	return entry, user, err
}

func (s *Store) ListUserLogs(ctx context.Context, userID string, limit int) ([]models.UserLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, created_at
		FROM user_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	logs := make([]models.UserLog, 0)
	for rows.Next() {
		var entry models.UserLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	var branchID sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT s.session_id, s.user_id, u.branch_id, u.role, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_id = $1 AND s.expires_at > now()
	`, sessionID).Scan(&session.SessionID, &session.UserID, &branchID, &session.Role, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	session.BranchID = nullStringValue(branchID)
	return session, nil
}
