package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultTokenListLimit = 200

// open-token filters for bulk force completion
const (
	byBranch     = "branch_id"
	byService    = "service_id"
	bySubService = "sub_service_id"
	byDesk       = "desk_id"
)

func tokenSelect() sq.SelectBuilder {
	return psql.Select(
		"t.id", "t.number", "t.display_number", "t.status", "t.branch_id", "t.service_id", "t.sub_service_id",
		"t.series_id", "t.desk_id", "t.assigned_to",
		"COALESCE(s.name, '')", "COALESCE(ss.name, '')", "COALESCE(d.name, '')", "COALESCE(u.name, '')",
		"t.created_at", "t.updated_at", "t.serving_at", "t.completed_at",
	).
		From("tokens t").
		LeftJoin("services s ON s.id = t.service_id").
		LeftJoin("sub_services ss ON ss.id = t.sub_service_id").
		LeftJoin("desks d ON d.id = t.desk_id").
		LeftJoin("users u ON u.id = t.assigned_to")
}

func scanToken(row scanner) (models.Token, error) {
	var token models.Token
	var serviceID, subServiceID, seriesID, deskID, assignedTo sql.NullString
	var servingAt, completedAt sql.NullTime
	if err := row.Scan(
		&token.ID, &token.Number, &token.DisplayNumber, &token.Status, &token.BranchID, &serviceID, &subServiceID,
		&seriesID, &deskID, &assignedTo,
		&token.ServiceName, &token.SubServiceName, &token.DeskName, &token.AssignedToName,
		&token.CreatedAt, &token.UpdatedAt, &servingAt, &completedAt,
	); err != nil {
		return models.Token{}, err
	}
	token.ServiceID = nullStringValue(serviceID)
	token.SubServiceID = nullStringPtr(subServiceID)
	token.SeriesID = nullStringValue(seriesID)
	token.DeskID = nullStringPtr(deskID)
	token.AssignedTo = nullStringPtr(assignedTo)
	token.ServingAt = nullTimePtr(servingAt)
	token.CompletedAt = nullTimePtr(completedAt)
	return token, nil
}

func getToken(ctx context.Context, q querier, where sq.Eq) (models.Token, error) {
	query, args, err := tokenSelect().Where(where).ToSql()
	if err != nil {
		return models.Token{}, err
	}
	token, err := scanToken(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) GenerateToken(ctx context.Context, input store.GenerateTokenInput) (models.Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureServiceOffered(ctx, tx, input); err != nil {
		return models.Token{}, err
	}

	issued, err := incrementSeries(ctx, tx, sq.Eq{"branch_id": input.BranchID, "service_id": input.ServiceID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = diagnoseGenerateSeries(ctx, tx, input.BranchID, input.ServiceID)
		}
		return models.Token{}, err
	}

	// stamped while the counter row is locked, so created_at follows number order
	tokenID := uuid.NewString()
	if _, err = tx.Exec(ctx, `
		INSERT INTO tokens (
			id, number, display_number, status, branch_id, service_id, sub_service_id, series_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, clock_timestamp(), clock_timestamp())
	`, tokenID, issued.Number, issued.DisplayNumber, models.TokenPending, input.BranchID, input.ServiceID, nullIfEmpty(input.SubServiceID), issued.SeriesID); err != nil {
		err = translateError(err)
		return models.Token{}, err
	}

	token, err := getToken(ctx, tx, sq.Eq{"t.id": tokenID})
	if err != nil {
		return models.Token{}, err
	}
	if err = insertTokenEvent(ctx, tx, token.ID, store.EventTokenCreated, store.NewEventPayload(token, "")); err != nil {
		return models.Token{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

// ensureServiceOffered rejects generation for services or sub-services that
// are inactive or not offered by the branch.
func ensureServiceOffered(ctx context.Context, tx pgx.Tx, input store.GenerateTokenInput) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, input.BranchID).Scan(&exists); err != nil {
		return translateError(err)
	}
	if !exists {
		return store.ErrBranchNotFound
	}

	var branchID, status string
	err := tx.QueryRow(ctx, `SELECT branch_id, status FROM services WHERE id = $1`, input.ServiceID).Scan(&branchID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Invalid("service does not exist")
		}
		return translateError(err)
	}
	if branchID != input.BranchID {
		return store.Invalid("service is not offered by this branch")
	}
	if status != models.StatusActive {
		return store.Invalid("service is inactive")
	}

	if input.SubServiceID == "" {
		return nil
	}
	var serviceID string
	err = tx.QueryRow(ctx, `SELECT service_id, status FROM sub_services WHERE id = $1`, input.SubServiceID).Scan(&serviceID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Invalid("sub-service does not exist")
		}
		return translateError(err)
	}
	if serviceID != input.ServiceID {
		return store.Invalid("sub-service does not belong to service")
	}
	if status != models.StatusActive {
		return store.Invalid("sub-service is inactive")
	}
	return nil
}

func diagnoseGenerateSeries(ctx context.Context, tx pgx.Tx, branchID, serviceID string) error {
	series, err := loadSeries(ctx, tx, sq.Eq{"ts.branch_id": branchID, "ts.service_id": serviceID})
	if err != nil {
		if errors.Is(err, store.ErrSeriesNotFound) {
			return store.ErrNoActiveSeries
		}
		return err
	}
	if _, err := store.NextNumber(series); err != nil {
		if errors.Is(err, store.ErrSeriesInactive) {
			return store.ErrNoActiveSeries
		}
		return err
	}
	return fmt.Errorf("series %s did not advance", series.ID)
}

func (s *Store) ServeNext(ctx context.Context, input store.ServeNextInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	deskID, err := lockServingDesk(ctx, tx, input.EmployeeID)
	if err != nil {
		return models.Token{}, false, err
	}

	current, err := getToken(ctx, tx, sq.Eq{"t.assigned_to": input.EmployeeID, "t.status": models.TokenServing})
	if err == nil {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		return current, false, nil
	}
	if !errors.Is(err, store.ErrTokenNotFound) {
		return models.Token{}, false, err
	}

	servedAt := input.ServedAt
	if servedAt.IsZero() {
		servedAt = time.Now().UTC()
	}

	var tokenID string
	err = tx.QueryRow(ctx, `
		WITH next_token AS (
			SELECT t.id
			FROM tokens t
			JOIN desks d ON d.id = $1 AND d.branch_id = t.branch_id
			WHERE t.status = 'PENDING'
				AND t.service_id IN (SELECT service_id FROM desk_services WHERE desk_id = $1)
				AND (
					t.sub_service_id IS NULL
					OR t.sub_service_id IN (SELECT sub_service_id FROM desk_sub_services WHERE desk_id = $1)
				)
			ORDER BY t.created_at ASC, t.number ASC
			FOR UPDATE OF t SKIP LOCKED
			LIMIT 1
		)
		UPDATE tokens
		SET status = 'SERVING',
			desk_id = $1,
			assigned_to = $2,
			serving_at = $3,
			updated_at = $3
		FROM next_token
		WHERE tokens.id = next_token.id AND tokens.status = 'PENDING'
		RETURNING tokens.id
	`, deskID, input.EmployeeID, servedAt).Scan(&tokenID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.Commit(ctx); err != nil {
				return models.Token{}, false, err
			}
			return models.Token{}, false, store.ErrNoToken
		}
		return models.Token{}, false, err
	}

	token, err := getToken(ctx, tx, sq.Eq{"t.id": tokenID})
	if err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEvent(ctx, tx, token.ID, store.EventTokenServing, store.NewEventPayload(token, "")); err != nil {
		return models.Token{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// lockServingDesk locks the employee row so one employee cannot claim twice
// concurrently, and returns the desk it serves from.
func lockServingDesk(ctx context.Context, tx pgx.Tx, employeeID string) (string, error) {
	var role string
	var deskID sql.NullString
	var working, onBreak bool
	err := tx.QueryRow(ctx, `
		SELECT role, assigned_desk_id, is_working, is_on_break
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, employeeID).Scan(&role, &deskID, &working, &onBreak)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrUserNotFound
		}
		return "", translateError(err)
	}
	if role != models.RoleEmployee {
		return "", store.ErrAccessDenied
	}
	if !deskID.Valid {
		return "", store.ErrNoDeskAssigned
	}
	if !working {
		return "", store.ErrEmployeeOffShift
	}
	if onBreak {
		return "", store.ErrEmployeeOnBreak
	}

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM desks WHERE id = $1`, deskID.String).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrDeskNotFound
		}
		return "", err
	}
	if status != models.StatusActive {
		return "", store.ErrDeskUnavailable
	}
	return deskID.String, nil
}

func (s *Store) CompleteToken(ctx context.Context, input store.CompleteTokenInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var status string
	var assignedTo sql.NullString
	err = tx.QueryRow(ctx, `SELECT status, assigned_to FROM tokens WHERE id = $1 FOR UPDATE`, input.TokenID).Scan(&status, &assignedTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTokenNotFound
			return models.Token{}, false, err
		}
		err = translateError(err)
		return models.Token{}, false, err
	}

	var token models.Token
	boundToEmployee := assignedTo.Valid && assignedTo.String == input.EmployeeID
	if status == models.TokenCompleted && boundToEmployee {
		token, err = getToken(ctx, tx, sq.Eq{"t.id": input.TokenID})
		if err != nil {
			return models.Token{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		return token, false, nil
	}
	if !store.ValidTransition(store.ActionComplete, status) {
		err = store.ErrInvalidState
		return models.Token{}, false, err
	}
	if !boundToEmployee {
		err = store.ErrTokenNotAssigned
		return models.Token{}, false, err
	}

	completedAt := input.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	target, _ := store.TargetStatus(store.ActionComplete)
	tag, err := tx.Exec(ctx, `
		UPDATE tokens
		SET status = $4, completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = $5 AND assigned_to = $3
	`, input.TokenID, completedAt, input.EmployeeID, target, status)
	if err != nil {
		return models.Token{}, false, err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrInvalidState
		return models.Token{}, false, err
	}

	token, err = getToken(ctx, tx, sq.Eq{"t.id": input.TokenID})
	if err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEvent(ctx, tx, token.ID, store.EventTokenCompleted, store.NewEventPayload(token, "")); err != nil {
		return models.Token{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

func (s *Store) ResetBranch(ctx context.Context, branchID string) (store.ResetResult, error) {
	var result store.ResetResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, branchID).Scan(&exists); err != nil {
			return translateError(err)
		}
		if !exists {
			return store.ErrBranchNotFound
		}
		// Locking the counters first waits out in-flight generations so their
		// tokens are visible to the bulk completion below.
		if _, err := tx.Exec(ctx, `SELECT id FROM token_series WHERE branch_id = $1 FOR UPDATE`, branchID); err != nil {
			return err
		}

		closed, err := forceCompleteTokens(ctx, tx, byBranch, branchID, false, "series_reset")
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE token_series
			SET current_number = start_from - 1, updated_at = now()
			WHERE branch_id = $1
		`, branchID)
		if err != nil {
			return err
		}
		result = store.ResetResult{ClosedTokens: closed, ResetSeries: tag.RowsAffected()}
		return nil
	})
	return result, err
}

// forceCompleteTokens closes every open token matching column = value and
// records an event per token. clearDesk also unbinds the desk.
func forceCompleteTokens(ctx context.Context, tx pgx.Tx, column, value string, clearDesk bool, reason string) (int64, error) {
	completedAt := time.Now().UTC()
	target, _ := store.TargetStatus(store.ActionForceComplete)
	set := "status = $3, completed_at = $2, updated_at = $2"
	if clearDesk {
		set += ", desk_id = NULL"
	}
	rows, err := tx.Query(ctx, `
		UPDATE tokens
		SET `+set+`
		WHERE `+column+` = $1 AND status = ANY($4)
		RETURNING id, number, display_number, branch_id, desk_id, assigned_to, created_at, serving_at
	`, value, completedAt, target, store.SourceStatuses(store.ActionForceComplete))
	if err != nil {
		return 0, err
	}

	var closed []models.Token
	for rows.Next() {
		token := models.Token{Status: target, CompletedAt: &completedAt, UpdatedAt: completedAt}
		var deskID, assignedTo sql.NullString
		var servingAt sql.NullTime
		if err := rows.Scan(&token.ID, &token.Number, &token.DisplayNumber, &token.BranchID, &deskID, &assignedTo, &token.CreatedAt, &servingAt); err != nil {
			rows.Close()
			return 0, err
		}
		token.DeskID = nullStringPtr(deskID)
		token.AssignedTo = nullStringPtr(assignedTo)
		token.ServingAt = nullTimePtr(servingAt)
		closed = append(closed, token)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, token := range closed {
		if err := insertTokenEvent(ctx, tx, token.ID, store.EventTokenForceClose, store.NewEventPayload(token, reason)); err != nil {
			return 0, err
		}
	}
	return int64(len(closed)), nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	token, err := getToken(ctx, s.pool, sq.Eq{"t.id": tokenID})
	if err != nil {
		return models.Token{}, translateError(err)
	}
	return token, nil
}

func (s *Store) CurrentToken(ctx context.Context, employeeID string) (models.Token, bool, error) {
	token, err := getToken(ctx, s.pool, sq.Eq{"t.assigned_to": employeeID, "t.status": models.TokenServing})
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, translateError(err)
	}
	return token, true, nil
}

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]models.Token, error) {
	builder := tokenSelect()
	if filter.BranchID != "" {
		builder = builder.Where(sq.Eq{"t.branch_id": filter.BranchID})
	}
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"t.status": filter.Statuses})
	}
	if filter.ServiceID != "" {
		builder = builder.Where(sq.Eq{"t.service_id": filter.ServiceID})
	}
	if filter.DeskID != "" {
		builder = builder.Where(sq.Eq{"t.desk_id": filter.DeskID})
	}
	limit := filter.Limit
	if limit == 0 {
		limit = defaultTokenListLimit
	}
	query, args, err := builder.OrderBy("t.created_at ASC", "t.number ASC").Limit(limit).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	tokens := make([]models.Token, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Store) ListTokenEvents(ctx context.Context, tokenID string) ([]store.TokenEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, seq, type, payload, created_at, prev_hash, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY seq ASC
	`, tokenID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	events := make([]store.TokenEvent, 0)
	for rows.Next() {
		var event store.TokenEvent
		if err := rows.Scan(&event.TokenID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func insertTokenEvent(ctx context.Context, tx pgx.Tx, tokenID, eventType string, payload store.EventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tokenID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, tokenID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := nullStringValue(prevHash)
	// jsonb normalizes key order and spacing, so hash what will be read back
	var stored json.RawMessage
	if err := tx.QueryRow(ctx, `SELECT $1::jsonb`, body).Scan(&stored); err != nil {
		return err
	}
	// microsecond precision matches what timestamptz stores
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeTokenEventHash(prev, tokenID, eventType, stored, createdAt, nextSeq)

	_, err = tx.Exec(ctx, `
		INSERT INTO token_events (token_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tokenID, nextSeq, eventType, stored, createdAt, prev, hash)
	return err
}
