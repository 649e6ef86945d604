package postgres

import (
	"context"
	"errors"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func seriesSelect() sq.SelectBuilder {
	return psql.Select(
		"ts.id", "ts.branch_id", "ts.service_id", "COALESCE(s.name, '')", "ts.prefix", "ts.start_from", "ts.end_at",
		"ts.current_number", "ts.active", "ts.created_at", "ts.updated_at",
	).
		From("token_series ts").
		LeftJoin("services s ON s.id = ts.service_id")
}

func scanSeries(row scanner) (models.TokenSeries, error) {
	var series models.TokenSeries
	err := row.Scan(&series.ID, &series.BranchID, &series.ServiceID, &series.ServiceName, &series.Prefix, &series.StartFrom,
		&series.EndAt, &series.CurrentNumber, &series.Active, &series.CreatedAt, &series.UpdatedAt)
	return series, err
}

func loadSeries(ctx context.Context, q querier, where sq.Eq) (models.TokenSeries, error) {
	query, args, err := seriesSelect().Where(where).ToSql()
	if err != nil {
		return models.TokenSeries{}, err
	}
	series, err := scanSeries(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TokenSeries{}, store.ErrSeriesNotFound
		}
		return models.TokenSeries{}, translateError(err)
	}
	return series, nil
}

// incrementSeries advances a counter in a single conditional update, so
// concurrent callers serialize on the row and never share a value. It
// returns pgx.ErrNoRows when the series is missing, inactive or exhausted.
func incrementSeries(ctx context.Context, q querier, where sq.Eq) (store.IssuedNumber, error) {
	query, args, err := psql.Update("token_series").
		Set("current_number", sq.Expr("GREATEST(current_number + 1, start_from)")).
		Set("updated_at", sq.Expr("now()")).
		Where(where).
		Where("active").
		Where("GREATEST(current_number + 1, start_from) <= end_at").
		Suffix("RETURNING id, prefix, current_number, end_at").
		ToSql()
	if err != nil {
		return store.IssuedNumber{}, err
	}

	var issued store.IssuedNumber
	var prefix string
	var endAt int
	if err := q.QueryRow(ctx, query, args...).Scan(&issued.SeriesID, &prefix, &issued.Number, &endAt); err != nil {
		return store.IssuedNumber{}, err
	}
	issued.DisplayNumber = store.FormatDisplayNumber(prefix, issued.Number, endAt)
	return issued, nil
}

func (s *Store) NextNumber(ctx context.Context, seriesID string) (store.IssuedNumber, error) {
	var issued store.IssuedNumber
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		issued, err = incrementSeries(ctx, tx, sq.Eq{"id": seriesID})
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return translateError(err)
		}
		series, err := loadSeries(ctx, tx, sq.Eq{"ts.id": seriesID})
		if err != nil {
			return err
		}
		if _, err := store.NextNumber(series); err != nil {
			return err
		}
		return store.ErrRangeExhausted
	})
	return issued, err
}

func (s *Store) CreateSeries(ctx context.Context, input store.CreateSeriesInput) (models.TokenSeries, error) {
	prefix, err := store.NormalizePrefix(input.Prefix)
	if err != nil {
		return models.TokenSeries{}, err
	}
	if err := store.ValidateRange(input.StartFrom, input.EndAt); err != nil {
		return models.TokenSeries{}, err
	}

	var series models.TokenSeries
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		var branchID string
		if err := tx.QueryRow(ctx, `SELECT branch_id FROM services WHERE id = $1`, input.ServiceID).Scan(&branchID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrServiceNotFound
			}
			return translateError(err)
		}
		if branchID != input.BranchID {
			return store.ErrServiceNotFound
		}

		seriesID := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO token_series (id, branch_id, service_id, prefix, start_from, end_at, current_number, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, seriesID, input.BranchID, input.ServiceID, prefix, input.StartFrom, input.EndAt, store.ResetValue(input.StartFrom), input.Active); err != nil {
			return translateError(err)
		}
		var err error
		series, err = loadSeries(ctx, tx, sq.Eq{"ts.id": seriesID})
		return err
	})
	return series, err
}

func (s *Store) UpdateSeries(ctx context.Context, seriesID string, input store.UpdateSeriesInput) (models.TokenSeries, error) {
	var series models.TokenSeries
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		query, args, err := seriesSelect().Where(sq.Eq{"ts.id": seriesID}).Suffix("FOR UPDATE OF ts").ToSql()
		if err != nil {
			return err
		}
		current, err := scanSeries(tx.QueryRow(ctx, query, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrSeriesNotFound
			}
			return translateError(err)
		}

		next, err := applySeriesUpdate(current, input)
		if err != nil {
			return err
		}
		// numbers above the new counter are issued again, so none may still be open
		var reused int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM tokens
			WHERE series_id = $1 AND status IN ('PENDING', 'SERVING') AND number > $2
		`, seriesID, next.CurrentNumber).Scan(&reused); err != nil {
			return err
		}
		if reused > 0 {
			return store.ErrSeriesInUse
		}
		if _, err := tx.Exec(ctx, `
			UPDATE token_series
			SET prefix = $2, start_from = $3, end_at = $4, current_number = $5, active = $6, updated_at = now()
			WHERE id = $1
		`, seriesID, next.Prefix, next.StartFrom, next.EndAt, next.CurrentNumber, next.Active); err != nil {
			return translateError(err)
		}
		series, err = loadSeries(ctx, tx, sq.Eq{"ts.id": seriesID})
		return err
	})
	return series, err
}

// applySeriesUpdate merges optional edits into a series. A start_from raised
// above the counter pulls the counter along unless it is set explicitly.
func applySeriesUpdate(series models.TokenSeries, input store.UpdateSeriesInput) (models.TokenSeries, error) {
	if input.Prefix != nil {
		prefix, err := store.NormalizePrefix(*input.Prefix)
		if err != nil {
			return series, err
		}
		series.Prefix = prefix
	}
	if input.StartFrom != nil {
		series.StartFrom = *input.StartFrom
	}
	if input.EndAt != nil {
		series.EndAt = *input.EndAt
	}
	if input.Active != nil {
		series.Active = *input.Active
	}
	if err := store.ValidateRange(series.StartFrom, series.EndAt); err != nil {
		return series, err
	}
	if input.CurrentNumber != nil {
		series.CurrentNumber = *input.CurrentNumber
	} else if series.CurrentNumber < store.ResetValue(series.StartFrom) {
		series.CurrentNumber = store.ResetValue(series.StartFrom)
	}
	if err := store.ValidateCurrent(series.CurrentNumber, series.StartFrom, series.EndAt); err != nil {
		return series, err
	}
	return series, nil
}

func (s *Store) DeleteSeries(ctx context.Context, seriesID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM token_series WHERE id = $1 FOR UPDATE`, seriesID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrSeriesNotFound
			}
			return translateError(err)
		}
		var open int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM tokens WHERE series_id = $1 AND status IN ('PENDING', 'SERVING')
		`, seriesID).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return store.ErrSeriesInUse
		}
		_, err := tx.Exec(ctx, `DELETE FROM token_series WHERE id = $1`, seriesID)
		return err
	})
}

func (s *Store) GetSeries(ctx context.Context, seriesID string) (models.TokenSeries, error) {
	return loadSeries(ctx, s.pool, sq.Eq{"ts.id": seriesID})
}

func (s *Store) ListSeries(ctx context.Context, branchID string) ([]models.TokenSeries, error) {
	query, args, err := seriesSelect().Where(sq.Eq{"ts.branch_id": branchID}).OrderBy("ts.prefix ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	list := make([]models.TokenSeries, 0)
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, series)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
