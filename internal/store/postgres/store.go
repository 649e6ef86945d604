package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/token-service/internal/store"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type Store struct {
	pool       *pgxpool.Pool
	bcryptCost int
}

type Options struct {
	BcryptCost int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	cost := options.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Store{pool: pool, bcryptCost: cost}
}

var _ store.Store = (*Store)(nil)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// translateError maps constraint violations onto the store error taxonomy.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "token_series_branch_id_service_id_key":
			return fmt.Errorf("%w: service already has a series", store.ErrDuplicateSeries)
		case "token_series_prefix_idx":
			return fmt.Errorf("%w: prefix already used in branch", store.ErrDuplicateSeries)
		case "users_email_key":
			return fmt.Errorf("%w: email already registered", store.ErrConflict)
		case "tokens_open_number_idx":
			return fmt.Errorf("%w: token number is still open in this series", store.ErrConflict)
		case "tokens_one_serving_idx":
			return fmt.Errorf("%w: employee is already serving a token", store.ErrConflict)
		}
		return fmt.Errorf("%w: record already exists", store.ErrConflict)
	case "23503":
		return store.Invalid("referenced record does not exist")
	case "23514":
		return store.Invalid("value violates %s", pgErr.ConstraintName)
	case "22P02":
		return store.Invalid("malformed identifier")
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullStringValue(value sql.NullString) string {
	if !value.Valid {
		return ""
	}
	return value.String
}

func uniqueIDs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
