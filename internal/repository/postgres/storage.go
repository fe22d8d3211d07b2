package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/devauth/internal/repository"
)

const DefaultTimeout = 3 * time.Second

// Common interface of pgxpool.Pool, pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db DBTX

	// Upper bound for every single repository call
	timeout time.Duration
}

func NewStorage(db DBTX, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Storage{db: db, timeout: timeout}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db, Timeout: s.timeout}
}

func (s *Storage) Session() repository.SessionRepo {
	return &SessionRepo{DB: s.db, Timeout: s.timeout}
}

// Run fn in transaction, commit if it succeeds
// Inside a transaction already (tests) pgx makes a savepoint
func inTx(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("db tx error: %w", err)
		}
	}()

	return fn(tx)
}

// Bound ctx with repository timeout. Zero timeout means the default one
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
