package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"obgateway/internal/store/repositories"
)

// Store is the Postgres Resource Store. Repositories obtained from it run on
// the pool; those obtained from a Transaction run on the pgx.Tx.
type Store struct {
	db *pgxpool.Pool
	repos
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, repos: newRepos(db)}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *pgxpool.Pool { return s.db }

// Begin starts a new transaction
func (s *Store) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &transaction{tx: tx, repos: newRepos(tx)}, nil
}

type repos struct {
	db dbtx
}

func newRepos(db dbtx) repos { return repos{db: db} }

func (r repos) Consents() repositories.ConsentRepository { return NewConsentRepository(r.db) }
func (r repos) AuthRequests() repositories.AuthRequestRepository {
	return NewAuthRequestRepository(r.db)
}
func (r repos) Grants() repositories.GrantRepository     { return NewGrantRepository(r.db) }
func (r repos) Payments() repositories.PaymentRepository { return NewPaymentRepository(r.db) }
func (r repos) Funds() repositories.FundsRepository      { return NewFundsRepository(r.db) }
func (r repos) Partnerships() repositories.PartnershipRepository {
	return NewPartnershipRepository(r.db)
}
func (r repos) Schedules() repositories.ScheduleRepository   { return NewScheduleRepository(r.db) }
func (r repos) Executions() repositories.ExecutionRepository { return NewExecutionRepository(r.db) }

// transaction implements Transaction interface
type transaction struct {
	tx pgx.Tx
	repos
}

func (t *transaction) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "commit tx")
}

// Rollback ignores pgx.ErrTxClosed so it can be deferred after Commit.
func (t *transaction) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Wrap(err, "rollback tx")
	}
	return nil
}
