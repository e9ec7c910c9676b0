package postgres

import (
	"context"
	_ "embed"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

//go:embed schema.sql
var schema string

// MustOpen connects to Postgres, retrying the first ping while the database comes up.
func MustOpen(ctx context.Context, dsn string) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect fail")
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("db ping fail")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		log.Fatal().Err(err).Msg("db ping fail")
	}
	return pool
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// translate maps driver errors onto the repository sentinels.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repositories.ErrDuplicate
	}
	return errors.Wrap(err, op)
}

// casMiss tells a missing row apart from a stale version after an update touched nothing.
func casMiss(ctx context.Context, db dbtx, table, idColumn, id string) error {
	var one int
	err := db.QueryRow(ctx, `SELECT 1 FROM `+table+` WHERE `+idColumn+` = $1`, id).Scan(&one)
	if err != nil {
		return translate(err, "check "+table)
	}
	return repositories.ErrVersionConflict
}

// where accumulates positional filter conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, replaceArg(cond, len(w.args)))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// replaceArg substitutes the single "?" in cond with $n.
func replaceArg(cond string, n int) string {
	return strings.Replace(cond, "?", "$"+strconv.Itoa(n), 1)
}

// after narrows w to the rows following the request's After cursor, so the
// count covers only what the client has not walked past yet.
func (w *where) after(timeCol, idCol string, page pagination.Request) {
	if page.After == nil {
		return
	}
	w.args = append(w.args, page.After.At, page.After.ID)
	w.conds = append(w.conds, keyset(timeCol, idCol, ">", len(w.args)))
}

// paged appends the (time, id) listing order and the page bounds. A Before
// cursor reads backwards from it; restore the order with forward.
func (w *where) paged(timeCol, idCol string, page pagination.Request) (string, []any) {
	cp := where{conds: append([]string(nil), w.conds...), args: append([]any(nil), w.args...)}
	order := timeCol + ", " + idCol
	if page.Before != nil {
		cp.args = append(cp.args, page.Before.At, page.Before.ID)
		cp.conds = append(cp.conds, keyset(timeCol, idCol, "<", len(cp.args)))
		order = timeCol + " DESC, " + idCol + " DESC"
	}
	args := append(cp.args, page.PageSize, page.Offset())
	n := len(args)
	return cp.sql() + " ORDER BY " + order + " LIMIT $" + strconv.Itoa(n-1) + " OFFSET $" + strconv.Itoa(n), args
}

// keyset compares the row position with the cursor held in the last two args.
func keyset(timeCol, idCol, op string, n int) string {
	return "(" + timeCol + ", " + idCol + ") " + op + " ($" + strconv.Itoa(n-1) + ", $" + strconv.Itoa(n) + ")"
}

func forward[T any](items []T, page pagination.Request) []T {
	if page.Before != nil {
		slices.Reverse(items)
	}
	return items
}
