// Package base содержит общую обвязку репозиториев над pgx: единый
// интерфейс исполнителя запросов для пула и транзакции.
package base

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier исполнитель запросов. Ему удовлетворяют и *pgxpool.Pool,
// и pgx.Tx, поэтому один и тот же код репозитория работает как внутри
// транзакции, так и вне её.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx открытая транзакция
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB точка входа в хранилище: запросы вне транзакции и открытие транзакций
type DB interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
}

// PoolDB адаптер pgxpool.Pool под интерфейс DB
type PoolDB struct {
	*pgxpool.Pool
}

// NewDB оборачивает пул соединений
func NewDB(pool *pgxpool.Pool) PoolDB {
	return PoolDB{Pool: pool}
}

// Begin открывает транзакцию; pgx.Tx удовлетворяет base.Tx
func (p PoolDB) Begin(ctx context.Context) (Tx, error) {
	return p.Pool.Begin(ctx)
}

// IsNotFound проверяет является ли ошибка "строка не найдена"
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation проверяет нарушение уникального индекса
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
