// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ошибки нарушения политик и отсутствия ресурсов. Инфраструктурные сбои
// хранилища возвращаются обёрнутыми pg-ошибками и с этими значениями
// не совпадают.
var (
	// ErrUserExists возвращается при попытке создать читателя с занятым логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если читатель не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserCannotBorrow возвращается, если читателю запрещена новая выдача.
	ErrUserCannotBorrow = errors.New("user cannot borrow")
	// ErrBookNotFound возвращается, если издание не найдено.
	ErrBookNotFound = errors.New("book not found")
	// ErrNoCopyAvailable возвращается, если свободных экземпляров не осталось.
	ErrNoCopyAvailable = errors.New("no copy available")
	// ErrCopyNotBorrowed возвращается при попытке перевести не выданный экземпляр.
	ErrCopyNotBorrowed = errors.New("copy is not borrowed")
	// ErrRecordNotFound возвращается, если запись о выдаче не найдена.
	ErrRecordNotFound = errors.New("borrow record not found")
	// ErrNotReturnable возвращается, если запись уже в терминальном статусе.
	ErrNotReturnable = errors.New("record is not returnable")
	// ErrNotBorrowed возвращается при попытке продлить запись не в статусе BORROWED.
	ErrNotBorrowed = errors.New("record is not borrowed")
	// ErrAlreadyExtended возвращается при повторной попытке продления.
	ErrAlreadyExtended = errors.New("record already extended")
	// ErrFineNotFound возвращается, если штраф не найден.
	ErrFineNotFound = errors.New("fine not found")
	// ErrFineAlreadyTerminal возвращается, если штраф уже оплачен, прощён или отменён.
	ErrFineAlreadyTerminal = errors.New("fine already terminal")
)

// Предельное время одной операции хранилища.
const storeOpTimeout = 5 * time.Second

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// boundedCtx ограничивает время одной операции хранилища.
func boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeOpTimeout)
}

// inTx выполняет fn в одной транзакции с ограниченным временем жизни.
// Откат при ошибке возвращает все уже применённые шаги логической операции.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, дедлоке или сетевом
// сбое. Ошибки политик и отмена контекста не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		var netErr net.Error
		if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}
