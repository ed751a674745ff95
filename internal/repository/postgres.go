// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/ankudinov/miniapp-billing/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrIntentNotFound возвращается, если намерение оплаты по заказу не найдено.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrDepositExists возвращается при попытке повторного зачисления по тому же
	// заказу или платежу. Для вызывающего кода это признак успешно завершённой
	// ранее операции, а не ошибка.
	ErrDepositExists = errors.New("deposit already recorded")
)

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

// withRetry повторяет операцию при взаимоблокировках, сбоях сериализации и
// сетевых ошибках. Повтор зачисления безопасен: проверка идемпотентности
// превращает повторную попытку в ErrDepositExists.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
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

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetUserByID возвращает пользователя по каноническому идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, telegram_id, username, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetOrCreateUserByTelegramID возвращает пользователя по идентификатору чата,
// создавая запись при её отсутствии. Подтверждённый платёж не должен теряться
// из-за отсутствия пользователя.
func (r *PostgresRepository) GetOrCreateUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	username := fmt.Sprintf("tg_%d", telegramID)

	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, telegram_id, username) VALUES ($1, $2, $3)
		 ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
		 RETURNING id, telegram_id, username, created_at`,
		uuid.New(), telegramID, username,
	)

	var u model.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	return &u, nil
}

// intentMetadata — подсказки идентичности, сохраняемые вместе с намерением оплаты.
type intentMetadata struct {
	TelegramID  *int64 `json:"telegram_id,omitempty"`
	Description string `json:"description,omitempty"`
	Recurrent   bool   `json:"recurrent,omitempty"`
}

// CreatePendingIntent сохраняет строку pending_init журнала. Строка никогда
// не изменяется и не участвует в проверке идемпотентности зачислений.
func (r *PostgresRepository) CreatePendingIntent(ctx context.Context, intent model.Intent, description string, recurrent bool) error {
	meta, err := json.Marshal(intentMetadata{
		TelegramID:  intent.TelegramID,
		Description: description,
		Recurrent:   recurrent,
	})
	if err != nil {
		return fmt.Errorf("marshal intent metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO ledger (user_id, amount, kind, order_id, payment_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		intent.UserID, intent.Amount, string(model.EntryKindPendingInit), intent.OrderID, intent.PaymentID, meta,
	)
	if err != nil {
		return fmt.Errorf("insert pending intent: %w", err)
	}

	return nil
}

// GetIntentByOrderID возвращает намерение оплаты по идентификатору заказа.
func (r *PostgresRepository) GetIntentByOrderID(ctx context.Context, orderID string) (*model.Intent, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, amount, order_id, payment_id, metadata, created_at
		 FROM ledger
		 WHERE kind = $1 AND order_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		string(model.EntryKindPendingInit), orderID,
	)

	var (
		intent model.Intent
		meta   []byte
	)
	err := row.Scan(&intent.UserID, &intent.Amount, &intent.OrderID, &intent.PaymentID, &meta, &intent.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}

	var parsed intentMetadata
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &parsed); err == nil {
			intent.TelegramID = parsed.TelegramID
		}
	}

	return &intent, nil
}

// CreateDeposit зачисляет кредиты пользователю ровно один раз на заказ/платёж.
// Вставка строки журнала и обновление снимка баланса выполняются в одной
// транзакции; гонка двух одновременных доставок разрешается частичными
// уникальными индексами на deposit-строках, а не проверкой в коде.
// Возвращает новый баланс пользователя.
func (r *PostgresRepository) CreateDeposit(ctx context.Context, userID uuid.UUID, credits int64, orderID, paymentID string, rawEvent []byte) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		var txErr error
		newBalance, txErr = r.createDepositTx(ctx, userID, credits, orderID, paymentID, rawEvent)
		return txErr
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (r *PostgresRepository) createDepositTx(ctx context.Context, userID uuid.UUID, credits int64, orderID, paymentID string, rawEvent []byte) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Проверка покрывает оба идентификатора: на разных точках входа может
	// быть известен только один из них. Строки pending_init не учитываются.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM ledger
			WHERE kind = $1
			  AND ((order_id <> '' AND order_id = $2) OR (payment_id <> '' AND payment_id = $3))
		 )`,
		string(model.EntryKindDeposit), orderID, paymentID,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check deposit: %w", err)
	}
	if exists {
		return 0, ErrDepositExists
	}

	if len(rawEvent) == 0 {
		rawEvent = []byte("{}")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger (user_id, amount, kind, order_id, payment_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, credits, string(model.EntryKindDeposit), orderID, paymentID, rawEvent,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// Параллельная доставка успела закоммитить зачисление первой.
			return 0, ErrDepositExists
		}
		return 0, fmt.Errorf("insert deposit: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`INSERT INTO balances (user_id, current) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET current = balances.current + EXCLUDED.current, updated_at = now()
		 RETURNING current`,
		userID, credits,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("upsert balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return balance, nil
}

// GetBalance возвращает текущий баланс пользователя в кредитах.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var current int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT current FROM balances WHERE user_id = $1),
			0
		 )`,
		userID,
	).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return current, nil
}

// GetLedgerByUser возвращает историю операций пользователя, без строк pending_init.
func (r *PostgresRepository) GetLedgerByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, order_id, payment_id, metadata, created_at
		 FROM ledger
		 WHERE user_id = $1 AND kind <> $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		userID, string(model.EntryKindPendingInit), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &e.OrderID, &e.PaymentID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
