// Package repository содержит реализацию доступа к данным экономики и метрик в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/crajybot/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Tx описывает операции над заблокированными строками внутри одной транзакции.
// Счёт создаётся лениво при первом обращении.
type Tx interface {
	Account(ctx context.Context, userID int64) (*model.Account, error)
	// AccountPair блокирует два счёта в порядке возрастания идентификаторов и возвращает их в порядке аргументов.
	AccountPair(ctx context.Context, first, second int64) (*model.Account, *model.Account, error)
	SaveAccount(ctx context.Context, a *model.Account) error

	ShopItem(ctx context.Context, name string) (*model.ShopItem, error)
	SaveShopItem(ctx context.Context, item *model.ShopItem) error

	// Loan возвращает nil без ошибки, если активного кредита нет.
	Loan(ctx context.Context, userID int64) (*model.Loan, error)
	SaveLoan(ctx context.Context, l *model.Loan) error
	DeleteLoan(ctx context.Context, userID int64) error
}

// NormalizeItemName приводит название товара к ключу магазина и инвентаря.
func NormalizeItemName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

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

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

func withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
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

// InTx выполняет fn в транзакции, повторяя её при конфликте сериализации или дедлоке.
// Ошибка fn откатывает транзакцию и возвращается как есть.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func ensureAccount(ctx context.Context, q queryer, userID int64) error {
	_, err := q.Exec(ctx,
		`INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	if err := row.Scan(&a.UserID, &a.Cash, &a.Bank, &a.Debt, &a.Inventory); err != nil {
		return nil, err
	}
	if a.Inventory == nil {
		a.Inventory = map[string]int64{}
	}
	return &a, nil
}

// GetAccount возвращает счёт пользователя, создавая его при первом обращении.
func (r *PostgresRepository) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if err := ensureAccount(ctx, r.pool, userID); err != nil {
		return nil, err
	}

	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT user_id, cash, bank, debt, inventory FROM accounts WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListAccounts возвращает все счета.
func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, cash, bank, debt, inventory FROM accounts ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var res []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanShopItem(row pgx.Row) (*model.ShopItem, error) {
	var item model.ShopItem
	if err := row.Scan(&item.Name, &item.Price, &item.Stock, &item.Role); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListShopItems возвращает ассортимент магазина.
func (r *PostgresRepository) ListShopItems(ctx context.Context) ([]model.ShopItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, price, stock, role FROM shop_items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select shop items: %w", err)
	}
	defer rows.Close()

	var res []model.ShopItem
	for rows.Next() {
		item, err := scanShopItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shop item: %w", err)
		}
		res = append(res, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpsertShopItem создаёт или заменяет товар магазина.
func (r *PostgresRepository) UpsertShopItem(ctx context.Context, item model.ShopItem) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO shop_items (name, price, stock, role) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET price = EXCLUDED.price, stock = EXCLUDED.stock, role = EXCLUDED.role`,
		NormalizeItemName(item.Name), item.Price, item.Stock, item.Role,
	)
	if err != nil {
		return fmt.Errorf("upsert shop item: %w", err)
	}
	return nil
}

const loanColumns = `user_id, amount, taken_at, remind_at, default_at, reminded`

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var l model.Loan
	if err := row.Scan(&l.UserID, &l.Amount, &l.TakenAt, &l.RemindAt, &l.DefaultAt, &l.Reminded); err != nil {
		return nil, err
	}
	return &l, nil
}

// DueLoans возвращает кредиты, у которых наступил срок напоминания или дефолта.
func (r *PostgresRepository) DueLoans(ctx context.Context, now time.Time) ([]model.Loan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+loanColumns+`
		 FROM loans
		 WHERE (NOT reminded AND remind_at <= $1) OR default_at <= $1
		 ORDER BY remind_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select due loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// InsertSnapshot сохраняет снимок метрик в указанную коллекцию.
func (r *PostgresRepository) InsertSnapshot(ctx context.Context, coll model.Collection, s model.Snapshot) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO metrics_snapshots (collection, taken_at, author_counts, channel_counts) VALUES ($1, $2, $3, $4)`,
		string(coll), s.TakenAt, s.AuthorCounts, s.ChannelCounts,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// FindSnapshots возвращает снимки с taken_at >= since по возрастанию времени. limit <= 0 снимает ограничение.
func (r *PostgresRepository) FindSnapshots(ctx context.Context, coll model.Collection, since time.Time, limit int) ([]model.Snapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT taken_at, author_counts, channel_counts
		 FROM metrics_snapshots
		 WHERE collection = $1 AND taken_at >= $2
		 ORDER BY taken_at
		 LIMIT NULLIF($3, 0)`,
		string(coll), since, max(limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer rows.Close()

	var res []model.Snapshot
	for rows.Next() {
		var s model.Snapshot
		if err := rows.Scan(&s.TakenAt, &s.AuthorCounts, &s.ChannelCounts); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CopySnapshots копирует все снимки из одной коллекции в другую.
func (r *PostgresRepository) CopySnapshots(ctx context.Context, from, to model.Collection) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO metrics_snapshots (collection, taken_at, author_counts, channel_counts)
		 SELECT $2, taken_at, author_counts, channel_counts FROM metrics_snapshots WHERE collection = $1`,
		string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("copy snapshots: %w", err)
	}
	return nil
}

// DeleteSnapshots удаляет все снимки коллекции.
func (r *PostgresRepository) DeleteSnapshots(ctx context.Context, coll model.Collection) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM metrics_snapshots WHERE collection = $1`, string(coll))
	if err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) lockAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if err := ensureAccount(ctx, t.tx, userID); err != nil {
		return nil, err
	}

	// Блокируем строку счёта до конца транзакции, чтобы параллельные команды не теряли обновления.
	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT user_id, cash, bank, debt, inventory FROM accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
	if err != nil {
		return nil, fmt.Errorf("lock account for update: %w", err)
	}
	return a, nil
}

func (t *pgTx) Account(ctx context.Context, userID int64) (*model.Account, error) {
	return t.lockAccount(ctx, userID)
}

func (t *pgTx) AccountPair(ctx context.Context, first, second int64) (*model.Account, *model.Account, error) {
	if first == second {
		return nil, nil, model.ErrSameAccount
	}

	ids := []int64{first, second}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked := make(map[int64]*model.Account, 2)
	for _, id := range ids {
		a, err := t.lockAccount(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = a
	}

	return locked[first], locked[second], nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *model.Account) error {
	inv := a.Inventory
	if inv == nil {
		inv = map[string]int64{}
	}

	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET cash = $2, bank = $3, debt = $4, inventory = $5 WHERE user_id = $1`,
		a.UserID, a.Cash, a.Bank, a.Debt, inv,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (t *pgTx) ShopItem(ctx context.Context, name string) (*model.ShopItem, error) {
	item, err := scanShopItem(t.tx.QueryRow(ctx,
		`SELECT name, price, stock, role FROM shop_items WHERE name = $1 FOR UPDATE`,
		NormalizeItemName(name),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrItemNotFound, name)
		}
		return nil, fmt.Errorf("lock shop item: %w", err)
	}
	return item, nil
}

func (t *pgTx) SaveShopItem(ctx context.Context, item *model.ShopItem) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE shop_items SET price = $2, stock = $3, role = $4 WHERE name = $1`,
		item.Name, item.Price, item.Stock, item.Role,
	)
	if err != nil {
		return fmt.Errorf("update shop item: %w", err)
	}
	return nil
}

func (t *pgTx) Loan(ctx context.Context, userID int64) (*model.Loan, error) {
	l, err := scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select loan: %w", err)
	}
	return l, nil
}

func (t *pgTx) SaveLoan(ctx context.Context, l *model.Loan) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   amount = EXCLUDED.amount,
		   taken_at = EXCLUDED.taken_at,
		   remind_at = EXCLUDED.remind_at,
		   default_at = EXCLUDED.default_at,
		   reminded = EXCLUDED.reminded`,
		l.UserID, l.Amount, l.TakenAt, l.RemindAt, l.DefaultAt, l.Reminded,
	)
	if err != nil {
		return fmt.Errorf("save loan: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteLoan(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM loans WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	return nil
}
