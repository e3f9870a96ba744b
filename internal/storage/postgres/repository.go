package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger/internal/core"
	"ledger/internal/log"
)

// SQLSTATE codes treated as retryable.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
)

// Repository is the PostgreSQL-backed ports.Store.
type Repository struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func NewRepository(ctx context.Context, databaseURL string, logger *log.Logger) (*Repository, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if logger == nil {
		logger = log.Discard()
	}
	return &Repository{pool: pool, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, fn); err != nil {
		return mapErr("transaction", err)
	}
	return nil
}

const accountColumns = `id, owner_id, name, type, balance_cents, is_default, created_at, updated_at`

func scanAccount(row pgx.Row) (core.Account, error) {
	var (
		a       core.Account
		typ     string
		balance int64
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &typ, &balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	a.Type = core.AccountType(typ)
	a.Balance = core.Money{Cents: balance}
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return a, err
}

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	var created core.Account
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		// Serialise first-account detection per owner.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.OwnerID); err != nil {
			return err
		}
		query := `
			INSERT INTO accounts (id, owner_id, name, type, balance_cents, is_default)
			VALUES ($1, $2, $3, $4, $5, NOT EXISTS (SELECT 1 FROM accounts WHERE owner_id = $2))
			RETURNING ` + accountColumns
		var err error
		created, err = scanAccount(tx.QueryRow(ctx, query, a.ID, a.OwnerID, a.Name, string(a.Type), a.Balance.Cents))
		return err
	})
	if err != nil {
		return core.Account{}, err
	}

	r.logger.InfoContext(ctx, "Account saved to Postgres",
		log.FieldAccountID, created.ID,
		log.FieldOwnerID, created.OwnerID,
		"is_default", created.IsDefault)
	return created, nil
}

func (r *Repository) GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND owner_id = $2`
	a, err := scanAccount(r.pool.QueryRow(ctx, query, accountID, ownerID))
	if err != nil {
		return core.Account{}, notFound(fmt.Sprintf("account %s", accountID), err)
	}
	return a, nil
}

func (r *Repository) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

const transactionColumns = `t.seq, t.id, t.owner_id, t.account_id, t.type, t.amount_cents, t.description,
	t.category, t.date, t.is_recurring, t.recurring_interval, t.next_occurrence,
	t.status, t.receipt_url, t.created_at, t.updated_at`

type transactionScan struct {
	t        core.Transaction
	typ      string
	amount   int64
	interval string
	status   string
}

func (s *transactionScan) dest() []any {
	return []any{
		&s.t.Seq, &s.t.ID, &s.t.OwnerID, &s.t.AccountID, &s.typ, &s.amount, &s.t.Description,
		&s.t.Category, &s.t.Date, &s.t.IsRecurring, &s.interval, &s.t.NextOccurrence,
		&s.status, &s.t.ReceiptURL, &s.t.CreatedAt, &s.t.UpdatedAt,
	}
}

func (s *transactionScan) result() core.Transaction {
	t := s.t
	t.Type = core.TransactionType(s.typ)
	t.Amount = core.Money{Cents: s.amount}
	t.Interval = core.RecurringInterval(s.interval)
	t.Status = core.TransactionStatus(s.status)
	t.Date = core.DateOnly(t.Date)
	if t.NextOccurrence != nil {
		next := core.DateOnly(*t.NextOccurrence)
		t.NextOccurrence = &next
	}
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return t
}

func applyAdjustment(ctx context.Context, tx pgx.Tx, ownerID string, adj core.BalanceAdjustment) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + $1, updated_at = NOW() WHERE id = $2 AND owner_id = $3`,
		adj.Delta.Cents, adj.AccountID, ownerID)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", adj.AccountID, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) InsertTransaction(ctx context.Context, t core.Transaction, adj core.BalanceAdjustment) (core.Transaction, error) {
	if adj.AccountID != t.AccountID {
		return core.Transaction{}, fmt.Errorf("%w: adjustment targets account %s, transaction references %s", core.ErrValidation, adj.AccountID, t.AccountID)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	var saved core.Transaction
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if err := applyAdjustment(ctx, tx, t.OwnerID, adj); err != nil {
			return err
		}
		query := `
			INSERT INTO transactions AS t (
				id, owner_id, account_id, type, amount_cents, description, category, date,
				is_recurring, recurring_interval, next_occurrence, status, receipt_url
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING ` + transactionColumns
		var s transactionScan
		if err := tx.QueryRow(ctx, query,
			t.ID, t.OwnerID, t.AccountID, string(t.Type), t.Amount.Cents, t.Description, t.Category, t.Date,
			t.IsRecurring, string(t.Interval), t.NextOccurrence, string(t.Status), t.ReceiptURL,
		).Scan(s.dest()...); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		saved = s.result()
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	r.logger.InfoContext(ctx, "Transaction saved to Postgres",
		log.FieldTxnID, saved.ID,
		log.FieldAccountID, saved.AccountID,
		log.FieldAmountCents, adj.Delta.Cents)
	return saved, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	var saved core.Transaction
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		// The row lock serializes concurrent updates of one transaction, so
		// the adjustments below always start from the committed amount.
		var locked transactionScan
		if err := tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1 AND t.owner_id = $2 FOR UPDATE`,
			t.ID, t.OwnerID).Scan(locked.dest()...); err != nil {
			return notFound(fmt.Sprintf("transaction %s", t.ID), err)
		}
		existing := locked.result()
		t.Status = existing.Status

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1 AND owner_id = $2)`,
			t.AccountID, t.OwnerID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("account %s: %w", t.AccountID, core.ErrNotFound)
		}

		// Lock accounts in a fixed order so concurrent transfers cannot deadlock.
		adjs := core.BalanceAdjustments(existing, t)
		sort.Slice(adjs, func(i, j int) bool { return adjs[i].AccountID < adjs[j].AccountID })
		for _, adj := range adjs {
			if err := applyAdjustment(ctx, tx, t.OwnerID, adj); err != nil {
				return err
			}
		}
		query := `
			UPDATE transactions AS t SET
				account_id = $1, type = $2, amount_cents = $3, description = $4, category = $5, date = $6,
				is_recurring = $7, recurring_interval = $8, next_occurrence = $9, status = $10,
				receipt_url = $11, updated_at = NOW()
			WHERE t.id = $12 AND t.owner_id = $13
			RETURNING ` + transactionColumns
		var s transactionScan
		err := tx.QueryRow(ctx, query,
			t.AccountID, string(t.Type), t.Amount.Cents, t.Description, t.Category, t.Date,
			t.IsRecurring, string(t.Interval), t.NextOccurrence, string(t.Status), t.ReceiptURL,
			t.ID, t.OwnerID,
		).Scan(s.dest()...)
		if err != nil {
			return notFound(fmt.Sprintf("transaction %s", t.ID), err)
		}
		saved = s.result()
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return saved, nil
}

func (r *Repository) GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = $1 AND t.owner_id = $2`
	var s transactionScan
	if err := r.pool.QueryRow(ctx, query, id, ownerID).Scan(s.dest()...); err != nil {
		return core.Transaction{}, notFound(fmt.Sprintf("transaction %s", id), err)
	}
	return s.result(), nil
}

func (r *Repository) ListTransactions(ctx context.Context, ownerID string, filter core.TransactionFilter) ([]core.TransactionWithAccount, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + `,
		a.id, a.owner_id, a.name, a.type, a.balance_cents, a.is_default, a.created_at, a.updated_at
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.owner_id = $1`)
	args := []any{ownerID}
	arg := func(clause string, v any) {
		args = append(args, v)
		b.WriteString(" AND " + clause + " $" + strconv.Itoa(len(args)))
	}
	if filter.AccountID != "" {
		arg("t.account_id =", filter.AccountID)
	}
	if filter.Type != "" {
		arg("t.type =", string(filter.Type))
	}
	if !filter.From.IsZero() {
		arg("t.date >=", filter.From)
	}
	if !filter.To.IsZero() {
		arg("t.date <=", filter.To)
	}
	b.WriteString(` ORDER BY t.date DESC, t.seq DESC`)

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionWithAccount
	for rows.Next() {
		var (
			s       transactionScan
			a       core.Account
			typ     string
			balance int64
		)
		dest := append(s.dest(), &a.ID, &a.OwnerID, &a.Name, &typ, &balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		a.Type = core.AccountType(typ)
		a.Balance = core.Money{Cents: balance}
		out = append(out, core.TransactionWithAccount{Transaction: s.result(), Account: a})
	}
	return out, rows.Err()
}

const budgetColumns = `id, owner_id, limit_cents, last_alert_sent, last_alert_percentage, alert_version, created_at, updated_at`

func scanBudget(row pgx.Row) (core.Budget, error) {
	var (
		b     core.Budget
		limit int64
	)
	err := row.Scan(&b.ID, &b.OwnerID, &limit, &b.LastAlertSent, &b.LastAlertPercentage, &b.AlertVersion, &b.CreatedAt, &b.UpdatedAt)
	b.Limit = core.Money{Cents: limit}
	if b.LastAlertSent != nil {
		sent := b.LastAlertSent.UTC()
		b.LastAlertSent = &sent
	}
	return b, err
}

func (r *Repository) UpsertBudget(ctx context.Context, ownerID string, limit core.Money) (core.Budget, error) {
	query := `
		INSERT INTO budgets (id, owner_id, limit_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE SET limit_cents = EXCLUDED.limit_cents, updated_at = NOW()
		RETURNING ` + budgetColumns
	b, err := scanBudget(r.pool.QueryRow(ctx, query, uuid.NewString(), ownerID, limit.Cents))
	if err != nil {
		return core.Budget{}, mapErr("upsert budget", err)
	}
	return b, nil
}

func (r *Repository) GetBudget(ctx context.Context, ownerID string) (core.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE owner_id = $1`
	b, err := scanBudget(r.pool.QueryRow(ctx, query, ownerID))
	if err != nil {
		return core.Budget{}, notFound(fmt.Sprintf("budget for owner %s", ownerID), err)
	}
	return b, nil
}

func (r *Repository) SumExpensesSince(ctx context.Context, ownerID string, since time.Time) (core.Money, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0)::BIGINT FROM transactions WHERE owner_id = $1 AND type = 'EXPENSE' AND date >= $2`,
		ownerID, core.DateOnly(since)).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: total}, nil
}

func (r *Repository) RecordBudgetAlert(ctx context.Context, budgetID string, expectedVersion int64, threshold int, sentAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE budgets
		SET last_alert_sent = $1, last_alert_percentage = $2, alert_version = alert_version + 1, updated_at = NOW()
		WHERE id = $3 AND alert_version = $4`,
		sentAt.UTC(), threshold, budgetID, expectedVersion)
	if err != nil {
		return false, mapErr("record budget alert", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM budgets WHERE id = $1)`, budgetID).Scan(&exists); err != nil {
		return false, mapErr("check budget", err)
	}
	if !exists {
		return false, fmt.Errorf("budget %s: %w", budgetID, core.ErrNotFound)
	}
	return false, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return mapErr(what, err)
}

func mapErr(op string, err error) error {
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrStorageConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case serializationFailure, deadlockDetected, lockNotAvailable:
			return fmt.Errorf("%s: %w: %s", op, core.ErrStorageConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
