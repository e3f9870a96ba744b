package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ledger/internal/core"
	"ledger/internal/log"
)

const timestampLayout = time.RFC3339Nano

// Repository is the SQLite-backed ports.Store.
type Repository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
	now     func() time.Time
}

// dsn opens write transactions with BEGIN IMMEDIATE so concurrent writers
// queue on the database lock instead of failing at commit.
func dsn(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func NewRepository(dbPath string, logger *log.Logger) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations first so the pool never sees a half-built schema.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = log.Discard()
	}

	return &Repository{
		db:      db,
		queries: New(db),
		logger:  logger.WithComponent(log.ComponentStorage),
		now:     time.Now,
	}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn inside one transaction and maps lock contention to core.ErrStorageConflict.
func (r *Repository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return mapErr("transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.CountAccountsByOwner(ctx, a.OwnerID)
		if err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		a.IsDefault = n == 0
		return q.CreateAccount(ctx, toAccountRow(a))
	})
	if err != nil {
		return core.Account{}, err
	}

	r.logger.InfoContext(ctx, "Account saved to SQLite",
		log.FieldAccountID, a.ID,
		log.FieldOwnerID, a.OwnerID,
		"is_default", a.IsDefault)
	return a, nil
}

func (r *Repository) GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error) {
	row, err := r.queries.GetAccount(ctx, accountID, ownerID)
	if err != nil {
		return core.Account{}, notFound(fmt.Sprintf("account %s", accountID), err)
	}
	return fromAccountRow(row)
}

func (r *Repository) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := r.queries.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]core.Account, 0, len(rows))
	for _, row := range rows {
		a, err := fromAccountRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, t core.Transaction, adj core.BalanceAdjustment) (core.Transaction, error) {
	if adj.AccountID != t.AccountID {
		return core.Transaction{}, fmt.Errorf("%w: adjustment targets account %s, transaction references %s", core.ErrValidation, adj.AccountID, t.AccountID)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	err := r.withTx(ctx, func(q *Queries) error {
		// The balance update doubles as the ownership check.
		if err := applyAdjustment(ctx, q, t.OwnerID, adj, now); err != nil {
			return err
		}
		seq, err := q.InsertTransaction(ctx, toTransactionRow(t))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		t.Seq = seq
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	r.logger.InfoContext(ctx, "Transaction saved to SQLite",
		log.FieldTxnID, t.ID,
		log.FieldAccountID, t.AccountID,
		log.FieldAmountCents, adj.Delta.Cents)
	return t, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := r.now().UTC()
	t.UpdatedAt = now

	var adjs []core.BalanceAdjustment
	err := r.withTx(ctx, func(q *Queries) error {
		row, err := q.GetTransaction(ctx, t.ID, t.OwnerID)
		if err != nil {
			return notFound(fmt.Sprintf("transaction %s", t.ID), err)
		}
		existing, err := fromTransactionRow(row)
		if err != nil {
			return err
		}
		if _, err := q.GetAccount(ctx, t.AccountID, t.OwnerID); err != nil {
			return notFound(fmt.Sprintf("account %s", t.AccountID), err)
		}
		t.Seq = existing.Seq
		t.Status = existing.Status
		t.CreatedAt = existing.CreatedAt

		adjs = core.BalanceAdjustments(existing, t)
		for _, adj := range adjs {
			if err := applyAdjustment(ctx, q, t.OwnerID, adj, now); err != nil {
				return err
			}
		}
		if _, err := q.UpdateTransaction(ctx, toTransactionRow(t)); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	r.logger.InfoContext(ctx, "Transaction updated in SQLite",
		log.FieldTxnID, t.ID,
		log.FieldAccountID, t.AccountID,
		"adjustments", len(adjs))
	return t, nil
}

func (r *Repository) GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id, ownerID)
	if err != nil {
		return core.Transaction{}, notFound(fmt.Sprintf("transaction %s", id), err)
	}
	return fromTransactionRow(row)
}

func (r *Repository) ListTransactions(ctx context.Context, ownerID string, filter core.TransactionFilter) ([]core.TransactionWithAccount, error) {
	p := listTransactionsParams{
		OwnerID:   ownerID,
		AccountID: filter.AccountID,
		Type:      string(filter.Type),
	}
	if !filter.From.IsZero() {
		p.From = filter.From.Format(core.DateLayout)
	}
	if !filter.To.IsZero() {
		p.To = filter.To.Format(core.DateLayout)
	}

	rows, err := r.queries.ListTransactions(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.TransactionWithAccount, 0, len(rows))
	for _, row := range rows {
		t, err := fromTransactionRow(row.transactionRow)
		if err != nil {
			return nil, err
		}
		a, err := fromAccountRow(row.Account)
		if err != nil {
			return nil, err
		}
		out = append(out, core.TransactionWithAccount{Transaction: t, Account: a})
	}
	return out, nil
}

func (r *Repository) UpsertBudget(ctx context.Context, ownerID string, limit core.Money) (core.Budget, error) {
	now := formatTimestamp(r.now())
	var b core.Budget
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.UpsertBudget(ctx, uuid.NewString(), ownerID, limit.Cents, now); err != nil {
			return fmt.Errorf("upsert budget: %w", err)
		}
		row, err := q.GetBudgetByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("reload budget: %w", err)
		}
		b, err = fromBudgetRow(row)
		return err
	})
	if err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func (r *Repository) GetBudget(ctx context.Context, ownerID string) (core.Budget, error) {
	row, err := r.queries.GetBudgetByOwner(ctx, ownerID)
	if err != nil {
		return core.Budget{}, notFound(fmt.Sprintf("budget for owner %s", ownerID), err)
	}
	return fromBudgetRow(row)
}

func (r *Repository) SumExpensesSince(ctx context.Context, ownerID string, since time.Time) (core.Money, error) {
	total, err := r.queries.SumExpensesSince(ctx, ownerID, since.UTC().Format(core.DateLayout))
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: total}, nil
}

func (r *Repository) RecordBudgetAlert(ctx context.Context, budgetID string, expectedVersion int64, threshold int, sentAt time.Time) (bool, error) {
	var updated bool
	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.RecordBudgetAlert(ctx, budgetID, expectedVersion, threshold, formatTimestamp(sentAt), formatTimestamp(r.now()))
		if err != nil {
			return fmt.Errorf("record budget alert: %w", err)
		}
		if n == 1 {
			updated = true
			return nil
		}
		exists, err := q.BudgetExists(ctx, budgetID)
		if err != nil {
			return fmt.Errorf("check budget: %w", err)
		}
		if !exists {
			return fmt.Errorf("budget %s: %w", budgetID, core.ErrNotFound)
		}
		return nil
	})
	return updated, err
}

func applyAdjustment(ctx context.Context, q *Queries, ownerID string, adj core.BalanceAdjustment, now time.Time) error {
	n, err := q.AdjustBalance(ctx, adj.AccountID, ownerID, adj.Delta.Cents, formatTimestamp(now))
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", adj.AccountID, core.ErrNotFound)
	}
	return nil
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return mapErr(what, err)
}

// mapErr classifies SQLite lock contention as a retryable conflict.
func mapErr(op string, err error) error {
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrStorageConflict) {
		return err
	}
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, core.ErrStorageConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
