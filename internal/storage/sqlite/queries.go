package sqlite

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type accountRow struct {
	ID           string
	OwnerID      string
	Name         string
	Type         string
	BalanceCents int64
	IsDefault    bool
	CreatedAt    string
	UpdatedAt    string
}

const accountColumns = `id, owner_id, name, type, balance_cents, is_default, created_at, updated_at`

const createAccount = `INSERT INTO accounts (` + accountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateAccount(ctx context.Context, a accountRow) error {
	_, err := q.db.ExecContext(ctx, createAccount,
		a.ID, a.OwnerID, a.Name, a.Type, a.BalanceCents, a.IsDefault, a.CreatedAt, a.UpdatedAt)
	return err
}

const countAccountsByOwner = `SELECT COUNT(*) FROM accounts WHERE owner_id = ?`

func (q *Queries) CountAccountsByOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countAccountsByOwner, ownerID).Scan(&n)
	return n, err
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ? AND owner_id = ?`

func (q *Queries) GetAccount(ctx context.Context, id, ownerID string) (accountRow, error) {
	var a accountRow
	err := q.db.QueryRowContext(ctx, getAccount, id, ownerID).Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.BalanceCents, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

const listAccounts = `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = ? ORDER BY created_at ASC, id ASC`

func (q *Queries) ListAccounts(ctx context.Context, ownerID string) ([]accountRow, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []accountRow
	for rows.Next() {
		var a accountRow
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.BalanceCents, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const adjustBalance = `UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? AND owner_id = ?`

// AdjustBalance increments the stored balance and reports the affected row count.
func (q *Queries) AdjustBalance(ctx context.Context, accountID, ownerID string, delta int64, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, adjustBalance, delta, updatedAt, accountID, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type transactionRow struct {
	Seq               int64
	ID                string
	OwnerID           string
	AccountID         string
	Type              string
	AmountCents       int64
	Description       string
	Category          string
	Date              string
	IsRecurring       bool
	RecurringInterval string
	NextOccurrence    sql.NullString
	Status            string
	ReceiptURL        string
	CreatedAt         string
	UpdatedAt         string
}

func (t *transactionRow) scanDest() []interface{} {
	return []interface{}{
		&t.Seq, &t.ID, &t.OwnerID, &t.AccountID, &t.Type, &t.AmountCents, &t.Description,
		&t.Category, &t.Date, &t.IsRecurring, &t.RecurringInterval, &t.NextOccurrence,
		&t.Status, &t.ReceiptURL, &t.CreatedAt, &t.UpdatedAt,
	}
}

const transactionColumns = `t.seq, t.id, t.owner_id, t.account_id, t.type, t.amount_cents, t.description,
	t.category, t.date, t.is_recurring, t.recurring_interval, t.next_occurrence,
	t.status, t.receipt_url, t.created_at, t.updated_at`

const insertTransaction = `INSERT INTO transactions (
	id, owner_id, account_id, type, amount_cents, description, category, date,
	is_recurring, recurring_interval, next_occurrence, status, receipt_url, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertTransaction returns the generated seq.
func (q *Queries) InsertTransaction(ctx context.Context, t transactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertTransaction,
		t.ID, t.OwnerID, t.AccountID, t.Type, t.AmountCents, t.Description, t.Category, t.Date,
		t.IsRecurring, t.RecurringInterval, t.NextOccurrence, t.Status, t.ReceiptURL, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateTransaction = `UPDATE transactions SET
	account_id = ?, type = ?, amount_cents = ?, description = ?, category = ?, date = ?,
	is_recurring = ?, recurring_interval = ?, next_occurrence = ?, status = ?, receipt_url = ?, updated_at = ?
WHERE id = ? AND owner_id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, t transactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		t.AccountID, t.Type, t.AmountCents, t.Description, t.Category, t.Date,
		t.IsRecurring, t.RecurringInterval, t.NextOccurrence, t.Status, t.ReceiptURL, t.UpdatedAt,
		t.ID, t.OwnerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = ? AND t.owner_id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id, ownerID string) (transactionRow, error) {
	var t transactionRow
	err := q.db.QueryRowContext(ctx, getTransaction, id, ownerID).Scan(t.scanDest()...)
	return t, err
}

type listTransactionsParams struct {
	OwnerID   string
	AccountID string
	Type      string
	From      string
	To        string
}

type transactionWithAccountRow struct {
	transactionRow
	Account accountRow
}

// ListTransactions builds the optional filters into the WHERE clause.
func (q *Queries) ListTransactions(ctx context.Context, p listTransactionsParams) ([]transactionWithAccountRow, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + `,
	a.id, a.owner_id, a.name, a.type, a.balance_cents, a.is_default, a.created_at, a.updated_at
FROM transactions t
JOIN accounts a ON a.id = t.account_id
WHERE t.owner_id = ?`)
	args := []interface{}{p.OwnerID}
	if p.AccountID != "" {
		b.WriteString(` AND t.account_id = ?`)
		args = append(args, p.AccountID)
	}
	if p.Type != "" {
		b.WriteString(` AND t.type = ?`)
		args = append(args, p.Type)
	}
	if p.From != "" {
		b.WriteString(` AND t.date >= ?`)
		args = append(args, p.From)
	}
	if p.To != "" {
		b.WriteString(` AND t.date <= ?`)
		args = append(args, p.To)
	}
	b.WriteString(` ORDER BY t.date DESC, t.seq DESC`)

	rows, err := q.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []transactionWithAccountRow
	for rows.Next() {
		var i transactionWithAccountRow
		a := &i.Account
		dest := append(i.scanDest(),
			&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.BalanceCents, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumExpensesSince = `SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
WHERE owner_id = ? AND type = 'EXPENSE' AND date >= ?`

func (q *Queries) SumExpensesSince(ctx context.Context, ownerID, since string) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, sumExpensesSince, ownerID, since).Scan(&total)
	return total, err
}

type budgetRow struct {
	ID                  string
	OwnerID             string
	LimitCents          int64
	LastAlertSent       sql.NullString
	LastAlertPercentage sql.NullInt64
	AlertVersion        int64
	CreatedAt           string
	UpdatedAt           string
}

const upsertBudget = `INSERT INTO budgets (id, owner_id, limit_cents, alert_version, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT(owner_id) DO UPDATE SET limit_cents = excluded.limit_cents, updated_at = excluded.updated_at`

func (q *Queries) UpsertBudget(ctx context.Context, id, ownerID string, limitCents int64, now string) error {
	_, err := q.db.ExecContext(ctx, upsertBudget, id, ownerID, limitCents, now, now)
	return err
}

const getBudgetByOwner = `SELECT id, owner_id, limit_cents, last_alert_sent, last_alert_percentage,
	alert_version, created_at, updated_at
FROM budgets WHERE owner_id = ?`

func (q *Queries) GetBudgetByOwner(ctx context.Context, ownerID string) (budgetRow, error) {
	var b budgetRow
	err := q.db.QueryRowContext(ctx, getBudgetByOwner, ownerID).Scan(
		&b.ID, &b.OwnerID, &b.LimitCents, &b.LastAlertSent, &b.LastAlertPercentage,
		&b.AlertVersion, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

const recordBudgetAlert = `UPDATE budgets
SET last_alert_sent = ?, last_alert_percentage = ?, alert_version = alert_version + 1, updated_at = ?
WHERE id = ? AND alert_version = ?`

func (q *Queries) RecordBudgetAlert(ctx context.Context, id string, expectedVersion int64, threshold int, sentAt, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx, recordBudgetAlert, sentAt, threshold, now, id, expectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const budgetExists = `SELECT COUNT(*) FROM budgets WHERE id = ?`

func (q *Queries) BudgetExists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, budgetExists, id).Scan(&n)
	return n > 0, err
}
