package ports

import (
	"context"
	"time"

	"ledger/internal/core"
)

// Ports for outbound adapters.
type (
	AccountStore interface {
		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		// GetAccount returns core.ErrNotFound unless the account exists and belongs to ownerID.
		GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error)
		ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error)
	}

	// LedgerStore persists transactions. Every write method commits the row
	// change and its balance adjustments as one atomic unit; adjustments are
	// increments against the stored balance, never overwrites.
	LedgerStore interface {
		AccountStore

		InsertTransaction(ctx context.Context, t core.Transaction, adj core.BalanceAdjustment) (core.Transaction, error)
		// UpdateTransaction replaces the stored row and applies
		// core.BalanceAdjustments computed against the row it locks, so
		// concurrent updates of one transaction serialize on the stored amount.
		// Status, Seq and CreatedAt are carried over from the stored row.
		UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error)
		// ListTransactions orders by date descending, then insertion order descending.
		ListTransactions(ctx context.Context, ownerID string, filter core.TransactionFilter) ([]core.TransactionWithAccount, error)
	}

	BudgetStore interface {
		// UpsertBudget sets the owner's single budget limit, creating it if needed.
		UpsertBudget(ctx context.Context, ownerID string, limit core.Money) (core.Budget, error)
		GetBudget(ctx context.Context, ownerID string) (core.Budget, error)
		// SumExpensesSince sums EXPENSE amounts dated on or after since.
		SumExpensesSince(ctx context.Context, ownerID string, since time.Time) (core.Money, error)
		// RecordBudgetAlert stores the alert state only if the budget's
		// AlertVersion still equals expectedVersion. It reports whether the
		// write happened.
		RecordBudgetAlert(ctx context.Context, budgetID string, expectedVersion int64, threshold int, sentAt time.Time) (bool, error)
	}

	// Store is the full transactional store a backend provides.
	Store interface {
		LedgerStore
		BudgetStore
		Ping(ctx context.Context) error
		Close() error
	}

	// Notifier dispatches a budget alert. A nil error means the dispatch was confirmed.
	Notifier interface {
		NotifyBudgetAlert(ctx context.Context, alert core.BudgetAlert) error
	}

	// ReceiptExtractor returns best-effort fields from a receipt image.
	// A non-receipt image yields empty fields and a nil error.
	ReceiptExtractor interface {
		Extract(ctx context.Context, image []byte, mimeType string) (core.ReceiptFields, error)
	}
)
