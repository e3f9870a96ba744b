package services

import (
	"context"
	"fmt"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// TransactionQuery is the read side of the ledger.
type TransactionQuery struct {
	store  ports.LedgerStore
	logger *log.Logger
}

func NewTransactionQuery(store ports.LedgerStore, logger *log.Logger) *TransactionQuery {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionQuery{store: store, logger: logger.WithComponent(log.ComponentQuery)}
}

// List returns the owner's transactions joined with their accounts, newest
// date first and most recently inserted first within a date.
func (q *TransactionQuery) List(ctx context.Context, ownerID string, filter core.TransactionFilter) ([]core.TransactionWithAccount, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, fmt.Errorf("%w: invalid transaction type %q", core.ErrValidation, filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, fmt.Errorf("%w: from date is after to date", core.ErrValidation)
	}

	items, err := q.store.ListTransactions(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	q.logger.DebugContext(ctx, "Listed transactions",
		log.FieldOwnerID, ownerID,
		"count", len(items))
	return items, nil
}
