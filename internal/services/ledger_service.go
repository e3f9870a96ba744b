package services

import (
	"context"
	"fmt"
	"strings"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// BudgetEvaluator runs the post-write budget check. It reports nothing
// back: a failed evaluation never fails the write that triggered it.
type BudgetEvaluator interface {
	Evaluate(ctx context.Context, ownerID string)
}

// LedgerService creates and updates transactions while keeping account
// balances equal to the sum of their signed transaction amounts.
type LedgerService struct {
	store  ports.LedgerStore
	alerts BudgetEvaluator
	logger *log.Logger
}

func NewLedgerService(store ports.LedgerStore, alerts BudgetEvaluator, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerService{
		store:  store,
		alerts: alerts,
		logger: logger.WithComponent(log.ComponentLedger),
	}
}

// Create records a new transaction and applies its signed amount to the
// referenced account in one atomic unit.
func (s *LedgerService) Create(ctx context.Context, ownerID string, in core.TransactionInput) (core.Transaction, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return core.Transaction{}, err
	}
	in = normalizeInput(in)
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if _, err := s.store.GetAccount(ctx, ownerID, in.AccountID); err != nil {
		return core.Transaction{}, err
	}

	t, err := buildTransaction(ownerID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	delta := t.SignedDelta()

	saved, err := s.store.InsertTransaction(ctx, t, core.BalanceAdjustment{AccountID: t.AccountID, Delta: delta})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create transaction",
			log.NewFields().WithOperation(log.OpCreate).WithOwner(ownerID).WithError(err).ToSlice()...)
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction created",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithOwner(ownerID).
			WithTransaction(saved.ID, saved.AccountID, string(saved.Type), delta.Cents).
			ToSlice()...)

	if saved.Type == core.Expense {
		s.evaluateBudget(ctx, ownerID)
	}
	return saved, nil
}

// Update replaces a transaction's fields and applies the net balance change.
// Moving a transaction to a different account reverses its old effect on the
// previous account and applies the new effect to the new one. An empty
// receipt URL keeps the stored one.
func (s *LedgerService) Update(ctx context.Context, ownerID, transactionID string, in core.TransactionInput) (core.Transaction, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return core.Transaction{}, err
	}

	existing, err := s.store.GetTransaction(ctx, ownerID, transactionID)
	if err != nil {
		return core.Transaction{}, err
	}

	in = normalizeInput(in)
	if in.AccountID == "" {
		in.AccountID = existing.AccountID
	}
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if in.AccountID != existing.AccountID {
		if _, err := s.store.GetAccount(ctx, ownerID, in.AccountID); err != nil {
			return core.Transaction{}, err
		}
	}

	t, err := buildTransaction(ownerID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	t.ID = existing.ID
	if t.ReceiptURL == "" {
		t.ReceiptURL = existing.ReceiptURL
	}

	saved, err := s.store.UpdateTransaction(ctx, t)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to update transaction",
			log.NewFields().WithOperation(log.OpUpdate).WithOwner(ownerID).WithError(err).ToSlice()...)
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction updated",
		log.NewFields().
			WithOperation(log.OpUpdate).
			WithOwner(ownerID).
			WithTransaction(saved.ID, saved.AccountID, string(saved.Type), saved.SignedDelta().Cents).
			ToSlice()...)

	if saved.Type == core.Expense {
		s.evaluateBudget(ctx, ownerID)
	}
	return saved, nil
}

// Get returns one transaction owned by ownerID.
func (s *LedgerService) Get(ctx context.Context, ownerID, transactionID string) (core.Transaction, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return core.Transaction{}, err
	}
	return s.store.GetTransaction(ctx, ownerID, transactionID)
}

func (s *LedgerService) evaluateBudget(ctx context.Context, ownerID string) {
	if s.alerts == nil {
		return
	}
	s.alerts.Evaluate(ctx, ownerID)
}

func normalizeInput(in core.TransactionInput) core.TransactionInput {
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Date = core.DateOnly(in.Date)
	return in
}

func buildTransaction(ownerID string, in core.TransactionInput) (core.Transaction, error) {
	t := core.Transaction{
		OwnerID:     ownerID,
		AccountID:   in.AccountID,
		Type:        in.Type,
		Amount:      in.Amount,
		Description: in.Description,
		Category:    in.Category,
		Date:        in.Date,
		Status:      core.StatusCompleted,
		ReceiptURL:  in.ReceiptURL,
	}
	if in.IsRecurring {
		next, err := core.NextOccurrence(in.Date, in.Interval)
		if err != nil {
			return core.Transaction{}, err
		}
		t.IsRecurring = true
		t.Interval = in.Interval
		t.NextOccurrence = &next
	}
	return t, nil
}
