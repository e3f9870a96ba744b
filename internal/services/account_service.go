package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// AccountService covers account and budget onboarding.
type AccountService struct {
	accounts ports.AccountStore
	budgets  ports.BudgetStore
	logger   *log.Logger
	now      func() time.Time
}

func NewAccountService(accounts ports.AccountStore, budgets ports.BudgetStore, logger *log.Logger) *AccountService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AccountService{
		accounts: accounts,
		budgets:  budgets,
		logger:   logger.WithComponent(log.ComponentLedger),
		now:      time.Now,
	}
}

// BudgetSummary is a budget together with the current month's spend.
type BudgetSummary struct {
	Budget         core.Budget
	MonthToDate    core.Money
	PercentageUsed decimal.Decimal
}

// CreateAccount opens an account with an opening balance. The owner's
// first account becomes the default one.
func (s *AccountService) CreateAccount(ctx context.Context, ownerID string, a core.Account) (core.Account, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return core.Account{}, err
	}
	a.ID = ""
	a.OwnerID = ownerID
	a.Name = strings.TrimSpace(a.Name)
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}

	created, err := s.accounts.CreateAccount(ctx, a)
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "Account created",
		log.FieldOwnerID, ownerID,
		log.FieldAccountID, created.ID,
		log.FieldBalance, created.Balance.Cents)
	return created, nil
}

func (s *AccountService) GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return core.Account{}, err
	}
	return s.accounts.GetAccount(ctx, ownerID, accountID)
}

func (s *AccountService) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// SetBudget creates or replaces the owner's monthly spending limit.
// Alert state is kept so lowering the limit mid-month does not re-send
// thresholds already notified.
func (s *AccountService) SetBudget(ctx context.Context, ownerID string, limit core.Money) (core.Budget, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return core.Budget{}, err
	}
	if err := (core.Budget{Limit: limit}).Validate(); err != nil {
		return core.Budget{}, err
	}
	b, err := s.budgets.UpsertBudget(ctx, ownerID, limit)
	if err != nil {
		return core.Budget{}, fmt.Errorf("set budget: %w", err)
	}
	s.logger.InfoContext(ctx, "Budget set",
		log.FieldOwnerID, ownerID,
		log.FieldBudgetID, b.ID,
		"limit_cents", limit.Cents)
	return b, nil
}

func (s *AccountService) GetBudget(ctx context.Context, ownerID string) (BudgetSummary, error) {
	if err := core.RequireOwner(ownerID); err != nil {
		return BudgetSummary{}, err
	}
	b, err := s.budgets.GetBudget(ctx, ownerID)
	if err != nil {
		return BudgetSummary{}, err
	}
	spent, err := s.budgets.SumExpensesSince(ctx, ownerID, core.MonthStart(s.now()))
	if err != nil {
		return BudgetSummary{}, fmt.Errorf("sum expenses: %w", err)
	}
	return BudgetSummary{
		Budget:         b,
		MonthToDate:    spent,
		PercentageUsed: spent.PercentOf(b.Limit),
	}, nil
}
