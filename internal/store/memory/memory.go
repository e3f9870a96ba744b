package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
)

// Store is an in-process transactional store. A single mutex makes every
// method one atomic, isolated unit.
type Store struct {
	mu       sync.Mutex
	accounts map[string]core.Account
	txns     map[string]core.Transaction
	budgets  map[string]core.Budget // keyed by owner
	seq      int64
	now      func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[string]core.Account),
		txns:     make(map[string]core.Transaction),
		budgets:  make(map[string]core.Budget),
		now:      time.Now,
	}
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.accounts[a.ID]; exists {
		return core.Account{}, fmt.Errorf("%w: account %s already exists", core.ErrValidation, a.ID)
	}
	a.IsDefault = !s.ownerHasAccount(a.OwnerID)
	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, ownerID, accountID string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(ownerID, accountID)
}

func (s *Store) ListAccounts(_ context.Context, ownerID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, t core.Transaction, adj core.BalanceAdjustment) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if adj.AccountID != t.AccountID {
		return core.Transaction{}, fmt.Errorf("%w: adjustment targets account %s, transaction references %s", core.ErrValidation, adj.AccountID, t.AccountID)
	}
	if _, err := s.account(t.OwnerID, t.AccountID); err != nil {
		return core.Transaction{}, err
	}

	s.seq++
	now := s.now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Seq = s.seq
	t.CreatedAt, t.UpdatedAt = now, now
	s.txns[t.ID] = t
	s.applyLocked(adj, now)
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.txns[t.ID]
	if !ok || existing.OwnerID != t.OwnerID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	adjs := core.BalanceAdjustments(existing, t)
	// Validate every target before mutating anything.
	if _, err := s.account(t.OwnerID, t.AccountID); err != nil {
		return core.Transaction{}, err
	}
	for _, adj := range adjs {
		if _, err := s.account(t.OwnerID, adj.AccountID); err != nil {
			return core.Transaction{}, err
		}
	}

	now := s.now().UTC()
	t.Seq = existing.Seq
	t.Status = existing.Status
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = now
	s.txns[t.ID] = t
	for _, adj := range adjs {
		s.applyLocked(adj, now)
	}
	return t, nil
}

func (s *Store) GetTransaction(_ context.Context, ownerID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok || t.OwnerID != ownerID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (s *Store) ListTransactions(_ context.Context, ownerID string, filter core.TransactionFilter) ([]core.TransactionWithAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.TransactionWithAccount
	for _, t := range s.txns {
		if t.OwnerID != ownerID || !matches(t, filter) {
			continue
		}
		out = append(out, core.TransactionWithAccount{Transaction: t, Account: s.accounts[t.AccountID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func (s *Store) UpsertBudget(_ context.Context, ownerID string, limit core.Money) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	b, ok := s.budgets[ownerID]
	if !ok {
		b = core.Budget{ID: uuid.NewString(), OwnerID: ownerID, CreatedAt: now}
	}
	b.Limit = limit
	b.UpdatedAt = now
	s.budgets[ownerID] = b
	return b, nil
}

func (s *Store) GetBudget(_ context.Context, ownerID string) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[ownerID]
	if !ok {
		return core.Budget{}, fmt.Errorf("budget for owner %s: %w", ownerID, core.ErrNotFound)
	}
	return b, nil
}

func (s *Store) SumExpensesSince(_ context.Context, ownerID string, since time.Time) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total core.Money
	for _, t := range s.txns {
		if t.OwnerID == ownerID && t.Type == core.Expense && !t.Date.Before(since) {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (s *Store) RecordBudgetAlert(_ context.Context, budgetID string, expectedVersion int64, threshold int, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for owner, b := range s.budgets {
		if b.ID != budgetID {
			continue
		}
		if b.AlertVersion != expectedVersion {
			return false, nil
		}
		sent := sentAt.UTC()
		pct := threshold
		b.LastAlertSent = &sent
		b.LastAlertPercentage = &pct
		b.AlertVersion++
		b.UpdatedAt = s.now().UTC()
		s.budgets[owner] = b
		return true, nil
	}
	return false, fmt.Errorf("budget %s: %w", budgetID, core.ErrNotFound)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) account(ownerID, accountID string) (core.Account, error) {
	a, ok := s.accounts[accountID]
	if !ok || a.OwnerID != ownerID {
		return core.Account{}, fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ownerHasAccount(ownerID string) bool {
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			return true
		}
	}
	return false
}

func (s *Store) applyLocked(adj core.BalanceAdjustment, now time.Time) {
	a := s.accounts[adj.AccountID]
	a.Balance = a.Balance.Add(adj.Delta)
	a.UpdatedAt = now
	s.accounts[adj.AccountID] = a
}

func matches(t core.Transaction, f core.TransactionFilter) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(f.To) {
		return false
	}
	return true
}
