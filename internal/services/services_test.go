package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/store/memory"
)

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []core.BudgetAlert
	err    error
}

func (f *fakeNotifier) NotifyBudgetAlert(_ context.Context, alert core.BudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) thresholds() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a.Threshold)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	store    *memory.Store
	notifier *fakeNotifier
	clock    *clock
	ledger   *LedgerService
	accounts *AccountService
	query    *TransactionQuery
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		notifier: &fakeNotifier{},
		clock:    &clock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)},
	}
	alerter := NewBudgetAlerter(f.store, f.notifier, nil, WithClock(f.clock.now))
	f.ledger = NewLedgerService(f.store, alerter, nil)
	f.accounts = NewAccountService(f.store, f.store, nil)
	f.accounts.now = f.clock.now
	f.query = NewTransactionQuery(f.store, nil)
	return f
}

func (f *fixture) account(t *testing.T, owner string, balance int64) core.Account {
	t.Helper()
	a, err := f.accounts.CreateAccount(context.Background(), owner, core.Account{
		Name:    "Main",
		Type:    core.AccountCurrent,
		Balance: core.Money{Cents: balance},
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, owner, accountID string) int64 {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), owner, accountID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.Balance.Cents
}

func input(accountID string, typ core.TransactionType, cents int64, date time.Time) core.TransactionInput {
	return core.TransactionInput{
		AccountID: accountID,
		Type:      typ,
		Amount:    core.Money{Cents: cents},
		Category:  "groceries",
		Date:      date,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLedgerService_CreateAppliesSignedDelta(t *testing.T) {
	tests := []struct {
		name string
		typ  core.TransactionType
		want int64
	}{
		{"expense", core.Expense, 5000},
		{"income", core.Income, 15000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			acc := f.account(t, "u1", 10000)

			saved, err := f.ledger.Create(context.Background(), "u1", input(acc.ID, tt.typ, 5000, day(2024, 3, 1)))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if saved.ID == "" || saved.Status != core.StatusCompleted {
				t.Fatalf("unexpected saved transaction %+v", saved)
			}
			if got := f.balance(t, "u1", acc.ID); got != tt.want {
				t.Fatalf("balance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLedgerService_CreateRecurringSetsNextOccurrence(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "u1", 0)

	in := input(acc.ID, core.Expense, 1000, day(2024, 1, 31))
	in.IsRecurring = true
	in.Interval = core.Monthly
	saved, err := f.ledger.Create(context.Background(), "u1", in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if saved.NextOccurrence == nil || !saved.NextOccurrence.Equal(day(2024, 2, 29)) {
		t.Fatalf("next occurrence = %v, want 2024-02-29", saved.NextOccurrence)
	}

	plain, err := f.ledger.Create(context.Background(), "u1", input(acc.ID, core.Expense, 1000, day(2024, 1, 31)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if plain.NextOccurrence != nil || plain.Interval != "" {
		t.Fatalf("non-recurring transaction carries recurrence: %+v", plain)
	}
}

func TestLedgerService_CreateErrors(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "owner", 10000)
	other := f.account(t, "someone-else", 10000)

	tests := []struct {
		name    string
		owner   string
		in      core.TransactionInput
		wantErr error
	}{
		{"no identity", "", input(acc.ID, core.Expense, 100, day(2024, 3, 1)), core.ErrUnauthenticated},
		{"zero amount", "owner", input(acc.ID, core.Expense, 0, day(2024, 3, 1)), core.ErrValidation},
		{"negative amount", "owner", input(acc.ID, core.Expense, -100, day(2024, 3, 1)), core.ErrValidation},
		{"unknown account", "owner", input("missing", core.Expense, 100, day(2024, 3, 1)), core.ErrNotFound},
		{"foreign account", "owner", input(other.ID, core.Expense, 100, day(2024, 3, 1)), core.ErrNotFound},
		{"recurring without interval", "owner", func() core.TransactionInput {
			in := input(acc.ID, core.Expense, 100, day(2024, 3, 1))
			in.IsRecurring = true
			return in
		}(), core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Create(context.Background(), tt.owner, tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := f.balance(t, "owner", acc.ID); got != 10000 {
		t.Fatalf("owner balance changed to %d", got)
	}
	if got := f.balance(t, "someone-else", other.ID); got != 10000 {
		t.Fatalf("foreign balance changed to %d", got)
	}
}

func TestLedgerService_UpdateAppliesNetChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 10000)

	saved, err := f.ledger.Create(ctx, "u1", input(acc.ID, core.Expense, 5000, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := f.balance(t, "u1", acc.ID)

	updated, err := f.ledger.Update(ctx, "u1", saved.ID, input(acc.ID, core.Expense, 8000, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Amount.Cents != 8000 || updated.ID != saved.ID {
		t.Fatalf("unexpected updated transaction %+v", updated)
	}
	if got := f.balance(t, "u1", acc.ID); got != before-3000 {
		t.Fatalf("balance = %d, want %d", got, before-3000)
	}

	// Flipping to income swings the balance by twice the amount.
	if _, err := f.ledger.Update(ctx, "u1", saved.ID, input(acc.ID, core.Income, 8000, day(2024, 3, 1))); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := f.balance(t, "u1", acc.ID); got != 18000 {
		t.Fatalf("balance = %d, want 18000", got)
	}
}

func TestLedgerService_UpdateMovesBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	from := f.account(t, "u1", 10000)
	to := f.account(t, "u1", 10000)

	saved, err := f.ledger.Create(ctx, "u1", input(from.ID, core.Expense, 2000, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.ledger.Update(ctx, "u1", saved.ID, input(to.ID, core.Expense, 3000, day(2024, 3, 1))); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := f.balance(t, "u1", from.ID); got != 10000 {
		t.Fatalf("source balance = %d, want 10000", got)
	}
	if got := f.balance(t, "u1", to.ID); got != 7000 {
		t.Fatalf("target balance = %d, want 7000", got)
	}
}

func TestLedgerService_UpdateKeepsAccountWhenOmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 0)

	saved, err := f.ledger.Create(ctx, "u1", input(acc.ID, core.Income, 1000, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updated, err := f.ledger.Update(ctx, "u1", saved.ID, input("", core.Income, 1500, day(2024, 3, 2)))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.AccountID != acc.ID {
		t.Fatalf("account changed to %q", updated.AccountID)
	}
	if got := f.balance(t, "u1", acc.ID); got != 1500 {
		t.Fatalf("balance = %d, want 1500", got)
	}
}

func TestLedgerService_UpdateErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 10000)
	saved, err := f.ledger.Create(ctx, "u1", input(acc.ID, core.Expense, 1000, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.ledger.Update(ctx, "intruder", saved.ID, input(acc.ID, core.Expense, 1, day(2024, 3, 1))); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
	if _, err := f.ledger.Update(ctx, "u1", saved.ID, input(acc.ID, core.Expense, 0, day(2024, 3, 1))); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.ledger.Update(ctx, "u1", saved.ID, input("missing", core.Expense, 10, day(2024, 3, 1))); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown target account, got %v", err)
	}
	if got := f.balance(t, "u1", acc.ID); got != 9000 {
		t.Fatalf("balance = %d, want 9000", got)
	}
}

func TestLedgerService_BalanceEqualsSumOfTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 0)

	ops := []struct {
		typ   core.TransactionType
		cents int64
	}{
		{core.Income, 12345}, {core.Expense, 999}, {core.Expense, 1}, {core.Income, 10}, {core.Expense, 5000},
	}
	var ids []string
	for _, op := range ops {
		saved, err := f.ledger.Create(ctx, "u1", input(acc.ID, op.typ, op.cents, day(2024, 2, 1)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, saved.ID)
	}
	if _, err := f.ledger.Update(ctx, "u1", ids[1], input(acc.ID, core.Income, 200, day(2024, 2, 1))); err != nil {
		t.Fatalf("Update: %v", err)
	}

	items, err := f.query.List(ctx, "u1", core.TransactionFilter{AccountID: acc.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var sum int64
	for _, item := range items {
		sum += item.SignedDelta().Cents
	}
	if got := f.balance(t, "u1", acc.ID); got != sum {
		t.Fatalf("balance %d != sum of transactions %d", got, sum)
	}
}

func TestLedgerService_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 0)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := core.Income
			if i%2 == 0 {
				typ = core.Expense
			}
			if _, err := f.ledger.Create(ctx, "u1", input(acc.ID, typ, int64(100+i), day(2024, 3, 1))); err != nil {
				t.Errorf("Create: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var want int64
	for i := 0; i < workers; i++ {
		if i%2 == 0 {
			want -= int64(100 + i)
		} else {
			want += int64(100 + i)
		}
	}
	if got := f.balance(t, "u1", acc.ID); got != want {
		t.Fatalf("balance = %d, want %d", got, want)
	}
}

// readBarrierStore holds every GetTransaction caller until all of them
// have read, so their writes are built from the same snapshot.
type readBarrierStore struct {
	*memory.Store
	readers sync.WaitGroup
}

func (s *readBarrierStore) GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	t, err := s.Store.GetTransaction(ctx, ownerID, id)
	s.readers.Done()
	s.readers.Wait()
	return t, err
}

func TestLedgerService_ConcurrentUpdatesOfOneTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 10000)
	saved, err := f.ledger.Create(ctx, "u1", input(acc.ID, core.Expense, 5000, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	store := &readBarrierStore{Store: f.store}
	ledger := NewLedgerService(store, nil, nil)
	amounts := []int64{8000, 10000}
	store.readers.Add(len(amounts))

	var wg sync.WaitGroup
	for _, cents := range amounts {
		wg.Add(1)
		go func(cents int64) {
			defer wg.Done()
			if _, err := ledger.Update(ctx, "u1", saved.ID, input(acc.ID, core.Expense, cents, day(2024, 3, 1))); err != nil {
				t.Errorf("Update(%d): %v", cents, err)
			}
		}(cents)
	}
	wg.Wait()

	final, err := f.store.GetTransaction(ctx, "u1", saved.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got, want := f.balance(t, "u1", acc.ID), 10000-final.Amount.Cents; got != want {
		t.Fatalf("balance = %d, want %d for stored amount %d", got, want, final.Amount.Cents)
	}
}

func TestLedgerService_UpdateKeepsReceiptURLWhenOmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 0)

	in := input(acc.ID, core.Expense, 500, day(2024, 3, 1))
	in.ReceiptURL = "https://receipts.example/r/1.jpg"
	saved, err := f.ledger.Create(ctx, "u1", in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := f.ledger.Update(ctx, "u1", saved.ID, input(acc.ID, core.Expense, 700, day(2024, 3, 1)))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ReceiptURL != in.ReceiptURL {
		t.Fatalf("receipt URL = %q, want %q", updated.ReceiptURL, in.ReceiptURL)
	}

	replace := input(acc.ID, core.Expense, 700, day(2024, 3, 1))
	replace.ReceiptURL = "https://receipts.example/r/2.jpg"
	updated, err = f.ledger.Update(ctx, "u1", saved.ID, replace)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ReceiptURL != replace.ReceiptURL {
		t.Fatalf("receipt URL = %q, want %q", updated.ReceiptURL, replace.ReceiptURL)
	}
}

func TestTransactionQuery_ListOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, "u1", 0)

	for _, c := range []struct {
		date time.Time
		desc string
	}{
		{day(2024, 1, 1), "a"},
		{day(2024, 1, 3), "b"},
		{day(2024, 1, 2), "c"},
		{day(2024, 1, 3), "d"},
	} {
		in := input(acc.ID, core.Income, 100, c.date)
		in.Description = c.desc
		if _, err := f.ledger.Create(ctx, "u1", in); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	items, err := f.query.List(ctx, "u1", core.TransactionFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var order string
	for _, item := range items {
		order += item.Description
		if item.Account.ID != acc.ID {
			t.Fatalf("transaction not joined with its account: %+v", item.Account)
		}
	}
	if order != "dbca" {
		t.Fatalf("order = %s, want dbca", order)
	}

	if _, err := f.query.List(ctx, "", core.TransactionFilter{}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := f.query.List(ctx, "u1", core.TransactionFilter{From: day(2024, 2, 1), To: day(2024, 1, 1)}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation for inverted range, got %v", err)
	}
}
