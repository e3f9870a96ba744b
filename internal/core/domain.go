package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

const (
	AccountCurrent    AccountType = "CURRENT"
	AccountSavings    AccountType = "SAVINGS"
	AccountCredit     AccountType = "CREDIT"
	AccountCash       AccountType = "CASH"
	AccountInvestment AccountType = "INVESTMENT"
)

type (
	TransactionType   string
	RecurringInterval string
	TransactionStatus string
	AccountType       string

	Account struct {
		ID        string
		OwnerID   string
		Name      string
		Type      AccountType
		Balance   Money
		IsDefault bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Transaction struct {
		ID             string
		Seq            int64 // insertion order, used as the secondary sort key
		OwnerID        string
		AccountID      string
		Type           TransactionType
		Amount         Money
		Description    string
		Category       string
		Date           time.Time
		IsRecurring    bool
		Interval       RecurringInterval
		NextOccurrence *time.Time
		Status         TransactionStatus
		ReceiptURL     string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// TransactionWithAccount is a transaction joined with its owning account.
	TransactionWithAccount struct {
		Transaction
		Account Account
	}

	Budget struct {
		ID                  string
		OwnerID             string
		Limit               Money
		LastAlertSent       *time.Time
		LastAlertPercentage *int
		AlertVersion        int64
		CreatedAt           time.Time
		UpdatedAt           time.Time
	}

	// TransactionInput is the create/update payload accepted by the ledger.
	TransactionInput struct {
		AccountID   string
		Type        TransactionType
		Amount      Money
		Description string
		Category    string
		Date        time.Time
		IsRecurring bool
		Interval    RecurringInterval
		ReceiptURL  string
	}

	TransactionFilter struct {
		AccountID string
		Type      TransactionType
		From      time.Time
		To        time.Time
	}

	// BalanceAdjustment is an increment applied to an account balance
	// inside the same atomic unit as a transaction write.
	BalanceAdjustment struct {
		AccountID string
		Delta     Money
	}
)

func (t TransactionType) IsValid() bool {
	return t == Income || t == Expense
}

func (i RecurringInterval) IsValid() bool {
	_, ok := steppers[i]
	return ok
}

func (t AccountType) IsValid() bool {
	switch t {
	case AccountCurrent, AccountSavings, AccountCredit, AccountCash, AccountInvestment:
		return true
	default:
		return false
	}
}

// SignedDelta returns the balance effect of a transaction of the given type.
func SignedDelta(t TransactionType, amount Money) Money {
	if t == Expense {
		return amount.Neg()
	}
	return amount
}

// SignedDelta returns the balance effect of the stored transaction.
func (t Transaction) SignedDelta() Money {
	return SignedDelta(t.Type, t.Amount)
}

// BalanceAdjustments returns the increments that move account balances from
// reflecting stored to reflecting updated. Zero-delta adjustments are dropped.
// Stores call it with the row read inside the same atomic unit as the write.
func BalanceAdjustments(stored, updated Transaction) []BalanceAdjustment {
	oldDelta, newDelta := stored.SignedDelta(), updated.SignedDelta()
	if stored.AccountID == updated.AccountID {
		net := newDelta.Sub(oldDelta)
		if net.IsZero() {
			return nil
		}
		return []BalanceAdjustment{{AccountID: updated.AccountID, Delta: net}}
	}
	return []BalanceAdjustment{
		{AccountID: stored.AccountID, Delta: oldDelta.Neg()},
		{AccountID: updated.AccountID, Delta: newDelta},
	}
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date, falling back to RFC 3339
// timestamps which are truncated to their UTC day.
func ParseDate(s string) (time.Time, error) {
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	return DateOnly(ts.UTC()), nil
}

// MonthStart returns the first day of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (in TransactionInput) Validate() error {
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: invalid transaction type %q", ErrValidation, in.Type)
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if strings.TrimSpace(in.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if len(in.Description) > 500 {
		return fmt.Errorf("%w: description too long (max 500 characters)", ErrValidation)
	}
	if in.IsRecurring {
		if in.Interval == "" {
			return fmt.Errorf("%w: recurring transaction requires an interval", ErrValidation)
		}
		if !in.Interval.IsValid() {
			return fmt.Errorf("%w: invalid recurring interval %q", ErrValidation, in.Interval)
		}
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: account name is required", ErrValidation)
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("%w: invalid account type %q", ErrValidation, a.Type)
	}
	return nil
}

func (b Budget) Validate() error {
	if b.Limit.Cents < 0 {
		return fmt.Errorf("%w: budget limit cannot be negative", ErrValidation)
	}
	return nil
}

// RequireOwner returns ErrUnauthenticated when no caller identity is present.
func RequireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: missing caller identity", ErrUnauthenticated)
	}
	return nil
}
