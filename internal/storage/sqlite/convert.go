package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"ledger/internal/core"
)

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func toAccountRow(a core.Account) accountRow {
	return accountRow{
		ID:           a.ID,
		OwnerID:      a.OwnerID,
		Name:         a.Name,
		Type:         string(a.Type),
		BalanceCents: a.Balance.Cents,
		IsDefault:    a.IsDefault,
		CreatedAt:    formatTimestamp(a.CreatedAt),
		UpdatedAt:    formatTimestamp(a.UpdatedAt),
	}
}

func fromAccountRow(row accountRow) (core.Account, error) {
	created, err := parseTimestamp(row.CreatedAt)
	if err != nil {
		return core.Account{}, err
	}
	updated, err := parseTimestamp(row.UpdatedAt)
	if err != nil {
		return core.Account{}, err
	}
	return core.Account{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		Type:      core.AccountType(row.Type),
		Balance:   core.Money{Cents: row.BalanceCents},
		IsDefault: row.IsDefault,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func toTransactionRow(t core.Transaction) transactionRow {
	row := transactionRow{
		Seq:               t.Seq,
		ID:                t.ID,
		OwnerID:           t.OwnerID,
		AccountID:         t.AccountID,
		Type:              string(t.Type),
		AmountCents:       t.Amount.Cents,
		Description:       t.Description,
		Category:          t.Category,
		Date:              t.Date.UTC().Format(core.DateLayout),
		IsRecurring:       t.IsRecurring,
		RecurringInterval: string(t.Interval),
		Status:            string(t.Status),
		ReceiptURL:        t.ReceiptURL,
		CreatedAt:         formatTimestamp(t.CreatedAt),
		UpdatedAt:         formatTimestamp(t.UpdatedAt),
	}
	if t.NextOccurrence != nil {
		row.NextOccurrence = sql.NullString{String: t.NextOccurrence.UTC().Format(core.DateLayout), Valid: true}
	}
	return row
}

func fromTransactionRow(row transactionRow) (core.Transaction, error) {
	date, err := time.Parse(core.DateLayout, row.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse date %q: %w", row.Date, err)
	}
	created, err := parseTimestamp(row.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	updated, err := parseTimestamp(row.UpdatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t := core.Transaction{
		ID:          row.ID,
		Seq:         row.Seq,
		OwnerID:     row.OwnerID,
		AccountID:   row.AccountID,
		Type:        core.TransactionType(row.Type),
		Amount:      core.Money{Cents: row.AmountCents},
		Description: row.Description,
		Category:    row.Category,
		Date:        date,
		IsRecurring: row.IsRecurring,
		Interval:    core.RecurringInterval(row.RecurringInterval),
		Status:      core.TransactionStatus(row.Status),
		ReceiptURL:  row.ReceiptURL,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
	if row.NextOccurrence.Valid {
		next, err := time.Parse(core.DateLayout, row.NextOccurrence.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse next occurrence %q: %w", row.NextOccurrence.String, err)
		}
		t.NextOccurrence = &next
	}
	return t, nil
}

func fromBudgetRow(row budgetRow) (core.Budget, error) {
	created, err := parseTimestamp(row.CreatedAt)
	if err != nil {
		return core.Budget{}, err
	}
	updated, err := parseTimestamp(row.UpdatedAt)
	if err != nil {
		return core.Budget{}, err
	}
	b := core.Budget{
		ID:           row.ID,
		OwnerID:      row.OwnerID,
		Limit:        core.Money{Cents: row.LimitCents},
		AlertVersion: row.AlertVersion,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
	if row.LastAlertSent.Valid {
		sent, err := parseTimestamp(row.LastAlertSent.String)
		if err != nil {
			return core.Budget{}, err
		}
		b.LastAlertSent = &sent
	}
	if row.LastAlertPercentage.Valid {
		pct := int(row.LastAlertPercentage.Int64)
		b.LastAlertPercentage = &pct
	}
	return b, nil
}
