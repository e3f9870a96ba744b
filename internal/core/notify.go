package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetAlert is the payload handed to a Notifier when spend crosses a threshold.
type BudgetAlert struct {
	Recipient      string
	Subject        string
	OwnerID        string
	BudgetID       string
	Threshold      int
	PercentageUsed decimal.Decimal
	Limit          Money
	TotalExpenses  Money
	EvaluatedAt    time.Time
}

// ReceiptFields is the best-effort output of a receipt extractor.
// A zero value means the image was not recognised as a receipt.
type ReceiptFields struct {
	Amount       Money
	Date         time.Time
	Description  string
	Category     string
	MerchantName string
}

func (f ReceiptFields) IsEmpty() bool {
	return f.Amount.IsZero() && f.Date.IsZero() && f.Description == "" &&
		f.Category == "" && f.MerchantName == ""
}

// AsInput converts extracted fields into an EXPENSE create payload.
func (f ReceiptFields) AsInput(accountID string) TransactionInput {
	return TransactionInput{
		AccountID:   accountID,
		Type:        Expense,
		Amount:      f.Amount,
		Description: f.Description,
		Category:    f.Category,
		Date:        DateOnly(f.Date),
	}
}
