package http

import (
	"time"

	"ledger/internal/core"
	"ledger/internal/services"
)

type accountResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Balance   float64   `json:"balance"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type accountSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type transactionResponse struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"accountId"`
	Type              string          `json:"type"`
	Amount            float64         `json:"amount"`
	Description       string          `json:"description,omitempty"`
	Category          string          `json:"category"`
	Date              string          `json:"date"`
	IsRecurring       bool            `json:"isRecurring"`
	RecurringInterval string          `json:"recurringInterval,omitempty"`
	NextRecurringDate *string         `json:"nextRecurringDate,omitempty"`
	Status            string          `json:"status"`
	ReceiptURL        string          `json:"receiptUrl,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Account           *accountSummary `json:"account,omitempty"`
}

type budgetResponse struct {
	ID                  string     `json:"id"`
	Amount              float64    `json:"amount"`
	LastAlertSent       *time.Time `json:"lastAlertSent,omitempty"`
	LastAlertPercentage *int       `json:"lastAlertPercentage,omitempty"`
	CurrentExpenses     *float64   `json:"currentExpenses,omitempty"`
	PercentageUsed      *float64   `json:"percentageUsed,omitempty"`
}

type receiptResponse struct {
	Recognized   bool     `json:"recognized"`
	Amount       *float64 `json:"amount,omitempty"`
	Date         string   `json:"date,omitempty"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category,omitempty"`
	MerchantName string   `json:"merchantName,omitempty"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Name:      a.Name,
		Type:      string(a.Type),
		Balance:   a.Balance.Float64(),
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                t.ID,
		AccountID:         t.AccountID,
		Type:              string(t.Type),
		Amount:            t.Amount.Float64(),
		Description:       t.Description,
		Category:          t.Category,
		Date:              t.Date.Format(core.DateLayout),
		IsRecurring:       t.IsRecurring,
		RecurringInterval: string(t.Interval),
		Status:            string(t.Status),
		ReceiptURL:        t.ReceiptURL,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if t.NextOccurrence != nil {
		next := t.NextOccurrence.Format(core.DateLayout)
		resp.NextRecurringDate = &next
	}
	return resp
}

func toTransactionWithAccountResponse(t core.TransactionWithAccount) transactionResponse {
	resp := toTransactionResponse(t.Transaction)
	resp.Account = &accountSummary{
		ID:   t.Account.ID,
		Name: t.Account.Name,
		Type: string(t.Account.Type),
	}
	return resp
}

func toBudgetResponse(b core.Budget) budgetResponse {
	return budgetResponse{
		ID:                  b.ID,
		Amount:              b.Limit.Float64(),
		LastAlertSent:       b.LastAlertSent,
		LastAlertPercentage: b.LastAlertPercentage,
	}
}

func toBudgetSummaryResponse(s services.BudgetSummary) budgetResponse {
	resp := toBudgetResponse(s.Budget)
	spent := s.MonthToDate.Float64()
	pct := s.PercentageUsed.Round(2).InexactFloat64()
	resp.CurrentExpenses = &spent
	resp.PercentageUsed = &pct
	return resp
}

func toReceiptResponse(f core.ReceiptFields) receiptResponse {
	resp := receiptResponse{
		Recognized:   !f.IsEmpty(),
		Description:  f.Description,
		Category:     f.Category,
		MerchantName: f.MerchantName,
	}
	if !f.Amount.IsZero() {
		amount := f.Amount.Float64()
		resp.Amount = &amount
	}
	if !f.Date.IsZero() {
		resp.Date = f.Date.Format(core.DateLayout)
	}
	return resp
}
