// Package http exposes the ledger over a JSON API.
//
// This file decodes request bodies and query strings into domain inputs.
// Amounts are parsed with shopspring/decimal and never pass through float64.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

const maxJSONBodyBytes = 1 << 20

// errMalformedBody marks a body that is not valid JSON for the target type.
var errMalformedBody = errors.New("malformed request body")

type transactionRequest struct {
	AccountID         string              `json:"accountId"`
	Type              string              `json:"type"`
	Amount            decimal.NullDecimal `json:"amount"`
	Description       string              `json:"description"`
	Category          string              `json:"category"`
	Date              string              `json:"date"`
	IsRecurring       bool                `json:"isRecurring"`
	RecurringInterval string              `json:"recurringInterval"`
	ReceiptURL        string              `json:"receiptUrl"`
}

type accountRequest struct {
	Name      string              `json:"name"`
	Type      string              `json:"type"`
	Balance   decimal.NullDecimal `json:"balance"`
	IsDefault bool                `json:"isDefault"`
}

type budgetRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
}

// decodeJSON reads a single JSON value from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body exceeds %d bytes", errMalformedBody, maxErr.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errMalformedBody)
		default:
			return fmt.Errorf("%w: %v", errMalformedBody, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON value", errMalformedBody)
	}
	return nil
}

// toInput converts the request into a TransactionInput. Missing amount or
// date are left zero so domain validation reports them.
func (req transactionRequest) toInput() (core.TransactionInput, error) {
	in := core.TransactionInput{
		AccountID:   strings.TrimSpace(req.AccountID),
		Type:        core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Description: sanitizeInput(req.Description),
		Category:    sanitizeInput(req.Category),
		IsRecurring: req.IsRecurring,
		Interval:    core.RecurringInterval(strings.ToUpper(strings.TrimSpace(req.RecurringInterval))),
		ReceiptURL:  strings.TrimSpace(req.ReceiptURL),
	}

	if req.Amount.Valid {
		amount, err := core.MoneyFromDecimal(req.Amount.Decimal)
		if err != nil {
			return core.TransactionInput{}, err
		}
		in.Amount = amount
	}

	if d := strings.TrimSpace(req.Date); d != "" {
		parsed, err := core.ParseDate(d)
		if err != nil {
			return core.TransactionInput{}, err
		}
		in.Date = parsed
	}
	return in, nil
}

func (req accountRequest) toAccount() (core.Account, error) {
	a := core.Account{
		Name:      sanitizeInput(req.Name),
		Type:      core.AccountType(strings.ToUpper(strings.TrimSpace(req.Type))),
		IsDefault: req.IsDefault,
	}
	if req.Balance.Valid {
		balance, err := core.MoneyFromDecimal(req.Balance.Decimal)
		if err != nil {
			return core.Account{}, err
		}
		a.Balance = balance
	}
	return a, nil
}

func (req budgetRequest) toLimit() (core.Money, error) {
	if !req.Amount.Valid {
		return core.Money{}, fmt.Errorf("%w: amount is required", core.ErrValidation)
	}
	return core.MoneyFromDecimal(req.Amount.Decimal)
}

// parseTransactionFilter reads account_id, type, from and to.
func parseTransactionFilter(query url.Values) (core.TransactionFilter, error) {
	filter := core.TransactionFilter{
		AccountID: strings.TrimSpace(query.Get("account_id")),
		Type:      core.TransactionType(strings.ToUpper(strings.TrimSpace(query.Get("type")))),
	}
	if v := strings.TrimSpace(query.Get("from")); v != "" {
		from, err := core.ParseDate(v)
		if err != nil {
			return core.TransactionFilter{}, err
		}
		filter.From = from
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		to, err := core.ParseDate(v)
		if err != nil {
			return core.TransactionFilter{}, err
		}
		filter.To = to
	}
	return filter, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
