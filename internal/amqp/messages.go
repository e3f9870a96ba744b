package amqp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// BudgetAlertMessage is the payload published for a crossed budget
// threshold. Rendering and delivery belong to the consumer.
type BudgetAlertMessage struct {
	Recipient      string          `json:"recipient"`
	Subject        string          `json:"subject"`
	OwnerID        string          `json:"owner_id"`
	BudgetID       string          `json:"budget_id"`
	Threshold      int             `json:"threshold"`
	PercentageUsed decimal.Decimal `json:"percentage_used"`
	Limit          decimal.Decimal `json:"limit"`
	TotalExpenses  decimal.Decimal `json:"total_expenses"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewBudgetAlertMessage(alert core.BudgetAlert) *BudgetAlertMessage {
	return &BudgetAlertMessage{
		Recipient:      alert.Recipient,
		Subject:        alert.Subject,
		OwnerID:        alert.OwnerID,
		BudgetID:       alert.BudgetID,
		Threshold:      alert.Threshold,
		PercentageUsed: alert.PercentageUsed.Round(2),
		Limit:          alert.Limit.Decimal(),
		TotalExpenses:  alert.TotalExpenses.Decimal(),
		EvaluatedAt:    alert.EvaluatedAt.UTC(),
		Timestamp:      time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BudgetAlertMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
