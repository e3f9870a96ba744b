package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// AlertThresholds are the percentages of the monthly limit that trigger an alert, ascending.
var AlertThresholds = []int{75, 85, 95, 100}

const defaultAlertTimeout = 10 * time.Second

// BudgetAlerter notifies an owner once per newly crossed threshold per
// calendar month.
type BudgetAlerter struct {
	store    ports.BudgetStore
	notifier ports.Notifier
	logger   *log.Logger
	timeout  time.Duration
	now      func() time.Time
}

type BudgetAlerterOption func(*BudgetAlerter)

// WithAlertTimeout bounds one evaluation, including the notifier call.
func WithAlertTimeout(d time.Duration) BudgetAlerterOption {
	return func(a *BudgetAlerter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests crossing month boundaries.
func WithClock(now func() time.Time) BudgetAlerterOption {
	return func(a *BudgetAlerter) {
		if now != nil {
			a.now = now
		}
	}
}

func NewBudgetAlerter(store ports.BudgetStore, notifier ports.Notifier, logger *log.Logger, opts ...BudgetAlerterOption) *BudgetAlerter {
	if logger == nil {
		logger = log.Discard()
	}
	a := &BudgetAlerter{
		store:    store,
		notifier: notifier,
		logger:   logger.WithComponent(log.ComponentBudget),
		timeout:  defaultAlertTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluate checks the owner's month-to-date spend against the budget and
// dispatches at most one alert. Failures are logged and never returned.
// The caller's cancellation does not abort an evaluation already started.
func (a *BudgetAlerter) Evaluate(ctx context.Context, ownerID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.evaluate(ctx, ownerID); err != nil {
		a.logger.ErrorContext(ctx, "Budget alert evaluation failed",
			log.NewFields().WithOperation(log.OpEvaluate).WithOwner(ownerID).WithError(err).ToSlice()...)
	}
}

func (a *BudgetAlerter) evaluate(ctx context.Context, ownerID string) error {
	budget, err := a.store.GetBudget(ctx, ownerID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load budget: %w", err)
	}

	now := a.now().UTC()
	total, err := a.store.SumExpensesSince(ctx, ownerID, core.MonthStart(now))
	if err != nil {
		return fmt.Errorf("sum expenses: %w", err)
	}

	if budget.Limit.Cents <= 0 {
		return nil
	}

	pct := total.PercentOf(budget.Limit)
	threshold, crossed := CrossedThreshold(pct)
	if !crossed || !ShouldAlert(threshold, budget.LastAlertPercentage, budget.LastAlertSent, now) {
		a.logger.DebugContext(ctx, "No budget alert due",
			log.FieldOwnerID, ownerID,
			log.FieldPercentage, pct.String())
		return nil
	}

	alert := core.BudgetAlert{
		Recipient:      ownerID,
		Subject:        fmt.Sprintf("Budget Alert: %s%% used", pct.StringFixed(1)),
		OwnerID:        ownerID,
		BudgetID:       budget.ID,
		Threshold:      threshold,
		PercentageUsed: pct,
		Limit:          budget.Limit,
		TotalExpenses:  total,
		EvaluatedAt:    now,
	}
	if err := a.notifier.NotifyBudgetAlert(ctx, alert); err != nil {
		return fmt.Errorf("dispatch alert: %w", err)
	}

	recorded, err := a.store.RecordBudgetAlert(ctx, budget.ID, budget.AlertVersion, threshold, now)
	if err != nil {
		return fmt.Errorf("record alert state: %w", err)
	}
	if !recorded {
		a.logger.WarnContext(ctx, "Budget alert state changed concurrently, alert may have been sent twice",
			log.FieldBudgetID, budget.ID,
			log.FieldThreshold, threshold)
		return nil
	}

	a.logger.InfoContext(ctx, "Budget alert sent",
		log.FieldOwnerID, ownerID,
		log.FieldBudgetID, budget.ID,
		log.FieldThreshold, threshold,
		log.FieldPercentage, pct.StringFixed(2))
	return nil
}

// CrossedThreshold returns the highest alert threshold at or below pct.
func CrossedThreshold(pct decimal.Decimal) (int, bool) {
	for i := len(AlertThresholds) - 1; i >= 0; i-- {
		if pct.GreaterThanOrEqual(decimal.NewFromInt(int64(AlertThresholds[i]))) {
			return AlertThresholds[i], true
		}
	}
	return 0, false
}

// ShouldAlert reports whether threshold is new for the current month: either
// nothing was sent yet this month, or threshold exceeds the last one sent.
func ShouldAlert(threshold int, lastPercentage *int, lastSent *time.Time, now time.Time) bool {
	if lastSent == nil {
		return true
	}
	sent, cur := lastSent.UTC(), now.UTC()
	if sent.Year() != cur.Year() || sent.Month() != cur.Month() {
		return true
	}
	last := 0
	if lastPercentage != nil {
		last = *lastPercentage
	}
	return threshold > last
}

// LogNotifier writes alerts to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogNotifier{logger: logger.WithComponent(log.ComponentBudget)}
}

func (n *LogNotifier) NotifyBudgetAlert(ctx context.Context, alert core.BudgetAlert) error {
	n.logger.InfoContext(ctx, alert.Subject,
		log.FieldOperation, log.OpNotify,
		"recipient", alert.Recipient,
		log.FieldThreshold, alert.Threshold,
		"limit", alert.Limit.String(),
		"total_expenses", alert.TotalExpenses.String())
	return nil
}
