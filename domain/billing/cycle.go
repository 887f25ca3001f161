package billing

import (
	"time"

	"github.com/samber/lo"
)

// AdjustmentKind names what a promotional credit did to a bill.
type AdjustmentKind string

const (
	AdjustmentNone            AdjustmentKind = ""
	AdjustmentExtendedDueDate AdjustmentKind = "extended_due_date"
	AdjustmentHalfOff         AdjustmentKind = "half_off"
)

// Adjustment is the due date and amount after credits are applied.
type Adjustment struct {
	DueDate time.Time
	Amount  float64
	Kind    AdjustmentKind
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CreateDueDate returns the due date for cycleDay within now's UTC month,
// clamped to the last day of that month.
func CreateDueDate(now time.Time, cycleDay int) time.Time {
	y, m, _ := now.UTC().Date()
	day := min(max(cycleDay, 1), DaysInMonth(y, m))
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// ApplyCreditAdjustment applies a two-weeks credit granted for currentMonth.
// Early cycle days get a 14-day extension, later ones are billed half.
// Any other credit leaves the bill untouched.
func ApplyCreditAdjustment(sub Subscriber, baseDueDate time.Time, currentMonth string) Adjustment {
	adj := Adjustment{DueDate: baseDueDate, Amount: sub.Rate}
	if sub.CreditType != CreditTwoWeeks || sub.CreditAppliedMonth != currentMonth {
		return adj
	}

	if baseDueDate.Day() <= 14 {
		adj.DueDate = baseDueDate.AddDate(0, 0, 14)
		adj.Kind = AdjustmentExtendedDueDate
		return adj
	}

	adj.Amount = Round2(sub.Rate / 2)
	adj.Kind = AdjustmentHalfOff
	return adj
}

// ResolveStatus resolves the cycle-policy status. Dates are compared in UTC.
func ResolveStatus(sub Subscriber, adjustedDueDate, now time.Time, currentMonth string) Status {
	if sub.CreditType == CreditOneMonth && sub.CreditAppliedMonth == currentMonth {
		return StatusPaidSkipped
	}

	if lo.ContainsBy(sub.Payments, func(p Payment) bool { return p.Month == currentMonth }) {
		return StatusPaid
	}

	today := midnight(now.UTC())
	due := midnight(adjustedDueDate.UTC())
	switch {
	case today.Equal(due):
		return StatusDueToday
	case today.After(due):
		return StatusOverdue
	default:
		return StatusDue
	}
}

// evaluateCycle composes the cycle model into a Result.
func evaluateCycle(sub Subscriber, now time.Time) Result {
	month := MonthToken(now)
	adj := ApplyCreditAdjustment(sub, CreateDueDate(now, sub.Cycle), month)
	status := ResolveStatus(sub, adj.DueDate, now, month)

	current := paymentsFor(sub.Payments, month)
	paid := Round2(sumPaid(current))

	amount := Round2(adj.Amount)
	if status == StatusPaidSkipped {
		amount = 0
	}

	var remaining float64
	switch {
	case status.IsSettled():
	case sub.RemainingBalance != nil:
		remaining = *sub.RemainingBalance
	default:
		remaining = max(0, amount-paid)
	}

	return Result{
		AmountDue:         amount,
		RemainingBalance:  Round2(remaining),
		Status:            status,
		DueDate:           adj.DueDate.Format(DateLayout),
		DueDateAtMidnight: adj.DueDate,
		HasReceipt:        hasReceipt(current),
		CurrentMonthName:  month,
		MonthPayments:     paid,
		Adjustment:        adj.Kind,
	}
}
