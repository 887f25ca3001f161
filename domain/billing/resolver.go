package billing

import (
	"math"
	"time"

	"github.com/samber/lo"
)

// DateLayout is the wire format of Result.DueDate.
const DateLayout = "2006-01-02"

// Result is the resolved billing view of one subscriber at one instant.
// This is the shape the API and dashboard layers render.
type Result struct {
	AmountDue         float64        `json:"amountDue"`
	RemainingBalance  float64        `json:"remainingBalance"`
	Rebate            float64        `json:"rebate"`
	DailyRate         float64        `json:"dailyRate"`
	Status            Status         `json:"status"`
	DueDate           string         `json:"dueDate"`
	DueDateAtMidnight time.Time      `json:"-"`
	HasReceipt        bool           `json:"hasReceipt"`
	CurrentMonthName  string         `json:"currentMonthName"`
	MonthPayments     float64        `json:"monthPayments"`
	Adjustment        AdjustmentKind `json:"adjustment,omitempty"`
}

// Process resolves a subscriber's dues for the month containing now.
// Dates are compared as calendar dates in now's location. This is a PURE function.
func Process(sub Subscriber, now time.Time, s Settings) Result {
	loc := now.Location()
	today := midnight(now)
	monthName := MonthName(now)

	dailyRate := sub.Rate / s.rebateDivisor()
	rebate := math.Min(dailyRate*float64(sub.DaysDown), sub.Rate)
	amountDue := Round2(sub.Rate - rebate)
	if amountDue < 0 {
		amountDue = 0
	}

	current := paymentsFor(sub.Payments, monthName)
	monthPayments := Round2(sumPaid(current))

	isPaid := sub.LegacyPaid[LegacyPaidKey(now)] ||
		monthPayments >= amountDue ||
		amountDue == 0

	// New installs that start on or after this month's cycle date are
	// not billed until the following month, unless they already paid.
	year, month := today.Year(), today.Month()
	if sub.StartDate != nil && len(current) == 0 {
		cycleThisMonth := time.Date(year, month, sub.Cycle, 0, 0, 0, 0, loc)
		if !midnight(sub.StartDate.In(loc)).Before(cycleThisMonth) {
			month++
		}
	}
	// No clamping: day 31 in a 30-day month rolls into the next month.
	due := time.Date(year, month, sub.Cycle, 0, 0, 0, 0, loc)

	remaining := math.Max(0, amountDue-monthPayments)
	if sub.RemainingBalance != nil {
		remaining = *sub.RemainingBalance
	}

	var status Status
	switch {
	case isPaid:
		status = StatusPaid
	case remaining > 0 && remaining < amountDue:
		status = StatusPartial
	case due.Equal(today):
		status = StatusDueToday
	case due.Before(today):
		status = StatusOverdue
	default:
		status = StatusUpcoming
	}

	return Result{
		AmountDue:         amountDue,
		RemainingBalance:  Round2(remaining),
		Rebate:            Round2(rebate),
		DailyRate:         Round2(dailyRate),
		Status:            status,
		DueDate:           due.Format(DateLayout),
		DueDateAtMidnight: due,
		HasReceipt:        hasReceipt(current),
		CurrentMonthName:  monthName,
		MonthPayments:     monthPayments,
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func hasReceipt(payments []Payment) bool {
	return lo.SomeBy(payments, func(p Payment) bool {
		return p.ReceiptImage != ""
	})
}
