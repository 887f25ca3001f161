package billing

import (
	"time"

	"github.com/samber/lo"
)

// Stats are dashboard totals over all non-archived subscribers.
type Stats struct {
	DueToday            int     `json:"dueToday"`
	Overdue             int     `json:"overdue"`
	TotalCollections    float64 `json:"totalCollections"`
	TotalMonthlyRevenue float64 `json:"totalMonthlyRevenue"`

	SubscriberCount int     `json:"subscriberCount"`
	Paid            int     `json:"paid"`
	Partial         int     `json:"partial"`
	Upcoming        int     `json:"upcoming"`
	ExpectedProfit  float64 `json:"expectedProfit"`
}

// CalculateStats folds Process over the active subscribers.
// TotalMonthlyRevenue is expected billing, not cash collected.
// This is a PURE function.
func CalculateStats(subs []Subscriber, now time.Time, s Settings) Stats {
	return CalculateStatsWith(LedgerPolicy{}, subs, now, s)
}

// CalculateStatsWith is CalculateStats for an arbitrary policy.
func CalculateStatsWith(p Policy, subs []Subscriber, now time.Time, s Settings) Stats {
	active := lo.Reject(subs, func(sub Subscriber, _ int) bool {
		return sub.IsArchived
	})

	var st Stats
	var collections, revenue float64
	for _, sub := range active {
		r := p.Evaluate(sub, now, s)
		st.SubscriberCount++
		// Result.MonthPayments is already rounded; sum the raw amounts.
		collections += sumPaid(paymentsFor(sub.Payments, r.CurrentMonthName))
		revenue += r.AmountDue

		switch r.Status {
		case StatusDueToday:
			st.DueToday++
		case StatusOverdue:
			st.Overdue++
		case StatusPaid, StatusPaidSkipped:
			st.Paid++
		case StatusPartial:
			st.Partial++
		case StatusUpcoming, StatusDue:
			st.Upcoming++
		}
	}

	// Rounded once at the end, not per subscriber.
	st.TotalCollections = Round2(collections)
	st.TotalMonthlyRevenue = Round2(revenue)
	st.ExpectedProfit = Round2(revenue - s.ProviderCost)
	return st
}
