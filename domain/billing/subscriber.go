// Package billing provides subscriber billing value types and pure functions.
//
// Nothing in this package touches storage, the network or the wall clock:
// every function takes the instant it evaluates against as an argument.
package billing

import (
	"time"
)

// CreditType is a promotional billing adjustment tied to a single month.
type CreditType string

const (
	CreditNone     CreditType = "none"
	CreditTwoWeeks CreditType = "two_weeks"
	CreditOneMonth CreditType = "one_month"
)

// Status is the resolved payment state of a subscriber for a billing period.
type Status string

const (
	StatusPaid        Status = "Paid"
	StatusPartial     Status = "Partial"
	StatusDueToday    Status = "Due Today"
	StatusOverdue     Status = "Overdue"
	StatusUpcoming    Status = "Upcoming"
	StatusDue         Status = "Due"
	StatusPaidSkipped Status = "Paid/Skipped"
)

// IsSettled reports whether no money is owed for the period.
func (s Status) IsSettled() bool {
	return s == StatusPaid || s == StatusPaidSkipped
}

// Payment is one entry of a subscriber's append-only payment ledger.
type Payment struct {
	ID           string    `json:"id,omitempty"`
	AmountPaid   float64   `json:"amountPaid"`
	Date         time.Time `json:"date"`
	ReferenceNo  string    `json:"referenceNo,omitempty"`
	ReceiptImage string    `json:"receiptImage,omitempty"`
	// Month scopes the payment to a billing period. The ledger policy uses
	// "February 2026" labels, the cycle policy uses "2026-02" tokens.
	Month string `json:"month"`
}

// Subscriber is an ISP account (value type).
// Subscribers are never deleted, only archived.
type Subscriber struct {
	ID            string  `json:"id"`
	AccountNumber string  `json:"accountNumber"`
	Name          string  `json:"name"`
	Rate          float64 `json:"rate"`
	Cycle         int     `json:"cycle"`
	DaysDown      int     `json:"daysDown"`

	// RemainingBalance, when non-nil, is authoritative over
	// amountDue minus the month's payments.
	RemainingBalance *float64 `json:"remainingBalance,omitempty"`

	Payments  []Payment  `json:"payments"`
	StartDate *time.Time `json:"startDate,omitempty"`

	CreditType         CreditType `json:"creditType,omitempty"`
	CreditAppliedMonth string     `json:"creditAppliedMonth,omitempty"`

	IsArchived bool `json:"isArchived"`

	PPPoEUsername string `json:"pppoeUsername,omitempty"`
	PPPoEPassword string `json:"-"`
	PPPoEProfile  string `json:"pppoeProfile,omitempty"`
	RouterID      string `json:"routerId,omitempty"`

	// LegacyPaid holds old isPaid<MonthName><Year> flags. Read only.
	LegacyPaid map[string]bool `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasCredential reports whether the subscriber is bound to a network credential.
func (s Subscriber) HasCredential() bool {
	return s.PPPoEUsername != ""
}

// Clone returns a deep copy of s.
func (s Subscriber) Clone() Subscriber {
	c := s
	c.Payments = append([]Payment(nil), s.Payments...)
	if s.RemainingBalance != nil {
		v := *s.RemainingBalance
		c.RemainingBalance = &v
	}
	if s.StartDate != nil {
		v := *s.StartDate
		c.StartDate = &v
	}
	if s.LegacyPaid != nil {
		c.LegacyPaid = make(map[string]bool, len(s.LegacyPaid))
		for k, v := range s.LegacyPaid {
			c.LegacyPaid[k] = v
		}
	}
	return c
}

// LegacyPaidKey returns the legacy flag name for the month containing t,
// e.g. "isPaidFebruary2026".
func LegacyPaidKey(t time.Time) string {
	return "isPaid" + t.Format("January2006")
}

// MonthName returns the ledger month label for t, e.g. "February 2026".
func MonthName(t time.Time) string {
	return t.Format("January 2006")
}

// MonthToken returns the cycle-policy month token for t in UTC, e.g. "2026-02".
func MonthToken(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Settings are the billing-wide knobs (singleton record).
type Settings struct {
	DefaultRate  float64 `json:"defaultRate"`
	RebateValue  float64 `json:"rebateValue"` // divisor for the daily outage rate, nominally days in a month
	ProviderCost float64 `json:"providerCost"`
}

// DefaultRebateValue is used whenever Settings.RebateValue is not positive.
const DefaultRebateValue = 30

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{RebateValue: DefaultRebateValue}
}

func (s Settings) rebateDivisor() float64 {
	if s.RebateValue <= 0 {
		return DefaultRebateValue
	}
	return s.RebateValue
}

// MonthlyReport is a point-in-time snapshot taken at a monthly reset.
type MonthlyReport struct {
	ID              string    `json:"id"`
	MonthYear       string    `json:"monthYear"`
	TotalExpected   float64   `json:"totalExpected"`
	TotalCollected  float64   `json:"totalCollected"`
	TotalProfit     float64   `json:"totalProfit"`
	SubscriberCount int       `json:"subscriberCount"`
	CreatedAt       time.Time `json:"createdAt"`
}
