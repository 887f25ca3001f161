package billing

import (
	"fmt"
	"time"
)

// Policy resolves a subscriber's bill. Two strategies exist because two
// call sites disagree on date normalization and credit handling.
type Policy interface {
	// Name returns the configuration name of the policy.
	Name() string

	// Evaluate resolves the subscriber at now. Implementations are pure.
	Evaluate(sub Subscriber, now time.Time, s Settings) Result
}

// Policy names accepted by PolicyByName.
const (
	PolicyLedger = "ledger"
	PolicyCycle  = "cycle"
)

// LedgerPolicy keys payments by "<MonthName> <Year>" labels, compares dates
// in local calendar time and applies outage rebates. See Process.
type LedgerPolicy struct{}

// Name returns "ledger".
func (LedgerPolicy) Name() string { return PolicyLedger }

// Evaluate delegates to Process.
func (LedgerPolicy) Evaluate(sub Subscriber, now time.Time, s Settings) Result {
	return Process(sub, now, s)
}

// CyclePolicy keys payments by "YYYY-MM" tokens, compares dates in UTC,
// clamps the cycle day to the month and honours promotional credits.
type CyclePolicy struct{}

// Name returns "cycle".
func (CyclePolicy) Name() string { return PolicyCycle }

// Evaluate composes CreateDueDate, ApplyCreditAdjustment and ResolveStatus.
// Settings are not consulted; the cycle model bills the flat rate.
func (CyclePolicy) Evaluate(sub Subscriber, now time.Time, _ Settings) Result {
	return evaluateCycle(sub, now)
}

// PolicyByName returns the policy registered under name.
// An empty name selects the ledger policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", PolicyLedger:
		return LedgerPolicy{}, nil
	case PolicyCycle:
		return CyclePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown billing policy %q", name)
	}
}

// Ensure interface compliance.
var (
	_ Policy = LedgerPolicy{}
	_ Policy = CyclePolicy{}
)
