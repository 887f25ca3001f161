package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// BillingServiceConfig contains configuration for BillingService.
type BillingServiceConfig struct {
	// Policy resolves bills. Nil selects the ledger policy.
	Policy billing.Policy

	// AutoEnableOnPayment re-enables a credential once a payment settles the month.
	AutoEnableOnPayment bool
}

// BillingService owns subscriber records and evaluates them against the
// active billing policy.
type BillingService struct {
	subscribers ports.SubscriberStore
	reports     ports.ReportStore
	settings    *SettingsService
	routers     *RouterService
	cipher      ports.Cipher
	clock       ports.Clock
	ids         ports.IDGenerator
	accounts    ports.IDGenerator
	metrics     ports.Metrics
	logger      zerolog.Logger
	cfg         BillingServiceConfig
}

// BillingDeps groups BillingService collaborators.
type BillingDeps struct {
	Subscribers ports.SubscriberStore
	Reports     ports.ReportStore
	Settings    *SettingsService
	Routers     *RouterService
	Cipher      ports.Cipher
	Clock       ports.Clock
	IDs         ports.IDGenerator
	Accounts    ports.IDGenerator
	Metrics     ports.Metrics
	Logger      zerolog.Logger
}

// NewBillingService creates a billing service.
func NewBillingService(deps BillingDeps, cfg BillingServiceConfig) *BillingService {
	if cfg.Policy == nil {
		cfg.Policy = billing.LedgerPolicy{}
	}
	accounts := deps.Accounts
	if accounts == nil {
		accounts = deps.IDs
	}
	return &BillingService{
		subscribers: deps.Subscribers,
		reports:     deps.Reports,
		settings:    deps.Settings,
		routers:     deps.Routers,
		cipher:      deps.Cipher,
		clock:       deps.Clock,
		ids:         deps.IDs,
		accounts:    accounts,
		metrics:     metricsOrNop(deps.Metrics),
		logger:      deps.Logger.With().Str("service", "billing").Logger(),
		cfg:         cfg,
	}
}

// Policy returns the active billing policy.
func (s *BillingService) Policy() billing.Policy {
	return s.cfg.Policy
}

// SubscriberView is a subscriber with its resolved bill.
type SubscriberView struct {
	billing.Subscriber
	Billing billing.Result `json:"billing"`
}

// ResolveAt evaluates sub at now under the active policy and settings.
func (s *BillingService) ResolveAt(sub billing.Subscriber, now time.Time) billing.Result {
	return s.cfg.Policy.Evaluate(sub, now, s.settings.Billing())
}

func (s *BillingService) view(sub billing.Subscriber, now time.Time) SubscriberView {
	return SubscriberView{Subscriber: sub, Billing: s.ResolveAt(sub, now)}
}

// Evaluate returns the billing view of one subscriber.
func (s *BillingService) Evaluate(ctx context.Context, id string) (SubscriberView, error) {
	sub, err := s.subscribers.Get(ctx, id)
	if err != nil {
		return SubscriberView{}, err
	}
	return s.view(sub, s.clock.Now()), nil
}

// List returns billing views of all non-archived subscribers.
// A non-empty status keeps only subscribers resolving to it.
func (s *BillingService) List(ctx context.Context, status billing.Status) ([]SubscriberView, error) {
	subs, err := s.subscribers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	views := lo.Map(subs, func(sub billing.Subscriber, _ int) SubscriberView {
		return s.view(sub, now)
	})
	if status == "" {
		return views, nil
	}
	return lo.Filter(views, func(v SubscriberView, _ int) bool {
		return v.Billing.Status == status
	}), nil
}

// Stats returns dashboard totals at the current instant.
func (s *BillingService) Stats(ctx context.Context) (billing.Stats, error) {
	subs, err := s.subscribers.List(ctx)
	if err != nil {
		return billing.Stats{}, err
	}
	return billing.CalculateStatsWith(s.cfg.Policy, subs, s.clock.Now(), s.settings.Billing()), nil
}

// -----------------------------------------------------------------------------
// Payments and outages
// -----------------------------------------------------------------------------

// PaymentInput records one payment. Zero Date means now; empty Month means
// the current period label of the active policy.
type PaymentInput struct {
	AmountPaid   float64   `json:"amountPaid" validate:"gt=0"`
	Date         time.Time `json:"date"`
	ReferenceNo  string    `json:"referenceNo" validate:"max=64"`
	ReceiptImage string    `json:"receiptImage"`
	Month        string    `json:"month"`
}

// PaymentOutcome is the result of RecordPayment.
type PaymentOutcome struct {
	Subscriber SubscriberView  `json:"subscriber"`
	Payment    billing.Payment `json:"payment"`

	// Enable is set when the payment triggered a credential re-enable.
	Enable *router.Result `json:"enable,omitempty"`
}

// RecordPayment appends a payment to the subscriber's ledger. When the
// payment settles the period the subscriber's credential is re-enabled;
// a failed re-enable is reported in the outcome, not as an error.
func (s *BillingService) RecordPayment(ctx context.Context, id string, in PaymentInput) (PaymentOutcome, error) {
	if err := validateStruct(in); err != nil {
		return PaymentOutcome{}, err
	}

	sub, err := s.subscribers.Get(ctx, id)
	if err != nil {
		return PaymentOutcome{}, err
	}

	now := s.clock.Now()
	p := billing.Payment{
		ID:           s.ids.New(),
		AmountPaid:   billing.Round2(in.AmountPaid),
		Date:         in.Date,
		ReferenceNo:  strings.TrimSpace(in.ReferenceNo),
		ReceiptImage: in.ReceiptImage,
		Month:        in.Month,
	}
	if p.Date.IsZero() {
		p.Date = now
	}
	if p.Month == "" {
		p.Month = s.periodLabel(now)
	}

	sub.Payments = append(sub.Payments, p)
	if sub.RemainingBalance != nil {
		left := billing.Round2(math.Max(0, *sub.RemainingBalance-p.AmountPaid))
		sub.RemainingBalance = &left
	}
	sub.UpdatedAt = now

	if err := s.subscribers.Update(ctx, sub); err != nil {
		return PaymentOutcome{}, fmt.Errorf("save payment: %w", err)
	}
	s.metrics.ObservePayment(p.AmountPaid)

	out := PaymentOutcome{Subscriber: s.view(sub, now), Payment: p}
	s.logger.Info().
		Str("subscriber_id", sub.ID).
		Float64("amount", p.AmountPaid).
		Str("month", p.Month).
		Str("status", string(out.Subscriber.Billing.Status)).
		Msg("payment recorded")

	if s.cfg.AutoEnableOnPayment && s.routers != nil && sub.HasCredential() && out.Subscriber.Billing.Status.IsSettled() {
		res := s.toggle(ctx, sub, true)
		out.Enable = &res
	}
	return out, nil
}

func (s *BillingService) periodLabel(now time.Time) string {
	if s.cfg.Policy.Name() == billing.PolicyCycle {
		return billing.MonthToken(now)
	}
	return billing.MonthName(now)
}

// RecordOutage adds days of service outage to the current period.
func (s *BillingService) RecordOutage(ctx context.Context, id string, days int) (SubscriberView, error) {
	if days <= 0 {
		return SubscriberView{}, invalid("days", "must be greater than 0")
	}
	sub, err := s.subscribers.Get(ctx, id)
	if err != nil {
		return SubscriberView{}, err
	}
	now := s.clock.Now()
	sub.DaysDown += days
	sub.UpdatedAt = now
	if err := s.subscribers.Update(ctx, sub); err != nil {
		return SubscriberView{}, fmt.Errorf("save outage: %w", err)
	}
	return s.view(sub, now), nil
}

// MonthlyReset snapshots the month into a report, then clears outage days
// and explicit balances on every active subscriber.
func (s *BillingService) MonthlyReset(ctx context.Context) (billing.MonthlyReport, error) {
	subs, err := s.subscribers.ListActive(ctx)
	if err != nil {
		return billing.MonthlyReport{}, err
	}

	now := s.clock.Now()
	cfg := s.settings.Billing()
	st := billing.CalculateStatsWith(s.cfg.Policy, subs, now, cfg)

	report := billing.MonthlyReport{
		ID:              s.ids.New(),
		MonthYear:       billing.MonthName(now),
		TotalExpected:   st.TotalMonthlyRevenue,
		TotalCollected:  st.TotalCollections,
		TotalProfit:     billing.Round2(st.TotalCollections - cfg.ProviderCost),
		SubscriberCount: st.SubscriberCount,
		CreatedAt:       now,
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return billing.MonthlyReport{}, fmt.Errorf("store report: %w", err)
	}

	for _, sub := range subs {
		if sub.DaysDown == 0 && sub.RemainingBalance == nil {
			continue
		}
		sub.DaysDown = 0
		sub.RemainingBalance = nil
		sub.UpdatedAt = now
		if err := s.subscribers.Update(ctx, sub); err != nil {
			return report, fmt.Errorf("reset subscriber %s: %w", sub.ID, err)
		}
	}

	s.logger.Info().
		Str("month", report.MonthYear).
		Int("subscribers", report.SubscriberCount).
		Float64("collected", report.TotalCollected).
		Msg("monthly reset complete")
	return report, nil
}

// Reports returns stored monthly reports, newest first.
func (s *BillingService) Reports(ctx context.Context, limit int) ([]billing.MonthlyReport, error) {
	return s.reports.List(ctx, limit)
}

// BalanceView is the public answer to a balance check.
type BalanceView struct {
	AccountNumber    string         `json:"accountNumber"`
	Name             string         `json:"name"`
	AmountDue        float64        `json:"amountDue"`
	RemainingBalance float64        `json:"remainingBalance"`
	DueDate          string         `json:"dueDate"`
	Status           billing.Status `json:"status"`
}

// LookupBalance resolves a subscriber by account number for the public
// balance check. Archived subscribers are reported as not found.
func (s *BillingService) LookupBalance(ctx context.Context, accountNumber string) (BalanceView, error) {
	accountNumber = strings.ToUpper(strings.TrimSpace(accountNumber))
	if accountNumber == "" {
		return BalanceView{}, invalid("accountNumber", "is required")
	}
	sub, err := s.subscribers.GetByAccount(ctx, accountNumber)
	if err != nil {
		return BalanceView{}, err
	}
	if sub.IsArchived {
		return BalanceView{}, ports.ErrNotFound
	}
	r := s.ResolveAt(sub, s.clock.Now())
	return BalanceView{
		AccountNumber:    sub.AccountNumber,
		Name:             sub.Name,
		AmountDue:        r.AmountDue,
		RemainingBalance: r.RemainingBalance,
		DueDate:          r.DueDate,
		Status:           r.Status,
	}, nil
}

// -----------------------------------------------------------------------------
// Subscriber records
// -----------------------------------------------------------------------------

// SubscriberInput creates or updates a subscriber. A zero Rate takes the
// configured default rate. An empty PPPoEPassword on update keeps the
// stored one.
type SubscriberInput struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name" validate:"required"`
	Rate               float64            `json:"rate" validate:"gte=0"`
	Cycle              int                `json:"cycle" validate:"min=1,max=31"`
	DaysDown           int                `json:"daysDown" validate:"gte=0"`
	RemainingBalance   *float64           `json:"remainingBalance" validate:"omitempty,gte=0"`
	StartDate          *time.Time         `json:"startDate"`
	CreditType         billing.CreditType `json:"creditType" validate:"omitempty,oneof=none two_weeks one_month"`
	CreditAppliedMonth string             `json:"creditAppliedMonth"`
	PPPoEUsername      string             `json:"pppoeUsername"`
	PPPoEPassword      string             `json:"pppoePassword"`
	PPPoEProfile       string             `json:"pppoeProfile"`
	RouterID           string             `json:"routerId"`
}

// UpsertSubscriber validates in and stores it. New subscribers get an id
// and an account number.
func (s *BillingService) UpsertSubscriber(ctx context.Context, in SubscriberInput) (billing.Subscriber, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return billing.Subscriber{}, err
	}
	if in.Rate == 0 {
		in.Rate = s.settings.Billing().DefaultRate
	}
	if in.Rate <= 0 {
		return billing.Subscriber{}, invalid("rate", "must be greater than 0")
	}

	now := s.clock.Now()
	var (
		sub    billing.Subscriber
		create = in.ID == ""
	)
	if create {
		sub = billing.Subscriber{
			ID:            s.ids.New(),
			AccountNumber: s.accounts.New(),
			CreatedAt:     now,
		}
	} else {
		existing, err := s.subscribers.Get(ctx, in.ID)
		if err != nil {
			return billing.Subscriber{}, err
		}
		sub = existing
	}

	sub.Name = in.Name
	sub.Rate = in.Rate
	sub.Cycle = in.Cycle
	sub.DaysDown = in.DaysDown
	sub.RemainingBalance = in.RemainingBalance
	sub.StartDate = in.StartDate
	sub.CreditType = in.CreditType
	sub.CreditAppliedMonth = in.CreditAppliedMonth
	sub.PPPoEUsername = strings.TrimSpace(in.PPPoEUsername)
	sub.PPPoEProfile = in.PPPoEProfile
	sub.RouterID = in.RouterID
	sub.UpdatedAt = now

	if in.PPPoEPassword != "" {
		enc, err := s.cipher.Encrypt(in.PPPoEPassword)
		if err != nil {
			return billing.Subscriber{}, fmt.Errorf("encrypt PPPoE password: %w", err)
		}
		sub.PPPoEPassword = enc
	}

	if create {
		if err := s.createWithAccount(ctx, &sub); err != nil {
			return billing.Subscriber{}, err
		}
		s.logger.Info().Str("subscriber_id", sub.ID).Str("account", sub.AccountNumber).Msg("subscriber created")
		return sub, nil
	}
	if err := s.subscribers.Update(ctx, sub); err != nil {
		return billing.Subscriber{}, err
	}
	return sub, nil
}

// accountAttempts bounds how many fresh account numbers Create is tried with.
const accountAttempts = 5

// createWithAccount stores sub, drawing a new account number whenever the
// store reports the current one as taken.
func (s *BillingService) createWithAccount(ctx context.Context, sub *billing.Subscriber) error {
	var err error
	for attempt := 1; attempt <= accountAttempts; attempt++ {
		if err = s.subscribers.Create(ctx, *sub); !errors.Is(err, ports.ErrDuplicate) {
			return err
		}
		s.logger.Warn().Str("account", sub.AccountNumber).Int("attempt", attempt).Msg("account number taken, regenerating")
		sub.AccountNumber = s.accounts.New()
	}
	return fmt.Errorf("allocate account number: %w", err)
}

// SyncCredential pushes the subscriber's credential to its router.
func (s *BillingService) SyncCredential(ctx context.Context, id string) (router.Result, error) {
	sub, err := s.subscribers.Get(ctx, id)
	if err != nil {
		return router.Result{}, err
	}
	if !sub.HasCredential() {
		return router.Result{}, invalid("pppoeUsername", "is required")
	}
	r, err := s.routers.ResolveRouter(ctx, sub.RouterID)
	if err != nil {
		return router.Result{}, err
	}
	return s.routers.CreateOrUpdateSecret(ctx, r, router.Credential{
		Username: sub.PPPoEUsername,
		Password: sub.PPPoEPassword,
		Profile:  sub.PPPoEProfile,
	}), nil
}

// SetAccess enables or disables the subscriber's credential.
func (s *BillingService) SetAccess(ctx context.Context, id string, enable bool) (router.Result, error) {
	sub, err := s.subscribers.Get(ctx, id)
	if err != nil {
		return router.Result{}, err
	}
	if !sub.HasCredential() {
		return router.Result{}, invalid("pppoeUsername", "is required")
	}
	return s.toggle(ctx, sub, enable), nil
}

// ArchiveSubscriber hides a subscriber from billing and disables its
// credential. The disable outcome is returned when one was attempted.
func (s *BillingService) ArchiveSubscriber(ctx context.Context, id string) (*router.Result, error) {
	sub, err := s.subscribers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsArchived {
		return nil, nil
	}
	sub.IsArchived = true
	sub.UpdatedAt = s.clock.Now()
	if err := s.subscribers.Update(ctx, sub); err != nil {
		return nil, err
	}
	if !sub.HasCredential() || s.routers == nil {
		return nil, nil
	}
	res := s.toggle(ctx, sub, false)
	return &res, nil
}

func (s *BillingService) toggle(ctx context.Context, sub billing.Subscriber, enable bool) router.Result {
	r, err := s.routers.ResolveRouter(ctx, sub.RouterID)
	if err != nil {
		return router.Failure(router.Wrap(router.KindNotConfigured, err))
	}
	res := s.routers.TogglePppoeSecret(ctx, r, sub.PPPoEUsername, enable)
	if !res.Success {
		s.logger.Warn().Str("subscriber_id", sub.ID).Str("username", sub.PPPoEUsername).
			Bool("enable", enable).Str("message", res.Message).Msg("access change failed")
	}
	return res
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ports.ErrNotFound)
}
