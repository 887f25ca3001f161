package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweep defaults.
const (
	DefaultSweepSchedule        = "0 2 * * *"
	DefaultSweepRetryAttempts   = 3
	DefaultSweepRetryInitialGap = 2 * time.Second
)

// SweepConfig contains configuration for SweepService.
type SweepConfig struct {
	// Schedule is a standard 5-field cron spec. Empty disables scheduling.
	Schedule string

	// RetryAttempts bounds disable attempts per subscriber for connectivity failures.
	RetryAttempts        int
	RetryInitialInterval time.Duration

	// Location evaluates Schedule. Nil means time.Local.
	Location *time.Location
}

// SweepFailure describes one subscriber the sweep could not disable.
type SweepFailure struct {
	SubscriberID string           `json:"subscriberId"`
	Username     string           `json:"username"`
	Kind         router.ErrorKind `json:"kind,omitempty"`
	Message      string           `json:"message"`
	Attempts     int              `json:"attempts"`
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Checked    int            `json:"checked"`
	Overdue    int            `json:"overdue"`
	Disabled   int            `json:"disabled"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Failures   []SweepFailure `json:"failures,omitempty"`
}

// Duration returns how long the run took.
func (r SweepReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SweepService disables network access for overdue subscribers.
// It never re-enables anyone.
type SweepService struct {
	subscribers ports.SubscriberStore
	billing     *BillingService
	routers     *RouterService
	metrics     ports.Metrics
	logger      zerolog.Logger

	runMu sync.Mutex
	last  *SweepReport

	schedMu  sync.Mutex
	cfg      SweepConfig
	cron     *cron.Cron
	entry    cron.EntryID
	cancel   context.CancelFunc
	baseCtx  context.Context
	wallTime func() time.Time
}

// NewSweepService creates an overdue sweep.
func NewSweepService(
	subscribers ports.SubscriberStore,
	billingSvc *BillingService,
	routers *RouterService,
	metrics ports.Metrics,
	logger zerolog.Logger,
	cfg SweepConfig,
) *SweepService {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultSweepRetryAttempts
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultSweepRetryInitialGap
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &SweepService{
		subscribers: subscribers,
		billing:     billingSvc,
		routers:     routers,
		metrics:     metricsOrNop(metrics),
		logger:      logger.With().Str("service", "sweep").Logger(),
		cfg:         cfg,
		wallTime:    time.Now,
	}
}

// Run evaluates every enforceable subscriber once and disables those that
// are overdue. Per-subscriber failures are recorded and the run continues.
// Concurrent calls are serialized.
func (s *SweepService) Run(ctx context.Context) (report SweepReport, err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report.StartedAt = s.wallTime()
	defer func() {
		// Early returns leave FinishedAt unset; report is the named result.
		if report.FinishedAt.IsZero() {
			report.FinishedAt = s.wallTime()
		}
		s.metrics.ObserveSweep(report.Checked, report.Overdue, report.Disabled, report.Failed, report.Duration())
	}()

	subs, err := s.subscribers.ListEnforceable(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscribers: %w", err)
	}

	now := s.billing.clock.Now()
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			s.logger.Warn().Err(err).Int("remaining", len(subs)-report.Checked).Msg("sweep cancelled")
			return report, err
		}

		report.Checked++
		if s.billing.ResolveAt(sub, now).Status != billing.StatusOverdue {
			continue
		}
		report.Overdue++

		res, attempts := s.disable(ctx, sub)
		switch {
		case res.Success:
			report.Disabled++
		case res.Kind == router.KindNotConfigured:
			report.Skipped++
			s.logger.Debug().Str("subscriber_id", sub.ID).Str("username", sub.PPPoEUsername).Msg("no router configured")
		default:
			report.Failed++
			report.Failures = append(report.Failures, SweepFailure{
				SubscriberID: sub.ID,
				Username:     sub.PPPoEUsername,
				Kind:         res.Kind,
				Message:      res.Message,
				Attempts:     attempts,
			})
			s.logger.Warn().
				Str("subscriber_id", sub.ID).
				Str("username", sub.PPPoEUsername).
				Int("attempts", attempts).
				Str("err", res.Message).
				Msg("failed to disable overdue subscriber")
		}
	}

	report.FinishedAt = s.wallTime()
	s.logger.Info().
		Int("checked", report.Checked).
		Int("overdue", report.Overdue).
		Int("disabled", report.Disabled).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration()).
		Msg("sweep complete")

	last := report
	s.last = &last
	return report, nil
}

// disable turns off sub's credential, retrying connectivity failures with
// exponential backoff. Other failures are final.
func (s *SweepService) disable(ctx context.Context, sub billing.Subscriber) (router.Result, int) {
	r, err := s.routers.ResolveRouter(ctx, sub.RouterID)
	if err != nil {
		return router.Failure(router.Wrap(router.KindDevice, err)), 0
	}

	var (
		res      router.Result
		attempts int
	)
	op := func() error {
		attempts++
		res = s.routers.TogglePppoeSecret(ctx, r, sub.PPPoEUsername, false)
		if res.Success {
			return nil
		}
		err := errors.New(res.Message)
		if res.Kind == router.KindConnectivity {
			return err
		}
		return backoff.Permanent(err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.RetryInitialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.cfg.RetryAttempts-1)), ctx)

	_ = backoff.Retry(op, b)
	return res, attempts
}

// Last returns the most recent completed run, or nil.
func (s *SweepService) Last() *SweepReport {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// -----------------------------------------------------------------------------
// Scheduling
// -----------------------------------------------------------------------------

// ValidateSchedule checks a standard 5-field cron spec.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// Start schedules Run. It does nothing when the schedule is empty.
func (s *SweepService) Start(ctx context.Context) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.cron != nil {
		return errors.New("sweep scheduler already started")
	}
	if s.cfg.Schedule == "" {
		s.logger.Info().Msg("sweep schedule disabled")
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(s.cfg.Location))
	id, err := c.AddFunc(s.cfg.Schedule, s.scheduledRun)
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron, s.entry = c, id
	c.Start()

	s.logger.Info().Str("schedule", s.cfg.Schedule).Time("next", c.Entry(id).Next).Msg("sweep scheduled")
	return nil
}

// Stop cancels any running sweep and waits for it to return.
func (s *SweepService) Stop() {
	s.schedMu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.schedMu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// Reschedule replaces the cron spec of a running scheduler. When the
// scheduler is not running the new spec applies on the next Start.
func (s *SweepService) Reschedule(spec string) error {
	if spec != "" {
		if err := ValidateSchedule(spec); err != nil {
			return err
		}
	}

	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if spec == s.cfg.Schedule {
		return nil
	}
	old := s.cfg.Schedule
	s.cfg.Schedule = spec

	if s.cron == nil {
		return nil
	}
	s.cron.Remove(s.entry)
	if spec == "" {
		s.logger.Info().Str("old", old).Msg("sweep schedule disabled")
		return nil
	}
	id, err := s.cron.AddFunc(spec, s.scheduledRun)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.entry = id
	s.logger.Info().Str("old", old).Str("schedule", spec).Msg("sweep rescheduled")
	return nil
}

// Schedule returns the current cron spec.
func (s *SweepService) Schedule() string {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.cfg.Schedule
}

func (s *SweepService) scheduledRun() {
	s.schedMu.Lock()
	ctx := s.baseCtx
	s.schedMu.Unlock()
	if ctx == nil {
		return
	}
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
}
