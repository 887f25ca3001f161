// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/netbill/adapters/cipher"
	"github.com/artpar/netbill/adapters/clock"
	apihttp "github.com/artpar/netbill/adapters/http"
	"github.com/artpar/netbill/adapters/idgen"
	"github.com/artpar/netbill/adapters/memory"
	"github.com/artpar/netbill/adapters/metrics"
	"github.com/artpar/netbill/adapters/routeros"
	"github.com/artpar/netbill/adapters/sqlite"
	"github.com/artpar/netbill/app"
	"github.com/artpar/netbill/config"
	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SimulatedIdentity is the identity reported by the simulated device.
const SimulatedIdentity = "netbill-simulated"

// App represents the running application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Settings *app.SettingsService
	Billing  *app.BillingService
	Routers  *app.RouterService
	Sweep    *app.SweepService

	// Stores, exposed for the CLI.
	Subscribers ports.SubscriberStore

	holder *config.Holder
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is loaded when it exists; otherwise NETBILL_* variables
	// are used. A loaded file is watched for changes while running.
	ConfigPath string

	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config

	// Dialer overrides the device dialer selected by router.driver.
	Dialer ports.DeviceDialer

	// LogOutput receives log lines. Nil means stdout.
	LogOutput io.Writer

	Version string
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg, watch, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := setupLogger(cfg.Logging, out)
	logger.Info().Str("version", opts.Version).Msg("initializing netbill")

	var holder *config.Holder
	if watch {
		holder, err = config.NewHolder(opts.ConfigPath, logger)
		if err != nil {
			return nil, err
		}
		cfg = holder.Get()
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		holder: holder,
	}

	if err := a.init(opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// loadConfig reports whether the config came from a file worth watching.
func loadConfig(opts Options) (*config.Config, bool, error) {
	if opts.Config != nil {
		return opts.Config, false, nil
	}
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			cfg, err := config.Load(opts.ConfigPath)
			return cfg, true, err
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, false, fmt.Errorf("load config: %w", err)
	}
	return cfg, false, nil
}

func (a *App) init(opts Options) error {
	cfg := a.Config
	ctx := context.Background()

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("billing timezone: %w", err)
	}
	clk, err := clock.FromEnv(cfg.Clock.Now, loc)
	if err != nil {
		return fmt.Errorf("init clock: %w", err)
	}
	if _, ok := clk.(clock.Fixed); ok {
		a.Logger.Warn().Time("now", clk.Now()).Msg("clock pinned, dates will not advance")
	}

	stores, err := a.initStores()
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.Subscribers = stores.subscribers

	ciph, err := a.initCipher()
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	var (
		m        ports.Metrics
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(registry)
		m = a.Metrics
		a.Logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	policy, err := billing.PolicyByName(cfg.Billing.Policy)
	if err != nil {
		return err
	}

	a.Settings = app.NewSettingsService(stores.settings, a.Logger)
	if err := a.Settings.Load(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to load settings, using defaults")
	}

	ids := idgen.UUID{}
	a.Routers = app.NewRouterService(a.dialer(opts), stores.routers, ciph, clk, ids, m, a.Logger,
		app.RouterServiceConfig{
			ConnectTimeout: cfg.Router.ConnectTimeout,
			Provisioning:   router.ProvisioningOptions{ReminderPath: cfg.Router.ReminderPath},
		})

	a.Billing = app.NewBillingService(app.BillingDeps{
		Subscribers: stores.subscribers,
		Reports:     stores.reports,
		Settings:    a.Settings,
		Routers:     a.Routers,
		Cipher:      ciph,
		Clock:       clk,
		IDs:         ids,
		Accounts:    idgen.Account{Prefix: cfg.Billing.AccountPrefix},
		Metrics:     m,
		Logger:      a.Logger,
	}, app.BillingServiceConfig{
		Policy:              policy,
		AutoEnableOnPayment: cfg.Router.AutoEnable(),
	})

	a.Sweep = app.NewSweepService(stores.subscribers, a.Billing, a.Routers, m, a.Logger, app.SweepConfig{
		Schedule:             sweepSchedule(cfg.Sweep),
		RetryAttempts:        cfg.Sweep.RetryAttempts,
		RetryInitialInterval: cfg.Sweep.RetryInitialInterval,
		Location:             loc,
	})

	a.initHTTPServer(registry, opts.Version)
	a.watchConfig()
	return nil
}

type storeSet struct {
	subscribers ports.SubscriberStore
	settings    ports.SettingsStore
	routers     ports.RouterStore
	reports     ports.ReportStore
}

func (a *App) initStores() (storeSet, error) {
	if a.Config.Database.Driver == "memory" {
		a.Logger.Warn().Msg("using in-memory storage, data is lost on exit")
		return storeSet{
			subscribers: memory.NewSubscriberStore(),
			settings:    memory.NewSettingsStore(),
			routers:     memory.NewRouterStore(),
			reports:     memory.NewReportStore(),
		}, nil
	}

	db, err := sqlite.Open(a.Config.Database.DSN)
	if err != nil {
		return storeSet{}, err
	}
	a.DB = db
	if err := db.Migrate(); err != nil {
		return storeSet{}, fmt.Errorf("migrate: %w", err)
	}
	a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("database connected")

	return storeSet{
		subscribers: sqlite.NewSubscriberStore(db),
		settings:    sqlite.NewSettingsStore(db),
		routers:     sqlite.NewRouterStore(db),
		reports:     sqlite.NewReportStore(db),
	}, nil
}

func (a *App) initCipher() (ports.Cipher, error) {
	key := a.Config.Security.EncryptionKey
	if key == "" {
		a.Logger.Warn().Msg("security.encryption_key not set, credentials are stored in plaintext")
		return cipher.Plain{}, nil
	}
	return cipher.New(key)
}

func (a *App) dialer(opts Options) ports.DeviceDialer {
	if opts.Dialer != nil {
		return opts.Dialer
	}
	if a.Config.Router.Driver == "simulated" {
		a.Logger.Warn().Msg("router driver is simulated, no device is contacted")
		return memory.NewDevice(SimulatedIdentity, "", "")
	}
	return routeros.NewDialer(a.Logger)
}

func (a *App) initHTTPServer(registry *prometheus.Registry, version string) {
	cfg := a.Config

	deps := apihttp.Deps{
		Billing:       a.Billing,
		Routers:       a.Routers,
		Sweep:         a.Sweep,
		Settings:      a.Settings,
		Logger:        a.Logger,
		OperatorToken: cfg.Server.OperatorToken,
		Version:       version,
	}
	if a.DB != nil {
		deps.Ready = a.DB
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics
		deps.MetricsPath = cfg.Metrics.Path
		deps.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	if cfg.Server.OperatorToken == "" {
		a.Logger.Warn().Msg("server.operator_token not set, operator endpoints are unauthenticated")
	}

	a.HTTPServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apihttp.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// watchConfig applies reloadable fields when the config file changes.
func (a *App) watchConfig() {
	if a.holder == nil {
		return
	}
	if a.Metrics != nil {
		a.holder.ObserveReloads(a.Metrics.ObserveReload)
	}
	a.holder.OnChange(a.applyConfig)
}

func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if err := a.Sweep.Reschedule(sweepSchedule(cfg.Sweep)); err != nil {
		a.Logger.Error().Err(err).Msg("failed to apply sweep schedule")
	}
}

func sweepSchedule(s config.SweepConfig) string {
	if !s.Enabled {
		return ""
	}
	return s.Schedule
}

// Run starts the sweep scheduler and the HTTP server, and blocks until ctx
// is done, a termination signal arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Sweep.Start(ctx); err != nil {
		return fmt.Errorf("start sweep: %w", err)
	}

	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case err := <-errCh:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Waits for a running sweep to finish.
	if a.Sweep != nil {
		a.Sweep.Stop()
	}

	a.close()
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) close() {
	if a.holder != nil {
		a.holder.Stop()
		a.holder = nil
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.DB = nil
	}
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
