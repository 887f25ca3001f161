package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/artpar/netbill/adapters/cipher"
	"github.com/artpar/netbill/adapters/clock"
	"github.com/artpar/netbill/adapters/idgen"
	"github.com/artpar/netbill/adapters/memory"
	"github.com/artpar/netbill/app"
	"github.com/artpar/netbill/domain/router"
	"github.com/rs/zerolog"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// recordingMetrics implements ports.Metrics for testing.
type recordingMetrics struct {
	mu       sync.Mutex
	ops      map[string]int // "op kind" -> count
	sweeps   int
	payments []float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: make(map[string]int)}
}

func (m *recordingMetrics) ObserveRouterOp(op, kind string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op+" "+kind]++
}

func (m *recordingMetrics) ObserveSweep(checked, overdue, disabled, failed int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
}

func (m *recordingMetrics) ObservePayment(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, amount)
}

type fixture struct {
	ctx      context.Context
	device   *memory.Device
	routers  *memory.RouterStore
	subs     *memory.SubscriberStore
	reports  *memory.ReportStore
	settings *app.SettingsService
	cipher   *cipher.AES
	clock    *clock.Fake
	metrics  *recordingMetrics

	routerSvc  *app.RouterService
	billingSvc *app.BillingService

	router router.Router
}

// newFixture wires services over memory adapters and a simulated device
// that accepts admin/secret. The stored router is the default router.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	c, err := cipher.New(testKey)
	if err != nil {
		t.Fatalf("cipher.New: %v", err)
	}

	f := &fixture{
		ctx:      context.Background(),
		device:   memory.NewDevice("core-router", "admin", "secret"),
		routers:  memory.NewRouterStore(),
		subs:     memory.NewSubscriberStore(),
		reports:  memory.NewReportStore(),
		settings: app.NewSettingsService(memory.NewSettingsStore(), zerolog.Nop()),
		cipher:   c,
		clock:    clock.NewFake(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)),
		metrics:  newRecordingMetrics(),
	}

	f.routerSvc = app.NewRouterService(f.device, f.routers, c, f.clock, idgen.NewSequential("rtr-"),
		f.metrics, zerolog.Nop(), app.RouterServiceConfig{ConnectTimeout: time.Second})

	f.billingSvc = app.NewBillingService(app.BillingDeps{
		Subscribers: f.subs,
		Reports:     f.reports,
		Settings:    f.settings,
		Routers:     f.routerSvc,
		Cipher:      c,
		Clock:       f.clock,
		IDs:         idgen.NewSequential("id-"),
		Accounts:    idgen.NewSequential("NB-"),
		Metrics:     f.metrics,
		Logger:      zerolog.Nop(),
	}, app.BillingServiceConfig{AutoEnableOnPayment: true})

	r, err := f.routerSvc.SaveRouter(f.ctx, app.RouterInput{
		Name:     "core",
		Host:     "10.0.0.1",
		Username: "admin",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("SaveRouter: %v", err)
	}
	f.router = r
	return f
}

func (f *fixture) seedSecret(username string, disabled bool) {
	f.device.Seed(router.MenuSecret, map[string]string{
		"name":     username,
		"password": "pw",
		"profile":  "default",
		"disabled": map[bool]string{true: "true", false: "false"}[disabled],
	})
}

func (f *fixture) secret(t *testing.T, username string) map[string]string {
	t.Helper()
	row, ok := f.device.Find(router.MenuSecret, map[string]string{"name": username})
	if !ok {
		t.Fatalf("secret %q not on device", username)
	}
	return row
}

func (f *fixture) assertSessionsClosed(t *testing.T) {
	t.Helper()
	opened, closed := f.device.Sessions()
	if opened != closed {
		t.Errorf("sessions opened = %d, closed = %d", opened, closed)
	}
}
