package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/netbill/adapters/cipher"
	"github.com/artpar/netbill/adapters/clock"
	httpapi "github.com/artpar/netbill/adapters/http"
	"github.com/artpar/netbill/adapters/idgen"
	"github.com/artpar/netbill/adapters/memory"
	"github.com/artpar/netbill/adapters/metrics"
	"github.com/artpar/netbill/app"
	"github.com/artpar/netbill/domain/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const operatorToken = "op-token"

type server struct {
	handler http.Handler
	device  *memory.Device
	metrics *metrics.Collector
}

type failingReady struct{}

func (failingReady) HealthCheck(ctx context.Context) error {
	return errors.New("database locked")
}

func newServer(t *testing.T, withRouter bool) *server {
	t.Helper()

	ctx := context.Background()
	device := memory.NewDevice("core-router", "admin", "secret")
	subs := memory.NewSubscriberStore()
	clk := clock.NewFake(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	settings := app.NewSettingsService(memory.NewSettingsStore(), zerolog.Nop())

	routers := app.NewRouterService(device, memory.NewRouterStore(), cipher.Plain{}, clk,
		idgen.NewSequential("rtr-"), m, zerolog.Nop(), app.RouterServiceConfig{ConnectTimeout: time.Second})
	billingSvc := app.NewBillingService(app.BillingDeps{
		Subscribers: subs,
		Reports:     memory.NewReportStore(),
		Settings:    settings,
		Routers:     routers,
		Cipher:      cipher.Plain{},
		Clock:       clk,
		IDs:         idgen.NewSequential("sub-"),
		Accounts:    idgen.NewSequential("NB-"),
		Metrics:     m,
		Logger:      zerolog.Nop(),
	}, app.BillingServiceConfig{AutoEnableOnPayment: true})
	sweep := app.NewSweepService(subs, billingSvc, routers, m, zerolog.Nop(),
		app.SweepConfig{RetryInitialInterval: time.Millisecond})

	if withRouter {
		if _, err := routers.SaveRouter(ctx, app.RouterInput{
			Name: "core", Host: "10.0.0.1", Username: "admin", Password: "secret",
		}); err != nil {
			t.Fatalf("SaveRouter: %v", err)
		}
	}

	h := httpapi.NewRouter(httpapi.Deps{
		Billing:       billingSvc,
		Routers:       routers,
		Sweep:         sweep,
		Settings:      settings,
		Logger:        zerolog.Nop(),
		Metrics:       m,
		MetricsPath:   "/metrics",
		OperatorToken: operatorToken,
		Version:       "1.2.3",
	})
	return &server{handler: h, device: device, metrics: m}
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.HasPrefix(path, "/api/operator") {
		req.Header.Set("Authorization", "Bearer "+operatorToken)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// createSubscriber posts a subscriber and returns its id and account number.
func (s *server) createSubscriber(t *testing.T, body string) (string, string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/operator/subscribers", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subscriber status = %d, body %s", rec.Code, rec.Body.String())
	}
	out := decodeBody[struct {
		ID            string `json:"id"`
		AccountNumber string `json:"accountNumber"`
	}](t, rec)
	return out.ID, out.AccountNumber
}

func TestHealthAndVersion(t *testing.T) {
	s := newServer(t, false)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		if rec := s.do(t, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := s.do(t, http.MethodGet, "/version", "")
	v := decodeBody[httpapi.VersionResponse](t, rec)
	if v.Version != "1.2.3" || v.Service != "netbill" {
		t.Errorf("version = %+v", v)
	}
}

func TestReadiness_Unhealthy(t *testing.T) {
	h := httpapi.NewRouter(httpapi.Deps{Logger: zerolog.Nop(), Ready: failingReady{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "database locked") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestOperatorAuth(t *testing.T) {
	s := newServer(t, false)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + operatorToken, http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + operatorToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/operator/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestOperatorAuth_OpenWithoutToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := httpapi.NewOperatorAuth("")(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want pass-through", rec.Code)
	}
}

func TestSubscriber_CreateAndView(t *testing.T) {
	s := newServer(t, true)

	id, account := s.createSubscriber(t, `{"name":"Ana","rate":1500,"cycle":5,"pppoeUsername":"ana","pppoePassword":"pw"}`)
	if id == "" || account == "" {
		t.Fatalf("id = %q, account = %q", id, account)
	}

	rec := s.do(t, http.MethodGet, "/api/operator/subscribers/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "pppoePassword") || strings.Contains(body, `"pw"`) {
		t.Errorf("view leaks the password: %s", body)
	}
	view := decodeBody[struct {
		Name    string `json:"name"`
		Billing struct {
			Status    string  `json:"status"`
			AmountDue float64 `json:"amountDue"`
		} `json:"billing"`
	}](t, rec)
	if view.Name != "Ana" || view.Billing.Status != "Overdue" || view.Billing.AmountDue != 1500 {
		t.Errorf("view = %+v", view)
	}

	rec = s.do(t, http.MethodGet, "/api/operator/subscribers?status=Overdue", "")
	list := decodeBody[struct {
		Total int `json:"total"`
	}](t, rec)
	if list.Total != 1 {
		t.Errorf("overdue total = %d, want 1", list.Total)
	}
}

func TestSubscriber_Invalid(t *testing.T) {
	s := newServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/operator/subscribers", `{"name":"Ana","rate":1500,"cycle":40}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeBody[httpapi.ErrorResponse](t, rec)
	if resp.Error.Code != "invalid_input" || resp.Error.Fields["cycle"] == "" {
		t.Errorf("error = %+v", resp.Error)
	}

	rec = s.do(t, http.MethodPost, "/api/operator/subscribers", `{"name":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/operator/subscribers/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing subscriber status = %d, want 404", rec.Code)
	}
}

func TestRecordPayment_ReEnables(t *testing.T) {
	s := newServer(t, true)
	s.device.Seed(router.MenuSecret, map[string]string{"name": "ana", "password": "pw", "disabled": "true"})

	id, _ := s.createSubscriber(t, `{"name":"Ana","rate":1500,"cycle":5,"pppoeUsername":"ana"}`)

	rec := s.do(t, http.MethodPost, "/api/operator/subscribers/"+id+"/payments", `{"amountPaid":1500,"referenceNo":"GC-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	out := decodeBody[struct {
		Subscriber struct {
			Billing struct {
				Status string `json:"status"`
			} `json:"billing"`
		} `json:"subscriber"`
		Enable *router.Result `json:"enable"`
	}](t, rec)
	if out.Subscriber.Billing.Status != "Paid" {
		t.Errorf("status = %s, want Paid", out.Subscriber.Billing.Status)
	}
	if out.Enable == nil || !out.Enable.Success {
		t.Errorf("enable = %+v, want success", out.Enable)
	}

	rec = s.do(t, http.MethodPost, "/api/operator/subscribers/"+id+"/payments", `{"amountPaid":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero payment status = %d, want 400", rec.Code)
	}
}

func TestRecordOutage(t *testing.T) {
	s := newServer(t, false)
	id, _ := s.createSubscriber(t, `{"name":"Ana","rate":3000,"cycle":20}`)

	rec := s.do(t, http.MethodPost, "/api/operator/subscribers/"+id+"/outages", `{"days":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decodeBody[struct {
		DaysDown int `json:"daysDown"`
		Billing  struct {
			Rebate float64 `json:"rebate"`
		} `json:"billing"`
	}](t, rec)
	if view.DaysDown != 3 || view.Billing.Rebate != 300 {
		t.Errorf("view = %+v, want 3 days and rebate 300", view)
	}

	if rec := s.do(t, http.MethodPost, "/api/operator/subscribers/"+id+"/outages", `{"days":0}`); rec.Code != http.StatusBadRequest {
		t.Errorf("zero days status = %d, want 400", rec.Code)
	}
}

func TestBalanceLookup(t *testing.T) {
	s := newServer(t, false)
	_, account := s.createSubscriber(t, `{"name":"Ana","rate":1500,"cycle":15,"pppoeUsername":"ana","pppoePassword":"pw"}`)

	rec := s.do(t, http.MethodGet, "/api/balance/"+strings.ToLower(account), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "pppoe") || strings.Contains(rec.Body.String(), "payments") {
		t.Errorf("public view exposes private fields: %s", rec.Body.String())
	}
	view := decodeBody[app.BalanceView](t, rec)
	if view.Name != "Ana" || view.AmountDue != 1500 || view.Status != "Upcoming" {
		t.Errorf("view = %+v", view)
	}

	if rec := s.do(t, http.MethodGet, "/api/balance/NB-999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d, want 404", rec.Code)
	}
}

func TestRouterEndpoints_RelayResults(t *testing.T) {
	s := newServer(t, true)
	s.device.Seed(router.MenuSecret, map[string]string{"name": "ana", "password": "pw", "disabled": "false"})

	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		wantSuccess bool
		wantKind    router.ErrorKind
	}{
		{"disable", http.MethodPost, "/api/operator/routers/default/secrets/ana/toggle", `{"enable":false}`, true, ""},
		{"enable", http.MethodPost, "/api/operator/routers/default/secrets/ana/toggle", `{"enable":true}`, true, ""},
		{"toggle missing", http.MethodPost, "/api/operator/routers/default/secrets/ghost/toggle", `{"enable":false}`, false, router.KindNotFound},
		{"profile", http.MethodPut, "/api/operator/routers/default/secrets/ana/profile", `{"profile":"10mbps"}`, true, ""},
		{"delete missing", http.MethodDelete, "/api/operator/routers/default/secrets/ghost", "", true, ""},
		{"unknown router", http.MethodPost, "/api/operator/routers/nope/secrets/ana/toggle", `{"enable":false}`, false, router.KindNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			res := decodeBody[router.Result](t, rec)
			if res.Success != tt.wantSuccess || res.Kind != tt.wantKind {
				t.Errorf("result = %+v, want success=%v kind=%q", res, tt.wantSuccess, tt.wantKind)
			}
		})
	}

	rec := s.do(t, http.MethodPost, "/api/operator/routers/nope/secrets/ana/toggle", `{"enable":false}`)
	if res := decodeBody[router.Result](t, rec); res.Message != router.MsgNotConfigured {
		t.Errorf("message = %q, want %q", res.Message, router.MsgNotConfigured)
	}
}

func TestRouterEndpoints_SaveAndTest(t *testing.T) {
	s := newServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/operator/routers", `{"name":"edge","host":"10.0.0.2","username":"admin","password":"secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("router response leaks the password: %s", rec.Body.String())
	}
	created := decodeBody[router.Router](t, rec)
	if !created.IsDefault || created.Port != router.DefaultPort {
		t.Errorf("router = %+v, want default with default port", created)
	}

	rec = s.do(t, http.MethodPost, "/api/operator/routers/"+created.ID+"/test", "")
	health := decodeBody[router.HealthResult](t, rec)
	if !health.Connected || health.Message != "Connected to core-router" {
		t.Errorf("health = %+v", health)
	}

	rec = s.do(t, http.MethodGet, "/api/operator/routers/"+created.ID, "")
	if got := decodeBody[router.Router](t, rec); got.Status != router.StatusOnline || got.LastChecked == nil {
		t.Errorf("router after test = %+v", got)
	}

	rec = s.do(t, http.MethodPost, "/api/operator/routers", `{"host":"10.0.0.3"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid router status = %d, want 400", rec.Code)
	}
}

func TestRouterEndpoints_TestWithoutRouter(t *testing.T) {
	s := newServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/operator/routers/default/test", "")
	health := decodeBody[router.HealthResult](t, rec)
	if health.Connected || health.Kind != router.KindNotConfigured {
		t.Errorf("health = %+v, want not configured", health)
	}
}

func TestRouterEndpoints_PushConfigAndProfiles(t *testing.T) {
	s := newServer(t, true)

	rec := s.do(t, http.MethodPost, "/api/operator/routers/default/push-config", `{"serverAddress":"192.168.88.1/24"}`)
	res := decodeBody[router.Result](t, rec)
	if !res.Success {
		t.Fatalf("push-config = %+v", res)
	}

	rec = s.do(t, http.MethodGet, "/api/operator/routers/default/profiles", "")
	profiles := decodeBody[router.ProfilesResult](t, rec)
	if !profiles.Success || len(profiles.Profiles) == 0 {
		t.Errorf("profiles = %+v, want the provisioned profile", profiles)
	}

	rec = s.do(t, http.MethodPost, "/api/operator/routers/default/push-config", `{"serverAddress":"10.0.0.5:99999"}`)
	if res := decodeBody[router.Result](t, rec); res.Success || res.Kind != router.KindInvalidInput {
		t.Errorf("bad address = %+v", res)
	}
}

func TestSweepEndpoints(t *testing.T) {
	s := newServer(t, true)
	s.device.Seed(router.MenuSecret, map[string]string{"name": "ana", "password": "pw", "disabled": "false"})
	s.createSubscriber(t, `{"name":"Ana","rate":1500,"cycle":5,"pppoeUsername":"ana"}`)

	if rec := s.do(t, http.MethodGet, "/api/operator/sweep/last", ""); rec.Code != http.StatusNotFound {
		t.Errorf("last before run = %d, want 404", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/operator/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decodeBody[app.SweepReport](t, rec)
	if report.Checked != 1 || report.Disabled != 1 {
		t.Errorf("report = %+v", report)
	}
	row, _ := s.device.Find(router.MenuSecret, map[string]string{"name": "ana"})
	if !router.IsDisabled(row) {
		t.Error("ana should be disabled after the sweep")
	}

	if rec := s.do(t, http.MethodGet, "/api/operator/sweep/last", ""); rec.Code != http.StatusOK {
		t.Errorf("last after run = %d, want 200", rec.Code)
	}
}

func TestBillingEndpoints(t *testing.T) {
	s := newServer(t, false)
	s.createSubscriber(t, `{"name":"Ana","rate":1500,"cycle":5}`)

	rec := s.do(t, http.MethodPut, "/api/operator/settings/billing", `{"providerCost":500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]float64](t, rec); got["providerCost"] != 500 {
		t.Errorf("settings = %v", got)
	}

	rec = s.do(t, http.MethodPut, "/api/operator/settings/billing", `{"rebateValue":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero rebate status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/operator/stats", "")
	stats := decodeBody[map[string]float64](t, rec)
	if stats["subscriberCount"] != 1 || stats["overdue"] != 1 || stats["expectedProfit"] != 1000 {
		t.Errorf("stats = %v", stats)
	}

	rec = s.do(t, http.MethodPost, "/api/operator/billing/monthly-reset", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("reset status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/operator/billing/reports?limit=5", "")
	reports := decodeBody[struct {
		Reports []struct {
			MonthYear string `json:"monthYear"`
		} `json:"reports"`
	}](t, rec)
	if len(reports.Reports) != 1 || reports.Reports[0].MonthYear != "March 2026" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	s := newServer(t, false)

	s.do(t, http.MethodGet, "/api/balance/NB-1", "")
	s.do(t, http.MethodGet, "/api/balance/NB-2", "")

	got := testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues(http.MethodGet, "/api/balance/{account}", "4xx"))
	if got != 2 {
		t.Errorf("requests for pattern = %v, want 2", got)
	}

	rec := s.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	s := newServer(t, false)

	rec := s.do(t, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp := decodeBody[httpapi.ErrorResponse](t, rec); resp.Error.Code != "not_found" {
		t.Errorf("error = %+v", resp.Error)
	}
}
