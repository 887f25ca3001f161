// Package metrics provides Prometheus metrics collection for NetBill.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/netbill/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netbill"

// Collector holds all Prometheus metrics for NetBill.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Router metrics
	RouterOps        *prometheus.CounterVec
	RouterOpDuration *prometheus.HistogramVec

	// Sweep metrics
	SweepRuns        prometheus.Counter
	SweepSubscribers *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	SweepLastRun     prometheus.Gauge

	// Billing metrics
	PaymentsTotal  prometheus.Counter
	PaymentsAmount prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		RouterOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_operations_total",
				Help:      "Device operations by operation and outcome",
			},
			[]string{"op", "result"},
		),
		RouterOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "router_operation_duration_seconds",
				Help:      "Device operation duration in seconds, connect included",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		SweepRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of completed overdue sweeps",
			},
		),
		SweepSubscribers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_subscribers_total",
				Help:      "Subscribers seen by the overdue sweep, by outcome",
			},
			[]string{"outcome"},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Overdue sweep duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		SweepLastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sweep_last_run_timestamp",
				Help:      "Unix timestamp of the last completed sweep",
			},
		),

		PaymentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Total number of recorded payments",
			},
		),
		PaymentsAmount: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_amount_total",
				Help:      "Sum of recorded payment amounts",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveRouterOp implements ports.Metrics.
func (c *Collector) ObserveRouterOp(op, kind string, d time.Duration) {
	result := "ok"
	if kind != "" {
		result = kind
	}
	c.RouterOps.WithLabelValues(op, result).Inc()
	c.RouterOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveSweep implements ports.Metrics.
func (c *Collector) ObserveSweep(checked, overdue, disabled, failed int, d time.Duration) {
	c.SweepRuns.Inc()
	c.SweepSubscribers.WithLabelValues("checked").Add(float64(checked))
	c.SweepSubscribers.WithLabelValues("overdue").Add(float64(overdue))
	c.SweepSubscribers.WithLabelValues("disabled").Add(float64(disabled))
	c.SweepSubscribers.WithLabelValues("failed").Add(float64(failed))
	c.SweepDuration.Observe(d.Seconds())
	c.SweepLastRun.SetToCurrentTime()
}

// ObservePayment implements ports.Metrics.
func (c *Collector) ObservePayment(amount float64) {
	c.PaymentsTotal.Inc()
	if amount > 0 {
		c.PaymentsAmount.Add(amount)
	}
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.RequestsTotal.WithLabelValues(method, route, StatusClass(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveReload records a config reload attempt.
func (c *Collector) ObserveReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// StatusClass collapses a status code to "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) ObserveRouterOp(string, string, time.Duration) {}
func (Nop) ObserveSweep(int, int, int, int, time.Duration) {}
func (Nop) ObservePayment(float64)                         {}

var (
	_ ports.Metrics = (*Collector)(nil)
	_ ports.Metrics = Nop{}
)
