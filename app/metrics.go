package app

import (
	"time"

	"github.com/artpar/netbill/ports"
)

type nopMetrics struct{}

func (nopMetrics) ObserveRouterOp(string, string, time.Duration) {}
func (nopMetrics) ObserveSweep(int, int, int, int, time.Duration) {}
func (nopMetrics) ObservePayment(float64)                         {}

func metricsOrNop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
