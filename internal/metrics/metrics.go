// Package metrics exposes the prometheus collectors of the call service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tollcall_active_calls",
		Help: "Number of sessions currently pending or connected",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollcall_calls_total",
		Help: "Terminal call outcomes by reason",
	}, []string{"reason"})

	BillingTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollcall_billing_ticks_total",
		Help: "Number of successful per-minute charges",
	})

	BillingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollcall_billing_errors_total",
		Help: "Number of failed billing charges",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tollcall_connected_clients",
		Help: "Number of open signaling channels",
	})
)
