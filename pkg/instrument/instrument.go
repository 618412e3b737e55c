// Package instrument holds popwatch's Prometheus collectors.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "popwatch"

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics groups every collector popwatch exports.
type Metrics struct {
	Polls         *prometheus.CounterVec
	StoreWrites   *prometheus.CounterVec
	DailyRollups  *prometheus.CounterVec
	OnlineUsers   prometheus.Gauge
	WindowSamples prometheus.Gauge
	WSClients     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Population API polls by result.",
			},
			[]string{"result"},
		),
		StoreWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_writes_total",
				Help:      "Document upserts by collection and result.",
			},
			[]string{"collection", "result"},
		),
		DailyRollups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "daily_rollups_total",
				Help:      "Day-boundary checks that advanced the rollup date, by result.",
			},
			[]string{"result"},
		),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Most recently fetched online-user count.",
		}),
		WindowSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_samples",
			Help:      "Samples currently held in the live window.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected dashboard WebSocket clients.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Polls,
			m.StoreWrites,
			m.DailyRollups,
			m.OnlineUsers,
			m.WindowSamples,
			m.WSClients,
		)
	}
	return m
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	return New(nil)
}
