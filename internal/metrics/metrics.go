// Package metrics exposes Prometheus instruments for the sync engine.
//
// Every method is safe on a nil *Metrics so components can be constructed
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

const namespace = "rollcall"

// Metrics holds every instrument.
type Metrics struct {
	registry *prometheus.Registry

	scans       *prometheus.CounterVec
	remoteCalls *prometheus.CounterVec
	retries     prometheus.Counter
	pushes      *prometheus.CounterVec
	replayRows  *prometheus.CounterVec
	atRisk      prometheus.Counter
	online      prometheus.Gauge
	queueDepth  prometheus.Gauge
	unsynced    prometheus.Gauge
}

// New registers the instruments with reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Token scans by outcome (first, repeat, cooldown, ignored, error).",
		}, []string{"result"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote store call attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_retries_total",
			Help:      "Remote call attempts after the first.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Event pushes to the remote tables by outcome.",
		}, []string{"outcome"}),
		replayRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "replay_rows_total",
			Help:      "Ledger rows replayed after reconnect by outcome.",
		}, []string{"outcome"}),
		atRisk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "at_risk_writes_total",
			Help:      "Ledger writes that reached no durable location.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote store is considered reachable.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Items waiting for the background worker.",
		}),
		unsynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "unsynced_rows",
			Help:      "Ledger rows missing a sync flag.",
		}),
	}
	reg.MustRegister(m.scans, m.remoteCalls, m.retries, m.pushes, m.replayRows,
		m.atRisk, m.online, m.queueDepth, m.unsynced)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the instruments live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveScan(result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
}

// ObserveRemote matches connectivity.InvokerConfig.Observe.
func (m *Metrics) ObserveRemote(op string, attempt int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = remote.KindOf(err).String()
	}
	m.remoteCalls.WithLabelValues(op, outcome).Inc()
	if attempt > 0 {
		m.retries.Inc()
	}
}

func (m *Metrics) ObservePush(outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReplay(synced, failed int) {
	if m == nil {
		return
	}
	m.replayRows.WithLabelValues("synced").Add(float64(synced))
	m.replayRows.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) ObserveAtRisk() {
	if m == nil {
		return
	}
	m.atRisk.Inc()
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetUnsynced(n int) {
	if m == nil {
		return
	}
	m.unsynced.Set(float64(n))
}
