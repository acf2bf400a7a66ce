// Package metrics exposes faucet activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
)

// Metrics holds the faucet collectors on a private registry. It implements
// faucet.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	submissions *prometheus.CounterVec
	amount      *prometheus.CounterVec
	chainLength *prometheus.GaugeVec
	cursor      prometheus.Gauge
	height      prometheus.Gauge
	requests    *prometheus.CounterVec
}

// New creates and registers the faucet collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_submissions_total",
			Help: "Transactions submitted, by kind and result.",
		}, []string{"kind", "result"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_disbursed_units_total",
			Help: "Units paid out by successful submissions, by kind.",
		}, []string{"kind"}),
		chainLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "faucet_chain_length",
			Help: "Unconfirmed sends per pool address since the last block.",
		}, []string{"index"}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_cursor",
			Help: "Pool index the next address scan starts from.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_chain_height",
			Help: "Last observed ledger height.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_requests_total",
			Help: "HTTP requests, by route and outcome.",
		}, []string{"route", "outcome"}),
	}
	m.registry.MustRegister(
		m.submissions, m.amount, m.chainLength, m.cursor, m.height, m.requests,
		collectors.NewGoCollector(),
	)
	return m
}

// Record implements faucet.Recorder.
func (m *Metrics) Record(rec faucet.Record) {
	result := "ok"
	if !rec.OK() {
		result = "failed"
	}
	m.submissions.WithLabelValues(string(rec.Kind), result).Inc()
	if rec.OK() {
		m.amount.WithLabelValues(string(rec.Kind)).Add(float64(rec.Amount))
	}
	m.chainLength.WithLabelValues(strconv.Itoa(rec.Index)).Set(float64(rec.ChainLength))
	m.cursor.Set(float64(rec.Cursor))
	m.height.Set(float64(rec.Height))
}

// ObserveStatus refreshes the gauges from a controller snapshot. Chain
// lengths reset by a new block only show up this way.
func (m *Metrics) ObserveStatus(st faucet.Status) {
	for _, a := range st.Addresses {
		m.chainLength.WithLabelValues(strconv.Itoa(a.Index)).Set(float64(a.ChainLength))
	}
	m.cursor.Set(float64(st.Cursor))
	m.height.Set(float64(st.Height))
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(route, outcome string) {
	m.requests.WithLabelValues(route, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
