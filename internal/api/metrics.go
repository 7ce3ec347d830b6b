package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/FairForge/roomd/internal/ha"
	"github.com/FairForge/roomd/internal/ledger"
	"github.com/FairForge/roomd/internal/replication"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one server
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	RateLimitHits    *prometheus.CounterVec
	Allocations      *prometheus.CounterVec
	Replications     *prometheus.CounterVec
	ProbeFailures    prometheus.Counter
	RoleTransitions  *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewMetrics creates metrics on a private registry so several servers can
// live in one process
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomd_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomd_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomd_rate_limit_hits_total",
				Help: "Total number of rate limited allocation requests",
			},
			[]string{"requester"},
		),
		Allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomd_allocations_total",
				Help: "Allocation replies by status",
			},
			[]string{"status"},
		),
		Replications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomd_replication_messages_total",
				Help: "Sync messages sent to the backup by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ProbeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roomd_heartbeat_failures_total",
				Help: "Failed heartbeats to the primary",
			},
		),
		RoleTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomd_role_transitions_total",
				Help: "Role changes made by the failover monitor",
			},
			[]string{"to"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestCounter,
		m.LatencyHistogram,
		m.RateLimitHits,
		m.Allocations,
		m.Replications,
		m.ProbeFailures,
		m.RoleTransitions,
	)

	return m
}

// WatchPool exports the pool counters as gauges read at scrape time
func (m *Metrics) WatchPool(snapshot func() ledger.Pool) {
	gauge := func(name, help string, value func(ledger.Pool) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(value(snapshot()))
		})
	}
	m.registry.MustRegister(
		gauge("roomd_rooms_total", "Room capacity", func(p ledger.Pool) int { return p.RoomsTotal }),
		gauge("roomd_labs_total", "Lab capacity", func(p ledger.Pool) int { return p.LabsTotal }),
		gauge("roomd_rooms_available", "Rooms not yet granted", func(p ledger.Pool) int { return p.RoomsAvailable }),
		gauge("roomd_labs_available", "Labs not yet granted", func(p ledger.Pool) int { return p.LabsAvailable }),
	)
}

// WatchRole exports 1 while the server is primary, 0 while standby
func (m *Metrics) WatchRole(role *ha.RoleState) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "roomd_primary", Help: "1 if this server accepts allocations"},
		func() float64 {
			if role.IsPrimary() {
				return 1
			}
			return 0
		},
	))
}

// IncrementRequest increments the request counter
func (m *Metrics) IncrementRequest(method, route string, status int) {
	m.RequestCounter.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
}

// RecordLatency records request latency
func (m *Metrics) RecordLatency(method, route string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, route).Observe(seconds)
}

// IncrementRateLimitHit increments rate limit hit counter
func (m *Metrics) IncrementRateLimitHit(requester string) {
	m.RateLimitHits.WithLabelValues(requester).Inc()
}

// ObserveAllocation counts one allocation reply
func (m *Metrics) ObserveAllocation(status ledger.Status) {
	m.Allocations.WithLabelValues(string(status)).Inc()
}

// ObserveReplication matches replication.Observer
func (m *Metrics) ObserveReplication(kind ledger.SyncKind, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, replication.ErrQueueFull), errors.Is(err, replication.ErrStopped):
		outcome = "dropped"
	case err != nil:
		outcome = "failed"
	}
	m.Replications.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveTransition is a failover monitor subscriber
func (m *Metrics) ObserveTransition(t ha.Transition) {
	m.RoleTransitions.WithLabelValues(t.To.String()).Inc()
}

// InstrumentProber counts failed heartbeats of p
func (m *Metrics) InstrumentProber(p ha.Prober) ha.Prober {
	return ha.ProberFunc(func(ctx context.Context) error {
		err := p.Probe(ctx)
		if err != nil {
			m.ProbeFailures.Inc()
		}
		return err
	})
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
