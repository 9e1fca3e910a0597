// Package metrics exposes Prometheus instrumentation for a calibration run.
// Simulations run for hours, so a scrape endpoint is the practical way to
// watch cache effectiveness and endpoint health from outside.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the counters and gauges of one calibration process. Each
// instance carries its own registry so runs stay independent.
type Metrics struct {
	registry *prometheus.Registry

	JobsDispatched   prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	NetworkFailures  prometheus.Counter
	ProtocolFailures prometheus.Counter
	RemoteFailures   prometheus.Counter
	EndpointsRetired prometheus.Counter
	JobsInFlight     prometheus.Gauge
	BestLoss         prometheus.Gauge
}

// New builds a Metrics instance with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "jobs_dispatched_total",
			Help: "Evaluation jobs submitted to the dispatch loop.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "cache_hits_total",
			Help: "Evaluations served from the knowledge base.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "cache_misses_total",
			Help: "Evaluations that required a live worker run.",
		}),
		NetworkFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "network_failures_total",
			Help: "Jobs failed by fatal endpoint transport errors.",
		}),
		ProtocolFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "protocol_failures_total",
			Help: "Jobs failed by unframeable or undecodable responses.",
		}),
		RemoteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "remote_failures_total",
			Help: "Jobs failed by worker-reported simulation errors.",
		}),
		EndpointsRetired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pfc_calib", Name: "endpoints_retired_total",
			Help: "Worker endpoints permanently marked dead.",
		}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pfc_calib", Name: "jobs_in_flight",
			Help: "Evaluation jobs currently executing.",
		}),
		BestLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pfc_calib", Name: "best_loss",
			Help: "Lowest loss observed so far in the current case.",
		}),
	}
}

// Serve starts the scrape endpoint on addr in the background. Listen errors
// are logged, not fatal: losing metrics must not kill a running calibration.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logrus.Warnf("metrics endpoint on %s stopped: %v", addr, err)
		}
	}()
}
