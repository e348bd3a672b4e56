// Package metrics exposes gateway instrumentation in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/aigw/internal/sysinfo"
)

const namespace = "aigw"

// Manager owns a private registry and every gateway metric. A disabled
// Manager accepts all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	backendAttempts *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	routeOutcomes   *prometheus.CounterVec

	ingestedDocs   *prometheus.CounterVec
	ingestedChunks prometheus.Counter
	retrievals     *prometheus.CounterVec
	discarded      prometheus.Counter

	purgedMessages prometheus.Counter
	purgeRuns      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewManager creates a Manager. When enabled is false every method is a no-op.
func NewManager(enabled bool) *Manager {
	if !enabled {
		return &Manager{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{registry: reg, enabled: true}

	m.backendAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_attempts_total",
		Help:      "Model backend attempts by backend and result.",
	}, []string{"backend", "result"})
	m.backendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_attempt_duration_seconds",
		Help:      "Duration of model backend attempts.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend"})
	m.routeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_outcomes_total",
		Help:      "Fallback router outcomes.",
	}, []string{"outcome"})

	m.ingestedDocs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_documents_total",
		Help:      "Documents submitted for ingestion by result.",
	}, []string{"result"})
	m.ingestedChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_chunks_total",
		Help:      "Chunks written to the vector index.",
	})
	m.retrievals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrievals_total",
		Help:      "Knowledge-base searches by whether any chunk cleared the threshold.",
	}, []string{"result"})
	m.discarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_discarded_chunks_total",
		Help:      "Retrieved chunks dropped for scoring below the threshold.",
	})

	m.purgedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memory_purged_messages_total",
		Help:      "Conversation messages removed by the retention purge.",
	})
	m.purgeRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memory_purge_runs_total",
		Help:      "Retention purge runs by result.",
	}, []string{"result"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	reg.MustRegister(
		m.backendAttempts, m.backendDuration, m.routeOutcomes,
		m.ingestedDocs, m.ingestedChunks, m.retrievals, m.discarded,
		m.purgedMessages, m.purgeRuns,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Enabled reports whether metrics are collected.
func (m *Manager) Enabled() bool { return m.enabled }

// Handler serves the registry. A disabled Manager answers 404.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt counts one backend attempt.
func (m *Manager) RecordAttempt(backendID string, err error, d time.Duration) {
	if !m.enabled {
		return
	}
	m.backendAttempts.WithLabelValues(backendID, result(err)).Inc()
	m.backendDuration.WithLabelValues(backendID).Observe(d.Seconds())
}

// RecordOutcome counts one routed request by outcome kind.
func (m *Manager) RecordOutcome(kind string) {
	if !m.enabled {
		return
	}
	m.routeOutcomes.WithLabelValues(kind).Inc()
}

// RecordIngest counts one ingestion attempt.
func (m *Manager) RecordIngest(chunks int, err error) {
	if !m.enabled {
		return
	}
	m.ingestedDocs.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.ingestedChunks.Add(float64(chunks))
	}
}

// RecordRetrieval counts one thresholded search.
func (m *Manager) RecordRetrieval(accepted, discarded int) {
	if !m.enabled {
		return
	}
	if accepted > 0 {
		m.retrievals.WithLabelValues("hit").Inc()
	} else {
		m.retrievals.WithLabelValues("miss").Inc()
	}
	m.discarded.Add(float64(discarded))
}

// RecordPurge counts one retention purge run.
func (m *Manager) RecordPurge(removed int, err error) {
	if !m.enabled {
		return
	}
	m.purgeRuns.WithLabelValues(result(err)).Inc()
	m.purgedMessages.Add(float64(removed))
}

// RecordHTTPRequest counts one served request.
func (m *Manager) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WatchSystem exports the latest host sample as gauges.
func (m *Manager) WatchSystem(latest func() (sysinfo.Sample, error)) {
	if !m.enabled {
		return
	}
	gauge := func(name, help string, read func(sysinfo.Sample) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      name,
			Help:      help,
		}, func() float64 {
			s, err := latest()
			if err != nil {
				return 0
			}
			return read(s)
		})
	}
	m.registry.MustRegister(
		gauge("cpu_percent", "Host CPU usage from the background sampler.", func(s sysinfo.Sample) float64 { return s.CPUPercent }),
		gauge("memory_free_bytes", "Available host memory.", func(s sysinfo.Sample) float64 { return float64(s.FreeMemory) }),
		gauge("memory_total_bytes", "Total host memory.", func(s sysinfo.Sample) float64 { return float64(s.TotalMemory) }),
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
