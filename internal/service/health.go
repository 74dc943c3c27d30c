package service

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/easeaico/guild-memory-agent/internal/worker"
)

const instrumentationName = "github.com/easeaico/guild-memory-agent/internal/service"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// HealthStats is a point-in-time snapshot of the reply counters and the worker pool.
type HealthStats struct {
	TotalRequests  int64     `json:"total_requests"`
	TotalErrors    int64     `json:"total_errors"`
	AvgLatencyMs   int64     `json:"avg_latency_ms"`
	QueueDepth     int       `json:"queue_depth"`
	ActiveWorkers  int64     `json:"active_workers"`
	CompletedTasks int64     `json:"completed_tasks"`
	MeasuredAt     time.Time `json:"measured_at"`
}

// PoolStats is the part of the worker pool the health counters read.
type PoolStats interface {
	Stats() worker.Stats
}

// Health owns the process-wide request counters. Counters are atomics so
// snapshots never take a lock; every update is mirrored to Prometheus.
type Health struct {
	requests  atomic.Int64
	errors    atomic.Int64
	latencyMs atomic.Int64

	pool PoolStats
	now  func() time.Time

	requestsTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latencySeconds prometheus.Histogram
	learnOutcomes  *prometheus.CounterVec
}

// NewHealth registers the agent metrics with reg. A nil reg skips registration.
func NewHealth(pool PoolStats, reg prometheus.Registerer) *Health {
	factory := promauto.With(reg)
	h := &Health{
		pool: pool,
		now:  time.Now,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guild_agent",
			Subsystem: "orchestrator",
			Name:      "requests_total",
			Help:      "Total number of reply and summary requests",
		}, []string{"kind"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guild_agent",
			Subsystem: "orchestrator",
			Name:      "errors_total",
			Help:      "Total number of requests answered with a fallback text",
		}, []string{"category"}),
		latencySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guild_agent",
			Subsystem: "orchestrator",
			Name:      "llm_latency_seconds",
			Help:      "Latency of language model calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		learnOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guild_agent",
			Subsystem: "learn",
			Name:      "outcomes_total",
			Help:      "Learn directives by outcome",
		}, []string{"outcome"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "guild_agent",
		Subsystem: "worker",
		Name:      "queue_depth",
		Help:      "Tasks waiting in the worker queue",
	}, func() float64 { return float64(h.poolStats().QueueDepth) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "guild_agent",
		Subsystem: "worker",
		Name:      "active",
		Help:      "Tasks currently executing",
	}, func() float64 { return float64(h.poolStats().Active) })

	return h
}

func (h *Health) recordRequest(kind string) {
	h.requests.Add(1)
	h.requestsTotal.WithLabelValues(kind).Inc()
}

func (h *Health) recordError(category string) {
	h.errors.Add(1)
	h.errorsTotal.WithLabelValues(category).Inc()
}

func (h *Health) recordLatency(d time.Duration) {
	h.latencyMs.Add(d.Milliseconds())
	h.latencySeconds.Observe(d.Seconds())
}

func (h *Health) recordLearn(outcome string) {
	h.learnOutcomes.WithLabelValues(outcome).Inc()
}

func (h *Health) poolStats() worker.Stats {
	if h.pool == nil {
		return worker.Stats{}
	}
	return h.pool.Stats()
}

// Snapshot returns the current counters.
func (h *Health) Snapshot() HealthStats {
	requests := h.requests.Load()
	var avg int64
	if requests > 0 {
		avg = h.latencyMs.Load() / requests
	}
	ps := h.poolStats()
	return HealthStats{
		TotalRequests:  requests,
		TotalErrors:    h.errors.Load(),
		AvgLatencyMs:   avg,
		QueueDepth:     ps.QueueDepth,
		ActiveWorkers:  ps.Active,
		CompletedTasks: ps.Completed,
		MeasuredAt:     h.now(),
	}
}
