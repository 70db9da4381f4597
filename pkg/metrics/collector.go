// Package metrics provides Prometheus-compatible metrics collection for the
// session-lifecycle worker: port accounting, session counts, and launch
// latency, alongside a JSON snapshot for the structured status task.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chromeworker"

// Collector holds all process metrics with Prometheus compatibility.
type Collector struct {
	SessionsLaunched   prometheus.Counter
	SessionsTerminated *prometheus.CounterVec // labeled by termination reason
	LaunchDuration     prometheus.Histogram
	ActiveSessions     prometheus.Gauge
	PortsFree          prometheus.Gauge
	PortsReserved      prometheus.Gauge
	PortsActive        prometheus.Gauge
	QueueFetchErrors   prometheus.Counter
	CallbackFailures   prometheus.Counter

	mu                sync.RWMutex
	startTime         time.Time
	launchedCount     int64
	terminatedCount   int64
	activeCount       int64
	portsFreeCount    int64
	portsReservedCount int64
	portsActiveCount  int64
}

// New creates and registers a new Collector.
func New() *Collector {
	c := &Collector{startTime: time.Now()}

	c.SessionsLaunched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_launched_total",
		Help:      "Total number of browser sessions successfully launched.",
	})

	c.SessionsTerminated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_terminated_total",
		Help:      "Total number of sessions terminated, labeled by reason.",
	}, []string{"reason"})

	c.LaunchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "launch_duration_seconds",
		Help:      "Time from launch start to DevTools readiness.",
		Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20, 40, 60, 90},
	})

	c.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of sessions currently in state ACTIVE.",
	})

	c.PortsFree = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ports_free",
		Help:      "Number of ports in state FREE.",
	})
	c.PortsReserved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ports_reserved",
		Help:      "Number of ports in state RESERVED.",
	})
	c.PortsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ports_active",
		Help:      "Number of ports in state ACTIVE.",
	})

	c.QueueFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_fetch_errors_total",
		Help:      "Total consecutive-failure-triggering queue fetch errors.",
	})

	c.CallbackFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callback_failures_total",
		Help:      "Total callback POST failures.",
	})

	c.register()
	return c
}

func (c *Collector) register() {
	prometheus.MustRegister(
		c.SessionsLaunched,
		c.SessionsTerminated,
		c.LaunchDuration,
		c.ActiveSessions,
		c.PortsFree,
		c.PortsReserved,
		c.PortsActive,
		c.QueueFetchErrors,
		c.CallbackFailures,
	)
}

// RecordLaunch records a successful launch and its duration.
func (c *Collector) RecordLaunch(d time.Duration) {
	c.SessionsLaunched.Inc()
	c.LaunchDuration.Observe(d.Seconds())
	c.mu.Lock()
	c.launchedCount++
	c.mu.Unlock()
}

// RecordTermination records a session termination with its reason.
func (c *Collector) RecordTermination(reason string) {
	c.SessionsTerminated.WithLabelValues(reason).Inc()
	c.mu.Lock()
	c.terminatedCount++
	c.mu.Unlock()
}

// SetActiveSessions sets the current ACTIVE session count.
func (c *Collector) SetActiveSessions(n int) {
	c.ActiveSessions.Set(float64(n))
	c.mu.Lock()
	c.activeCount = int64(n)
	c.mu.Unlock()
}

// SetPortCounts sets the current free/reserved/active port gauges.
func (c *Collector) SetPortCounts(free, reserved, active int) {
	c.PortsFree.Set(float64(free))
	c.PortsReserved.Set(float64(reserved))
	c.PortsActive.Set(float64(active))
	c.mu.Lock()
	c.portsFreeCount, c.portsReservedCount, c.portsActiveCount = int64(free), int64(reserved), int64(active)
	c.mu.Unlock()
}

// Snapshot is a point-in-time metrics summary, used by the structured status task.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
	SessionsLaunched int64    `json:"sessions_launched"`
	SessionsTerminated int64  `json:"sessions_terminated"`
	ActiveSessions  int64     `json:"active_sessions"`
	PortsFree       int64     `json:"ports_free"`
	PortsReserved   int64     `json:"ports_reserved"`
	PortsActive     int64     `json:"ports_active"`
}

// GetSnapshot returns the current metrics snapshot.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Timestamp:          time.Now(),
		UptimeSeconds:      time.Since(c.startTime).Seconds(),
		SessionsLaunched:   c.launchedCount,
		SessionsTerminated: c.terminatedCount,
		ActiveSessions:     c.activeCount,
		PortsFree:          c.portsFreeCount,
		PortsReserved:      c.portsReservedCount,
		PortsActive:        c.portsActiveCount,
	}
}

// Handler returns the Prometheus scrape handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler returns metrics in JSON format.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.GetSnapshot())
	}
}
