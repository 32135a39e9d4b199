package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// OperationStats tracks aggregate statistics for one operation type.
// It backs the Snapshot view used in debug logging; the Prometheus
// vectors carry the same data for scraping.
type OperationStats struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalBytes    int64         `json:"total_bytes"`
	TotalDuration time.Duration `json:"total_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// Collector aggregates plugin metrics. All methods are safe to call on a
// nil or disabled collector so components never need to branch on whether
// metrics are wired up.
type Collector struct {
	mu     sync.RWMutex
	config *Config

	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transferBytes     *prometheus.CounterVec
	poolSessions      *prometheus.GaugeVec
	poolWaiters       prometheus.Gauge
	acquireWait       prometheus.Histogram
	streamsOpen       *prometheus.GaugeVec
	jobCounter        *prometheus.CounterVec
	cacheRequests     *prometheus.CounterVec
	errorCounter      *prometheus.CounterVec

	operations map[string]*OperationStats
	lastReset  time.Time
}

// NewCollector creates a metrics collector. When reg is nil the collector
// owns a private registry, reachable through Registry(); otherwise all
// metrics are registered on the supplied registerer.
func NewCollector(config *Config, reg prometheus.Registerer) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "nf_snowflake",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:     config,
		operations: make(map[string]*OperationStats),
		lastReset:  time.Now(),
	}

	if reg == nil {
		c.registry = prometheus.NewRegistry()
		reg = c.registry
	}

	c.initMetrics()
	if err := c.registerMetrics(reg); err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeConfigInvalid, "registering metrics", err).
			WithComponent("metrics")
	}

	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled
}

// Registry returns the collector-owned registry, or nil when the collector
// was built against an external registerer or is disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordOperation records one remote stage operation: its round-trip
// duration, payload size, and outcome.
func (c *Collector) RecordOperation(operation string, duration time.Duration, bytes int64, err error) {
	if !c.enabled() {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
	if err != nil {
		c.errorCounter.With(prometheus.Labels{
			"operation": operation,
			"code":      string(perrors.CodeOf(err)),
		}).Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.operations[operation]
	if !ok {
		stats = &OperationStats{}
		c.operations[operation] = stats
	}
	stats.Count++
	stats.TotalBytes += bytes
	stats.TotalDuration += duration
	stats.LastOperation = time.Now()
	if err != nil {
		stats.Errors++
	}
}

// RecordBytesUploaded records payload bytes sent to a stage.
func (c *Collector) RecordBytesUploaded(n int64) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.transferBytes.With(prometheus.Labels{"direction": "upload"}).Add(float64(n))
}

// RecordBytesDownloaded records payload bytes fetched from a stage.
func (c *Collector) RecordBytesDownloaded(n int64) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.transferBytes.With(prometheus.Labels{"direction": "download"}).Add(float64(n))
}

// SetPoolState publishes the current session pool occupancy.
func (c *Collector) SetPoolState(inUse, idle, waiters int) {
	if !c.enabled() {
		return
	}
	c.poolSessions.With(prometheus.Labels{"state": "in_use"}).Set(float64(inUse))
	c.poolSessions.With(prometheus.Labels{"state": "idle"}).Set(float64(idle))
	c.poolWaiters.Set(float64(waiters))
}

// ObserveAcquireWait records how long a caller blocked waiting for a session.
func (c *Collector) ObserveAcquireWait(d time.Duration) {
	if !c.enabled() {
		return
	}
	c.acquireWait.Observe(d.Seconds())
}

// StreamOpened records a new read or write stream against a stage.
func (c *Collector) StreamOpened(direction string) {
	if !c.enabled() {
		return
	}
	c.streamsOpen.With(prometheus.Labels{"direction": direction}).Inc()
}

// StreamClosed records a stream teardown.
func (c *Collector) StreamClosed(direction string) {
	if !c.enabled() {
		return
	}
	c.streamsOpen.With(prometheus.Labels{"direction": direction}).Dec()
}

// RecordJob records a job service lifecycle event: submitted, done,
// failed, or dropped.
func (c *Collector) RecordJob(outcome string) {
	if !c.enabled() {
		return
	}
	c.jobCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordCacheHit records a local cache hit.
func (c *Collector) RecordCacheHit() {
	if !c.enabled() {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"result": "hit"}).Inc()
}

// RecordCacheMiss records a local cache miss.
func (c *Collector) RecordCacheMiss() {
	if !c.enabled() {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"result": "miss"}).Inc()
}

// Snapshot returns a copy of the per-operation statistics.
func (c *Collector) Snapshot() map[string]OperationStats {
	if !c.enabled() {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationStats, len(c.operations))
	for name, stats := range c.operations {
		out[name] = *stats
	}
	return out
}

// Reset clears the per-operation statistics. Prometheus counters are
// monotonic and are left untouched.
func (c *Collector) Reset() {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationStats)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "stage_operations_total",
			Help:      "Total number of remote stage operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "stage_operation_duration_seconds",
			Help:      "Round-trip duration of stage operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"operation"},
	)

	c.transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "stage_transfer_bytes_total",
			Help:      "Payload bytes transferred to and from stages",
		},
		[]string{"direction"},
	)

	c.poolSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "pool_sessions",
			Help:      "Current session pool occupancy by state",
		},
		[]string{"state"},
	)

	c.poolWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "pool_waiters",
			Help:      "Callers currently blocked waiting for a session",
		},
	)

	c.acquireWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "pool_acquire_wait_seconds",
			Help:      "Time callers spent waiting to acquire a session",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
	)

	c.streamsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "streams_open",
			Help:      "Stage streams currently open by direction",
		},
		[]string{"direction"},
	)

	c.jobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "jobs_total",
			Help:      "Job service lifecycle events by outcome",
		},
		[]string{"outcome"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_requests_total",
			Help:      "Local task cache lookups by result",
		},
		[]string{"result"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Operation failures by error code",
		},
		[]string{"operation", "code"},
	)
}

func (c *Collector) registerMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.transferBytes,
		c.poolSessions,
		c.poolWaiters,
		c.acquireWait,
		c.streamsOpen,
		c.jobCounter,
		c.cacheRequests,
		c.errorCounter,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
