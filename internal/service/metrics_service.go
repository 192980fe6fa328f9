package service

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/revision-checker/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	checksTotal       *prometheus.CounterVec
	checkDuration     *prometheus.HistogramVec
	schedulerCycles   *prometheus.CounterVec
	schedulerDuration *prometheus.HistogramVec
	schedulerErrors   *prometheus.GaugeVec
	blobsStored       *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
	requestCount   uint64
	checkedCount   uint64
	reportedCount  uint64
	failedCount    uint64
	cycleCount     uint64
	cycleFailures  uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	checksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revision_checks_total",
		Help: "Revision checks by resulting state",
	}, []string{"outcome"})

	checkDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "revision_check_duration_seconds",
		Help:    "Wall time of a single remote check",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"outcome"})

	schedulerCycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_cycles_total",
		Help: "Periodic scheduler cycles by result",
	}, []string{"scheduler", "result"})

	schedulerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_cycle_duration_seconds",
		Help:    "Duration of periodic scheduler cycles",
		Buckets: prometheus.DefBuckets,
	}, []string{"scheduler"})

	schedulerErrors := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_consecutive_errors",
		Help: "Current failure streak of a periodic scheduler",
	}, []string{"scheduler"})

	blobsStored := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blobs_stored_total",
		Help: "Blob store calls by whether the payload was already present",
	}, []string{"deduplicated"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		checksTotal, checkDuration, schedulerCycles, schedulerDuration, schedulerErrors, blobsStored, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		checksTotal:       checksTotal,
		checkDuration:     checkDuration,
		schedulerCycles:   schedulerCycles,
		schedulerDuration: schedulerDuration,
		schedulerErrors:   schedulerErrors,
		blobsStored:       blobsStored,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveCheck records one finished check and the state it left the revision in.
func (m *MetricsService) ObserveCheck(state models.RevisionState, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := string(state)
	m.checksTotal.WithLabelValues(outcome).Inc()
	m.checkDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	switch state {
	case models.RevisionStateChecked:
		atomic.AddUint64(&m.checkedCount, 1)
	case models.RevisionStateReported:
		atomic.AddUint64(&m.reportedCount, 1)
	case models.RevisionStateFailed:
		atomic.AddUint64(&m.failedCount, 1)
	}
}

// ObserveCycle implements jobs.CycleObserver.
func (m *MetricsService) ObserveCycle(name string, err error, duration time.Duration, consecutiveErrors int) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
		atomic.AddUint64(&m.cycleFailures, 1)
	}
	atomic.AddUint64(&m.cycleCount, 1)
	m.schedulerCycles.WithLabelValues(name, result).Inc()
	m.schedulerDuration.WithLabelValues(name).Observe(duration.Seconds())
	m.schedulerErrors.WithLabelValues(name).Set(float64(consecutiveErrors))
}

// RecordBlobStore counts a blob store call.
func (m *MetricsService) RecordBlobStore(created bool) {
	if m == nil {
		return
	}
	m.blobsStored.WithLabelValues(strconv.FormatBool(!created)).Inc()
}

// Snapshot returns aggregated counters suitable for the status endpoint.
func (m *MetricsService) Snapshot() models.PipelineMetrics {
	if m == nil {
		return models.PipelineMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	return models.PipelineMetrics{
		ChecksChecked:  atomic.LoadUint64(&m.checkedCount),
		ChecksReported: atomic.LoadUint64(&m.reportedCount),
		ChecksFailed:   atomic.LoadUint64(&m.failedCount),
		Cycles:         atomic.LoadUint64(&m.cycleCount),
		CycleFailures:  atomic.LoadUint64(&m.cycleFailures),
		CacheHitRatio:  cacheRatio,
		RequestsTotal:  atomic.LoadUint64(&m.requestCount),
		Goroutines:     runtime.NumGoroutine(),
		GeneratedAt:    time.Now().UTC(),
	}
}
