// Package metrics collects per-endpoint request statistics. The collector
// keeps its own counters for the JSON /metrics report and mirrors them into
// a private prometheus registry for scrape-based monitoring.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type endpointStats struct {
	count       int64
	totalTime   float64
	errorCount  int64
	lastRequest time.Time
	statusCodes map[int]int64
}

// EndpointReport is the derived view of one endpoint's stats. Average time
// and error rate are computed on read, never stored.
type EndpointReport struct {
	Count       int64            `json:"count"`
	AverageTime float64          `json:"average_time"`
	ErrorCount  int64            `json:"error_count"`
	ErrorRate   float64          `json:"error_rate"`
	StatusCodes map[string]int64 `json:"status_codes"`
}

// Report is the process-wide metrics snapshot rendered by GET /metrics.
type Report struct {
	UptimeSeconds float64                   `json:"uptime_seconds"`
	TotalRequests int64                     `json:"total_requests"`
	TotalErrors   int64                     `json:"total_errors"`
	ErrorRate     float64                   `json:"error_rate"`
	Endpoints     map[string]EndpointReport `json:"endpoints"`
}

// Collector is a process-wide singleton constructed at startup and passed
// by reference into the pipeline. All mutation happens under one mutex.
type Collector struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
	startTime time.Time
	requests  int64
	errors    int64

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		endpoints: make(map[string]*endpointStats),
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiary_http_requests_total",
			Help: "Total HTTP requests processed, by method, path and status code.",
		}, []string{"method", "path", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apiary_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiary_http_request_errors_total",
			Help: "Total HTTP responses with status >= 400, by method and path.",
		}, []string{"method", "path"}),
	}
	c.registry.MustRegister(c.requestsTotal, c.requestDuration, c.errorsTotal)
	return c
}

// Record adds one completed request to the per-endpoint and global counters.
func (c *Collector) Record(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s %s", method, path)
	seconds := duration.Seconds()

	c.mu.Lock()
	stats, ok := c.endpoints[key]
	if !ok {
		stats = &endpointStats{statusCodes: make(map[int]int64)}
		c.endpoints[key] = stats
	}
	stats.count++
	stats.totalTime += seconds
	stats.lastRequest = time.Now()
	stats.statusCodes[statusCode]++
	if statusCode >= 400 {
		stats.errorCount++
		c.errors++
	}
	c.requests++
	c.mu.Unlock()

	c.requestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(method, path).Observe(seconds)
	if statusCode >= 400 {
		c.errorsTotal.WithLabelValues(method, path).Inc()
	}
}

// Snapshot computes the derived report under the lock.
func (c *Collector) Snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoints := make(map[string]EndpointReport, len(c.endpoints))
	for key, stats := range c.endpoints {
		report := EndpointReport{
			Count:       stats.count,
			ErrorCount:  stats.errorCount,
			StatusCodes: make(map[string]int64, len(stats.statusCodes)),
		}
		if stats.count > 0 {
			report.AverageTime = round4(stats.totalTime / float64(stats.count))
			report.ErrorRate = round4(float64(stats.errorCount) / float64(stats.count))
		}
		for code, n := range stats.statusCodes {
			report.StatusCodes[strconv.Itoa(code)] = n
		}
		endpoints[key] = report
	}

	report := Report{
		UptimeSeconds: round2(time.Since(c.startTime).Seconds()),
		TotalRequests: c.requests,
		TotalErrors:   c.errors,
		Endpoints:     endpoints,
	}
	if c.requests > 0 {
		report.ErrorRate = round4(float64(c.errors) / float64(c.requests))
	}
	return report
}

// Reset clears all counters. The prometheus mirror is reset too so the two
// views never disagree.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = make(map[string]*endpointStats)
	c.startTime = time.Now()
	c.requests = 0
	c.errors = 0
	c.requestsTotal.Reset()
	c.requestDuration.Reset()
	c.errorsTotal.Reset()
}

// PrometheusHandler exposes the mirrored counters in exposition format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
