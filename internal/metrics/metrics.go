// Package metrics provides Prometheus metrics for imghub.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imghub"

// Fetch 结果标签。
const (
	OutcomeHit       = "hit"
	OutcomeMiss      = "miss"
	OutcomeLocal     = "local"
	OutcomeFailed    = "failed"
	OutcomeNoSpace   = "no_space"
	OutcomeDecoded   = "decoded"
	OutcomeDecodeErr = "decode_error"
	OutcomeOOM       = "out_of_memory"
)

// Metrics 聚合所有采集器；nil *Metrics 上的方法均为空操作，便于测试与库内调用。
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal     *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	attemptsTotal  *prometheus.CounterVec
	bytesTotal     prometheus.Counter
	decodeTotal    *prometheus.CounterVec
	decodeDuration prometheus.Histogram
	loadTotal      *prometheus.CounterVec
	loadDuration   prometheus.Histogram
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge
}

// New 创建独立 registry 并注册全部采集器以及 Go 运行时指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Total number of fetch calls by outcome",
			},
			[]string{"outcome"},
		),
		fetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of fetch calls that reached the network",
				Buckets:   prometheus.DefBuckets,
			},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Total number of download attempts by result",
			},
			[]string{"result"},
		),
		bytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_bytes_total",
				Help:      "Total bytes written into the cache by downloads",
			},
		),
		decodeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_total",
				Help:      "Total number of decode calls by outcome",
			},
			[]string{"outcome"},
		),
		decodeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decode_duration_seconds",
				Help:      "Duration of decode and downsample calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		loadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_total",
				Help:      "Total number of load calls (fetch then decode) by result",
			},
			[]string{"result"},
		),
		loadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_duration_seconds",
				Help:      "End-to-end duration of load calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of entries tracked by the disk cache",
			},
		),
		cacheBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_bytes",
				Help:      "Bytes tracked by the disk cache",
			},
		),
	}
}

// RecordFetch records a completed fetch call.
func (m *Metrics) RecordFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeMiss || outcome == OutcomeFailed {
		m.fetchDuration.Observe(duration.Seconds())
	}
}

// RecordAttempt records a single download attempt.
func (m *Metrics) RecordAttempt(ok bool, written int64) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
		m.bytesTotal.Add(float64(written))
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
}

// RecordDecode records a decode call.
func (m *Metrics) RecordDecode(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decodeTotal.WithLabelValues(outcome).Inc()
	m.decodeDuration.Observe(duration.Seconds())
}

// RecordLoad records a caller-facing load: fetch followed by decode.
func (m *Metrics) RecordLoad(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.loadTotal.WithLabelValues(result).Inc()
	m.loadDuration.Observe(duration.Seconds())
}

// SetCacheUsage publishes the disk cache occupancy.
func (m *Metrics) SetCacheUsage(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

// Registry 暴露底层 registry，供测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
