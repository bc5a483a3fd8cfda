// Package metrics exports synthesis and cache metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/synth"
	"github.com/porua/porua/internal/tts"
)

const namespace = "porua"

// Metrics contains the Prometheus metrics for the synthesis service
type Metrics struct {
	registry *prometheus.Registry

	// Synthesis metrics
	Requests          *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	AudioBytes        prometheus.Histogram
	SourceChunks      prometheus.Histogram
	CoalescedRequests prometheus.Counter

	// Cache write metrics
	CacheWrites *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the metrics on a fresh registry. Go runtime and process
// collectors are registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Total number of synthesis requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Time from request to final message",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}),
		AudioBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_audio_bytes",
			Help:      "Size of delivered audio in bytes",
			Buckets:   prometheus.ExponentialBuckets(4096, 2, 12), // 4KB to ~8MB
		}),
		SourceChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_source_chunks",
			Help:      "Chunks reported per delivered result",
			Buckets:   prometheus.LinearBuckets(0, 1, 4),
		}),
		CoalescedRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_coalesced_total",
			Help:      "Requests served by another request's backend call",
		}),

		CacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Background cache writes by result",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterCache exports c's usage and counters.
func (m *Metrics) RegisterCache(c *cache.AudioCache) error {
	return m.registry.Register(newCacheCollector(c))
}

// SynthesisFinished implements synth.Observer.
func (m *Metrics) SynthesisFinished(ev synth.Event) {
	m.Requests.WithLabelValues(outcome(ev)).Inc()
	m.RequestDuration.Observe(ev.Duration.Seconds())

	if ev.Err != nil || ev.Cancelled {
		return
	}
	if ev.Coalesced {
		m.CoalescedRequests.Inc()
	}
	m.SourceChunks.Observe(float64(ev.ChunkCount))
	if ev.AudioBytes > 0 {
		m.AudioBytes.Observe(float64(ev.AudioBytes))
	}
}

// CacheWriteFinished implements synth.Observer.
func (m *Metrics) CacheWriteFinished(fingerprint string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CacheWrites.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// outcome labels a finished request: hit, miss, cancelled or the error kind.
func outcome(ev synth.Event) string {
	switch {
	case ev.Cancelled:
		return "cancelled"
	case ev.Err != nil:
		kind, ok := tts.KindOf(ev.Err)
		if !ok {
			kind = tts.KindInternal
		}
		return string(kind)
	case ev.CacheHit:
		return "hit"
	default:
		return "miss"
	}
}
