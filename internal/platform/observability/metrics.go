package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for the playback pipeline. Every
// method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups      *prometheus.CounterVec
	cacheWrites       *prometheus.CounterVec
	synthesisOutcomes *prometheus.CounterVec
	synthesisLatency  prometheus.Histogram
	playbackStarts    prometheus.Counter
	playbackFailures  *prometheus.CounterVec
	channelFrames     *prometheus.CounterVec
	httpRequests      *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvoice_cache_lookups_total",
			Help: "Audio cache lookups by result (hit, miss).",
		}, []string{"result"}),
		cacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvoice_cache_writes_total",
			Help: "Audio cache writes by outcome.",
		}, []string{"outcome"}),
		synthesisOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvoice_synthesis_requests_total",
			Help: "Availability resolutions by outcome.",
		}, []string{"outcome"}),
		synthesisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatvoice_synthesis_duration_seconds",
			Help:    "Time from tts:start to the final chunk.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		playbackStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvoice_playback_starts_total",
			Help: "Media handles that reached playing.",
		}),
		playbackFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvoice_playback_failures_total",
			Help: "Playback failures by phase (load, play).",
		}, []string{"phase"}),
		channelFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvoice_channel_frames_total",
			Help: "Event channel frames by direction and event.",
		}, []string{"direction", "event"}),
		httpRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatvoice_http_request_duration_seconds",
			Help:    "Control API requests by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheWrite(outcome string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(outcome).Inc()
}

// SynthesisResult records one resolution. A zero elapsed skips the histogram
// (cache hits never reach the server).
func (m *Metrics) SynthesisResult(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.synthesisOutcomes.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.synthesisLatency.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) PlaybackStarted() {
	if m == nil {
		return
	}
	m.playbackStarts.Inc()
}

func (m *Metrics) PlaybackFailed(phase string) {
	if m == nil {
		return
	}
	m.playbackFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) ChannelFrame(direction, event string) {
	if m == nil {
		return
	}
	m.channelFrames.WithLabelValues(direction, event).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
