package metrics

import (
	"net/http"
	"time"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus counters of the detection pipeline.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	framesDecoded    prometheus.Counter
	decodeErrors     prometheus.Counter
	embeddings       prometheus.Counter
	decisions        *prometheus.CounterVec
	insufficient     prometheus.Counter
	alerts           prometheus.Counter
	alertFailures    *prometheus.CounterVec
	extractSeconds   prometheus.Histogram
	violenceProbHist prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtvd_frames_decoded_total",
			Help: "Total number of video frames decoded",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtvd_decode_errors_total",
			Help: "Total number of videos aborted because a frame could not be decoded",
		}),
		embeddings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtvd_embeddings_total",
			Help: "Total number of frame embeddings produced by the feature extractor",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtvd_decisions_total",
			Help: "Total number of classifier decisions, by label",
		}, []string{"label"}),
		insufficient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtvd_insufficient_frames_total",
			Help: "Total number of videos that were too short for a decision",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtvd_alerts_total",
			Help: "Total number of alerts raised",
		}),
		alertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtvd_alert_failures_total",
			Help: "Total number of failed alert side effects, by stage",
		}, []string{"stage"}),
		extractSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtvd_extract_seconds",
			Help:    "Time taken by the feature extractor per frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		violenceProbHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtvd_violence_probability",
			Help:    "Distribution of classifier probabilities",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
	}

	registry.MustRegister(
		m.framesDecoded,
		m.decodeErrors,
		m.embeddings,
		m.decisions,
		m.insufficient,
		m.alerts,
		m.alertFailures,
		m.extractSeconds,
		m.violenceProbHist,
	)
	return m
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameDecoded() {
	if m != nil {
		m.framesDecoded.Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) Embedding(elapsed time.Duration) {
	if m != nil {
		m.embeddings.Inc()
		m.extractSeconds.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) Decision(d nn.Decision) {
	if m != nil {
		m.decisions.WithLabelValues(d.Label.String()).Inc()
		m.violenceProbHist.Observe(float64(d.Probability))
	}
}

func (m *Metrics) InsufficientFrames() {
	if m != nil {
		m.insufficient.Inc()
	}
}

func (m *Metrics) Alert() {
	if m != nil {
		m.alerts.Inc()
	}
}

// stage is eg "detect", "encode", "store", "audio"
func (m *Metrics) AlertFailure(stage string) {
	if m != nil {
		m.alertFailures.WithLabelValues(stage).Inc()
	}
}
