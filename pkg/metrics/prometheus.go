package metrics

import (
	"StreamPull/pkg/streams"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	reportsDecoded *prometheus.CounterVec
	lastObserved   *prometheus.GaugeVec
}

// New creates a recorder whose collectors are registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streampull_messages_sent_total",
				Help: "Total number of decoded reports sent to a backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streampull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streampull_last_price",
				Help: "Last decoded benchmark price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streampull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		reportsDecoded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streampull_reports_decoded_total",
				Help: "Total number of reports decoded",
			},
			[]string{"symbol", "mode"},
		),
		lastObserved: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streampull_last_observation_timestamp_seconds",
				Help: "Observation timestamp of the last decoded report",
			},
			[]string{"symbol"},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordReport counts a decoded report and tracks its observation time.
func (r *Recorder) RecordReport(symbol string, mode streams.Mode, observedAt uint32) {
	r.reportsDecoded.WithLabelValues(symbol, mode.String()).Inc()
	if observedAt > 0 {
		r.lastObserved.WithLabelValues(symbol).Set(float64(observedAt))
	}
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordMessageSent(string, string)          {}
func (Nop) RecordError(string)                        {}
func (Nop) RecordLastPrice(string, float64)           {}
func (Nop) RecordLatency(string, float64)             {}
func (Nop) RecordReport(string, streams.Mode, uint32) {}
