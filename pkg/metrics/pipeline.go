package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records ingestion pipeline activity.
type PipelineMetrics struct {
	reconcileDuration *prometheus.HistogramVec
	batches           *prometheus.CounterVec
	recordsSkipped    *prometheus.CounterVec
	providerRetries   prometheus.Counter
	verifications     *prometheus.CounterVec
}

// NewPipelineMetrics registers pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_reconcile_duration_seconds",
		Help:    "Duration of snapshot reconciliation in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_batches_total",
		Help: "Reconciled snapshot batches by outcome.",
	}, []string{"outcome"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_skipped_total",
		Help: "Scraped records skipped during reconciliation.",
	}, []string{"reason"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_request_retries_total",
		Help: "Retried requests against the scraping provider.",
	})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_verifications_total",
		Help: "Social account verification attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(duration, batches, skipped, retries, verifications)
	return &PipelineMetrics{
		reconcileDuration: duration,
		batches:           batches,
		recordsSkipped:    skipped,
		providerRetries:   retries,
		verifications:     verifications,
	}
}

// ObserveReconcile records the duration of one snapshot reconciliation.
func (m *PipelineMetrics) ObserveReconcile(platform string, duration time.Duration) {
	if m == nil || m.reconcileDuration == nil {
		return
	}
	m.reconcileDuration.WithLabelValues(normalizeLabel(platform)).Observe(duration.Seconds())
}

// IncBatch counts a reconciled batch by outcome (success/failure/duplicate).
func (m *PipelineMetrics) IncBatch(outcome string) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncSkipped counts a scraped record skipped for the given reason.
func (m *PipelineMetrics) IncSkipped(reason string) {
	if m == nil || m.recordsSkipped == nil {
		return
	}
	m.recordsSkipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncProviderRetry counts one retried provider request.
func (m *PipelineMetrics) IncProviderRetry() {
	if m == nil || m.providerRetries == nil {
		return
	}
	m.providerRetries.Inc()
}

// IncVerification counts a verification attempt by outcome.
func (m *PipelineMetrics) IncVerification(outcome string) {
	if m == nil || m.verifications == nil {
		return
	}
	m.verifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
