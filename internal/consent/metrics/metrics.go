package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	ConsentsCreated  prometheus.Counter
	ConsentsUpdated  prometheus.Counter
	ConsentsApproved prometheus.Counter
	ConsentsDenied   prometheus.Counter
	ConsentsDeleted  prometheus.Counter
	PendingConsents  prometheus.Gauge

	MutationLatency *prometheus.HistogramVec
	RecordsPerOwner prometheus.Histogram
}

// New registers and returns consent metrics collectors.
func New() *Metrics {
	return &Metrics{
		ConsentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "healthshare_consents_created_total",
			Help: "Total number of consent records created",
		}),
		ConsentsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "healthshare_consents_updated_total",
			Help: "Total number of consent grant updates",
		}),
		ConsentsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "healthshare_consents_approved_total",
			Help: "Total number of pending consent requests approved",
		}),
		ConsentsDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "healthshare_consents_denied_total",
			Help: "Total number of pending consent requests denied",
		}),
		ConsentsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "healthshare_consents_deleted_total",
			Help: "Total number of consent records deleted",
		}),
		PendingConsents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "healthshare_pending_consents",
			Help: "Current number of unapproved consent records",
		}),
		MutationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthshare_consent_mutation_latency_seconds",
			Help:    "Latency of consent mutations in seconds, labeled by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RecordsPerOwner: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthshare_consent_records_per_owner",
			Help:    "Distribution of consent record counts per owner",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) IncrementCreated()  { m.ConsentsCreated.Inc() }
func (m *Metrics) IncrementUpdated()  { m.ConsentsUpdated.Inc() }
func (m *Metrics) IncrementApproved() { m.ConsentsApproved.Inc() }
func (m *Metrics) IncrementDenied()   { m.ConsentsDenied.Inc() }
func (m *Metrics) IncrementDeleted()  { m.ConsentsDeleted.Inc() }

func (m *Metrics) AddPending(delta float64) { m.PendingConsents.Add(delta) }

// ObserveMutationLatency records the latency of a consent mutation.
func (m *Metrics) ObserveMutationLatency(operation string, durationSeconds float64) {
	m.MutationLatency.WithLabelValues(operation).Observe(durationSeconds)
}

// ObserveRecordsPerOwner records the number of consent records for an owner.
func (m *Metrics) ObserveRecordsPerOwner(count float64) {
	m.RecordsPerOwner.Observe(count)
}
