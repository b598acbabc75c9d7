package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	RequestsCreated prometheus.Counter
	ItemsFulfilled  prometheus.Counter
	ItemsRejected   prometheus.Counter
	GrantsCreated   prometheus.Counter
	AccessDenials   prometheus.Counter
	HTTPLatency     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidex_requests_created_total",
			Help: "Total number of evidence requests created by buyers",
		}),
		ItemsFulfilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidex_request_items_fulfilled_total",
			Help: "Total number of request items fulfilled by factories",
		}),
		ItemsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidex_request_items_rejected_total",
			Help: "Total number of request items rejected by factories",
		}),
		GrantsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidex_grants_created_total",
			Help: "Total number of newly created evidence version grants",
		}),
		AccessDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidex_access_denials_total",
			Help: "Total number of read-path visibility denials",
		}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evidex_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) IncRequestsCreated() { m.RequestsCreated.Inc() }
func (m *Metrics) IncItemsFulfilled()  { m.ItemsFulfilled.Inc() }
func (m *Metrics) IncItemsRejected()   { m.ItemsRejected.Inc() }
func (m *Metrics) IncGrantsCreated()   { m.GrantsCreated.Inc() }
func (m *Metrics) IncAccessDenials()   { m.AccessDenials.Inc() }

// ObserveHTTPLatency records a request duration in seconds.
func (m *Metrics) ObserveHTTPLatency(route, status string, seconds float64) {
	m.HTTPLatency.WithLabelValues(route, status).Observe(seconds)
}
