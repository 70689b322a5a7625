package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "requests_created_total", Help: "Total service requests created"})
	AcceptConflicts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	OperatorsAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "operators_available", Help: "Number of available operators"})

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "transitions_total", Help: "Committed request transitions by resulting status"},
		[]string{"status"},
	)

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "events_published_total", Help: "Events delivered to a live connection"})
	EventsDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "events_dropped_total", Help: "Events dropped because no live connection was subscribed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
