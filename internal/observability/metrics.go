package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trip_matching"

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Trip operations by outcome"},
		[]string{"operation", "outcome"},
	)
	TransitionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "transition_latency_seconds", Help: "Trip operation latency seconds", Buckets: prometheus.DefBuckets},
		[]string{"operation"},
	)
	RefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "refusals_total", Help: "Refusal ledger writes"},
		[]string{"result"},
	)
	RatingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ratings_total", Help: "Ratings submitted by ratee party"},
		[]string{"ratee"},
	)
	OpenTripsListed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "open_trips_listed",
		Help:      "Number of open trips returned to a carrier",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})
	ReputationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reputation_cache_total", Help: "Reputation cache lookups"},
		[]string{"result"},
	)
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Lifecycle events by sink and outcome"},
		[]string{"sink", "outcome"},
	)
	NotificationSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "notification_sessions", Help: "Open websocket notification sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
