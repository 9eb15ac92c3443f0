package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "deliveries_created_total", Help: "Deliveries created"})
	DeliveriesClaimed   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "deliveries_claimed_total", Help: "Successful claims"})
	ClaimConflicts      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "claim_conflicts_total", Help: "Claims lost to another driver"})
	DeliveriesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "deliveries_completed_total", Help: "Deliveries that reached delivered"})
	WSConnections       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "delivery_dispatch", Name: "ws_connections", Help: "Live websocket subscribers"})
	EventsPublished     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "events_published_total", Help: "Fanout events published"},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
