package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the SFU signaling core.
//
// Naming convention: namespace_subsystem_name
//   - namespace: sfu
//   - subsystem: signaling, room, mediaworker, circuit_breaker, rate_limit, redis
//   - name: specific metric (connections_active, events_total, etc.)
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "signaling",
		Name:      "connections_active",
		Help:      "Current number of active signaling connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "room",
		Name:      "peers_count",
		Help:      "Number of peers currently joined to each room",
	}, []string{"room_id"})

	RoomProducers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "room",
		Name:      "producers_count",
		Help:      "Number of live producers in each room",
	}, []string{"room_id"})

	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "signaling",
		Name:      "events_total",
		Help:      "Total signaling messages processed",
	}, []string{"event", "status"})

	SignalingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu",
		Subsystem: "signaling",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling a request/response signaling operation",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"event"})

	MediaWorkerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "mediaworker",
		Name:      "calls_total",
		Help:      "Total calls made into the media worker facade",
	}, []string{"op", "status"})

	MediaWorkerDied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "mediaworker",
		Name:      "died_total",
		Help:      "Total fatal media worker death signals observed",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
