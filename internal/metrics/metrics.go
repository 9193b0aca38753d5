package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "npc_rooms_created_total",
			Help: "Total number of rooms created",
		},
	)

	RoomEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_room_events_total",
			Help: "Total number of inbound room events by name and outcome",
		},
		[]string{"event", "result"}, // result: "ok", "rejected", "ignored", "error"
	)

	VotesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_votes_recorded_total",
			Help: "Total number of like/dislike choices recorded",
		},
		[]string{"choice"},
	)

	VotingCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_voting_completed_total",
			Help: "Total number of rooms that finished voting",
		},
		[]string{"outcome"}, // "winner", "no_winner"
	)

	FeedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "npc_feed_duration_seconds",
			Help:    "Time spent building a member feed",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "initial", "personalized"
	)

	ExternalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_external_requests_total",
			Help: "Total number of calls to external services",
		},
		[]string{"service", "result"}, // result: "success", "failure", "rejected", "skipped"
	)

	EnrichmentCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_enrichment_cache_total",
			Help: "Enrichment cache lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "npc_websocket_connections_active",
			Help: "Current number of open websocket connections",
		},
	)

	WSMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_websocket_messages_dropped_total",
			Help: "Outbound or inbound websocket frames that were dropped",
		},
		[]string{"reason"}, // "slow_consumer", "rate_limited"
	)
)

func RecordEvent(event, result string) {
	RoomEvents.WithLabelValues(event, result).Inc()
}

func RecordExternal(service, result string) {
	ExternalRequests.WithLabelValues(service, result).Inc()
}

func RecordFeed(kind string, duration time.Duration) {
	FeedDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordCacheLookup(hit bool) {
	if hit {
		EnrichmentCache.WithLabelValues("hit").Inc()
		return
	}
	EnrichmentCache.WithLabelValues("miss").Inc()
}

func RecordVotingCompleted(winner bool) {
	if winner {
		VotingCompleted.WithLabelValues("winner").Inc()
		return
	}
	VotingCompleted.WithLabelValues("no_winner").Inc()
}
