package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Session metrics
	ConnectedParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connected_participants",
			Help: "Currently connected participants",
		},
	)

	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_joins_total",
			Help: "Total join attempts",
		},
		[]string{"result"}, // "accepted" or "rejected"
	)

	IdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_idle_disconnects_total",
			Help: "Participants evicted for inactivity",
		},
	)

	// Voting metrics
	PromptsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_prompts_submitted_total",
			Help: "Total prompt submissions",
		},
		[]string{"result"},
	)

	VotesCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_prompt_votes_total",
			Help: "Total prompt votes",
		},
		[]string{"result"},
	)

	RoundsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rounds_resolved_total",
			Help: "Voting rounds resolved",
		},
		[]string{"reason"}, // "quorum", "timer", "sweep", "no_votes"
	)

	ClearVotesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_clear_votes_resolved_total",
			Help: "Clear-chat votes resolved",
		},
		[]string{"outcome"},
	)

	// AI gateway metrics
	AIRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_ai_request_duration_seconds",
			Help:    "AI gateway request latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	AIFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ai_failures_total",
			Help: "Failed AI gateway requests",
		},
	)

	// Transport metrics
	DroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_sends_total",
			Help: "Server messages dropped because a client send buffer was full",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
