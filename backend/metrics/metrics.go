// Package metrics provides Prometheus instruments for the pairing backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks registered realtime connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blinddate_active_connections",
			Help: "Number of currently registered realtime connections",
		},
	)

	// LobbyWaiting tracks queued participants per lobby partition.
	LobbyWaiting = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blinddate_lobby_waiting",
			Help: "Number of participants waiting in a lobby queue",
		},
		[]string{"scope", "mode"},
	)

	// LobbyPairings counts pairs created by the lobby.
	LobbyPairings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blinddate_lobby_pairings_total",
			Help: "Total number of lobby pairings",
		},
		[]string{"scope", "mode"},
	)

	// RelayForwarded counts events delivered to a channel member.
	RelayForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blinddate_relay_forwarded_total",
			Help: "Total number of relayed events delivered",
		},
	)

	// RelayDropped counts events that reached nobody.
	RelayDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blinddate_relay_dropped_total",
			Help: "Total number of relayed events dropped",
		},
	)

	// InterestsRecorded counts accepted interest submissions.
	InterestsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blinddate_interests_recorded_total",
			Help: "Total number of recorded interests",
		},
	)

	// MatchesCreated counts mutual matches observed by the confirmation service.
	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blinddate_matches_created_total",
			Help: "Total number of mutual matches",
		},
	)

	// CallTransitions counts call record transitions by resulting status.
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blinddate_call_transitions_total",
			Help: "Total number of call record transitions",
		},
		[]string{"status"},
	)

	// CredentialIssueDuration tracks media token generation time.
	CredentialIssueDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blinddate_credential_issue_duration_seconds",
			Help:    "Duration of media credential generation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)
)

// RecordPairing updates lobby metrics after a successful pairing.
func RecordPairing(scope, mode string) {
	LobbyPairings.WithLabelValues(scope, mode).Inc()
}

// SetWaiting publishes the length of a lobby queue.
func SetWaiting(scope, mode string, n int) {
	LobbyWaiting.WithLabelValues(scope, mode).Set(float64(n))
}

// RecordCallTransition records a call record status change.
func RecordCallTransition(status string) {
	CallTransitions.WithLabelValues(status).Inc()
}
