package observability

import "github.com/prometheus/client_golang/prometheus"

// Pipeline collectors. Label values are drawn from closed enums (message
// types, statuses, actions) so cardinality stays bounded.
var (
	// MessagesDiscriminated counts discriminated frames by message type and outcome (valid|invalid).
	MessagesDiscriminated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_messages_discriminated_total",
			Help: "Realtime messages run through the discriminator.",
		},
		[]string{"type", "outcome"},
	)

	// MessagesRouted counts messages accepted by the router for the current user.
	MessagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_messages_routed_total",
			Help: "Messages dispatched through the router.",
		},
		[]string{"type"},
	)

	// DuplicatesDropped counts messages suppressed by the dedup window.
	DuplicatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_messages_duplicate_total",
			Help: "Messages dropped as duplicates.",
		},
		[]string{"type"},
	)

	// NotificationsEmitted counts user-facing notifications by notification type.
	NotificationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_notifications_total",
			Help: "Notifications synthesised from messages.",
		},
		[]string{"type"},
	)

	// SessionTransitions counts payment session status changes.
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_session_transitions_total",
			Help: "Payment session status transitions.",
		},
		[]string{"from", "to"},
	)

	// SessionsSwept counts sessions removed by the expiry sweep.
	SessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_sessions_swept_total",
			Help: "Expired payment sessions removed by the background sweep.",
		},
	)

	// RetryAttempts counts retried operations by error category.
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_retry_attempts_total",
			Help: "Retries performed after a failed attempt.",
		},
		[]string{"category"},
	)

	// RecoveryActions counts recovery strategies executed.
	RecoveryActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_recovery_actions_total",
			Help: "Recovery strategies executed by action.",
		},
		[]string{"action"},
	)

	// ReconnectAttempts counts realtime reconnect attempts.
	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_realtime_reconnects_total",
			Help: "Realtime connection reconnect attempts.",
		},
	)

	// GatewayCallbacks counts gateway callbacks by outcome (paid|duplicate|invalid_mac|rejected).
	GatewayCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_gateway_callbacks_total",
			Help: "Gateway payment callbacks received.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesDiscriminated,
		MessagesRouted,
		DuplicatesDropped,
		NotificationsEmitted,
		SessionTransitions,
		SessionsSwept,
		RetryAttempts,
		RecoveryActions,
		ReconnectAttempts,
		GatewayCallbacks,
	)
}
