package observability

import "github.com/prometheus/client_golang/prometheus"

// Sync directions.
const (
	DirectionForward = "forward" // Discord -> GitHub
	DirectionReverse = "reverse" // GitHub -> Discord
)

// Sync outcomes.
const (
	OutcomeSynced     = "synced"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

var (
	// syncEvents counts handled events by direction, event kind and outcome.
	syncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_sync_events_total",
			Help: "Sync events handled, by direction, event and outcome.",
		},
		[]string{"direction", "event", "outcome"},
	)

	// remoteCalls counts outbound platform API calls.
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_remote_calls_total",
			Help: "Outbound platform API calls, by api, operation and result.",
		},
		[]string{"api", "operation", "result"},
	)
)

func init() {
	prometheus.MustRegister(syncEvents, remoteCalls)
}

// RecordSync increments bridge_sync_events_total.
func RecordSync(direction, event, outcome string) {
	syncEvents.WithLabelValues(direction, event, outcome).Inc()
}

// RecordRemoteCall increments bridge_remote_calls_total with result "ok" or
// "error" depending on err.
func RecordRemoteCall(api, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	remoteCalls.WithLabelValues(api, operation, result).Inc()
}

// SyncEventsCounter exposes the collector for tests and custom registries.
func SyncEventsCounter() *prometheus.CounterVec { return syncEvents }

// RemoteCallsCounter exposes the collector for tests and custom registries.
func RemoteCallsCounter() *prometheus.CounterVec { return remoteCalls }
