package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_events_dispatched_total",
			Help: "Push events dispatched to listeners",
		},
		[]string{"account", "type"},
	)

	ListenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_listener_failures_total",
			Help: "Listener invocations that returned an error or panicked",
		},
		[]string{"account"},
	)

	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "terminal_connected",
			Help: "Whether the duplex connection is established (1) or not (0)",
		},
	)

	PendingCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "terminal_pending_calls",
			Help: "In-flight request/response calls awaiting resolution",
		},
	)

	AccountHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terminal_account_healthy",
			Help: "Latest health sample per account (1 healthy, 0 unhealthy)",
		},
		[]string{"account"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsDispatched,
		ListenerFailures,
		Connected,
		PendingCalls,
		AccountHealthy,
	)
}
