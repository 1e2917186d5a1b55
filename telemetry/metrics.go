package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Shared ----

	DatagramsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clocksync",
			Name:      "datagrams_received_total",
			Help:      "Datagrams received, by role and outcome (heartbeat, time, state, foreign, malformed, unknown).",
		},
		[]string{"role", "kind"},
	)

	SendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clocksync",
			Name:      "send_errors_total",
			Help:      "Datagrams that could not be sent.",
		},
		[]string{"role"},
	)

	// ---- Coordinator ----

	Peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Subsystem: "coordinator",
			Name:      "peers",
			Help:      "Peers in the registry after the last sweep.",
		},
	)

	EvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clocksync",
			Subsystem: "coordinator",
			Name:      "evictions_total",
			Help:      "Peers removed for exceeding the liveness window.",
		},
	)

	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clocksync",
			Subsystem: "coordinator",
			Name:      "broadcasts_total",
			Help:      "Completed broadcast cycles.",
		},
	)

	IndexDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clocksync",
			Subsystem: "coordinator",
			Name:      "peer_index_dropped_total",
			Help:      "State updates not written to the peer index because the write queue was full.",
		},
	)

	// ---- Peer ----

	ClockOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Subsystem: "peer",
			Name:      "clock_offset_seconds",
			Help:      "Estimated coordinator clock minus local clock.",
		},
	)

	RoundTrip = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Subsystem: "peer",
			Name:      "round_trip_seconds",
			Help:      "Round trip of the last completed time probe.",
		},
	)

	Drift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Subsystem: "peer",
			Name:      "simulation_drift_seconds",
			Help:      "Local simulation time minus the extrapolated simulation time of a remote peer.",
		},
		[]string{"peer"},
	)

	CoordinatorLastHeard = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Subsystem: "peer",
			Name:      "coordinator_last_heard_timestamp_seconds",
			Help:      "Unix time of the last datagram received from the coordinator.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and role).",
		},
		[]string{"version", "role"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "clocksync",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

const (
	RoleCoordinator = "coordinator"
	RolePeer        = "peer"
)

func init() {
	Registry.MustRegister(
		DatagramsTotal, SendErrorsTotal,
		Peers, EvictionsTotal, BroadcastsTotal, IndexDroppedTotal,
		ClockOffset, RoundTrip, Drift, CoordinatorLastHeard,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version, role string) {
	buildInfo.WithLabelValues(version, role).Set(1)
}
