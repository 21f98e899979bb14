package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the emulator's own counters.
type AppMetrics struct {
	Connections      *prometheus.CounterVec // labels: channel=queue|state
	Commands         *prometheus.CounterVec // labels: command
	UnknownCommands  prometheus.Counter
	SessionConflicts prometheus.Counter
	StreamsClosed    prometheus.Counter
	JobsPersisted    prometheus.Counter
	BlocksPersisted  prometheus.Counter
	PersistFailures  prometheus.Counter
	StatusPolls      prometheus.Counter
	DiscoveryReplies prometheus.Counter
	DiscoveryDropped prometheus.Counter
	EventToggle      prometheus.Gauge
}

// NewAppMetrics registers and returns the emulator metrics.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starlan_connections_total",
			Help: "Accepted TCP connections by channel.",
		}, []string{"channel"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starlan_commands_total",
			Help: "Matched print commands by name.",
		}, []string{"command"}),
		UnknownCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_unknown_commands_total",
			Help: "Partial command codes that matched nothing.",
		}),
		SessionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_session_conflicts_total",
			Help: "Print connections rejected because a session was open.",
		}),
		StreamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_streams_closed_total",
			Help: "Print connections that ended inside a command.",
		}),
		JobsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_jobs_persisted_total",
			Help: "Captured jobs written to storage.",
		}),
		BlocksPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_blocks_persisted_total",
			Help: "Captured blocks written to storage.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_persist_failures_total",
			Help: "Captured jobs that could not be written.",
		}),
		StatusPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_status_polls_total",
			Help: "Status frames sent.",
		}),
		DiscoveryReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_discovery_replies_total",
			Help: "Discovery identity packets sent.",
		}),
		DiscoveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starlan_discovery_dropped_total",
			Help: "Discovery probes dropped by the rate limiter.",
		}),
		EventToggle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starlan_event_toggle",
			Help: "Current ETB counter.",
		}),
	}
	reg.MustRegister(
		m.Connections, m.Commands, m.UnknownCommands, m.SessionConflicts, m.StreamsClosed,
		m.JobsPersisted, m.BlocksPersisted, m.PersistFailures, m.StatusPolls,
		m.DiscoveryReplies, m.DiscoveryDropped, m.EventToggle,
	)
	return m
}
