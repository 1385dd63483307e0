package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpnadmin"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all gateway metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// External commands
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// VPN state
	ServiceUp         *prometheus.GaugeVec
	Running           prometheus.Gauge
	ActiveConnections prometheus.Gauge
	Users             prometheus.Gauge

	// Firewall
	FirewallMutations *prometheus.CounterVec

	// System
	Uptime       prometheus.Gauge
	ConfigReload *prometheus.CounterVec
	APIRequests  *prometheus.CounterVec
	APILatency   *prometheus.HistogramVec
	AuthFailures *prometheus.CounterVec
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
		registry.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// New creates an isolated registry. Tests use this to avoid duplicate
// registration panics.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	f := promauto.With(r.reg)

	r.CommandsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "External commands executed, by outcome",
	}, []string{"command", "outcome"})

	r.CommandDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "External command latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
	}, []string{"command"})

	r.ServiceUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_up",
		Help:      "Whether a monitored service was active at the last probe",
	}, []string{"service"})

	r.Running = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "vpn_running",
		Help:      "Whether every core VPN service was active at the last probe",
	})

	r.ActiveConnections = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Established security associations at the last probe",
	})

	r.Users = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "users",
		Help:      "Credential bundles found at the last listing",
	})

	r.FirewallMutations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "firewall_mutations_total",
		Help:      "Firewall rule additions and removals",
	}, []string{"chain", "op", "status"})

	r.Uptime = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Gateway uptime in seconds",
	})

	r.ConfigReload = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "Total configuration reloads",
	}, []string{"status"})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.AuthFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Rejected API requests",
	}, []string{"reason"})

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordCommand records one external command execution.
func (r *Registry) RecordCommand(command, outcome string, d time.Duration) {
	r.CommandsTotal.WithLabelValues(command, outcome).Inc()
	r.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordServices updates the service gauges from a status snapshot.
func (r *Registry) RecordServices(services map[string]bool, running bool, connections int) {
	for name, up := range services {
		r.ServiceUp.WithLabelValues(name).Set(boolFloat(up))
	}
	r.Running.Set(boolFloat(running))
	r.ActiveConnections.Set(float64(connections))
}

// RecordFirewallMutation records a rule addition or removal.
func (r *Registry) RecordFirewallMutation(chain, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.FirewallMutations.WithLabelValues(chain, op, status).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// IncrementConfigReload counts a reload attempt.
func (r *Registry) IncrementConfigReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	r.ConfigReload.WithLabelValues(status).Inc()
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
