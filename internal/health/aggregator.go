package health

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
	"grimm.is/vpnadmin/internal/runner"
)

// Snapshot is the VPN service status at one point in time.
type Snapshot struct {
	Running           bool            `json:"running"`
	Services          map[string]bool `json:"services"`
	ActiveConnections int             `json:"activeConnections"`
	Uptime            string          `json:"uptime,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Options configures the probes.
type Options struct {
	Services           []string
	CoreServices       []string
	ProbeCommand       []string // service name is appended
	UptimeCommand      []string
	ConnectionsCommand []string
	EstablishedMarker  string
}

// DefaultOptions probes strongSwan and xl2tpd the way the stock VPN setup
// scripts install them.
func DefaultOptions() Options {
	return Options{
		Services:           []string{"strongswan", "xl2tpd", "ipsec"},
		CoreServices:       []string{"strongswan", "xl2tpd"},
		ProbeCommand:       []string{"systemctl", "is-active"},
		UptimeCommand:      []string{"uptime", "-p"},
		ConnectionsCommand: []string{"ipsec", "status"},
		EstablishedMarker:  "ESTABLISHED",
	}
}

// Aggregator fans out the status probes and joins them into a Snapshot.
// Nothing is cached; every call probes the host again.
type Aggregator struct {
	opts    Options
	runner  runner.Runner
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewAggregator creates an Aggregator. The runner should not elevate
// privileges; every probe is read-only.
func NewAggregator(opts Options, r runner.Runner, logger *logging.Logger, m *metrics.Registry) *Aggregator {
	if opts.EstablishedMarker == "" {
		opts.EstablishedMarker = "ESTABLISHED"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{
		opts:    opts,
		runner:  r,
		logger:  logger.WithComponent("health"),
		metrics: m,
	}
}

// Snapshot probes every service, uptime and the connection count
// concurrently. Probe failures degrade the affected field and never fail the
// snapshot.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	active := make([]bool, len(a.opts.Services))
	var (
		uptime      string
		connections int
	)

	// Probe goroutines never return errors, so the group's context is only
	// cancelled by the caller.
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range a.opts.Services {
		g.Go(func() error {
			active[i] = a.probeService(gctx, svc)
			return nil
		})
	}
	g.Go(func() error {
		uptime = a.probeUptime(gctx)
		return nil
	})
	g.Go(func() error {
		connections = a.probeConnections(gctx)
		return nil
	})
	_ = g.Wait()

	services := make(map[string]bool, len(a.opts.Services))
	for i, svc := range a.opts.Services {
		services[svc] = active[i]
	}

	snap := Snapshot{
		Running:           computeRunning(services, a.opts.CoreServices),
		Services:          services,
		ActiveConnections: connections,
		Uptime:            uptime,
		Timestamp:         clock.Now(),
	}
	if a.metrics != nil {
		a.metrics.RecordServices(snap.Services, snap.Running, snap.ActiveConnections)
	}
	return snap
}

// Refresh takes a snapshot for its metric side effects.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.Snapshot(ctx)
	return ctx.Err()
}

// Services returns the monitored service names.
func (a *Aggregator) Services() []string {
	return append([]string(nil), a.opts.Services...)
}

// Monitored reports whether name is a monitored service.
func (a *Aggregator) Monitored(name string) bool {
	for _, s := range a.opts.Services {
		if s == name {
			return true
		}
	}
	return false
}

func (a *Aggregator) probeService(ctx context.Context, name string) bool {
	if len(a.opts.ProbeCommand) == 0 {
		return false
	}
	args := append(append([]string(nil), a.opts.ProbeCommand[1:]...), name)
	res, err := a.runner.Run(ctx, a.opts.ProbeCommand[0], args...)
	if err != nil {
		a.logger.Warn("service probe failed", "service", name, "error", err)
		return false
	}
	// systemctl is-active exits non-zero for inactive units; stdout decides.
	return strings.TrimSpace(res.Stdout) == "active"
}

func (a *Aggregator) probeUptime(ctx context.Context) string {
	if len(a.opts.UptimeCommand) == 0 {
		return ""
	}
	res, err := a.runner.Run(ctx, a.opts.UptimeCommand[0], a.opts.UptimeCommand[1:]...)
	if err != nil || !res.OK() {
		a.logger.Debug("uptime probe failed", "error", err)
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

func (a *Aggregator) probeConnections(ctx context.Context) int {
	if len(a.opts.ConnectionsCommand) == 0 {
		return 0
	}
	res, err := a.runner.Run(ctx, a.opts.ConnectionsCommand[0], a.opts.ConnectionsCommand[1:]...)
	if err != nil {
		a.logger.Warn("connection probe failed", "error", err)
		return 0
	}
	return CountEstablished(res.Stdout, a.opts.EstablishedMarker)
}

// CountEstablished counts the lines of a status listing containing marker.
func CountEstablished(output, marker string) int {
	if marker == "" {
		return 0
	}
	n := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, marker) {
			n++
		}
	}
	return n
}

// computeRunning is true when every core service is active. A core service
// that is not monitored counts as inactive.
func computeRunning(services map[string]bool, core []string) bool {
	if len(core) == 0 {
		return false
	}
	for _, name := range core {
		if !services[name] {
			return false
		}
	}
	return true
}
