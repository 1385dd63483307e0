package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/logging"
)

// RefreshFunc refreshes state-derived gauges, typically by taking a status
// snapshot.
type RefreshFunc func(ctx context.Context) error

// Collector keeps the uptime gauge current and periodically calls a refresh
// function so that scrapes see recent VPN state between API calls.
type Collector struct {
	registry *Registry
	logger   *logging.Logger
	interval time.Duration
	refresh  RefreshFunc
	started  time.Time

	mu         sync.RWMutex
	lastUpdate time.Time
	lastErr    error
}

// NewCollector creates a collector. refresh may be nil.
func NewCollector(registry *Registry, logger *logging.Logger, interval time.Duration, refresh RefreshFunc) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{
		registry: registry,
		logger:   logger.WithComponent("metrics"),
		interval: interval,
		refresh:  refresh,
		started:  clock.Now(),
	}
}

// Run collects until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	c.registry.Uptime.Set(clock.Since(c.started).Seconds())

	var err error
	if c.refresh != nil {
		err = c.refresh(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("metrics refresh failed", "error", err)
		}
	}

	c.mu.Lock()
	c.lastUpdate = clock.Now()
	c.lastErr = err
	c.mu.Unlock()
}

// LastUpdate returns when the collector last ran and the refresh result.
func (c *Collector) LastUpdate() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate, c.lastErr
}
