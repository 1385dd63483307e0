package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/vpnadmin/internal/api"
	"grimm.is/vpnadmin/internal/audit"
	"grimm.is/vpnadmin/internal/auth"
	"grimm.is/vpnadmin/internal/brand"
	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/config"
	"grimm.is/vpnadmin/internal/health"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
)

const (
	metricsInterval = 30 * time.Second
	pruneInterval   = time.Hour
	authCleanup     = time.Minute
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", brand.GetConfigPath(), "configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.Get()

	var store *audit.Store
	if cfg.Audit != nil {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o750); err != nil {
			return fmt.Errorf("create audit directory: %w", err)
		}
		store, err = audit.NewStore(cfg.Audit.Path, cfg.Audit.RetentionDays, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		go store.RunPruner(ctx, pruneInterval)
	}

	srv, err := api.NewServer(api.ServerOptions{
		Config:  cfg,
		Logger:  logger,
		Metrics: reg,
		Audit:   store,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(reg, logger, metricsInterval, srv.RefreshMetrics)
	srv.RegisterCheck("metrics", collectorCheck(collector, metricsInterval))
	go collector.Run(ctx)
	go srv.AuthFailures().RunCleanup(ctx, authCleanup, auth.FailureWindow)

	go func() {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			if err := srv.Reload(next); err != nil {
				logger.Error("config reload rejected", "error", err)
				return
			}
			if level, err := logging.ParseLevel(next.Log.Level); err == nil && level != logger.GetLevel() {
				logger.Info("log level changed", "from", logger.GetLevel().String(), "to", level.String())
				logger.SetLevel(level)
			}
		})
		if err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		}
	}()

	logger.Info("starting", "version", brand.Version, "config", configPath, "pid", os.Getpid())
	return srv.Start(ctx)
}

// newLogger builds the process logger, teeing to remote syslog when
// configured.
func newLogger(cfg *config.LogConfig, out io.Writer) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if cfg.Syslog != nil {
		sc := logging.DefaultSyslogConfig()
		sc.Enabled = true
		sc.Host = cfg.Syslog.Host
		if cfg.Syslog.Port != 0 {
			sc.Port = cfg.Syslog.Port
		}
		if cfg.Syslog.Protocol != "" {
			sc.Protocol = cfg.Syslog.Protocol
		}
		if cfg.Syslog.Tag != "" {
			sc.Tag = cfg.Syslog.Tag
		}
		w, err := logging.NewSyslogWriter(sc)
		if err != nil {
			return nil, nil, fmt.Errorf("syslog: %w", err)
		}
		out = logging.MultiWriter(out, w)
		closer = func() { w.Close() }
	}
	return logging.New(logging.Config{Level: level, Output: out, JSON: cfg.JSON}), closer, nil
}

// collectorCheck degrades /healthz when the metrics refresh is failing or
// has not run for three intervals.
func collectorCheck(c *metrics.Collector, interval time.Duration) health.CheckFunc {
	return func(ctx context.Context) health.Check {
		check := health.Check{LastChecked: clock.Now(), Status: health.StatusHealthy, Message: "fresh"}
		last, err := c.LastUpdate()
		switch {
		case last.IsZero():
			check.Message = "not collected yet"
		case err != nil:
			check.Status = health.StatusDegraded
			check.Message = err.Error()
		case clock.Since(last) > 3*interval:
			check.Status = health.StatusDegraded
			check.Message = "stale since " + last.Format(time.RFC3339)
		}
		return check
	}
}
