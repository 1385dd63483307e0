package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"grimm.is/vpnadmin/internal/audit"
	"grimm.is/vpnadmin/internal/auth"
	"grimm.is/vpnadmin/internal/capability"
	"grimm.is/vpnadmin/internal/config"
	"grimm.is/vpnadmin/internal/files"
	"grimm.is/vpnadmin/internal/firewall"
	"grimm.is/vpnadmin/internal/health"
	"grimm.is/vpnadmin/internal/journal"
	"grimm.is/vpnadmin/internal/keylock"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
	"grimm.is/vpnadmin/internal/ratelimit"
	"grimm.is/vpnadmin/internal/runner"
	certs "grimm.is/vpnadmin/internal/tls"
	"grimm.is/vpnadmin/internal/users"
)

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration // Body read limit
	WriteTimeout      time.Duration // Response timeout
	IdleTimeout       time.Duration // Keep-alive timeout
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns the default server timeouts. WriteTimeout
// covers the slowest provisioning script.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		ShutdownTimeout:   10 * time.Second,
	}
}

// ServerOptions holds dependencies for the API server
type ServerOptions struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Runner replaces the host process runner. Tests inject runner.Mock.
	Runner runner.Runner
	// Audit is optional; without it mutating requests are only logged.
	Audit *audit.Store
}

// components is everything built from one config generation.
type components struct {
	cfg      *config.Config
	auth     *auth.Authenticator
	users    *users.Manager
	status   *health.Aggregator
	firewall *firewall.Translator
	files    *files.Gateway
	commands *capability.Table
	journal  *journal.Reader
	elevated runner.Runner
	proxies  []*net.IPNet
}

// Server handles API requests.
type Server struct {
	logger  *logging.Logger
	metrics *metrics.Registry
	runner  runner.Runner
	audit   *audit.Store
	checker *health.Checker

	// State that outlives a config generation.
	failures *ratelimit.Limiter
	chains   *keylock.Map
	paths    *keylock.Map

	current atomic.Pointer[components]
	mux     *http.ServeMux
}

// NewServer creates a new API server with the provided options
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}

	s := &Server{
		logger:  opts.Logger.WithComponent("api"),
		metrics: opts.Metrics,
		runner:  opts.Runner,
		audit:   opts.Audit,
		checker: health.NewChecker(),

		failures: auth.NewFailureLimiter(),
		chains:   keylock.New(),
		paths:    keylock.New(),
	}
	c, err := s.build(opts.Config)
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	if !opts.Config.API.AuthRequired() {
		s.logger.Warn("authentication is DISABLED; every endpoint is open to anyone who can reach " + opts.Config.API.Listen)
	}

	s.checker.Register("credential_dir", func(ctx context.Context) health.Check {
		return health.CheckDirReadable(s.components().cfg.VPN.CredentialDir)(ctx)
	})
	if a := opts.Config.Audit; a != nil && s.audit != nil {
		s.checker.Register("audit_dir", health.CheckDirWritable(filepath.Dir(a.Path)))
	}

	s.initRoutes()
	return s, nil
}

// RegisterCheck adds a self check to /healthz.
func (s *Server) RegisterCheck(name string, fn health.CheckFunc) {
	s.checker.Register(name, fn)
}

// build constructs every component for cfg. cfg must already be validated.
func (s *Server) build(cfg *config.Config) (*components, error) {
	plain := s.runner
	if plain == nil {
		plain = runner.New(
			runner.WithTimeout(cfg.Runner.TimeoutDuration()),
			runner.WithLogger(s.logger),
			runner.WithMetrics(s.metrics),
		)
	}
	elevated := runner.Elevate(plain, cfg.Runner.UseSudo, cfg.Runner.SudoPath)

	keys := make([]*auth.Key, 0, len(cfg.API.Keys))
	for _, k := range cfg.API.Keys {
		perms := make([]auth.Permission, 0, len(k.Permissions))
		for _, p := range k.Permissions {
			perms = append(perms, auth.Permission(p))
		}
		keys = append(keys, &auth.Key{
			Name:        k.Name,
			Hash:        k.Hash,
			Permissions: perms,
			AllowedIPs:  k.AllowedIPs,
		})
	}

	specs := make([]capability.Spec, 0, len(cfg.Commands))
	for _, cmd := range cfg.Commands {
		specs = append(specs, capability.Spec{
			Name:         cmd.Name,
			Path:         cmd.Path,
			Args:         cmd.Args,
			Description:  cmd.Description,
			MaxExtraArgs: cmd.MaxExtraArgs,
			ArgPattern:   cmd.ArgPattern,
			Sudo:         cmd.Sudo,
		})
	}
	commands, err := capability.NewTable(specs, plain, runner.Elevate(plain, true, cfg.Runner.SudoPath), s.logger)
	if err != nil {
		return nil, err
	}

	st := cfg.Status
	return &components{
		cfg:  cfg,
		auth: auth.NewAuthenticator(keys, s.failures, s.logger, s.metrics),
		users: users.NewManager(users.Options{
			CredentialDir: cfg.VPN.CredentialDir,
			BundleSuffix:  cfg.VPN.BundleSuffix,
			AddScript:     cfg.VPN.AddUserScript,
			DelScript:     cfg.VPN.DelUserScript,
			IKEv2Script:   cfg.VPN.IKEv2Script,
		}, elevated, s.logger, s.metrics),
		status: health.NewAggregator(health.Options{
			Services:           st.Services,
			CoreServices:       st.CoreServices,
			ProbeCommand:       st.ProbeCommand,
			UptimeCommand:      st.UptimeCommand,
			ConnectionsCommand: st.ConnectionsCommand,
			EstablishedMarker:  st.EstablishedMarker,
		}, plain, s.logger, s.metrics),
		firewall: firewall.NewTranslator(firewall.Options{Binary: cfg.Firewall.Binary, Locks: s.chains}, elevated, s.logger, s.metrics),
		files: files.NewGateway(files.Policy{
			Files:        cfg.Files.AllowFiles,
			Dirs:         cfg.Files.AllowDirs,
			Unrestricted: cfg.Files.Unrestricted,
		}, s.paths, s.logger),
		commands: commands,
		journal:  journal.NewReader(plain, s.logger),
		elevated: elevated,
		proxies:  parseNetworks(cfg.API.TrustedProxies),
	}, nil
}

func (s *Server) components() *components {
	return s.current.Load()
}

// clientIP resolves the caller address against the current trusted proxies.
func (s *Server) clientIP(r *http.Request) string {
	return clientIP(r, s.components().proxies)
}

// Config returns the config generation currently serving requests.
func (s *Server) Config() *config.Config {
	return s.components().cfg
}

// Reload swaps in components built from cfg. On error the running
// generation stays in place. Listener settings (listen address, TLS) only
// take effect on restart.
func (s *Server) Reload(cfg *config.Config) error {
	c, err := s.build(cfg)
	if err != nil {
		s.metrics.IncrementConfigReload(false)
		return fmt.Errorf("reload: %w", err)
	}
	old := s.current.Swap(c)
	if old != nil && old.cfg.API.AuthRequired() != cfg.API.AuthRequired() && !cfg.API.AuthRequired() {
		s.logger.Warn("authentication is now DISABLED after config reload")
	}
	s.metrics.IncrementConfigReload(true)
	s.logger.Info("configuration reloaded", "keys", len(cfg.API.Keys), "commands", len(cfg.Commands))
	return nil
}

// Snapshot returns a fresh status snapshot. The metrics collector calls it.
func (s *Server) Snapshot(ctx context.Context) health.Snapshot {
	return s.components().status.Snapshot(ctx)
}

// RefreshMetrics re-probes the host so the service gauges stay current
// between requests.
func (s *Server) RefreshMetrics(ctx context.Context) error {
	return s.components().status.Refresh(ctx)
}

// route registers h at pattern and under /api.
func (s *Server) route(method, path string, h http.Handler) {
	s.mux.Handle(method+" "+path, h)
	s.mux.Handle(method+" /api"+path, h)
}

func (s *Server) initRoutes() {
	s.mux = http.NewServeMux()

	// Users
	s.route("GET", "/users", s.require(auth.PermReadUsers, http.HandlerFunc(s.handleListUsers)))
	s.route("POST", "/users", s.require(auth.PermWriteUsers, s.audited("user.add", s.handleAddUser)))
	s.route("PUT", "/users/{username}", s.require(auth.PermWriteUsers, s.audited("user.update", s.handleUpdateUser)))
	s.route("DELETE", "/users/{username}", s.require(auth.PermWriteUsers, s.audited("user.delete", s.handleDeleteUser)))
	s.route("GET", "/configs/{filename}", s.require(auth.PermReadUsers, http.HandlerFunc(s.handleDownloadConfig)))
	s.route("POST", "/ikev2/reload", s.require(auth.PermWriteUsers, s.audited("ikev2.reload", s.handleReloadIKEv2)))

	// Services
	s.route("GET", "/status", s.require(auth.PermReadSystem, http.HandlerFunc(s.handleStatus)))
	s.route("GET", "/ws/status", s.require(auth.PermReadSystem, http.HandlerFunc(s.handleStatusWS)))
	s.route("POST", "/restart", s.require(auth.PermWriteSystem, s.audited("services.restart", s.handleRestart)))
	s.route("GET", "/logs", s.require(auth.PermReadSystem, http.HandlerFunc(s.handleLogs)))

	// Files
	s.route("POST", "/files/check", s.require(auth.PermReadFiles, http.HandlerFunc(s.handleFileCheck)))
	s.route("POST", "/files/read", s.require(auth.PermReadFiles, http.HandlerFunc(s.handleFileRead)))
	s.route("POST", "/files/write", s.require(auth.PermWriteFiles, s.audited("file.write", s.handleFileWrite)))
	s.route("POST", "/files/create", s.require(auth.PermWriteFiles, s.audited("file.create", s.handleFileCreate)))
	s.route("POST", "/files/delete", s.require(auth.PermWriteFiles, s.audited("file.delete", s.handleFileDelete)))

	// Firewall
	s.route("GET", "/iptables/list", s.require(auth.PermReadFirewall, http.HandlerFunc(s.handleListRules)))
	s.route("POST", "/iptables/add", s.require(auth.PermWriteFirewall, s.audited("firewall.add", s.handleAddRule)))
	s.route("POST", "/iptables/remove", s.require(auth.PermWriteFirewall, s.audited("firewall.remove", s.handleRemoveRule)))

	// Capabilities
	s.route("GET", "/execute", s.require(auth.PermExecute, http.HandlerFunc(s.handleListCommands)))
	s.route("POST", "/execute", s.require(auth.PermExecute, s.audited("execute", s.handleExecute)))

	// Gateway internals
	s.route("GET", "/audit", s.require(auth.PermReadAudit, http.HandlerFunc(s.handleAudit)))
	s.route("GET", "/metrics", s.require(auth.PermReadSystem, s.metrics.Handler()))
	s.route("GET", "/healthz", s.checker.Handler())
	s.route("GET", "/healthz/live", health.LivenessHandler())
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.maxBodyMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = requestIDMiddleware(h)
	return h
}

// Start serves until ctx is cancelled, then shuts down gracefully. TLS is
// used when the api block names a certificate and key.
func (s *Server) Start(ctx context.Context) error {
	api := s.Config().API
	ln, err := net.Listen("tcp", api.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", api.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	api := s.Config().API
	cfg := DefaultServerConfig()
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          s.logger.StdLogger(),
	}

	var keypair *certs.Keypair
	if api.TLSCert != "" && api.TLSKey != "" {
		kp, err := certs.NewKeypair(api.TLSCert, api.TLSKey)
		if err != nil {
			return err
		}
		keypair = kp
		server.TLSConfig = kp.ServerConfig()
		go func() {
			if err := kp.Watch(ctx, s.logger); err != nil {
				s.logger.Warn("certificate rotation disabled", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if keypair != nil {
			s.logger.Info("API server starting with TLS", "addr", ln.Addr().String(), "fingerprint", keypair.Fingerprint())
			errCh <- server.ServeTLS(ln, "", "")
			return
		}
		s.logger.Info("API server starting (no TLS)", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// AuthFailures returns the failed-authentication limiter shared by every
// config generation.
func (s *Server) AuthFailures() *ratelimit.Limiter {
	return s.failures
}
