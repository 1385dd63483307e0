package config

import (
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	API      *APIConfig      `hcl:"api,block" json:"api,omitempty"`
	Log      *LogConfig      `hcl:"log,block" json:"log,omitempty"`
	Runner   *RunnerConfig   `hcl:"runner,block" json:"runner,omitempty"`
	VPN      *VPNConfig      `hcl:"vpn,block" json:"vpn,omitempty"`
	Status   *StatusConfig   `hcl:"status,block" json:"status,omitempty"`
	Firewall *FirewallConfig `hcl:"firewall,block" json:"firewall,omitempty"`
	Files    *FilesConfig    `hcl:"files,block" json:"files,omitempty"`
	Commands []CommandConfig `hcl:"command,block" json:"commands,omitempty"`
	Audit    *AuditConfig    `hcl:"audit,block" json:"audit,omitempty"`
}

// APIConfig configures the HTTP dispatcher.
type APIConfig struct {
	Listen         string         `hcl:"listen,optional" json:"listen,omitempty"`
	RequireAuth    *bool          `hcl:"require_auth,optional" json:"require_auth,omitempty"` // Default: true
	TLSCert        string         `hcl:"tls_cert,optional" json:"tls_cert,omitempty"`
	TLSKey         string         `hcl:"tls_key,optional" json:"tls_key,omitempty"`
	CORSOrigins    []string       `hcl:"cors_origins,optional" json:"cors_origins,omitempty"`
	MaxBodyBytes   int64          `hcl:"max_body_bytes,optional" json:"max_body_bytes,omitempty"`
	TrustedProxies []string       `hcl:"trusted_proxies,optional" json:"trusted_proxies,omitempty"` // peers whose forwarding headers are believed
	Keys           []APIKeyConfig `hcl:"key,block" json:"keys,omitempty"`
}

// AuthRequired reports whether API keys are enforced.
func (a *APIConfig) AuthRequired() bool {
	return a == nil || a.RequireAuth == nil || *a.RequireAuth
}

// APIKeyConfig defines an API key. Hash is a bcrypt hash of the key.
type APIKeyConfig struct {
	Name        string   `hcl:"name,label" json:"name"`
	Hash        string   `hcl:"hash" json:"hash"`
	Permissions []string `hcl:"permissions" json:"permissions"`
	AllowedIPs  []string `hcl:"allowed_ips,optional" json:"allowed_ips,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string        `hcl:"level,optional" json:"level,omitempty"`
	JSON   bool          `hcl:"json,optional" json:"json,omitempty"`
	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogConfig forwards logs to a remote syslog server.
type SyslogConfig struct {
	Host     string `hcl:"host" json:"host"`
	Port     int    `hcl:"port,optional" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	Tag      string `hcl:"tag,optional" json:"tag,omitempty"`
}

// RunnerConfig bounds and elevates external commands.
type RunnerConfig struct {
	Timeout  string `hcl:"timeout,optional" json:"timeout,omitempty"`
	UseSudo  bool   `hcl:"use_sudo,optional" json:"use_sudo,omitempty"`
	SudoPath string `hcl:"sudo_path,optional" json:"sudo_path,omitempty"`
}

// TimeoutDuration returns the parsed timeout, falling back to DefaultCommandTimeout.
func (r *RunnerConfig) TimeoutDuration() time.Duration {
	if r == nil || r.Timeout == "" {
		return DefaultCommandTimeout
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return DefaultCommandTimeout
	}
	return d
}

// VPNConfig locates credential bundles and the provisioning scripts.
type VPNConfig struct {
	CredentialDir   string   `hcl:"credential_dir,optional" json:"credential_dir,omitempty"`
	BundleSuffix    string   `hcl:"bundle_suffix,optional" json:"bundle_suffix,omitempty"`
	AddUserScript   string   `hcl:"add_user_script,optional" json:"add_user_script,omitempty"`
	DelUserScript   string   `hcl:"del_user_script,optional" json:"del_user_script,omitempty"`
	IKEv2Script     string   `hcl:"ikev2_script,optional" json:"ikev2_script,omitempty"`
	RestartServices []string `hcl:"restart_services,optional" json:"restart_services,omitempty"`
}

// StatusConfig drives the health aggregator.
type StatusConfig struct {
	Services           []string `hcl:"services,optional" json:"services,omitempty"`
	CoreServices       []string `hcl:"core_services,optional" json:"core_services,omitempty"`
	ProbeCommand       []string `hcl:"probe_command,optional" json:"probe_command,omitempty"`
	UptimeCommand      []string `hcl:"uptime_command,optional" json:"uptime_command,omitempty"`
	ConnectionsCommand []string `hcl:"connections_command,optional" json:"connections_command,omitempty"`
	EstablishedMarker  string   `hcl:"established_marker,optional" json:"established_marker,omitempty"`
	StreamInterval     string   `hcl:"stream_interval,optional" json:"stream_interval,omitempty"`
}

// Interval returns the websocket stream interval.
func (s *StatusConfig) Interval() time.Duration {
	if s == nil || s.StreamInterval == "" {
		return DefaultStreamInterval
	}
	d, err := time.ParseDuration(s.StreamInterval)
	if err != nil || d < time.Second {
		return DefaultStreamInterval
	}
	return d
}

// FirewallConfig selects the rule-listing binary.
type FirewallConfig struct {
	Binary string `hcl:"binary,optional" json:"binary,omitempty"`
}

// FilesConfig restricts the file gateway.
type FilesConfig struct {
	AllowFiles   []string `hcl:"allow_files,optional" json:"allow_files,omitempty"`
	AllowDirs    []string `hcl:"allow_dirs,optional" json:"allow_dirs,omitempty"`
	Unrestricted bool     `hcl:"unrestricted,optional" json:"unrestricted,omitempty"`
}

// CommandConfig is one entry of the capability table served by /execute.
type CommandConfig struct {
	Name         string   `hcl:"name,label" json:"name"`
	Path         string   `hcl:"path" json:"path"`
	Args         []string `hcl:"args,optional" json:"args,omitempty"`
	Description  string   `hcl:"description,optional" json:"description,omitempty"`
	MaxExtraArgs int      `hcl:"max_extra_args,optional" json:"max_extra_args,omitempty"`
	ArgPattern   string   `hcl:"arg_pattern,optional" json:"arg_pattern,omitempty"`
	Sudo         bool     `hcl:"sudo,optional" json:"sudo,omitempty"`
}

// AuditConfig enables the SQLite audit trail.
type AuditConfig struct {
	Path          string `hcl:"path,optional" json:"path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty"`
}

// Command returns the capability with the given name.
func (c *Config) Command(name string) (CommandConfig, bool) {
	for _, cmd := range c.Commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return CommandConfig{}, false
}
