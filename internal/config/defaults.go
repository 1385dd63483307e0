package config

import (
	"path/filepath"
	"time"

	"grimm.is/vpnadmin/internal/brand"
)

const (
	DefaultListen         = "127.0.0.1:3000"
	DefaultCommandTimeout = 30 * time.Second
	DefaultStreamInterval = 5 * time.Second
	DefaultMaxBodyBytes   = 1 << 20
	DefaultRetentionDays  = 90
)

// DefaultAllowFiles are the VPN configuration files the dashboard edits.
var DefaultAllowFiles = []string{
	"/etc/ipsec.conf",
	"/etc/ipsec.secrets",
	"/etc/ipsec.d/passwd",
	"/etc/strongswan.conf",
	"/etc/xl2tpd/xl2tpd.conf",
	"/etc/ppp/options.xl2tpd",
	"/etc/ppp/chap-secrets",
	"/opt/src/addvpnuser.sh",
	"/opt/src/delvpnuser.sh",
	"/opt/src/ikev2.sh",
}

// Default returns a configuration with every block populated.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills missing blocks and attributes in place.
func (c *Config) ApplyDefaults() {
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultListen
	}
	if c.API.MaxBodyBytes <= 0 {
		c.API.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Runner == nil {
		c.Runner = &RunnerConfig{}
	}
	if c.Runner.SudoPath == "" {
		c.Runner.SudoPath = "sudo"
	}

	if c.VPN == nil {
		c.VPN = &VPNConfig{}
	}
	v := c.VPN
	setDefault(&v.CredentialDir, "/root")
	setDefault(&v.BundleSuffix, ".p12")
	setDefault(&v.AddUserScript, "/opt/src/addvpnuser.sh")
	setDefault(&v.DelUserScript, "/opt/src/delvpnuser.sh")
	setDefault(&v.IKEv2Script, "/opt/src/ikev2.sh")
	if len(v.RestartServices) == 0 {
		v.RestartServices = []string{"strongswan", "xl2tpd"}
	}

	if c.Status == nil {
		c.Status = &StatusConfig{}
	}
	s := c.Status
	if len(s.Services) == 0 {
		s.Services = []string{"strongswan", "xl2tpd", "ipsec"}
	}
	if len(s.CoreServices) == 0 {
		s.CoreServices = []string{"strongswan", "xl2tpd"}
	}
	if len(s.ProbeCommand) == 0 {
		s.ProbeCommand = []string{"systemctl", "is-active"}
	}
	if len(s.UptimeCommand) == 0 {
		s.UptimeCommand = []string{"uptime", "-p"}
	}
	if len(s.ConnectionsCommand) == 0 {
		s.ConnectionsCommand = []string{"ipsec", "status"}
	}
	setDefault(&s.EstablishedMarker, "ESTABLISHED")

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	setDefault(&c.Firewall.Binary, "iptables")

	if c.Files == nil {
		c.Files = &FilesConfig{}
	}
	if !c.Files.Unrestricted && len(c.Files.AllowFiles) == 0 && len(c.Files.AllowDirs) == 0 {
		c.Files.AllowFiles = append([]string(nil), DefaultAllowFiles...)
	}

	if c.Audit != nil {
		setDefault(&c.Audit.Path, filepath.Join(brand.GetStateDir(), "audit.db"))
		if c.Audit.RetentionDays <= 0 {
			c.Audit.RetentionDays = DefaultRetentionDays
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
