package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"grimm.is/vpnadmin/internal/logging"
)

// ValidationError is a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var commandNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks a defaulted config.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.API != nil {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			errs.add("api.listen", "invalid address %q: %v", c.API.Listen, err)
		}
		if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
			errs.add("api.tls_cert", "tls_cert and tls_key must be set together")
		}
		seen := make(map[string]bool)
		for _, k := range c.API.Keys {
			field := fmt.Sprintf("api.key[%s]", k.Name)
			if seen[k.Name] {
				errs.add(field, "duplicate key name")
			}
			seen[k.Name] = true
			if !strings.HasPrefix(k.Hash, "$2") {
				errs.add(field+".hash", "must be a bcrypt hash")
			}
			if len(k.Permissions) == 0 {
				errs.add(field+".permissions", "at least one permission is required")
			}
			for _, cidr := range k.AllowedIPs {
				if net.ParseIP(cidr) == nil {
					if _, _, err := net.ParseCIDR(cidr); err != nil {
						errs.add(field+".allowed_ips", "invalid IP or CIDR %q", cidr)
					}
				}
			}
		}
		for _, cidr := range c.API.TrustedProxies {
			if net.ParseIP(cidr) == nil {
				if _, _, err := net.ParseCIDR(cidr); err != nil {
					errs.add("api.trusted_proxies", "invalid IP or CIDR %q", cidr)
				}
			}
		}
		if c.API.AuthRequired() && len(c.API.Keys) == 0 {
			errs.add("api.key", "require_auth is set but no keys are configured")
		}
	}

	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			errs.add("log.level", "%v", err)
		}
		if s := c.Log.Syslog; s != nil {
			if s.Host == "" {
				errs.add("log.syslog.host", "is required")
			}
			if s.Protocol != "" && s.Protocol != "udp" && s.Protocol != "tcp" {
				errs.add("log.syslog.protocol", "must be udp or tcp")
			}
		}
	}

	if c.Runner != nil && c.Runner.Timeout != "" {
		if d, err := time.ParseDuration(c.Runner.Timeout); err != nil || d <= 0 {
			errs.add("runner.timeout", "invalid duration %q", c.Runner.Timeout)
		}
	}

	if c.VPN != nil {
		if !filepath.IsAbs(c.VPN.CredentialDir) {
			errs.add("vpn.credential_dir", "must be absolute")
		}
		if !strings.HasPrefix(c.VPN.BundleSuffix, ".") {
			errs.add("vpn.bundle_suffix", "must start with a dot")
		}
	}

	if c.Status != nil {
		if c.Status.StreamInterval != "" {
			if d, err := time.ParseDuration(c.Status.StreamInterval); err != nil || d < time.Second {
				errs.add("status.stream_interval", "must be a duration of at least 1s")
			}
		}
		known := make(map[string]bool, len(c.Status.Services))
		for _, s := range c.Status.Services {
			known[s] = true
		}
		for _, s := range c.Status.CoreServices {
			if !known[s] {
				errs.add("status.core_services", "%q is not listed in services", s)
			}
		}
	}

	if c.Files != nil {
		for _, p := range c.Files.AllowFiles {
			if !filepath.IsAbs(p) {
				errs.add("files.allow_files", "%q must be absolute", p)
			}
		}
		for _, p := range c.Files.AllowDirs {
			if !filepath.IsAbs(p) {
				errs.add("files.allow_dirs", "%q must be absolute", p)
			}
		}
	}

	names := make(map[string]bool)
	for _, cmd := range c.Commands {
		field := fmt.Sprintf("command[%s]", cmd.Name)
		if !commandNamePattern.MatchString(cmd.Name) {
			errs.add(field, "invalid command name")
		}
		if names[cmd.Name] {
			errs.add(field, "duplicate command")
		}
		names[cmd.Name] = true
		if cmd.Path == "" {
			errs.add(field+".path", "is required")
		}
		if cmd.MaxExtraArgs < 0 {
			errs.add(field+".max_extra_args", "must not be negative")
		}
		if cmd.ArgPattern != "" {
			if _, err := regexp.Compile(cmd.ArgPattern); err != nil {
				errs.add(field+".arg_pattern", "%v", err)
			}
		}
	}

	if c.Audit != nil && c.Audit.Path != "" && !filepath.IsAbs(c.Audit.Path) {
		errs.add("audit.path", "must be absolute")
	}

	return errs
}
