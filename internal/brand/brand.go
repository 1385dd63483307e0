// Package brand provides centralized naming constants for the gateway.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name             = "VPN Admin"
	LowerName        = "vpnadmin"
	BinaryName       = "vpnadmin"
	Description      = "Administrative gateway for IPsec/L2TP VPN hosts"
	ConfigEnvPrefix  = "VPNADMIN"
	DefaultConfigDir = "/etc/vpnadmin"
	DefaultStateDir  = "/var/lib/vpnadmin"
	ConfigFileName   = "vpnadmin.hcl"
	APIKeyPrefix     = "vpa_"
)

// Version is set at build time via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// UserAgent returns a User-Agent string for HTTP requests
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return LowerName + "/" + version
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: VPNADMIN_STATE_DIR > VPNADMIN_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigPath returns the default config file path, checking env vars first.
// Priority: VPNADMIN_CONFIG > VPNADMIN_PREFIX/config/vpnadmin.hcl > DefaultConfigDir/vpnadmin.hcl
func GetConfigPath() string {
	if path := os.Getenv(ConfigEnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config", ConfigFileName)
	}
	return filepath.Join(DefaultConfigDir, ConfigFileName)
}
