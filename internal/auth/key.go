package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/vpnadmin/internal/brand"
)

// Key is a configured API key.
type Key struct {
	Name        string
	Hash        string
	Permissions []Permission
	AllowedIPs  []string
}

// HasPermission checks if the key grants required.
func (k *Key) HasPermission(required Permission) bool {
	for _, p := range k.Permissions {
		if p.Grants(required) {
			return true
		}
	}
	return false
}

// IsIPAllowed checks if ip may use this key. Entries are exact IPs or CIDRs;
// an empty list allows any address.
func (k *Key) IsIPAllowed(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}
	for _, allowed := range k.AllowedIPs {
		if strings.Contains(allowed, "/") {
			if _, network, err := net.ParseCIDR(allowed); err == nil && network.Contains(clientIP) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(clientIP) {
			return true
		}
	}
	return false
}

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return brand.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the bcrypt hash to put in the configuration for key.
func HashKey(key string) (string, error) {
	if len(key) < 16 {
		return "", fmt.Errorf("key must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(hash), nil
}
