package auth

import "strings"

// Permission is an API permission scope.
type Permission string

const (
	PermReadUsers     Permission = "users:read"
	PermWriteUsers    Permission = "users:write"
	PermReadSystem    Permission = "system:read"
	PermWriteSystem   Permission = "system:write"
	PermReadFiles     Permission = "files:read"
	PermWriteFiles    Permission = "files:write"
	PermReadFirewall  Permission = "firewall:read"
	PermWriteFirewall Permission = "firewall:write"
	PermReadAudit     Permission = "audit:read"
	PermExecute       Permission = "execute"

	// Wildcards
	PermReadAll  Permission = "read:*"
	PermWriteAll Permission = "write:*"
	PermAll      Permission = "*"
)

// KnownPermissions lists every grantable scope, wildcards included.
var KnownPermissions = []Permission{
	PermReadUsers, PermWriteUsers,
	PermReadSystem, PermWriteSystem,
	PermReadFiles, PermWriteFiles,
	PermReadFirewall, PermWriteFirewall,
	PermReadAudit, PermExecute,
	PermReadAll, PermWriteAll, PermAll,
}

// Valid reports whether p is a known scope.
func (p Permission) Valid() bool {
	for _, k := range KnownPermissions {
		if p == k {
			return true
		}
	}
	return false
}

// Grants reports whether holding p satisfies required.
func (p Permission) Grants(required Permission) bool {
	switch {
	case p == PermAll, p == required:
		return true
	case p == PermReadAll:
		return strings.HasSuffix(string(required), ":read")
	case p == PermWriteAll:
		// A writer can also read the same resources.
		return strings.HasSuffix(string(required), ":write") || strings.HasSuffix(string(required), ":read")
	}
	return false
}
