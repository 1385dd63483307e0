// Package api implements the HTTP dispatcher for the VPN admin gateway.
//
// # Request Flow
//
//	HTTP Request → request ID → access log → CORS → body limit → require(perm) → audit → handler
//
// Handlers decode and validate the body, call one component (users, health,
// firewall, files, capability, journal) and encode the result. Components
// return kinded errors from internal/errors; writeErr maps the kind to a
// status code and sends {error, details?}.
//
// # Adding New Endpoints
//
//  1. Create handler function: func (s *Server) handleFoo(w, r)
//  2. Register it in initRoutes with the permission it needs
//  3. Wrap mutating handlers with s.audited so they land in the audit trail
//
// # Endpoints
//
// Every route is mounted both at the root and under /api:
//   - /users, /configs/{filename}, /ikev2/reload - VPN users
//   - /status, /restart, /logs, /ws/status - VPN services
//   - /files/* - allow-listed configuration files
//   - /iptables/* - firewall rules
//   - /execute - configured command capabilities
//   - /audit, /metrics, /healthz - gateway internals
//
// # Hot Reload
//
// Components are built from the config into an immutable bundle. Reload
// builds a new bundle and swaps it in atomically; requests in flight keep
// the bundle they started with.
package api
