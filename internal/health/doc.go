// Package health reports on the VPN host and on the gateway itself.
//
// The Aggregator produces the VPN status snapshot served by GET /status. It
// runs one probe per monitored service plus uptime and connection-count
// probes concurrently and joins them before returning.
//
// The Checker backs GET /healthz with self checks of the gateway (credential
// directory readable, state directory writable). It never calls the VPN
// services.
package health
