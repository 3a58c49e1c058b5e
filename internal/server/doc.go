// Package server exposes the daemon's local HTTP surface.
//
// The API is operational, not a control plane replacement: listing
// configured devices with their availability, reading the last status
// snapshot, writing settings and invoking actions. A Prometheus
// registry fed from coordinator updates serves /metrics, and /ws
// streams every poll result to connected websocket clients.
//
// The server binds to loopback by default; it carries no
// authentication and must not be exposed beyond the host without an
// authenticating proxy in front.
package server
