// Package probe implements connectivity checks for monitored servers.
//
// Three probe methods are supported:
//   - ping: one ICMP echo via the system ping binary
//   - http: GET request, optionally requiring an exact status code
//   - tcp:  plain TCP connect to a host:port
//
// A probe never returns an error for a down target. Downness is the
// normal signal the monitor consumes; Result.Up and Result.Detail
// carry the observation. Only the monitor decides what a failure means
// for a group.
//
// Probes are bounded by the configured per-probe timeout and by the
// caller's context, whichever expires first.
package probe
