// Package monitor is the watchdog engine: it probes grouped servers,
// tracks each group through the failure/recovery lifecycle, and power
// cycles a group's outlet when every recovery path is exhausted.
//
// # Architecture
//
//	                    ┌─────────────┐
//	 config.Store ────▶ │   Engine    │ ◀──── MQTT commands
//	                    └──────┬──────┘
//	                           │ one loop per enabled group
//	                    ┌──────▼──────┐
//	                    │ groupRunner │──▶ probe.Prober (ping/http/tcp)
//	                    │  + machine  │──▶ gpio.Actuator (power cycle)
//	                    └──────┬──────┘
//	                           │
//	           stats.Recorder, InfluxDB mirror, MQTT statuses
//
// Each group loop re-reads the configuration snapshot every check
// cycle, so reloads apply without a restart. A passive scheduler
// drives maintenance restarts, and a reconcile loop starts loops for
// groups added by a reload and reaps loops whose groups were removed.
//
// # Lifecycle
//
// Groups move between healthy, degraded, resetting, cooldown, and
// fault. The rules live in the machine type; the short version: the
// configured number of consecutive failed cycles triggers one power
// cycle, a post-cycle cooldown suppresses further actuation while the
// servers boot, and a cycle that cannot restore power latches a fault
// that only an operator clears.
package monitor
