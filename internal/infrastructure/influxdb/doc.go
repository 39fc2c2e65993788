// Package influxdb mirrors watchdog telemetry into time-series
// storage using the official influxdb-client-go v2 library.
//
// Three measurements are written: probe (per-sample connectivity and
// latency), group_state (lifecycle transitions), and actuation (outlet
// switching events). The mirror is strictly optional: the statistics
// recorder's flat files stay the system of record, and the daemon runs
// unaffected when InfluxDB is disabled or unreachable.
//
// Writes are non-blocking and batched per the config's batch_size and
// flush_interval; batch failures come back through the SetOnError
// callback rather than a return value.
package influxdb
