// Package logging wraps log/slog for the watchdog daemon.
//
// Every entry carries service and version fields so log lines from
// multiple daemons can be aggregated. Output format, level, and
// destination come from the logging section of the config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a child logger tagged with their name:
//
//	monLog := log.With("component", "monitor")
package logging
