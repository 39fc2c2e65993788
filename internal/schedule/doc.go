// Package schedule computes when maintenance restarts are due.
//
// Groups can carry recurrence rules of three kinds:
//   - interval: every fixed duration ("every 12h")
//   - daily:    at a local time of day ("03:30")
//   - weekly:   on a weekday at a local time ("sunday 03:30")
//
// The scheduler is passive. It holds the resolved rules and their next
// fire times; the monitor engine calls Tick periodically and power
// cycles the groups that come back due. Occurrences missed while the
// daemon was down collapse into a single firing on the next Tick.
//
// Rule validation happens at snapshot build time, not here: a rule
// that reaches this package is already well formed.
package schedule
